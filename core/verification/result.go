package verification

import (
	"time"

	"github.com/trezcool/presence/core/face"
)

// StepResult is the outcome of one step of an attempt.
// Exactly one evidence field matching Kind is set.
type StepResult struct {
	Kind      StepKind  `json:"kind" validate:"required"`
	Verified  bool      `json:"verified"`
	Timestamp time.Time `json:"timestamp"`

	Geofence  *GeofenceEvidence  `json:"geofence,omitempty"`
	Face      *FaceEvidence      `json:"face,omitempty"`
	QR        *QREvidence        `json:"qr,omitempty"`
	Biometric *BiometricEvidence `json:"biometric,omitempty"`
}

type (
	GeofenceEvidence struct {
		DistanceMeters float64 `json:"distanceMeters"`
		AllowedRadius  float64 `json:"allowedRadius"`
	}

	FaceEvidence struct {
		EmbeddingDistance float64        `json:"embeddingDistance"`
		LivenessPassed    bool           `json:"livenessPassed"`
		Challenge         face.Challenge `json:"challenge"`
	}

	QREvidence struct {
		Token   string `json:"token"`
		TokenID string `json:"tokenId"`
	}

	BiometricEvidence struct {
		CredentialID string `json:"credentialId"`
	}
)

// HasEvidence reports whether r carries the evidence its Kind requires.
func (r StepResult) HasEvidence() bool {
	switch r.Kind {
	case StepGeofence:
		return r.Geofence != nil
	case StepFace:
		return r.Face != nil
	case StepQR:
		return r.QR != nil
	case StepBiometric:
		return r.Biometric != nil
	}
	return false
}

// Claim is the aggregate submitted to the mark attendance endpoint.
type Claim struct {
	SessionID   string       `json:"sessionId" validate:"required"`
	StepResults []StepResult `json:"stepResults" validate:"required,min=1,dive"`
}

// MarkResponse is the mark attendance endpoint's answer.
type MarkResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}
