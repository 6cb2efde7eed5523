// Package attendance is the server side of attendance verification: teacher sessions, QR rotation
// and validation of the claims students submit.
package attendance

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/verification"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session belongs to another teacher")
	ErrAlreadyMarked   = errors.New("attendance already marked")
)

// Mark is a recorded attendance.
type Mark struct {
	SessionID string                  `json:"sessionId" db:"session_id"`
	StudentID string                  `json:"studentId" db:"student_id"`
	Steps     []verification.StepKind `json:"steps" db:"-"`
	MarkedAt  time.Time               `json:"markedAt" db:"marked_at"`
}

type (
	SessionRepository interface {
		CreateSession(ctx context.Context, sess verification.Session) error
		// GetSession returns ErrSessionNotFound when no such session exists.
		GetSession(ctx context.Context, id string) (verification.Session, error)
		DeleteSession(ctx context.Context, id string) error
	}

	// Recorder persists marks, at most one per (session, student).
	Recorder interface {
		// RecordMark returns ErrAlreadyMarked when the student is already marked for the session.
		RecordMark(ctx context.Context, mark Mark) error
		Marks(ctx context.Context, sessionID string) ([]Mark, error)
	}
)

// StartSessionInput is what a teacher provides to open a session.
type StartSessionInput struct {
	ClassID         string                  `json:"classId" validate:"required,slug"`
	EnabledSteps    []verification.StepKind `json:"enabledSteps" validate:"stepkinds"`
	ClassLocation   *geo.Point              `json:"classLocation" validate:"omitempty"`
	AllowedRadius   float64                 `json:"allowedRadius" validate:"gte=0"`
	DurationMinutes int                     `json:"durationMinutes" validate:"required,min=1,max=720"`
}

// Validate validates in, including the class location a GEOFENCE step needs.
func (in StartSessionInput) Validate(validate *validator.Validate) error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	for _, k := range in.EnabledSteps {
		if k == verification.StepGeofence && in.ClassLocation == nil {
			return core.NewValidationError(nil, core.FieldError{Field: "classLocation", Error: "required when GEOFENCE is enabled"})
		}
	}
	return nil
}
