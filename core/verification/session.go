package verification

import (
	"reflect"
	"strings"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/face"
	"github.com/trezcool/presence/core/geo"
)

// StepKind identifies a verification factor.
type StepKind string

const (
	StepGeofence  StepKind = "GEOFENCE"
	StepFace      StepKind = "FACE"
	StepQR        StepKind = "QR"
	StepBiometric StepKind = "BIOMETRIC"
)

// StepKinds lists every known kind, in the default order.
var StepKinds = []StepKind{StepGeofence, StepFace, StepQR, StepBiometric}

func (k StepKind) Valid() bool {
	for _, kind := range StepKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ParseStepKinds parses a comma-separated, case-insensitive list such as "geofence,qr".
// Misspelled kinds are reported with the closest known kind.
func ParseStepKinds(s string) ([]StepKind, error) {
	var kinds []StepKind
	for _, part := range strings.Split(s, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		kind := StepKind(part)
		if !kind.Valid() {
			return nil, unknownStepKind(part)
		}
		kinds = append(kinds, kind)
	}
	if !ValidStepKinds(kinds) {
		return nil, errors.Errorf("%q is not a non-empty set of distinct step kinds", s)
	}
	return kinds, nil
}

const closeMatchRatio = 0.6

func unknownStepKind(name string) error {
	var (
		best      StepKind
		bestRatio = closeMatchRatio
	)
	for _, k := range StepKinds {
		ratio := difflib.NewMatcher(strings.Split(name, ""), strings.Split(string(k), "")).Ratio()
		if ratio >= bestRatio {
			best, bestRatio = k, ratio
		}
	}
	if best != "" {
		return errors.Errorf("unknown step kind %q, did you mean %s?", name, best)
	}
	return errors.Errorf("unknown step kind %q", name)
}

var (
	stepKindsTag  = "stepkinds"
	stepKindsText = "{0} must be a non-empty ordered set of GEOFENCE, FACE, QR, BIOMETRIC"
)

// RegisterValidators registers the verification validation tags on validate.
func RegisterValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(stepKindsTag, stepKindsValidation)
	core.RegisterCustomTranslation(validate, translator, stepKindsTag, stepKindsText)
}

// stepKindsValidation accepts a non-empty slice of distinct, known step kinds.
func stepKindsValidation(fl validator.FieldLevel) bool {
	fld := fl.Field()
	if fld.Kind() != reflect.Slice || fld.Len() == 0 {
		return false
	}
	kinds := make([]StepKind, fld.Len())
	for i := 0; i < fld.Len(); i++ {
		kinds[i] = StepKind(fld.Index(i).String())
	}
	return ValidStepKinds(kinds)
}

// ValidStepKinds reports whether kinds is a non-empty set of distinct known kinds.
func ValidStepKinds(kinds []StepKind) bool {
	if len(kinds) == 0 {
		return false
	}
	seen := make(map[StepKind]bool, len(kinds))
	for _, k := range kinds {
		if !k.Valid() || seen[k] {
			return false
		}
		seen[k] = true
	}
	return true
}

// Session is a teacher-started verification session, as seen by one student's attempt.
// It is immutable once started.
type Session struct {
	ID            string          `json:"sessionId" validate:"required"`
	ClassID       string          `json:"classId" validate:"required"`
	TeacherID     string          `json:"teacherId" validate:"required"`
	EnabledSteps  []StepKind      `json:"enabledSteps" validate:"stepkinds"`
	ClassLocation *geo.Point      `json:"classLocation,omitempty"`
	AllowedRadius float64         `json:"allowedRadius" validate:"gte=0"`
	FaceReference face.Descriptor `json:"faceReferenceEmbedding,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

// Expired reports whether now is past the session's expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

func (s *Session) Enabled(kind StepKind) bool {
	for _, k := range s.EnabledSteps {
		if k == kind {
			return true
		}
	}
	return false
}

// ErrSessionExpired ends an attempt whose session has expired.
var ErrSessionExpired = core.NewVerificationError(
	core.ReasonSessionExpired,
	"this attendance session has ended: ask your teacher to start a new one",
)
