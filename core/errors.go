package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}

// Reason identifies why a verification step or attempt failed.
type Reason string

const (
	ReasonNoFaceDetected        Reason = "NoFaceDetected"
	ReasonMultipleFacesDetected Reason = "MultipleFacesDetected"
	ReasonFaceMismatch          Reason = "FaceMismatch"
	ReasonLivenessTimeout       Reason = "LivenessTimeout"
	ReasonLocationUnavailable   Reason = "LocationUnavailable"
	ReasonLocationOutOfRange    Reason = "LocationOutOfRange"
	ReasonInvalidQrFormat       Reason = "InvalidQrFormat"
	ReasonTokenExpiredOrReused  Reason = "TokenExpiredOrReused"
	ReasonBiometricUnsupported  Reason = "BiometricUnsupported"
	ReasonBiometricDeclined     Reason = "BiometricDeclined"
	ReasonBiometricNoCredential Reason = "BiometricNoCredential"
	ReasonStepTimeout           Reason = "StepTimeout"
	ReasonSessionExpired        Reason = "SessionExpired"
	ReasonNetworkFailure        Reason = "NetworkFailure"
)

// Severity tells the orchestrator how far a failure propagates.
type Severity int

const (
	// SeverityLocal failures are recovered by re-polling inside the step.
	SeverityLocal Severity = iota
	// SeverityStep failures abort the current step only; the student may retry it.
	SeverityStep
	// SeverityFatal failures end the whole attempt.
	SeverityFatal
)

func (r Reason) Severity() Severity {
	switch r {
	case ReasonNoFaceDetected:
		return SeverityLocal
	case ReasonSessionExpired, ReasonNetworkFailure:
		return SeverityFatal
	default:
		return SeverityStep
	}
}

// VerificationError is a typed verification failure carrying a hint telling the student what to do next.
// It has no Cause method, so errors.Cause stops at it.
type VerificationError struct {
	Reason Reason
	Hint   string
	Err    error
}

func NewVerificationError(reason Reason, hint string) *VerificationError {
	return &VerificationError{Reason: reason, Hint: hint}
}

func (err *VerificationError) Error() string {
	msg := string(err.Reason) + ": " + err.Hint
	if err.Err != nil {
		msg += ": " + err.Err.Error()
	}
	return msg
}

func (err *VerificationError) Unwrap() error { return err.Err }

// Is matches any VerificationError with the same Reason.
func (err *VerificationError) Is(target error) bool {
	t, ok := target.(*VerificationError)
	return ok && t.Reason == err.Reason
}

// With returns a copy of err wrapping cause.
func (err *VerificationError) With(cause error) *VerificationError {
	return &VerificationError{Reason: err.Reason, Hint: err.Hint, Err: cause}
}

// AsVerificationError finds the first VerificationError in err's chain.
// pkg/errors wrappers are walked through Cause, stdlib ones through Unwrap.
func AsVerificationError(err error) (*VerificationError, bool) {
	for err != nil {
		if vErr, ok := err.(*VerificationError); ok {
			return vErr, true
		}
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			return nil, false
		}
	}
	return nil, false
}

// ReasonOf returns the Reason carried by err, or "" if err is not a verification failure.
func ReasonOf(err error) Reason {
	if vErr, ok := AsVerificationError(err); ok {
		return vErr.Reason
	}
	return ""
}
