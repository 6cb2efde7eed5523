package verification

import (
	"context"

	"github.com/pkg/errors"
)

// Builder assembles the steps of an attempt once, at session start.
// A nil factor means the device cannot run it.
type Builder struct {
	Geofence  *GeofenceStep
	Face      *FaceStep
	QR        *QRStep
	Biometric *BiometricStep
}

// Build returns the session's enabled steps in order.
// BIOMETRIC is dropped when the platform authenticator is unavailable; any other missing factor is an error.
func (b *Builder) Build(ctx context.Context, sess *Session) ([]Step, error) {
	if !ValidStepKinds(sess.EnabledSteps) {
		return nil, errors.Errorf("invalid enabled steps %v", sess.EnabledSteps)
	}

	steps := make([]Step, 0, len(sess.EnabledSteps))
	for _, kind := range sess.EnabledSteps {
		var step Step
		switch kind {
		case StepGeofence:
			if b.Geofence != nil {
				step = b.Geofence
			}
		case StepFace:
			if b.Face != nil {
				step = b.Face
			}
		case StepQR:
			if b.QR != nil {
				step = b.QR
			}
		case StepBiometric:
			if b.Biometric == nil || !b.Biometric.Verifier.Available(ctx) {
				continue
			}
			step = b.Biometric
		}
		if step == nil {
			return nil, errors.Errorf("no %s step available on this device", kind)
		}
		steps = append(steps, step)
	}
	return steps, nil
}
