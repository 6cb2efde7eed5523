package verification

import (
	"context"

	"github.com/trezcool/presence/core/biometric"
)

// BiometricVerifier runs the platform credential ceremony.
type BiometricVerifier interface {
	Available(ctx context.Context) bool
	Verify(ctx context.Context, studentID, sessionID string) (biometric.Result, error)
}

// BiometricStep proves possession of the student's enrolled platform authenticator.
type BiometricStep struct {
	StudentID string
	Verifier  BiometricVerifier
}

func (s *BiometricStep) Kind() StepKind { return StepBiometric }

func (s *BiometricStep) Run(ctx context.Context, sess *Session) (StepResult, error) {
	res := newResult(StepBiometric)

	br, err := s.Verifier.Verify(ctx, s.StudentID, sess.ID)
	if err != nil {
		return res, err
	}
	res.Verified = br.Verified
	res.Biometric = &BiometricEvidence{CredentialID: br.CredentialID}
	if !br.Verified {
		return res, biometric.ErrDeclined
	}
	return res, nil
}
