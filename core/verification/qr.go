package verification

import (
	"context"

	"github.com/trezcool/presence/core/qrproof"
)

// Redeemer redeems a scanned QR payload for a student.
type Redeemer interface {
	Redeem(ctx context.Context, studentID string, p qrproof.Payload) (qrproof.Redemption, error)
}

// QRStep scans the QR code displayed in class and redeems its token.
type QRStep struct {
	StudentID string
	Scanner   qrproof.Scanner
	Redeemer  Redeemer
}

func (s *QRStep) Kind() StepKind { return StepQR }

func (s *QRStep) Run(ctx context.Context, sess *Session) (StepResult, error) {
	res := newResult(StepQR)

	p, err := s.Scanner.Scan(ctx)
	if err != nil {
		if timedOut(ctx) {
			return res, ErrStepTimeout.With(err)
		}
		return res, err
	}
	if p.SessionID != sess.ID {
		return res, qrproof.ErrWrongSession
	}

	rdm, err := s.Redeemer.Redeem(ctx, s.StudentID, p)
	if err != nil {
		return res, err
	}
	res.Verified = true
	res.QR = &QREvidence{Token: p.Token, TokenID: rdm.TokenID}
	return res, nil
}
