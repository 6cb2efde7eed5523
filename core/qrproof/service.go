package qrproof

import (
	"context"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/realtime"
)

// Service is the teacher/server side of the protocol.
type Service struct {
	signer *Signer
	tokens TokenStore
	ledger Ledger
	pub    realtime.Publisher
	logger core.Logger
	group  singleflight.Group
}

func NewService(signer *Signer, tokens TokenStore, ledger Ledger, pub realtime.Publisher, logger core.Logger) (*Service, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(signer, "signer"),
		core.IsSet(tokens, "tokens"),
		core.IsSet(ledger, "ledger"),
		core.IsSet(pub, "pub"),
	).Check(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Service{signer: signer, tokens: tokens, ledger: ledger, pub: pub, logger: logger}, nil
}

func (svc *Service) Signer() *Signer { return svc.signer }

// Mint signs a new token for sessionID, replacing the previous one, and broadcasts it on the session's room.
func (svc *Service) Mint(ctx context.Context, sessionID string) (Token, error) {
	tok, err := svc.signer.Sign(sessionID, core.NowFunc())
	if err != nil {
		return Token{}, err
	}
	if err := svc.tokens.SetCurrent(ctx, tok); err != nil {
		return Token{}, errors.Wrap(err, "storing token")
	}

	ev, err := realtime.NewEvent(sessionID, realtime.EventQRToken, NewPayload(tok), tok.IssuedAt)
	if err != nil {
		return Token{}, errors.Wrap(err, "building event")
	}
	if err := svc.pub.Publish(ctx, ev); err != nil {
		svc.logger.Warn("qrproof: publishing token for session "+sessionID, err)
	}
	return tok, nil
}

// Refresh returns the session's current token, minting a new one when it is missing or expired.
// Concurrent refreshes of the same session share one mint.
func (svc *Service) Refresh(ctx context.Context, sessionID string) (Token, error) {
	tok, err := svc.tokens.Current(ctx, sessionID)
	switch {
	case err == nil && !tok.Expired(core.NowFunc()):
		return tok, nil
	case err != nil && errors.Cause(err) != ErrNoToken:
		return Token{}, errors.Wrap(err, "loading token")
	}

	v, err, _ := svc.group.Do(sessionID, func() (interface{}, error) {
		// another caller may have minted while we waited
		if cur, err := svc.tokens.Current(ctx, sessionID); err == nil && !cur.Expired(core.NowFunc()) {
			return cur, nil
		}
		return svc.Mint(ctx, sessionID)
	})
	if err != nil {
		return Token{}, err
	}
	return v.(Token), nil
}

// Redeem accepts raw for studentID iff it is sessionID's current unexpired token and the student has
// not redeemed for this session yet.
func (svc *Service) Redeem(ctx context.Context, raw, sessionID, studentID string) (Redemption, error) {
	claims, err := svc.signer.Parse(raw)
	if err != nil {
		return Redemption{}, err
	}
	if claims.SessionID != sessionID {
		return Redemption{}, ErrWrongSession
	}

	now := core.NowFunc()
	if claims.token(raw).Expired(now) {
		return Redemption{}, ErrTokenExpiredOrReused
	}

	cur, err := svc.tokens.Current(ctx, sessionID)
	if err != nil {
		if errors.Cause(err) == ErrNoToken {
			return Redemption{}, ErrTokenExpiredOrReused
		}
		return Redemption{}, errors.Wrap(err, "loading token")
	}
	if cur.TokenID != claims.Id {
		return Redemption{}, ErrTokenExpiredOrReused
	}

	rdm := Redemption{
		SessionID:  sessionID,
		StudentID:  studentID,
		TokenID:    claims.Id,
		RedeemedAt: now.UTC(),
	}
	if err := svc.ledger.Redeem(ctx, rdm); err != nil {
		if errors.Cause(err) == ErrAlreadyRedeemed {
			return Redemption{}, ErrTokenExpiredOrReused
		}
		return Redemption{}, errors.Wrap(err, "recording redemption")
	}

	// a re-mint between the check above and the insert supersedes the token
	if cur, err = svc.tokens.Current(ctx, sessionID); err != nil || cur.TokenID != claims.Id {
		if cerr := svc.ledger.Cancel(ctx, rdm); cerr != nil {
			return Redemption{}, errors.Wrap(cerr, "cancelling redemption")
		}
		if err != nil && errors.Cause(err) != ErrNoToken {
			return Redemption{}, errors.Wrap(err, "loading token")
		}
		return Redemption{}, ErrTokenExpiredOrReused
	}
	return rdm, nil
}

// Redeemed returns the student's redemption for the session.
func (svc *Service) Redeemed(ctx context.Context, sessionID, studentID string) (Redemption, error) {
	return svc.ledger.Redeemed(ctx, sessionID, studentID)
}

// Revoke invalidates the session's current token.
func (svc *Service) Revoke(ctx context.Context, sessionID string) error {
	if err := svc.tokens.Delete(ctx, sessionID); err != nil {
		return errors.Wrap(err, "deleting token")
	}
	return nil
}
