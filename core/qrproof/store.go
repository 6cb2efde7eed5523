package qrproof

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNoToken          = errors.New("no current token")
	ErrAlreadyRedeemed  = errors.New("already redeemed")
	ErrRedemptionAbsent = errors.New("redemption not found")
)

// Redemption records that a student redeemed a session's token.
type Redemption struct {
	SessionID  string    `json:"sessionId" db:"session_id"`
	StudentID  string    `json:"studentId" db:"student_id"`
	TokenID    string    `json:"tokenId" db:"token_id"`
	RedeemedAt time.Time `json:"redeemedAt" db:"redeemed_at"`
}

// TokenStore holds the single current token of each session.
type TokenStore interface {
	// SetCurrent replaces the session's current token.
	SetCurrent(ctx context.Context, tok Token) error
	// Current returns ErrNoToken when the session has no token.
	Current(ctx context.Context, sessionID string) (Token, error)
	Delete(ctx context.Context, sessionID string) error
}

// Ledger records redemptions, at most one per (session, student).
type Ledger interface {
	// Redeem returns ErrAlreadyRedeemed if the student already redeemed for the session.
	Redeem(ctx context.Context, rdm Redemption) error
	// Redeemed returns ErrRedemptionAbsent when no redemption exists.
	Redeemed(ctx context.Context, sessionID, studentID string) (Redemption, error)
	// Cancel deletes rdm if the student's redemption still carries rdm.TokenID.
	Cancel(ctx context.Context, rdm Redemption) error
	// Purge deletes redemptions older than before and returns how many were removed.
	Purge(ctx context.Context, before time.Time) (int64, error)
}
