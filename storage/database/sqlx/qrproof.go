package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/qrproof"
)

type tokenRow struct {
	SessionID  string    `db:"session_id"`
	Token      string    `db:"token"`
	TokenID    string    `db:"token_id"`
	IssuedAt   time.Time `db:"issued_at"`
	TTLSeconds int       `db:"ttl_seconds"`
}

type tokenStore struct {
	db *sqlx.DB
}

func NewTokenStore(db *sqlx.DB) qrproof.TokenStore {
	return &tokenStore{db: db}
}

func (store *tokenStore) SetCurrent(ctx context.Context, tok qrproof.Token) error {
	row := tokenRow{
		SessionID:  tok.SessionID,
		Token:      tok.Token,
		TokenID:    tok.TokenID,
		IssuedAt:   tok.IssuedAt.UTC(),
		TTLSeconds: tok.TTLSeconds,
	}
	_, err := store.db.NamedExecContext(ctx, `
		INSERT INTO qr_tokens (session_id, token, token_id, issued_at, ttl_seconds)
		VALUES (:session_id, :token, :token_id, :issued_at, :ttl_seconds)
		ON CONFLICT (session_id) DO UPDATE SET
			token = excluded.token,
			token_id = excluded.token_id,
			issued_at = excluded.issued_at,
			ttl_seconds = excluded.ttl_seconds`,
		row,
	)
	return errors.Wrap(err, "upserting token")
}

func (store *tokenStore) Current(ctx context.Context, sessionID string) (qrproof.Token, error) {
	var row tokenRow
	err := store.db.GetContext(ctx, &row, store.db.Rebind(`SELECT * FROM qr_tokens WHERE session_id = ?`), sessionID)
	if err == sql.ErrNoRows {
		return qrproof.Token{}, qrproof.ErrNoToken
	}
	if err != nil {
		return qrproof.Token{}, errors.Wrap(err, "selecting token")
	}
	return qrproof.Token{
		Token:      row.Token,
		TokenID:    row.TokenID,
		SessionID:  row.SessionID,
		IssuedAt:   row.IssuedAt.UTC(),
		TTLSeconds: row.TTLSeconds,
	}, nil
}

func (store *tokenStore) Delete(ctx context.Context, sessionID string) error {
	_, err := store.db.ExecContext(ctx, store.db.Rebind(`DELETE FROM qr_tokens WHERE session_id = ?`), sessionID)
	return errors.Wrap(err, "deleting token")
}

type ledger struct {
	db *sqlx.DB
}

func NewLedger(db *sqlx.DB) qrproof.Ledger {
	return &ledger{db: db}
}

func (l *ledger) Redeem(ctx context.Context, rdm qrproof.Redemption) error {
	rdm.RedeemedAt = rdm.RedeemedAt.UTC()
	res, err := l.db.NamedExecContext(ctx, `
		INSERT INTO qr_redemptions (session_id, student_id, token_id, redeemed_at)
		VALUES (:session_id, :student_id, :token_id, :redeemed_at)
		ON CONFLICT (session_id, student_id) DO NOTHING`,
		rdm,
	)
	if err != nil {
		return errors.Wrap(err, "inserting redemption")
	}
	return insertedOrConflict(res, qrproof.ErrAlreadyRedeemed)
}

func (l *ledger) Redeemed(ctx context.Context, sessionID, studentID string) (qrproof.Redemption, error) {
	var rdm qrproof.Redemption
	err := l.db.GetContext(
		ctx,
		&rdm,
		l.db.Rebind(`SELECT * FROM qr_redemptions WHERE session_id = ? AND student_id = ?`),
		sessionID, studentID,
	)
	if err == sql.ErrNoRows {
		return rdm, qrproof.ErrRedemptionAbsent
	}
	rdm.RedeemedAt = rdm.RedeemedAt.UTC()
	return rdm, errors.Wrap(err, "selecting redemption")
}

func (l *ledger) Cancel(ctx context.Context, rdm qrproof.Redemption) error {
	_, err := l.db.ExecContext(
		ctx,
		l.db.Rebind(`DELETE FROM qr_redemptions WHERE session_id = ? AND student_id = ? AND token_id = ?`),
		rdm.SessionID, rdm.StudentID, rdm.TokenID,
	)
	return errors.Wrap(err, "deleting redemption")
}

func (l *ledger) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.db.Rebind(`DELETE FROM qr_redemptions WHERE redeemed_at < ?`), before.UTC())
	if err != nil {
		return 0, errors.Wrap(err, "deleting redemptions")
	}
	return res.RowsAffected()
}

// insertedOrConflict maps an "ON CONFLICT DO NOTHING" insert that touched no row to errConflict.
func insertedOrConflict(res sql.Result, errConflict error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return errConflict
	}
	return nil
}
