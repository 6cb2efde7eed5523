package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/presence/core/qrproof"
)

type tokenStore struct {
	db *tokenTable
}

func NewTokenStore(db *DB) qrproof.TokenStore {
	return &tokenStore{db: db.token}
}

func (store *tokenStore) SetCurrent(_ context.Context, tok qrproof.Token) error {
	store.db.mutex.Lock()
	defer store.db.mutex.Unlock()
	store.db.table[tok.SessionID] = tok
	return nil
}

func (store *tokenStore) Current(_ context.Context, sessionID string) (qrproof.Token, error) {
	store.db.mutex.RLock()
	defer store.db.mutex.RUnlock()

	if tok, ok := store.db.table[sessionID]; ok {
		return tok, nil
	}
	return qrproof.Token{}, qrproof.ErrNoToken
}

func (store *tokenStore) Delete(_ context.Context, sessionID string) error {
	store.db.mutex.Lock()
	defer store.db.mutex.Unlock()
	delete(store.db.table, sessionID)
	return nil
}

type ledger struct {
	db *redemptionTable
}

func NewLedger(db *DB) qrproof.Ledger {
	return &ledger{db: db.redemption}
}

func (l *ledger) Redeem(_ context.Context, rdm qrproof.Redemption) error {
	l.db.mutex.Lock()
	defer l.db.mutex.Unlock()

	key := redemptionKey{sessionID: rdm.SessionID, studentID: rdm.StudentID}
	if _, ok := l.db.table[key]; ok {
		return qrproof.ErrAlreadyRedeemed
	}
	l.db.table[key] = rdm
	return nil
}

func (l *ledger) Redeemed(_ context.Context, sessionID, studentID string) (qrproof.Redemption, error) {
	l.db.mutex.RLock()
	defer l.db.mutex.RUnlock()

	if rdm, ok := l.db.table[redemptionKey{sessionID: sessionID, studentID: studentID}]; ok {
		return rdm, nil
	}
	return qrproof.Redemption{}, qrproof.ErrRedemptionAbsent
}

func (l *ledger) Cancel(_ context.Context, rdm qrproof.Redemption) error {
	l.db.mutex.Lock()
	defer l.db.mutex.Unlock()

	key := redemptionKey{sessionID: rdm.SessionID, studentID: rdm.StudentID}
	if cur, ok := l.db.table[key]; ok && cur.TokenID == rdm.TokenID {
		delete(l.db.table, key)
	}
	return nil
}

func (l *ledger) Purge(_ context.Context, before time.Time) (int64, error) {
	l.db.mutex.Lock()
	defer l.db.mutex.Unlock()

	var n int64
	for key, rdm := range l.db.table {
		if rdm.RedeemedAt.Before(before) {
			delete(l.db.table, key)
			n++
		}
	}
	return n, nil
}
