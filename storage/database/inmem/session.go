package inmemdb

import (
	"context"

	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/verification"
)

type sessionRepository struct {
	db *sessionTable
}

func NewSessionRepository(db *DB) attendance.SessionRepository {
	return &sessionRepository{db: db.session}
}

func (repo *sessionRepository) CreateSession(_ context.Context, sess verification.Session) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	sess.EnabledSteps = append([]verification.StepKind(nil), sess.EnabledSteps...)
	repo.db.table[sess.ID] = &sess
	return nil
}

func (repo *sessionRepository) GetSession(_ context.Context, id string) (verification.Session, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if sess, ok := repo.db.table[id]; ok {
		return *sess, nil
	}
	return verification.Session{}, attendance.ErrSessionNotFound
}

func (repo *sessionRepository) DeleteSession(_ context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()
	delete(repo.db.table, id)
	return nil
}
