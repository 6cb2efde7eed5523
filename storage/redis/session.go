package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core/attendance"
	"github.com/trezcool/presence/core/verification"
)

// sessionGrace keeps a session readable for a while after it expires,
// so late claims get SessionExpired instead of SessionNotFound.
const sessionGrace = time.Hour

type sessionRepository struct {
	client *redis.Client
	keys   keyspace
}

func NewSessionRepository(client *redis.Client, namespace string) attendance.SessionRepository {
	return &sessionRepository{client: client, keys: keyspace(namespace)}
}

func (repo *sessionRepository) CreateSession(ctx context.Context, sess verification.Session) error {
	data, err := encode(sess)
	if err != nil {
		return err
	}
	ttl := time.Until(sess.ExpiresAt) + sessionGrace
	if ttl <= 0 {
		ttl = sessionGrace
	}
	return wrap(repo.client.Set(ctx, repo.keys.session(sess.ID), data, ttl).Err(), "redis.Set")
}

func (repo *sessionRepository) GetSession(ctx context.Context, id string) (verification.Session, error) {
	var sess verification.Session
	data, err := repo.client.Get(ctx, repo.keys.session(id)).Bytes()
	if err == redis.Nil {
		return sess, attendance.ErrSessionNotFound
	}
	if err != nil {
		return sess, wrap(err, "redis.Get")
	}
	err = decode(data, &sess)
	return sess, err
}

func (repo *sessionRepository) DeleteSession(ctx context.Context, id string) error {
	return wrap(repo.client.Del(ctx, repo.keys.session(id)).Err(), "redis.Del")
}
