package redisstore

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core/qrproof"
)

type tokenStore struct {
	client *redis.Client
	keys   keyspace
}

func NewTokenStore(client *redis.Client, namespace string) qrproof.TokenStore {
	return &tokenStore{client: client, keys: keyspace(namespace)}
}

// SetCurrent stores tok until it expires; an expired token reads as absent.
func (store *tokenStore) SetCurrent(ctx context.Context, tok qrproof.Token) error {
	data, err := encode(tok)
	if err != nil {
		return err
	}
	ttl := time.Until(tok.ExpiresAt())
	if ttl < time.Second {
		ttl = time.Second
	}
	return wrap(store.client.Set(ctx, store.keys.token(tok.SessionID), data, ttl).Err(), "redis.Set")
}

func (store *tokenStore) Current(ctx context.Context, sessionID string) (qrproof.Token, error) {
	var tok qrproof.Token
	data, err := store.client.Get(ctx, store.keys.token(sessionID)).Bytes()
	if err == redis.Nil {
		return tok, qrproof.ErrNoToken
	}
	if err != nil {
		return tok, wrap(err, "redis.Get")
	}
	err = decode(data, &tok)
	return tok, err
}

func (store *tokenStore) Delete(ctx context.Context, sessionID string) error {
	return wrap(store.client.Del(ctx, store.keys.token(sessionID)).Err(), "redis.Del")
}

// ledger keeps one hash per session, keyed by student.
type ledger struct {
	client *redis.Client
	keys   keyspace
}

func NewLedger(client *redis.Client, namespace string) qrproof.Ledger {
	return &ledger{client: client, keys: keyspace(namespace)}
}

func (l *ledger) Redeem(ctx context.Context, rdm qrproof.Redemption) error {
	data, err := encode(rdm)
	if err != nil {
		return err
	}
	ok, err := l.client.HSetNX(ctx, l.keys.redemptions(rdm.SessionID), rdm.StudentID, data).Result()
	if err != nil {
		return wrap(err, "redis.HSetNX")
	}
	if !ok {
		return qrproof.ErrAlreadyRedeemed
	}
	return nil
}

func (l *ledger) Redeemed(ctx context.Context, sessionID, studentID string) (qrproof.Redemption, error) {
	var rdm qrproof.Redemption
	data, err := l.client.HGet(ctx, l.keys.redemptions(sessionID), studentID).Bytes()
	if err == redis.Nil {
		return rdm, qrproof.ErrRedemptionAbsent
	}
	if err != nil {
		return rdm, wrap(err, "redis.HGet")
	}
	err = decode(data, &rdm)
	return rdm, err
}

// cancelScript deletes a redemption only while it still holds the given token ID.
var cancelScript = redis.NewScript(`
local data = redis.call("HGET", KEYS[1], ARGV[1])
if data and string.find(data, ARGV[2], 1, true) then
	return redis.call("HDEL", KEYS[1], ARGV[1])
end
return 0
`)

func (l *ledger) Cancel(ctx context.Context, rdm qrproof.Redemption) error {
	err := cancelScript.Run(ctx, l.client, []string{l.keys.redemptions(rdm.SessionID)}, rdm.StudentID, rdm.TokenID).Err()
	return wrap(err, "redis.Cancel")
}

func (l *ledger) Purge(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	prefix := l.keys.redemptions("")
	iter := l.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		entries, err := l.client.HGetAll(ctx, key).Result()
		if err != nil {
			return n, wrap(err, "redis.HGetAll")
		}

		var stale []string
		for studentID, data := range entries {
			var rdm qrproof.Redemption
			if err := decode([]byte(data), &rdm); err != nil {
				return n, err
			}
			if rdm.RedeemedAt.Before(before) {
				stale = append(stale, studentID)
			}
		}
		if len(stale) == 0 {
			continue
		}
		deleted, err := l.client.HDel(ctx, key, stale...).Result()
		if err != nil {
			return n, wrap(err, "redis.HDel")
		}
		n += deleted
	}
	return n, wrap(iter.Err(), "redis.Scan")
}
