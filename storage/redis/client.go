// Package redisstore keeps sessions, QR tokens, redemptions and marks in Redis,
// and fans realtime events out over Redis pub/sub so several API instances share rooms.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core"
)

const pingTimeout = 5 * time.Second

// NewClient connects to the Redis server described by conf.
func NewClient(conf core.RedisConfig) (*redis.Client, error) {
	if conf.Address == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Address,
		Password: conf.Password,
		DB:       conf.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to connect to redis")
	}
	return client, nil
}

// keyspace builds namespaced keys.
type keyspace string

func (ns keyspace) session(id string) string     { return fmt.Sprintf("%s:session:%s", ns, id) }
func (ns keyspace) token(sessionID string) string { return fmt.Sprintf("%s:token:%s", ns, sessionID) }
func (ns keyspace) redemptions(sessionID string) string {
	return fmt.Sprintf("%s:redemptions:%s", ns, sessionID)
}
func (ns keyspace) marks(sessionID string) string { return fmt.Sprintf("%s:marks:%s", ns, sessionID) }
func (ns keyspace) room(room string) string       { return fmt.Sprintf("%s:room:%s", ns, room) }

var encMode = func() cbor.EncMode {
	mode, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return mode
}()

func encode(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	return data, errors.Wrap(err, "cbor.Marshal")
}

// wrap annotates a redis command error. A closed client never recovers,
// so it surfaces as a shutdown error.
func wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return core.NewShutdownError(op + ": " + err.Error())
	}
	return errors.Wrap(err, op)
}

func decode(data []byte, v interface{}) error {
	return errors.Wrap(cbor.Unmarshal(data, v), "cbor.Unmarshal")
}
