package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/realtime"
)

const subscriberBuffer = 16

// Broker is a realtime.Broker backed by Redis pub/sub.
// Like realtime.Hub, a subscriber that lags too far behind misses events.
type Broker struct {
	client *redis.Client
	keys   keyspace
	logger core.Logger
}

var _ realtime.Broker = (*Broker)(nil)

func NewBroker(client *redis.Client, namespace string, logger core.Logger) *Broker {
	return &Broker{client: client, keys: keyspace(namespace), logger: logger}
}

func (b *Broker) Publish(ctx context.Context, ev realtime.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	return wrap(b.client.Publish(ctx, b.keys.room(ev.Room), data).Err(), "redis.Publish")
}

func (b *Broker) Subscribe(ctx context.Context, room string) (<-chan realtime.Event, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.keys.room(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, wrap(err, "redis.Subscribe")
	}

	events := make(chan realtime.Event, subscriberBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}
	go func() {
		defer close(events)
		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev realtime.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.logger.Error("decoding room event", err, map[string]interface{}{"room": room})
					continue
				}
				select {
				case events <- ev:
				default:
				}
			}
		}
	}()
	return events, cancel, nil
}
