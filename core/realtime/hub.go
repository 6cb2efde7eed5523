// Package realtime implements session-scoped publish/subscribe rooms.
package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event types published on a session room.
const (
	EventStudentAttendance = "studentAttendance"
	EventQRToken           = "qrToken"
	EventSessionStopped    = "sessionStopped"
)

// Event is a message published on a room.
type Event struct {
	Type      string          `json:"type"`
	Room      string          `json:"room"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent builds an Event, JSON-encoding data.
func NewEvent(room, typ string, data interface{}, ts time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: typ, Room: room, Data: raw, Timestamp: ts}, nil
}

// StudentAttendance is the payload of EventStudentAttendance.
type StudentAttendance struct {
	StudentID string    `json:"studentId"`
	SessionID string    `json:"sessionId"`
	Timestamp time.Time `json:"timestamp"`
}

type (
	Publisher interface {
		Publish(ctx context.Context, ev Event) error
	}

	// Broker publishes events and lets clients subscribe to a room.
	// The returned cancel func must be called to release the subscription.
	Broker interface {
		Publisher
		Subscribe(ctx context.Context, room string) (<-chan Event, func(), error)
	}
)

// subscriberBuffer bounds how far a slow subscriber may lag before events are dropped for it.
const subscriberBuffer = 16

// Hub is an in-process Broker.
// Publish never blocks on a slow subscriber; such a subscriber misses events instead.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

var _ Broker = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.rooms[ev.Room] {
		select {
		case sub.ch <- ev:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, room string) (<-chan Event, func(), error) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*subscriber]struct{})
	}
	h.rooms[room][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.rooms[room], sub)
			if len(h.rooms[room]) == 0 {
				delete(h.rooms, room)
			}
			h.mu.Unlock()
			close(sub.ch)
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return sub.ch, cancel, nil
}

// Subscribers returns the number of live subscriptions on room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}
