package qrproof

import (
	"context"
	"sync"
	"time"

	"github.com/trezcool/presence/core"
)

// Rotator re-mints each running session's token as it expires, until the session ends or is stopped.
type Rotator struct {
	svc    *Service
	logger core.Logger

	mu        sync.Mutex
	rotations map[string]*rotation
}

type rotation struct {
	cancel context.CancelFunc
	done   chan struct{}
}

const (
	// rotationLead re-mints slightly ahead of expiry so a redeemable token is always on screen.
	rotationLead = 100 * time.Millisecond
	// retryDelay spaces re-mints after a failure.
	retryDelay = time.Second
)

func NewRotator(svc *Service, logger core.Logger) *Rotator {
	if logger == nil {
		logger = core.NopLogger{}
	}
	return &Rotator{svc: svc, logger: logger, rotations: make(map[string]*rotation)}
}

// Start mints a first token for sessionID and keeps rotating it until until.
// Starting an already running session restarts its rotation.
func (r *Rotator) Start(ctx context.Context, sessionID string, until time.Time) (Token, error) {
	r.Stop(sessionID)

	tok, err := r.svc.Mint(ctx, sessionID)
	if err != nil {
		return Token{}, err
	}

	rctx, cancel := context.WithDeadline(context.Background(), until)
	rot := &rotation{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.rotations[sessionID] = rot
	r.mu.Unlock()

	go r.run(rctx, sessionID, tok, rot)
	return tok, nil
}

func (r *Rotator) run(ctx context.Context, sessionID string, tok Token, rot *rotation) {
	defer close(rot.done)
	defer rot.cancel()

	timer := time.NewTimer(nextRotation(tok))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			if r.rotations[sessionID] == rot {
				delete(r.rotations, sessionID)
			}
			r.mu.Unlock()
			return
		case <-timer.C:
			next, err := r.svc.Mint(ctx, sessionID)
			switch {
			case err == nil:
				tok = next
				timer.Reset(nextRotation(tok))
			default:
				if ctx.Err() == nil {
					r.logger.Error("qrproof: rotating token for session "+sessionID, err)
				}
				timer.Reset(retryDelay)
			}
		}
	}
}

// nextRotation is how long until tok must be replaced.
// Issue times are truncated to the second, so this is measured from tok's own expiry.
func nextRotation(tok Token) time.Duration {
	left := tok.ExpiresAt().Sub(core.NowFunc())
	switch {
	case left > rotationLead:
		return left - rotationLead
	case left > 0:
		return left
	default:
		return 0
	}
}

// Stop halts sessionID's rotation and waits for it to exit. It does not revoke the current token.
func (r *Rotator) Stop(sessionID string) {
	r.mu.Lock()
	rot, ok := r.rotations[sessionID]
	delete(r.rotations, sessionID)
	r.mu.Unlock()

	if ok {
		rot.cancel()
		<-rot.done
	}
}

// StopAll halts every rotation.
func (r *Rotator) StopAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.rotations))
	for id := range r.rotations {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Stop(id)
	}
}

func (r *Rotator) Running(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rotations[sessionID]
	return ok
}
