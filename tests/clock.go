package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/trezcool/presence/core"
)

// Clock is a manual clock installed as core.NowFunc for the duration of a test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func FreezeTime(t *testing.T, at time.Time) *Clock {
	t.Helper()
	c := &Clock{now: at}
	orig := core.NowFunc
	core.NowFunc = c.Now
	t.Cleanup(func() { core.NowFunc = orig })
	return c
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
