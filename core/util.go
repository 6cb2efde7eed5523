package core

import (
	"context"
	"strings"
	"time"
)

// NowFunc is the clock used across the domain packages.
var NowFunc = time.Now // mockable

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Poll calls fn immediately and then every interval until fn reports done, returns an error, or ctx ends.
// The ticker is always stopped before Poll returns.
func Poll(ctx context.Context, interval time.Duration, fn func() (done bool, err error)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
