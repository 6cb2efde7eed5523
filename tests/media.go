package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/trezcool/presence/core/media"
)

// Camera serves Frames in a loop, repeating the last one once exhausted.
type Camera struct {
	Frames []image.Image

	mu     sync.Mutex
	opened int
	closed int
}

var _ media.Camera = (*Camera)(nil)

func (c *Camera) Open(context.Context) (media.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened++
	return &stream{cam: c}, nil
}

// Streams returns the number of opened and closed streams.
func (c *Camera) Streams() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened, c.closed
}

type stream struct {
	cam  *Camera
	next int
	done bool
}

func (s *stream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, media.ErrStreamClosed
	}
	frames := s.cam.Frames
	if len(frames) == 0 {
		return Blank(), nil
	}
	i := s.next
	if i >= len(frames) {
		i = len(frames) - 1
	} else {
		s.next++
	}
	return frames[i], nil
}

func (s *stream) Close() error {
	if s.done {
		return media.ErrStreamClosed
	}
	s.done = true
	s.cam.mu.Lock()
	s.cam.closed++
	s.cam.mu.Unlock()
	return nil
}

// Blank returns a small white frame.
func Blank() image.Image {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}
