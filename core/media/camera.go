// Package media defines the camera abstraction shared by the face and QR steps.
package media

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrCameraBusy   = errors.New("camera is already in use")
	ErrStreamClosed = errors.New("camera stream closed")
)

type (
	// Camera hands out exclusive video streams.
	Camera interface {
		Open(ctx context.Context) (Stream, error)
	}

	// Stream is an open camera feed. Close releases the device and must be called on every path.
	Stream interface {
		Frame(ctx context.Context) (image.Image, error)
		Close() error
	}
)

// ExclusiveCamera wraps a Camera so that at most one Stream is open at a time.
type ExclusiveCamera struct {
	cam  Camera
	mu   sync.Mutex
	busy bool
}

var _ Camera = (*ExclusiveCamera)(nil)

func NewExclusiveCamera(cam Camera) *ExclusiveCamera {
	return &ExclusiveCamera{cam: cam}
}

func (c *ExclusiveCamera) Open(ctx context.Context) (Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return nil, ErrCameraBusy
	}
	s, err := c.cam.Open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "opening camera")
	}
	c.busy = true
	return &exclusiveStream{Stream: s, owner: c}, nil
}

// InUse reports whether a stream is currently open.
func (c *ExclusiveCamera) InUse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *ExclusiveCamera) release() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

type exclusiveStream struct {
	Stream
	owner *ExclusiveCamera
	once  sync.Once
}

func (s *exclusiveStream) Close() error {
	err := ErrStreamClosed
	s.once.Do(func() {
		err = s.Stream.Close()
		s.owner.release()
	})
	return err
}
