package main

import (
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/media"
)

// fileCamera replays still images as a video feed, looping over them in name order.
type fileCamera struct {
	paths []string

	once   sync.Once
	frames []image.Image
	err    error
}

var _ media.Camera = (*fileCamera)(nil)

// newFileCamera reads frames from path: an image file, or a directory of .png/.jpg/.jpeg files.
func newFileCamera(path string) (*fileCamera, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening frames")
	}
	if !fi.IsDir() {
		return &fileCamera{paths: []string{path}}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading frames directory")
	}
	var paths []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, errors.Errorf("no image in %s", path)
	}
	sort.Strings(paths)
	return &fileCamera{paths: paths}, nil
}

func (c *fileCamera) load() ([]image.Image, error) {
	c.once.Do(func() {
		for _, p := range c.paths {
			img, err := decodeFile(p)
			if err != nil {
				c.err = err
				return
			}
			c.frames = append(c.frames, img)
		}
	})
	return c.frames, c.err
}

func (c *fileCamera) Open(context.Context) (media.Stream, error) {
	frames, err := c.load()
	if err != nil {
		return nil, err
	}
	return &fileStream{frames: frames}, nil
}

type fileStream struct {
	frames []image.Image
	next   int
	closed bool
}

func (s *fileStream) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed {
		return nil, media.ErrStreamClosed
	}
	img := s.frames[s.next%len(s.frames)]
	s.next++
	return img, nil
}

func (s *fileStream) Close() error {
	s.closed = true
	return nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening frame")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", filepath.Base(path))
	}
	return img, nil
}

// fixedPosition reports the position given on the command line.
type fixedPosition struct {
	pos *geo.Position
}

func (p fixedPosition) CurrentPosition(context.Context) (*geo.Position, error) {
	return p.pos, nil
}
