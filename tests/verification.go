package testutil

import (
	"context"
	"image"
	"sync"

	"github.com/trezcool/presence/core/face"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/verification"
)

// Detector returns the same detections for every frame.
type Detector struct {
	Faces []face.Detection
	Err   error
}

func (d *Detector) Detect(ctx context.Context, _ image.Image) ([]face.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Faces, d.Err
}

// Descriptor returns a DescriptorLen vector whose distance to the zero vector is dist.
func Descriptor(dist float64) face.Descriptor {
	d := make(face.Descriptor, face.DescriptorLen)
	d[0] = dist
	return d
}

// BlinkingFace is a detection of desc with both eyes closed.
func BlinkingFace(desc face.Descriptor) face.Detection {
	closed := face.Eye{{X: 0, Y: 0}, {X: 1, Y: 0.1}, {X: 2, Y: 0.1}, {X: 3, Y: 0}, {X: 2, Y: -0.1}, {X: 1, Y: -0.1}}
	return face.Detection{
		Descriptor:  desc,
		Landmarks:   face.Landmarks{LeftEye: closed, RightEye: closed},
		Expressions: map[string]float64{"happy": 0.95},
	}
}

// StaringFace is a detection of desc with both eyes open and a neutral expression.
// It never passes a liveness challenge.
func StaringFace(desc face.Descriptor) face.Detection {
	open := face.Eye{{X: 0, Y: 0}, {X: 1, Y: 0.5}, {X: 2, Y: 0.5}, {X: 3, Y: 0}, {X: 2, Y: -0.5}, {X: 1, Y: -0.5}}
	return face.Detection{
		Descriptor:  desc,
		Landmarks:   face.Landmarks{LeftEye: open, RightEye: open},
		Expressions: map[string]float64{"neutral": 0.9, "happy": 0.05},
	}
}

// Positions is a fixed verification.PositionSource.
type Positions struct {
	Position *geo.Position
	Err      error
}

func (p *Positions) CurrentPosition(context.Context) (*geo.Position, error) {
	return p.Position, p.Err
}

// Submitter records submitted claims.
type Submitter struct {
	Response verification.MarkResponse
	Err      error

	mu     sync.Mutex
	claims []verification.Claim
}

func (s *Submitter) Submit(_ context.Context, claim verification.Claim) (verification.MarkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims = append(s.claims, claim)
	if s.Err != nil {
		return verification.MarkResponse{}, s.Err
	}
	resp := s.Response
	if resp.Message == "" {
		resp = verification.MarkResponse{Success: true, Message: "attendance marked"}
	}
	return resp, nil
}

func (s *Submitter) Claims() []verification.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]verification.Claim(nil), s.claims...)
}
