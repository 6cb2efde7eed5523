package verification

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/geo"
)

type (
	// PositionSource reads the device's current position.
	PositionSource interface {
		CurrentPosition(ctx context.Context) (*geo.Position, error)
	}

	// ClassLocator resolves a class's registered location when the session does not carry it.
	ClassLocator interface {
		ClassLocation(ctx context.Context, classID string) (geo.Point, float64, error)
	}
)

// GeofenceStep checks that the student is within the allowed radius of the classroom.
type GeofenceStep struct {
	Positions     PositionSource
	Locator       ClassLocator // optional
	DefaultRadius float64
}

func (s *GeofenceStep) Kind() StepKind { return StepGeofence }

func (s *GeofenceStep) Run(ctx context.Context, sess *Session) (StepResult, error) {
	res := newResult(StepGeofence)

	loc, radius := sess.ClassLocation, sess.AllowedRadius
	if loc == nil && s.Locator != nil {
		p, r, err := s.Locator.ClassLocation(ctx, sess.ClassID)
		if err != nil {
			return res, errors.Wrap(err, "loading class location")
		}
		loc = &p
		if radius <= 0 {
			radius = r
		}
	}
	if loc == nil {
		return res, geo.ErrLocationUnavailable.With(errors.New("class location unknown"))
	}
	if radius <= 0 {
		radius = s.DefaultRadius
	}

	pos, err := s.Positions.CurrentPosition(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, geo.ErrLocationUnavailable.With(err)
	}

	gr, err := geo.Verify(*loc, pos, radius)
	res.Verified = gr.Verified
	if err == nil || errors.Cause(err) == geo.ErrLocationOutOfRange {
		res.Geofence = &GeofenceEvidence{DistanceMeters: gr.DistanceMeters, AllowedRadius: radius}
	}
	return res, err
}
