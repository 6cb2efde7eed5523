package face

import (
	"context"
	"image"

	"github.com/pkg/errors"
)

// Point is a 2D landmark coordinate, in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Eye holds the six landmarks p1..p6 of one eye, ordered clockwise from the outer corner.
type Eye [6]Point

// Landmarks holds the landmarks the liveness challenge needs.
type Landmarks struct {
	LeftEye  Eye `json:"left_eye"`
	RightEye Eye `json:"right_eye"`
}

// Detection is one face found in a frame.
type Detection struct {
	Descriptor  Descriptor         `json:"descriptor"`
	Landmarks   Landmarks          `json:"landmarks"`
	Expressions map[string]float64 `json:"expressions"`
}

// Detector runs the face model on a frame and returns every face it finds.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]Detection, error)
}

// Capture returns the single face in frame.
// Zero faces is ErrNoFaceDetected; more than one is ErrMultipleFacesDetected, regardless of who they are.
func Capture(ctx context.Context, det Detector, frame image.Image) (Detection, error) {
	faces, err := det.Detect(ctx, frame)
	if err != nil {
		return Detection{}, errors.Wrap(err, "detecting faces")
	}
	switch len(faces) {
	case 0:
		return Detection{}, ErrNoFaceDetected
	case 1:
		return faces[0], nil
	default:
		return Detection{}, ErrMultipleFacesDetected
	}
}
