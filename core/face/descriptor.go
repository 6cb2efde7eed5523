// Package face matches face descriptors and runs the blink/smile liveness challenge.
package face

import (
	"math"

	"github.com/trezcool/presence/core"
)

// DescriptorLen is the length of the descriptors produced by the reference face model.
const DescriptorLen = 128

// DefaultMatchThreshold is the Euclidean distance under which two descriptors are the same person.
const DefaultMatchThreshold = 0.45

var (
	ErrNoFaceDetected = core.NewVerificationError(
		core.ReasonNoFaceDetected,
		"no face detected: look straight at the camera in good light",
	)
	ErrMultipleFacesDetected = core.NewVerificationError(
		core.ReasonMultipleFacesDetected,
		"more than one face in frame: make sure you are alone in front of the camera",
	)
	ErrFaceMismatch = core.NewVerificationError(
		core.ReasonFaceMismatch,
		"your face does not match your enrolled profile: hold still facing the camera and retry",
	)
)

// Descriptor is a face embedding.
type Descriptor []float64

// Distance returns the Euclidean distance between a and b.
// ok is false when the vectors cannot be compared (empty, unequal lengths or non-finite values).
func Distance(a, b Descriptor) (dist float64, ok bool) {
	if len(a) == 0 || len(a) != len(b) {
		return math.Inf(1), false
	}
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	dist = math.Sqrt(sum)
	if math.IsNaN(dist) || math.IsInf(dist, 0) {
		return math.Inf(1), false
	}
	return dist, true
}

// Matcher compares captured descriptors with an enrolled one.
type Matcher struct {
	Threshold float64
}

func NewMatcher(threshold float64) Matcher {
	if !(threshold > 0) {
		threshold = DefaultMatchThreshold
	}
	return Matcher{Threshold: threshold}
}

// Match reports whether captured and enrolled belong to the same person.
// Incomparable descriptors fail closed.
func (m Matcher) Match(captured, enrolled Descriptor) (dist float64, matched bool) {
	dist, ok := Distance(captured, enrolled)
	if !ok {
		return dist, false
	}
	return dist, dist < m.Threshold
}
