package face

import (
	"context"
	"image"
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDescriptor(r *rand.Rand) Descriptor {
	d := make(Descriptor, DescriptorLen)
	for i := range d {
		d[i] = r.Float64()*0.2 - 0.1
	}
	return d
}

// offset returns a copy of d moved by exactly dist along its first axis.
func offset(d Descriptor, dist float64) Descriptor {
	o := append(Descriptor(nil), d...)
	o[0] += dist
	return o
}

func TestDistance_reflexive(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	m := NewMatcher(DefaultMatchThreshold)
	for i := 0; i < 100; i++ {
		d := randomDescriptor(r)
		dist, ok := Distance(d, d)
		require.True(t, ok)
		assert.Zero(t, dist)

		_, matched := m.Match(d, d)
		assert.True(t, matched, "an enrolled descriptor must match itself")
	}
}

func TestMatcher_Match(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	enrolled := randomDescriptor(r)
	m := NewMatcher(0)

	tests := []struct {
		name        string
		captured    Descriptor
		wantMatched bool
		wantDist    float64
	}{
		{name: "close", captured: offset(enrolled, 0.30), wantMatched: true, wantDist: 0.30},
		{name: "just above threshold", captured: offset(enrolled, 0.46), wantMatched: false, wantDist: 0.46},
		{name: "distance 0.50", captured: offset(enrolled, 0.50), wantMatched: false, wantDist: 0.50},
		{name: "unequal lengths", captured: enrolled[:64], wantMatched: false, wantDist: math.Inf(1)},
		{name: "empty", captured: Descriptor{}, wantMatched: false, wantDist: math.Inf(1)},
		{name: "NaN", captured: offset(enrolled, math.NaN()), wantMatched: false, wantDist: math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dist, matched := m.Match(tt.captured, enrolled)
			assert.Equal(t, tt.wantMatched, matched)
			if math.IsInf(tt.wantDist, 1) {
				assert.True(t, math.IsInf(dist, 1))
			} else {
				assert.InDelta(t, tt.wantDist, dist, 1e-9)
			}
		})
	}
}

type stubDetector struct {
	faces []Detection
	err   error
}

func (d stubDetector) Detect(context.Context, image.Image) ([]Detection, error) {
	return d.faces, d.err
}

func TestCapture(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	one := Detection{Descriptor: randomDescriptor(r)}
	frame := image.NewGray(image.Rect(0, 0, 4, 4))

	tests := []struct {
		name    string
		det     Detector
		wantErr error
	}{
		{name: "no face", det: stubDetector{}, wantErr: ErrNoFaceDetected},
		{name: "one face", det: stubDetector{faces: []Detection{one}}},
		{name: "two faces", det: stubDetector{faces: []Detection{one, one}}, wantErr: ErrMultipleFacesDetected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Capture(context.Background(), tt.det, frame)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, one.Descriptor, got.Descriptor)
		})
	}

	_, err := Capture(context.Background(), stubDetector{err: errors.New("model offline")}, frame)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
}

// eye builds landmarks whose EAR equals ear for a 10px wide eye.
func eye(ear float64) Eye {
	h := ear * 10 // (h + h) / (2*10) == ear
	return Eye{
		{X: 0, Y: 0},
		{X: 3, Y: -h / 2},
		{X: 7, Y: -h / 2},
		{X: 10, Y: 0},
		{X: 7, Y: h / 2},
		{X: 3, Y: h / 2},
	}
}

func TestEyeAspectRatio(t *testing.T) {
	for _, ear := range []float64{0, 0.1, 0.25, 0.3, 0.42} {
		assert.InDelta(t, ear, EyeAspectRatio(eye(ear)), 1e-9)
	}
	assert.True(t, math.IsInf(EyeAspectRatio(Eye{}), 1), "degenerate eye never reads as closed")
}

func TestChallenger_Evaluate(t *testing.T) {
	c := NewChallenger(0, 0)
	det := func(left, right, happy float64) Detection {
		return Detection{
			Landmarks:   Landmarks{LeftEye: eye(left), RightEye: eye(right)},
			Expressions: map[string]float64{"happy": happy},
		}
	}

	tests := []struct {
		name      string
		det       Detection
		challenge Challenge
		want      bool
	}{
		{name: "blink both eyes", det: det(0.1, 0.2, 0), challenge: ChallengeBlink, want: true},
		{name: "one eye closed", det: det(0.1, 0.3, 0), challenge: ChallengeBlink, want: false},
		{name: "eyes open", det: det(0.3, 0.3, 0), challenge: ChallengeBlink, want: false},
		{name: "EAR at threshold", det: det(0.25, 0.25, 0), challenge: ChallengeBlink, want: false},
		{name: "smile", det: det(0.3, 0.3, 0.9), challenge: ChallengeSmile, want: true},
		{name: "smile at threshold", det: det(0.3, 0.3, 0.7), challenge: ChallengeSmile, want: false},
		{name: "blink does not satisfy smile", det: det(0.1, 0.1, 0.1), challenge: ChallengeSmile, want: false},
		{name: "smile does not satisfy blink", det: det(0.3, 0.3, 0.99), challenge: ChallengeBlink, want: false},
		{name: "no expressions", det: Detection{}, challenge: ChallengeSmile, want: false},
		{name: "unknown challenge", det: det(0.1, 0.1, 0.9), challenge: "WINK", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Evaluate(tt.det, tt.challenge))
		})
	}
}

func TestChallenger_IssueChallenge_uniform(t *testing.T) {
	c := NewChallenger(0, 0)
	const n = 4000
	counts := map[Challenge]int{}
	for i := 0; i < n; i++ {
		ch, err := c.IssueChallenge()
		require.NoError(t, err)
		counts[ch]++
	}
	require.Len(t, counts, 2)
	// 5 standard deviations of a fair binomial(4000, .5) is ~158
	for ch, got := range counts {
		assert.InDelta(t, n/2, got, 158, "challenge %s drawn %d times out of %d", ch, got, n)
	}
}
