package face

import (
	"crypto/rand"
	"math"
	"math/big"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
)

// Challenge is the physical action the student must perform to prove liveness.
type Challenge string

const (
	ChallengeBlink Challenge = "BLINK"
	ChallengeSmile Challenge = "SMILE"

	DefaultEARThreshold   = 0.25
	DefaultSmileThreshold = 0.7

	expressionHappy = "happy"
)

var (
	challenges = [...]Challenge{ChallengeBlink, ChallengeSmile}

	ErrLivenessTimeout = core.NewVerificationError(
		core.ReasonLivenessTimeout,
		"liveness check timed out: follow the on-screen instruction (blink or smile) and retry",
	)
)

// Hint is the instruction shown to the student for c.
func (c Challenge) Hint() string {
	switch c {
	case ChallengeBlink:
		return "Blink both eyes"
	case ChallengeSmile:
		return "Smile at the camera"
	}
	return ""
}

// Challenger issues and evaluates liveness challenges.
type Challenger struct {
	EARThreshold   float64
	SmileThreshold float64
	// random source; crypto/rand unless overridden in tests
	randInt func(max *big.Int) (*big.Int, error)
}

func NewChallenger(earThreshold, smileThreshold float64) *Challenger {
	if !(earThreshold > 0) {
		earThreshold = DefaultEARThreshold
	}
	if !(smileThreshold > 0) {
		smileThreshold = DefaultSmileThreshold
	}
	return &Challenger{
		EARThreshold:   earThreshold,
		SmileThreshold: smileThreshold,
		randInt:        func(max *big.Int) (*big.Int, error) { return rand.Int(rand.Reader, max) },
	}
}

// IssueChallenge draws a fresh challenge uniformly at random from a secure source.
// A new challenge must be drawn for every attempt.
func (c *Challenger) IssueChallenge() (Challenge, error) {
	n, err := c.randInt(big.NewInt(int64(len(challenges))))
	if err != nil {
		return "", errors.Wrap(err, "drawing liveness challenge")
	}
	return challenges[n.Int64()], nil
}

// Evaluate reports whether det satisfies challenge in this single frame.
func (c *Challenger) Evaluate(det Detection, challenge Challenge) bool {
	switch challenge {
	case ChallengeBlink:
		left, right := EyeAspectRatio(det.Landmarks.LeftEye), EyeAspectRatio(det.Landmarks.RightEye)
		return left < c.EARThreshold && right < c.EARThreshold
	case ChallengeSmile:
		return det.Expressions[expressionHappy] > c.SmileThreshold
	}
	return false
}

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2·|p1-p4|).
// A degenerate eye (p1 == p4) yields +Inf so it never counts as closed.
func EyeAspectRatio(eye Eye) float64 {
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return math.Inf(1)
	}
	return (dist(eye[1], eye[5]) + dist(eye[2], eye[4])) / (2 * horizontal)
}

func dist(a, b Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
