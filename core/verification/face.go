package verification

import (
	"context"
	"math"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/face"
	"github.com/trezcool/presence/core/media"
)

var ErrNoEnrolledFace = core.NewVerificationError(
	core.ReasonFaceMismatch,
	"no enrolled face was found for you: complete face enrollment first",
)

// FaceStep matches the student's face against the enrolled descriptor, then runs a liveness challenge.
type FaceStep struct {
	Camera           media.Camera
	Detector         face.Detector
	Matcher          face.Matcher
	Challenger       *face.Challenger
	MatchInterval    time.Duration
	LivenessInterval time.Duration
	// OnChallenge is called with each issued challenge so it can be shown to the student.
	OnChallenge func(face.Challenge)
}

func (s *FaceStep) Kind() StepKind { return StepFace }

func (s *FaceStep) Run(ctx context.Context, sess *Session) (StepResult, error) {
	res := newResult(StepFace)
	enrolled := sess.FaceReference
	if len(enrolled) == 0 {
		return res, ErrNoEnrolledFace
	}

	stream, err := s.Camera.Open(ctx)
	if err != nil {
		return res, errors.Wrap(err, "opening camera")
	}
	defer stream.Close()

	ev := &FaceEvidence{}
	best := math.Inf(1)

	// identity
	err = core.Poll(ctx, s.MatchInterval, func() (bool, error) {
		det, err := s.capture(ctx, stream)
		if err != nil || det == nil {
			return false, err
		}
		dist, matched := s.Matcher.Match(det.Descriptor, enrolled)
		if dist < best {
			best = dist
			ev.EmbeddingDistance = dist
		}
		return matched, nil
	})
	if err != nil {
		if !math.IsInf(best, 1) {
			res.Face = ev
		}
		if timedOut(ctx) {
			return res, face.ErrFaceMismatch
		}
		return res, err
	}

	// liveness, with a fresh challenge for this attempt
	challenge, err := s.Challenger.IssueChallenge()
	if err != nil {
		return res, err
	}
	ev.Challenge = challenge
	res.Face = ev
	if s.OnChallenge != nil {
		s.OnChallenge(challenge)
	}

	err = core.Poll(ctx, s.LivenessInterval, func() (bool, error) {
		det, err := s.capture(ctx, stream)
		if err != nil || det == nil {
			return false, err
		}
		// the challenge only counts for the enrolled face
		if _, matched := s.Matcher.Match(det.Descriptor, enrolled); !matched {
			return false, nil
		}
		return s.Challenger.Evaluate(*det, challenge), nil
	})
	if err != nil {
		if timedOut(ctx) {
			return res, face.ErrLivenessTimeout
		}
		return res, err
	}

	ev.LivenessPassed = true
	res.Verified = true
	return res, nil
}

// capture grabs a frame and returns its single face, or nil when the frame has none.
func (s *FaceStep) capture(ctx context.Context, stream media.Stream) (*face.Detection, error) {
	frame, err := stream.Frame(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading frame")
	}
	det, err := face.Capture(ctx, s.Detector, frame)
	if err != nil {
		if errors.Cause(err) == face.ErrNoFaceDetected {
			return nil, nil
		}
		return nil, err
	}
	return &det, nil
}
