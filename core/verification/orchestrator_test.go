package verification_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/biometric"
	"github.com/trezcool/presence/core/face"
	"github.com/trezcool/presence/core/geo"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/realtime"
	"github.com/trezcool/presence/core/verification"
	inmemdb "github.com/trezcool/presence/storage/database/inmem"
	testutil "github.com/trezcool/presence/tests"
)

const studentID = "stu-1"

var classroom = geo.Point{Latitude: -4.3217, Longitude: 15.3125}

func newSession(steps ...verification.StepKind) *verification.Session {
	now := core.NowFunc()
	return &verification.Session{
		ID:            "sess-1",
		ClassID:       "class-1",
		TeacherID:     "teacher-1",
		EnabledSteps:  steps,
		ClassLocation: &classroom,
		AllowedRadius: 50,
		FaceReference: testutil.Descriptor(0),
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
	}
}

func geofenceStep(pos geo.Point) *verification.GeofenceStep {
	return &verification.GeofenceStep{
		Positions:     &testutil.Positions{Position: &geo.Position{Point: pos, Accuracy: 5}},
		DefaultRadius: 100,
	}
}

func faceStep(cam *testutil.Camera, faces ...face.Detection) *verification.FaceStep {
	return &verification.FaceStep{
		Camera:           cam,
		Detector:         &testutil.Detector{Faces: faces},
		Matcher:          face.NewMatcher(face.DefaultMatchThreshold),
		Challenger:       face.NewChallenger(0, 0),
		MatchInterval:    5 * time.Millisecond,
		LivenessInterval: 5 * time.Millisecond,
	}
}

type scannerFunc func(ctx context.Context) (qrproof.Payload, error)

func (f scannerFunc) Scan(ctx context.Context) (qrproof.Payload, error) { return f(ctx) }

type qrRedeemer struct{ svc *qrproof.Service }

func (r qrRedeemer) Redeem(ctx context.Context, studentID string, p qrproof.Payload) (qrproof.Redemption, error) {
	return r.svc.Redeem(ctx, p.Token, p.SessionID, studentID)
}

func qrStep(t *testing.T, sessionID string) *verification.QRStep {
	t.Helper()
	signer, err := qrproof.NewSigner("secret", 0)
	require.NoError(t, err)
	db := inmemdb.NewDB()
	svc, err := qrproof.NewService(signer, inmemdb.NewTokenStore(db), inmemdb.NewLedger(db), realtime.NewHub(), core.NopLogger{})
	require.NoError(t, err)
	tok, err := svc.Mint(context.Background(), sessionID)
	require.NoError(t, err)

	return &verification.QRStep{
		StudentID: studentID,
		Scanner: scannerFunc(func(context.Context) (qrproof.Payload, error) {
			return qrproof.NewPayload(tok), nil
		}),
		Redeemer: qrRedeemer{svc: svc},
	}
}

func biometricStep(t *testing.T) *verification.BiometricStep {
	t.Helper()
	auth := testutil.NewPlatformAuthenticator(t, "cred-1")
	v, err := biometric.NewVerifier(auth, testutil.Credentials{studentID: {auth.Credential()}}, "presence.test", "")
	require.NoError(t, err)
	return &verification.BiometricStep{StudentID: studentID, Verifier: v}
}

func newOrchestrator(t *testing.T, sess *verification.Session, sub verification.Submitter, timeout time.Duration, steps ...verification.Step) *verification.Orchestrator {
	t.Helper()
	o, err := verification.NewOrchestrator(sess, steps, sub, verification.Options{StepTimeout: timeout})
	require.NoError(t, err)
	return o
}

func TestOrchestrator_geofenceOnly(t *testing.T) {
	sess := newSession(verification.StepGeofence)
	sub := &testutil.Submitter{}
	o := newOrchestrator(t, sess, sub, time.Second, geofenceStep(classroom))

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, verification.StateSucceeded, o.Status().State)

	claims := sub.Claims()
	require.Len(t, claims, 1)
	require.Len(t, claims[0].StepResults, 1)
	res := claims[0].StepResults[0]
	assert.Equal(t, verification.StepGeofence, res.Kind)
	assert.True(t, res.Verified)
	require.NotNil(t, res.Geofence)
	assert.Zero(t, res.Geofence.DistanceMeters)
}

func TestOrchestrator_faceMismatch(t *testing.T) {
	sess := newSession(verification.StepFace, verification.StepQR)
	sub := &testutil.Submitter{}
	cam := &testutil.Camera{}
	far := face.Detection{Descriptor: testutil.Descriptor(0.50)}
	o := newOrchestrator(t, sess, sub, 60*time.Millisecond, faceStep(cam, far), qrStep(t, sess.ID))

	err := o.Run(context.Background())
	assert.Equal(t, core.ReasonFaceMismatch, core.ReasonOf(err))

	st := o.Status()
	assert.Equal(t, verification.StateStep, st.State, "step does not advance")
	assert.Equal(t, verification.StepFace, st.Kind)
	assert.Equal(t, core.ReasonFaceMismatch, core.ReasonOf(st.Failure))
	assert.Empty(t, o.Results())
	assert.Empty(t, sub.Claims())

	opened, closed := cam.Streams()
	assert.Equal(t, opened, closed, "camera released")
}

func TestOrchestrator_multipleFaces(t *testing.T) {
	sess := newSession(verification.StepFace)
	cam := &testutil.Camera{}
	me := testutil.BlinkingFace(testutil.Descriptor(0))
	o := newOrchestrator(t, sess, &testutil.Submitter{}, 10*time.Second, faceStep(cam, me, me))
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	start := time.Now()
	_, err := o.RunStep(ctx)
	assert.Equal(t, core.ReasonMultipleFacesDetected, core.ReasonOf(err))
	assert.Less(t, time.Since(start), time.Second, "fails without waiting for the step timeout")

	opened, closed := cam.Streams()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
	assert.Equal(t, verification.StateStep, o.Status().State)
}

func TestOrchestrator_livenessTimeout(t *testing.T) {
	sess := newSession(verification.StepFace)
	sub := &testutil.Submitter{}
	cam := &testutil.Camera{}
	var challenged []face.Challenge
	step := faceStep(cam, testutil.StaringFace(testutil.Descriptor(0.1)))
	step.OnChallenge = func(c face.Challenge) { challenged = append(challenged, c) }
	o := newOrchestrator(t, sess, sub, 80*time.Millisecond, step)
	ctx := context.Background()
	require.NoError(t, o.Start(ctx))

	res, err := o.RunStep(ctx)
	assert.Equal(t, core.ReasonLivenessTimeout, core.ReasonOf(err))
	assert.False(t, res.Verified)
	assert.Len(t, challenged, 1, "identity matched before the challenge was issued")

	st := o.Status()
	assert.Equal(t, verification.StateStep, st.State)
	assert.Equal(t, core.ReasonLivenessTimeout, core.ReasonOf(st.Failure))
	assert.Empty(t, sub.Claims())

	opened, closed := cam.Streams()
	assert.Equal(t, 1, opened)
	assert.Equal(t, 1, closed)
}

func TestOrchestrator_fullPipeline(t *testing.T) {
	sess := newSession(verification.StepGeofence, verification.StepFace, verification.StepQR, verification.StepBiometric)
	sub := &testutil.Submitter{}
	cam := &testutil.Camera{}

	var mu sync.Mutex
	var states []verification.State
	o := newOrchestrator(t, sess, sub, 5*time.Second,
		geofenceStep(classroom),
		faceStep(cam, testutil.BlinkingFace(testutil.Descriptor(0.1))),
		qrStep(t, sess.ID),
		biometricStep(t),
	)
	o.AddListener(func(ev verification.Event) {
		if ev.Type == verification.EventStateChange {
			mu.Lock()
			states = append(states, ev.Status.State)
			mu.Unlock()
		}
	})

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, verification.StateSucceeded, o.Status().State)
	assert.True(t, o.Response().Success)

	claims := sub.Claims()
	require.Len(t, claims, 1)
	assert.Equal(t, sess.ID, claims[0].SessionID)
	require.Len(t, claims[0].StepResults, 4)
	for i, kind := range sess.EnabledSteps {
		res := claims[0].StepResults[i]
		assert.Equal(t, kind, res.Kind)
		assert.True(t, res.Verified)
		assert.True(t, res.HasEvidence(), kind)
	}
	assert.True(t, claims[0].StepResults[1].Face.LivenessPassed)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, verification.StateStep, states[0])
	assert.Equal(t, verification.StateSubmitting, states[len(states)-2])
	assert.Equal(t, verification.StateSucceeded, states[len(states)-1])
}

func TestOrchestrator_ReportStepResult_inactiveStepDiscarded(t *testing.T) {
	ctx := context.Background()
	sess := newSession(verification.StepGeofence, verification.StepQR)
	o := newOrchestrator(t, sess, &testutil.Submitter{}, time.Second, geofenceStep(classroom), qrStep(t, sess.ID))
	require.NoError(t, o.Start(ctx))

	late := verification.StepResult{Kind: verification.StepQR, Verified: true, QR: &verification.QREvidence{Token: "t"}}
	assert.Equal(t, verification.ErrInactiveStep, o.ReportStepResult(ctx, verification.StepQR, late, nil))
	assert.Empty(t, o.Results())
	assert.Equal(t, verification.StepGeofence, o.Status().Kind)
}

func TestOrchestrator_retryStep(t *testing.T) {
	ctx := context.Background()
	sess := newSession(verification.StepGeofence)
	sub := &testutil.Submitter{}
	positions := &testutil.Positions{Position: &geo.Position{Point: geo.Point{Latitude: -4.33, Longitude: 15.3125}, Accuracy: 5}}
	o := newOrchestrator(t, sess, sub, time.Second, &verification.GeofenceStep{Positions: positions})

	err := o.Run(ctx)
	assert.Equal(t, core.ReasonLocationOutOfRange, core.ReasonOf(err))
	assert.Equal(t, verification.StateStep, o.Status().State)
	assert.Empty(t, sub.Claims(), "failing steps are not retried automatically")

	positions.Position = &geo.Position{Point: classroom, Accuracy: 5}
	stepRes, err := o.RetryStep(ctx)
	require.NoError(t, err)
	assert.True(t, stepRes.Verified)
	assert.Equal(t, verification.StateSucceeded, o.Status().State)
	assert.Len(t, sub.Claims(), 1)
}

func TestOrchestrator_sessionExpired(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FreezeTime(t, time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	sess := newSession(verification.StepGeofence, verification.StepQR)
	o := newOrchestrator(t, sess, &testutil.Submitter{}, time.Second, geofenceStep(classroom), qrStep(t, sess.ID))

	_, err := o.RunStep(ctx)
	assert.Error(t, err, "not started")
	require.NoError(t, o.Start(ctx))
	_, err = o.RunStep(ctx)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	_, err = o.RunStep(ctx)
	assert.Equal(t, core.ReasonSessionExpired, core.ReasonOf(err))
	st := o.Status()
	assert.Equal(t, verification.StateFailed, st.State)
	assert.Equal(t, core.ReasonSessionExpired, core.ReasonOf(st.Failure))

	_, err = o.RetryStep(ctx)
	assert.Equal(t, verification.ErrAttemptOver, err)
}

func TestOrchestrator_Stop_releasesCamera(t *testing.T) {
	sess := newSession(verification.StepFace)
	cam := &testutil.Camera{}
	o := newOrchestrator(t, sess, &testutil.Submitter{}, 10*time.Second, faceStep(cam)) // no face ever

	require.NoError(t, o.Start(context.Background()))
	done := make(chan error, 1)
	go func() {
		_, err := o.RunStep(context.Background())
		done <- err
	}()
	time.Sleep(30 * time.Millisecond)
	o.Stop()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("step still running after Stop")
	}
	assert.Equal(t, verification.StateFailed, o.Status().State)
	opened, closed := cam.Streams()
	assert.Equal(t, opened, closed)
}

func TestOrchestrator_submitFailure(t *testing.T) {
	sess := newSession(verification.StepGeofence)
	sub := &testutil.Submitter{Err: context.DeadlineExceeded}
	o := newOrchestrator(t, sess, sub, time.Second, geofenceStep(classroom))

	err := o.Run(context.Background())
	assert.Equal(t, core.ReasonNetworkFailure, core.ReasonOf(err))
	assert.Equal(t, verification.StateFailed, o.Status().State)
}

func TestOrchestrator_submitRejected(t *testing.T) {
	sess := newSession(verification.StepGeofence)
	sub := &testutil.Submitter{Response: verification.MarkResponse{Success: false, Message: "not enrolled in this class"}}
	o := newOrchestrator(t, sess, sub, time.Second, geofenceStep(classroom))

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, core.ReasonOf(err))
	assert.Contains(t, err.Error(), "attendance rejected: not enrolled in this class")
	assert.Equal(t, verification.StateFailed, o.Status().State)
	assert.Len(t, sub.Claims(), 1, "rejections are not resubmitted")
}

func TestBuilder_Build(t *testing.T) {
	ctx := context.Background()
	bio := biometricStep(t)
	b := &verification.Builder{Geofence: geofenceStep(classroom), Biometric: bio}

	sess := newSession(verification.StepGeofence, verification.StepBiometric)
	steps, err := b.Build(ctx, sess)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, verification.StepBiometric, steps[1].Kind())

	unavailable := testutil.NewPlatformAuthenticator(t, "cred-2")
	unavailable.Unavailable = true
	v, err := biometric.NewVerifier(unavailable, testutil.Credentials{}, "presence.test", "")
	require.NoError(t, err)
	b.Biometric = &verification.BiometricStep{StudentID: studentID, Verifier: v}
	steps, err = b.Build(ctx, sess)
	require.NoError(t, err)
	require.Len(t, steps, 1, "biometric dropped when unavailable")
	assert.Equal(t, verification.StepGeofence, steps[0].Kind())

	_, err = b.Build(ctx, newSession(verification.StepFace))
	assert.Error(t, err, "no camera step on this device")

	_, err = b.Build(ctx, newSession(verification.StepGeofence, verification.StepGeofence))
	assert.Error(t, err, "duplicate kinds")
}
