package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
	"github.com/trezcool/presence/core/qrproof"
	"github.com/trezcool/presence/core/realtime"
	"github.com/trezcool/presence/core/verification"
)

type Service struct {
	sessions SessionRepository
	recorder Recorder
	qr       *qrproof.Service
	rotator  *qrproof.Rotator
	pub      realtime.Publisher
	validate *validator.Validate
	conf     *core.Config
	logger   core.Logger
}

type ServiceDeps struct {
	Sessions SessionRepository
	Recorder Recorder
	QR       *qrproof.Service
	Rotator  *qrproof.Rotator
	Pub      realtime.Publisher
	Validate *validator.Validate
	Conf     *core.Config
	Logger   core.Logger
}

func NewService(deps ServiceDeps) (*Service, error) {
	if err := vala.BeginValidation().Validate(
		core.IsSet(deps.Sessions, "Sessions"),
		core.IsSet(deps.Recorder, "Recorder"),
		vala.IsNotNil(deps.QR, "QR"),
		vala.IsNotNil(deps.Rotator, "Rotator"),
		core.IsSet(deps.Pub, "Pub"),
		vala.IsNotNil(deps.Validate, "Validate"),
		vala.IsNotNil(deps.Conf, "Conf"),
	).Check(); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = core.NopLogger{}
	}
	return &Service{
		sessions: deps.Sessions,
		recorder: deps.Recorder,
		qr:       deps.QR,
		rotator:  deps.Rotator,
		pub:      deps.Pub,
		validate: deps.Validate,
		conf:     deps.Conf,
		logger:   deps.Logger,
	}, nil
}

// StartSession opens a session for teacherID and starts its QR rotation when QR is enabled.
func (svc *Service) StartSession(ctx context.Context, teacherID string, in StartSessionInput) (verification.Session, error) {
	if err := in.Validate(svc.validate); err != nil {
		return verification.Session{}, err
	}

	now := core.NowFunc().UTC()
	radius := in.AllowedRadius
	if radius == 0 {
		radius = svc.conf.Geofence.DefaultRadius
	}
	sess := verification.Session{
		ID:            uuid.New().String(),
		ClassID:       core.CleanString(in.ClassID),
		TeacherID:     teacherID,
		EnabledSteps:  in.EnabledSteps,
		ClassLocation: in.ClassLocation,
		AllowedRadius: radius,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(in.DurationMinutes) * time.Minute),
	}
	if err := svc.sessions.CreateSession(ctx, sess); err != nil {
		return verification.Session{}, errors.Wrap(err, "creating session")
	}

	if sess.Enabled(verification.StepQR) {
		if _, err := svc.rotator.Start(ctx, sess.ID, sess.ExpiresAt); err != nil {
			return verification.Session{}, errors.Wrap(err, "starting QR rotation")
		}
	}
	svc.logger.Info(fmt.Sprintf("session %s started by %s for class %s", sess.ID, teacherID, sess.ClassID))
	return sess, nil
}

// GetSession returns a live session.
func (svc *Service) GetSession(ctx context.Context, id string) (verification.Session, error) {
	sess, err := svc.sessions.GetSession(ctx, id)
	if err != nil {
		return verification.Session{}, err
	}
	if sess.Expired(core.NowFunc()) {
		return verification.Session{}, verification.ErrSessionExpired
	}
	return sess, nil
}

// OwnedSession returns the live session id when it belongs to teacherID. An empty teacherID acts as an admin.
func (svc *Service) OwnedSession(ctx context.Context, teacherID, id string) (verification.Session, error) {
	sess, err := svc.GetSession(ctx, id)
	if err != nil {
		return verification.Session{}, err
	}
	if teacherID != "" && sess.TeacherID != teacherID {
		return verification.Session{}, ErrNotSessionOwner
	}
	return sess, nil
}

// StopSession ends a session: QR rotation halts, its token is revoked and viewers are notified.
func (svc *Service) StopSession(ctx context.Context, teacherID, id string) error {
	sess, err := svc.sessions.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if teacherID != "" && sess.TeacherID != teacherID {
		return ErrNotSessionOwner
	}

	if err := svc.stopQR(ctx, sess.ID); err != nil {
		return err
	}
	if err := svc.sessions.DeleteSession(ctx, sess.ID); err != nil {
		return errors.Wrap(err, "deleting session")
	}

	ev, err := realtime.NewEvent(sess.ID, realtime.EventSessionStopped, sess, core.NowFunc().UTC())
	if err != nil {
		return errors.Wrap(err, "building event")
	}
	if err := svc.pub.Publish(ctx, ev); err != nil {
		svc.logger.Warn("publishing session stop for "+sess.ID, err)
	}
	svc.logger.Info(fmt.Sprintf("session %s stopped", sess.ID))
	return nil
}

// StartQR (re)starts the QR rotation of a session owned by teacherID.
func (svc *Service) StartQR(ctx context.Context, teacherID, sessionID string) (qrproof.Token, error) {
	sess, err := svc.OwnedSession(ctx, teacherID, sessionID)
	if err != nil {
		return qrproof.Token{}, err
	}
	return svc.rotator.Start(ctx, sess.ID, sess.ExpiresAt)
}

// RefreshQR returns the current token of a live session, minting one when expired.
func (svc *Service) RefreshQR(ctx context.Context, sessionID string) (qrproof.Token, error) {
	sess, err := svc.GetSession(ctx, sessionID)
	if err != nil {
		return qrproof.Token{}, err
	}
	return svc.qr.Refresh(ctx, sess.ID)
}

// StopQR halts the rotation of a session owned by teacherID and invalidates its current token.
// An empty teacherID acts as an admin.
func (svc *Service) StopQR(ctx context.Context, teacherID, sessionID string) error {
	sess, err := svc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if teacherID != "" && sess.TeacherID != teacherID {
		return ErrNotSessionOwner
	}
	return svc.stopQR(ctx, sess.ID)
}

func (svc *Service) stopQR(ctx context.Context, sessionID string) error {
	svc.rotator.Stop(sessionID)
	return svc.qr.Revoke(ctx, sessionID)
}

// RedeemQR redeems a scanned token for studentID.
func (svc *Service) RedeemQR(ctx context.Context, studentID string, p qrproof.Payload) (qrproof.Redemption, error) {
	sess, err := svc.GetSession(ctx, p.SessionID)
	if err != nil {
		return qrproof.Redemption{}, err
	}
	return svc.qr.Redeem(ctx, p.Token, sess.ID, studentID)
}

// Marks lists the marks recorded for a session owned by teacherID. An empty teacherID acts as an admin.
func (svc *Service) Marks(ctx context.Context, teacherID, sessionID string) ([]Mark, error) {
	sess, err := svc.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if teacherID != "" && sess.TeacherID != teacherID {
		return nil, ErrNotSessionOwner
	}
	return svc.recorder.Marks(ctx, sess.ID)
}

// Mark validates studentID's claim against its session and records the attendance.
func (svc *Service) Mark(ctx context.Context, studentID string, claim verification.Claim) (verification.MarkResponse, error) {
	if err := svc.validate.Struct(claim); err != nil {
		return verification.MarkResponse{}, err
	}
	sess, err := svc.GetSession(ctx, claim.SessionID)
	if err != nil {
		return verification.MarkResponse{}, err
	}
	if err := svc.checkClaim(ctx, sess, studentID, claim); err != nil {
		return verification.MarkResponse{}, err
	}

	mark := Mark{
		SessionID: sess.ID,
		StudentID: studentID,
		Steps:     claimedSteps(claim),
		MarkedAt:  core.NowFunc().UTC(),
	}
	if err := svc.recorder.RecordMark(ctx, mark); err != nil {
		return verification.MarkResponse{}, err
	}
	if sess.Enabled(verification.StepBiometric) && len(mark.Steps) < len(sess.EnabledSteps) {
		svc.logger.Warn("attendance marked without BIOMETRIC", map[string]interface{}{
			"session": sess.ID,
			"student": studentID,
		})
	}

	ev, err := realtime.NewEvent(sess.ID, realtime.EventStudentAttendance, realtime.StudentAttendance{
		StudentID: studentID,
		SessionID: sess.ID,
		Timestamp: mark.MarkedAt,
	}, mark.MarkedAt)
	if err != nil {
		return verification.MarkResponse{}, errors.Wrap(err, "building event")
	}
	if err := svc.pub.Publish(ctx, ev); err != nil {
		svc.logger.Warn("publishing attendance for "+sess.ID, err)
	}

	return verification.MarkResponse{
		Success: true,
		Message: "attendance marked",
		Details: mark,
	}, nil
}

func (svc *Service) checkClaim(ctx context.Context, sess verification.Session, studentID string, claim verification.Claim) error {
	invalid := func(msg string) error {
		return core.NewValidationError(nil, core.FieldError{Field: "stepResults", Error: msg})
	}

	expected := expectedSteps(sess, claim)
	if len(claim.StepResults) != len(expected) {
		return invalid("expected one result per enabled step")
	}
	for i, res := range claim.StepResults {
		if res.Kind != expected[i] {
			return invalid(fmt.Sprintf("result %d must be %s", i, expected[i]))
		}
		if !res.Verified || !res.HasEvidence() {
			return invalid(fmt.Sprintf("%s is not verified", res.Kind))
		}

		switch res.Kind {
		case verification.StepGeofence:
			if res.Geofence.DistanceMeters > sess.AllowedRadius {
				return invalid("GEOFENCE distance exceeds the allowed radius")
			}
		case verification.StepQR:
			rdm, err := svc.qr.Redeemed(ctx, sess.ID, studentID)
			if err != nil {
				if errors.Cause(err) == qrproof.ErrRedemptionAbsent {
					return invalid("QR token was not redeemed")
				}
				return errors.Wrap(err, "loading redemption")
			}
			if rdm.TokenID != res.QR.TokenID {
				return invalid("QR token does not match the redeemed one")
			}
		}
	}
	return nil
}

// expectedSteps returns the kinds claim must cover, in order.
// BIOMETRIC may be left out when the student's device has no platform authenticator;
// the server cannot tell that apart from a client skipping it, so Mark logs every omission.
func expectedSteps(sess verification.Session, claim verification.Claim) []verification.StepKind {
	for _, res := range claim.StepResults {
		if res.Kind == verification.StepBiometric {
			return sess.EnabledSteps
		}
	}
	kinds := make([]verification.StepKind, 0, len(sess.EnabledSteps))
	for _, k := range sess.EnabledSteps {
		if k != verification.StepBiometric {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func claimedSteps(claim verification.Claim) []verification.StepKind {
	kinds := make([]verification.StepKind, len(claim.StepResults))
	for i, res := range claim.StepResults {
		kinds[i] = res.Kind
	}
	return kinds
}
