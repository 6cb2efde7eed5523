// Package verification sequences the verification steps of one student's attendance attempt and
// submits the combined claim.
package verification

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/trezcool/presence/core"
)

// State is the orchestrator's position in an attempt.
type State int

const (
	StateIdle State = iota
	StateStep
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStep:
		return "Step"
	case StateSubmitting:
		return "Submitting"
	case StateSucceeded:
		return "Succeeded"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateSucceeded || s == StateFailed }

var (
	ErrInactiveStep   = errors.New("result reported for an inactive step")
	ErrStepRunning    = errors.New("a step is already running")
	ErrAttemptOver    = errors.New("attempt is over")
	ErrAttemptStopped = errors.New("attempt stopped")

	ErrNetworkFailure = core.NewVerificationError(
		core.ReasonNetworkFailure,
		"your attendance could not be submitted: check your connection and start again",
	)
)

// Submitter posts the aggregate claim to the attendance recorder.
// Transient failures are retried by the implementation; an error means it gave up.
type Submitter interface {
	Submit(ctx context.Context, claim Claim) (MarkResponse, error)
}

// EventType tells listeners what happened.
type EventType int

const (
	EventStateChange EventType = iota
	EventStepResult
)

// Event is delivered to listeners after every transition and every recorded step result.
type Event struct {
	Type   EventType
	Status Status
	Result *StepResult
	Err    error
}

// Listener observes an orchestrator. Listeners run synchronously and must not call back into it.
type Listener func(Event)

// Status is a snapshot of the orchestrator.
type Status struct {
	State State
	Index int      // active step index, valid in StateStep
	Kind  StepKind // active step kind, valid in StateStep
	// Failure is the last error: a step failure awaiting retry, or the cause of StateFailed.
	Failure error
}

// Orchestrator drives the steps of one attempt in order and submits their results.
type Orchestrator struct {
	sess        *Session
	steps       []Step
	submitter   Submitter
	stepTimeout time.Duration
	logger      core.Logger

	mu        sync.Mutex
	state     State
	index     int
	results   []StepResult
	failure   error
	response  MarkResponse
	cancel    context.CancelFunc
	listeners []Listener
}

type Options struct {
	StepTimeout time.Duration
	Logger      core.Logger
	Listeners   []Listener
}

func NewOrchestrator(sess *Session, steps []Step, submitter Submitter, opts Options) (*Orchestrator, error) {
	if err := vala.BeginValidation().Validate(
		vala.IsNotNil(sess, "sess"),
		core.IsSet(submitter, "submitter"),
	).Check(); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, errors.New("no steps to run")
	}
	if opts.Logger == nil {
		opts.Logger = core.NopLogger{}
	}
	return &Orchestrator{
		sess:        sess,
		steps:       steps,
		submitter:   submitter,
		stepTimeout: opts.StepTimeout,
		logger:      opts.Logger,
		listeners:   opts.Listeners,
	}, nil
}

// AddListener registers l for subsequent events.
func (o *Orchestrator) AddListener(l Listener) {
	o.mu.Lock()
	o.listeners = append(o.listeners, l)
	o.mu.Unlock()
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status()
}

func (o *Orchestrator) status() Status {
	st := Status{State: o.state, Index: o.index, Failure: o.failure}
	if o.state == StateStep {
		st.Kind = o.steps[o.index].Kind()
	}
	return st
}

// Results returns the results recorded so far, in step order.
func (o *Orchestrator) Results() []StepResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StepResult(nil), o.results...)
}

// Response returns the recorder's answer once the attempt succeeded.
func (o *Orchestrator) Response() MarkResponse {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.response
}

// Start moves from Idle to the first step.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		return errors.Errorf("cannot start from state %s", o.state)
	}
	if o.sess.Expired(core.NowFunc()) {
		evs := o.failLocked(ErrSessionExpired)
		o.mu.Unlock()
		o.emit(evs)
		return ErrSessionExpired
	}
	o.state = StateStep
	o.index = 0
	evs := []Event{{Type: EventStateChange, Status: o.status()}}
	o.mu.Unlock()

	o.emit(evs)
	return nil
}

// Run drives the attempt until it ends or a step fails.
// After a step failure the attempt stays on that step; call RetryStep or Run again to re-run it.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.Status().State == StateIdle {
		if err := o.Start(ctx); err != nil {
			return err
		}
	}
	for {
		st := o.Status()
		switch st.State {
		case StateSucceeded:
			return nil
		case StateFailed:
			return st.Failure
		}
		if _, err := o.RunStep(ctx); err != nil {
			return err
		}
	}
}

// RetryStep re-runs the active step only.
func (o *Orchestrator) RetryStep(ctx context.Context) (StepResult, error) {
	return o.RunStep(ctx)
}

// RunStep runs the active step once, bounded by the step timeout and the session expiry, and
// reports its outcome.
func (o *Orchestrator) RunStep(ctx context.Context) (StepResult, error) {
	o.mu.Lock()
	switch {
	case o.state.Terminal():
		o.mu.Unlock()
		return StepResult{}, ErrAttemptOver
	case o.state != StateStep:
		o.mu.Unlock()
		return StepResult{}, errors.Errorf("no active step in state %s", o.state)
	case o.cancel != nil:
		o.mu.Unlock()
		return StepResult{}, ErrStepRunning
	}

	now := core.NowFunc()
	if o.sess.Expired(now) {
		evs := o.failLocked(ErrSessionExpired)
		o.mu.Unlock()
		o.emit(evs)
		return StepResult{}, ErrSessionExpired
	}

	timeout := o.sess.ExpiresAt.Sub(now)
	if o.stepTimeout > 0 && o.stepTimeout < timeout {
		timeout = o.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	o.cancel = cancel
	step := o.steps[o.index]
	o.mu.Unlock()

	res, err := step.Run(stepCtx, o.sess)
	stopped := ctx.Err() == nil && stepCtx.Err() == context.Canceled

	o.mu.Lock()
	o.cancel = nil
	o.mu.Unlock()
	cancel()

	if stopped || o.Status().State == StateFailed {
		return res, ErrAttemptStopped
	}
	if ctx.Err() != nil {
		// the caller left: nothing to record
		return res, ctx.Err()
	}
	if err != nil && stepCtx.Err() == context.DeadlineExceeded && core.ReasonOf(err) == "" {
		err = ErrStepTimeout.With(err)
	}
	if err != nil && res.Verified {
		res.Verified = false
	}
	res.Kind = step.Kind()

	if rErr := o.report(ctx, res, err); rErr != nil {
		return res, rErr
	}
	return res, err
}

// ReportStepResult records the result of the active step.
// A verified result advances to the next step or, after the last one, submits the claim.
// Results for any other step are discarded with ErrInactiveStep.
func (o *Orchestrator) ReportStepResult(ctx context.Context, kind StepKind, res StepResult, stepErr error) error {
	o.mu.Lock()
	if o.state != StateStep || o.steps[o.index].Kind() != kind {
		o.mu.Unlock()
		return ErrInactiveStep
	}
	o.mu.Unlock()

	res.Kind = kind
	if stepErr != nil {
		res.Verified = false
	}
	return o.report(ctx, res, stepErr)
}

// report applies a step outcome. It returns an error only when the outcome could not be applied.
func (o *Orchestrator) report(ctx context.Context, res StepResult, stepErr error) error {
	o.mu.Lock()
	if o.state != StateStep || o.steps[o.index].Kind() != res.Kind {
		o.mu.Unlock()
		return ErrInactiveStep
	}

	if o.sess.Expired(core.NowFunc()) {
		evs := o.failLocked(ErrSessionExpired)
		o.mu.Unlock()
		o.emit(evs)
		return ErrSessionExpired
	}

	evs := []Event{{Type: EventStepResult, Status: o.status(), Result: &res, Err: stepErr}}

	if !res.Verified {
		if stepErr == nil {
			stepErr = errors.Errorf("%s not verified", res.Kind)
		}
		if core.ReasonOf(stepErr).Severity() == core.SeverityFatal {
			evs = append(evs, o.failLocked(stepErr)...)
			o.mu.Unlock()
			o.emit(evs)
			return stepErr
		}
		// step stays active until retried
		o.failure = stepErr
		evs[0].Status = o.status()
		o.mu.Unlock()
		o.emit(evs)
		return nil
	}

	o.failure = nil
	o.results = append(o.results, res)
	if o.index+1 < len(o.steps) {
		o.index++
		evs = append(evs, Event{Type: EventStateChange, Status: o.status()})
		o.mu.Unlock()
		o.emit(evs)
		return nil
	}

	o.state = StateSubmitting
	claim := Claim{SessionID: o.sess.ID, StepResults: append([]StepResult(nil), o.results...)}
	evs = append(evs, Event{Type: EventStateChange, Status: o.status()})
	o.mu.Unlock()
	o.emit(evs)

	return o.submit(ctx, claim)
}

func (o *Orchestrator) submit(ctx context.Context, claim Claim) error {
	resp, err := o.submitter.Submit(ctx, claim)
	switch {
	case err != nil && core.ReasonOf(err) == "" && ctx.Err() == nil:
		err = ErrNetworkFailure.With(err)
	case err == nil && !resp.Success:
		err = errors.Errorf("attendance rejected: %s", resp.Message)
	}

	o.mu.Lock()
	if o.state != StateSubmitting {
		o.mu.Unlock()
		return ErrAttemptStopped
	}
	var evs []Event
	if err != nil {
		o.logger.Error("submitting attendance for session "+o.sess.ID, err)
		evs = o.failLocked(err)
	} else {
		o.response = resp
		o.state = StateSucceeded
		evs = []Event{{Type: EventStateChange, Status: o.status()}}
	}
	o.mu.Unlock()

	o.emit(evs)
	return err
}

// Stop cancels the active step, which releases its resources, and fails the attempt.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	if o.cancel != nil {
		o.cancel()
	}
	evs := o.failLocked(ErrAttemptStopped)
	o.mu.Unlock()
	o.emit(evs)
}

func (o *Orchestrator) failLocked(err error) []Event {
	o.state = StateFailed
	o.failure = err
	return []Event{{Type: EventStateChange, Status: o.status(), Err: err}}
}

func (o *Orchestrator) emit(evs []Event) {
	o.mu.Lock()
	listeners := append([]Listener(nil), o.listeners...)
	o.mu.Unlock()

	for _, ev := range evs {
		for _, l := range listeners {
			l(ev)
		}
	}
}
