// Package orchestrator drives a verification session from token validation to outcome.
//
// All session mutations happen under one mutex. Every attempt carries an id; timers and strategy
// runs belonging to a superseded attempt are ignored when they report back.
package orchestrator

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/0xsequence/identity-verifier/capture"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/strategy"
	"github.com/0xsequence/identity-verifier/validator"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const DefaultCountdown = 300 * time.Second

// CompletionHook is called once for every attempt that completes successfully.
type CompletionHook func(ctx context.Context, session proto.VerificationSession)

type Orchestrator struct {
	strategy  strategy.Strategy
	clock     clock.Clock
	countdown time.Duration
	scanner   capture.FingerprintSource
	images    *capture.ImageCapture
	hooks     []CompletionHook

	mu          sync.Mutex
	session     proto.VerificationSession
	generation  uint64
	attempt     *attemptRun
	last        *capture.Result[*proto.VerificationOutcome]
	validator   *validator.Validator
	validSeq    uint64
	token       string
	scanCancel  context.CancelFunc
	listeners   map[int]func(proto.VerificationSession)
	nextID      int
	closed      bool
	unsubscribe func()
}

type attemptRun struct {
	id       string
	ctx      context.Context
	cancel   context.CancelCauseFunc
	deadline time.Time
	expiry   *clock.Timer
	result   *capture.Result[*proto.VerificationOutcome]
}

type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithCountdown sets how long an attempt may stay outstanding before it expires.
func WithCountdown(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.countdown = d
		}
	}
}

func WithFingerprintSource(s capture.FingerprintSource) Option {
	return func(o *Orchestrator) {
		o.scanner = s
	}
}

func WithImageCapture(c *capture.ImageCapture) Option {
	return func(o *Orchestrator) {
		o.images = c
	}
}

func WithCompletionHook(hook CompletionHook) Option {
	return func(o *Orchestrator) {
		o.hooks = append(o.hooks, hook)
	}
}

func New(s strategy.Strategy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		strategy:  s,
		clock:     clock.New(),
		countdown: DefaultCountdown,
		listeners: map[int]func(proto.VerificationSession){},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.session = proto.VerificationSession{
		Phase:            proto.SessionPhase_Idle,
		ServiceName:      proto.DefaultServiceName,
		CountdownSeconds: o.ceiling(),
	}
	return o
}

// Bind subscribes the orchestrator to v. Validation success opens a session and invalidation
// destroys it. Clear and Reset also clear v.
func (o *Orchestrator) Bind(v *validator.Validator) {
	o.mu.Lock()
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.validator = v
	o.unsubscribe = v.OnChange(o.ApplyValidation)
	o.mu.Unlock()

	o.ApplyValidation(v.State())
}

// OnChange registers fn to receive a copy of the session after every change. fn runs outside the
// orchestrator's lock. The returned func unregisters it.
func (o *Orchestrator) OnChange(fn func(proto.VerificationSession)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.listeners, id)
	}
}

// Snapshot returns a copy of the current session.
func (o *Orchestrator) Snapshot() proto.VerificationSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.refreshCountdownLocked()
	return o.session.Clone()
}

// Token returns the token of the validated session, if any.
func (o *Orchestrator) Token() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.token
}

// ApplyValidation folds a validator state into the session. States older than the last applied
// one are ignored.
func (o *Orchestrator) ApplyValidation(state validator.State) {
	o.mu.Lock()
	if o.closed || (state.Seq != 0 && state.Seq <= o.validSeq) {
		o.mu.Unlock()
		return
	}
	o.validSeq = state.Seq
	s := &o.session

	// A scheduled state carries the edited input ahead of its result. The session keeps the
	// validated token and service until that result arrives.
	if state.Scheduled {
		s.Error = ""
		if !s.Phase.HasSession() {
			s.Phase = proto.SessionPhase_TokenValidating
			s.ServiceName = state.Service
		}
		o.commitLocked()
		return
	}

	switch state.Status {
	case validator.StatusValid:
		res := state.Result
		if s.Phase.HasSession() && s.BiometricHash == res.BiometricHash {
			s.Identity = res.Identity
			s.AvailableMethods = res.AvailableMethods
			s.ReferenceImageURL = res.ReferenceImageURL
			s.ServiceName = state.Service
			o.token = state.Token
			break
		}
		o.destroyLocked()
		o.token = state.Token
		o.session = proto.VerificationSession{
			Phase:             proto.SessionPhase_AwaitingMethodSelection,
			Artifacts:         proto.Artifacts{},
			BiometricHash:     res.BiometricHash,
			ServiceName:       state.Service,
			ReferenceImageURL: res.ReferenceImageURL,
			AvailableMethods:  res.AvailableMethods,
			Identity:          res.Identity,
			CountdownSeconds:  o.ceiling(),
		}

	case validator.StatusInvalid:
		o.destroyLocked()
		s = &o.session
		s.ServiceName = state.Service
		s.Error = state.Result.ErrorMessage

	case validator.StatusValidating:
		s.Error = ""
		if !s.Phase.HasSession() {
			s.Phase = proto.SessionPhase_TokenValidating
			s.ServiceName = state.Service
		}

	default:
		o.destroyLocked()
		o.session.ServiceName = state.Service
	}

	o.commitLocked()
}

// SelectMethod chooses the verification method for the next attempt.
func (o *Orchestrator) SelectMethod(method proto.VerificationMethod) error {
	o.mu.Lock()
	defer o.commitLocked()

	s := &o.session
	if err := o.requireSessionLocked(); err != nil {
		return err
	}
	if !method.IsValid() {
		return o.failLocked(proto.ErrMethodRequired)
	}
	if !s.AvailableMethods.Allows(method) {
		return o.failLocked(proto.ErrMethodUnavailable)
	}
	s.Method = method
	s.Error = ""
	if s.Phase == proto.SessionPhase_Expired || s.Phase == proto.SessionPhase_Failed {
		s.Phase = proto.SessionPhase_AwaitingMethodSelection
	}
	return nil
}

// SetArtifact stores a capture artifact, replacing any earlier one of the same kind.
func (o *Orchestrator) SetArtifact(artifact proto.CaptureArtifact) error {
	o.mu.Lock()
	defer o.commitLocked()

	if err := o.requireSessionLocked(); err != nil {
		return err
	}
	if !artifact.IsValid() {
		return proto.ErrInvalidInput.WithCausef("invalid %s artifact", artifact.Kind)
	}
	o.setArtifactLocked(artifact)
	return nil
}

func (o *Orchestrator) setArtifactLocked(artifact proto.CaptureArtifact) {
	s := &o.session
	if s.Artifacts == nil {
		s.Artifacts = proto.Artifacts{}
	}
	s.Artifacts[artifact.Kind] = artifact
	s.Error = ""
}

// Images returns the image capture adapter, or nil when none is configured.
func (o *Orchestrator) Images() *capture.ImageCapture {
	return o.images
}

// CaptureFingerprint runs the fingerprint source and stores its artifact. Cancel, Clear and
// invalidation abort a running scan.
func (o *Orchestrator) CaptureFingerprint(ctx context.Context, progress func(percent int)) (proto.CaptureArtifact, error) {
	o.mu.Lock()
	if err := o.requireSessionLocked(); err != nil {
		o.commitLocked()
		return proto.CaptureArtifact{}, err
	}
	if o.scanner == nil {
		o.mu.Unlock()
		return proto.CaptureArtifact{}, proto.ErrInvalidState.WithCausef("no fingerprint source configured")
	}
	if o.scanCancel != nil {
		o.scanCancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	o.scanCancel = cancel
	gen := o.generation
	o.mu.Unlock()

	defer cancel()
	artifact, err := o.scanner.Scan(ctx, progress)

	o.mu.Lock()
	defer o.commitLocked()
	if gen != o.generation {
		return proto.CaptureArtifact{}, proto.ErrInvalidState.WithCausef("session changed during scan")
	}
	if err != nil {
		return proto.CaptureArtifact{}, err
	}
	o.setArtifactLocked(artifact)
	return artifact, nil
}

// CaptureImage uploads the image selected in the image capture adapter and stores the resulting
// artifact. Upload failures are reported in the session error; the selection is kept for retry.
func (o *Orchestrator) CaptureImage(ctx context.Context, progress func(fraction float64)) (proto.CaptureArtifact, error) {
	o.mu.Lock()
	if err := o.requireSessionLocked(); err != nil {
		o.commitLocked()
		return proto.CaptureArtifact{}, err
	}
	if o.images == nil {
		o.mu.Unlock()
		return proto.CaptureArtifact{}, proto.ErrInvalidState.WithCausef("no image capture configured")
	}
	gen := o.generation
	o.mu.Unlock()

	artifact, err := o.images.Upload(ctx, progress)

	o.mu.Lock()
	defer o.commitLocked()
	if gen != o.generation {
		return proto.CaptureArtifact{}, proto.ErrInvalidState.WithCausef("session changed during upload")
	}
	if err != nil {
		if ctx.Err() != nil {
			return proto.CaptureArtifact{}, err
		}
		return proto.CaptureArtifact{}, o.failLocked(err)
	}
	o.setArtifactLocked(artifact)
	return artifact, nil
}

// ReportCaptureError records a capture failure, such as an unavailable camera, as the session
// error.
func (o *Orchestrator) ReportCaptureError(err error) {
	if err == nil {
		return
	}
	o.mu.Lock()
	defer o.commitLocked()
	if o.session.Phase.HasSession() {
		o.failLocked(err)
	}
}

// Start validates the session locally and launches a verification attempt. A running attempt is
// cancelled first. It returns the id of the new attempt.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.commitLocked()

	s := &o.session
	if err := o.requireSessionLocked(); err != nil {
		return "", err
	}
	if !s.Phase.CanStart() && !s.Phase.IsAttemptActive() {
		return "", o.failLocked(proto.ErrInvalidState)
	}
	if !s.Method.IsValid() {
		return "", o.failLocked(proto.ErrMethodRequired)
	}
	if !s.AvailableMethods.Allows(s.Method) {
		return "", o.failLocked(proto.ErrMethodUnavailable)
	}

	attempt := &strategy.Attempt{
		ID:                uuid.NewString(),
		BiometricHash:     s.BiometricHash,
		ServiceName:       s.ServiceName,
		Method:            s.Method,
		Artifacts:         s.Artifacts.Clone(),
		ReferenceImageURL: s.ReferenceImageURL,
		Identity:          s.Identity,
	}
	if err := attempt.CheckArtifacts(); err != nil {
		return "", o.failLocked(err)
	}
	attempt.Progress = &attemptProgress{o: o, id: attempt.ID}

	o.stopAttemptLocked(context.Canceled)

	runCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	run := &attemptRun{
		id:       attempt.ID,
		ctx:      runCtx,
		cancel:   cancel,
		deadline: o.clock.Now().Add(o.countdown),
		result:   capture.NewResult[*proto.VerificationOutcome](),
	}
	run.expiry = o.clock.AfterFunc(o.countdown, func() {
		o.expire(run.id)
	})
	o.attempt = run
	o.last = run.result

	s.Phase = proto.SessionPhase_Pending
	s.AttemptID = run.id
	s.CountdownSeconds = o.ceiling()
	s.PollAttempts = 0
	s.Error = ""
	s.Outcome = nil

	go o.runCountdown(run)
	go o.runAttempt(run, attempt)

	return run.id, nil
}

// Cancel stops the running attempt and returns to method selection. It is safe to call from any
// phase and more than once.
func (o *Orchestrator) Cancel() {
	o.mu.Lock()
	defer o.commitLocked()

	o.stopCaptureLocked()
	s := &o.session
	active := s.Phase.IsAttemptActive()
	o.stopAttemptLocked(context.Canceled)
	if active {
		s.Phase = proto.SessionPhase_AwaitingMethodSelection
	}
	if s.Phase.HasSession() {
		s.Error = ""
		s.CountdownSeconds = o.ceiling()
	}
}

// Clear destroys the session and clears the bound validator.
func (o *Orchestrator) Clear() {
	o.mu.Lock()
	v := o.validator
	o.destroyLocked()
	o.commitLocked()

	if v != nil {
		v.Clear()
	}
	if o.images != nil {
		o.images.ClearSelection()
	}
}

// Reset starts over after a completed verification.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	if o.session.Phase != proto.SessionPhase_Completed {
		o.mu.Unlock()
		return proto.ErrInvalidState.WithCausef("reset requires a completed session, phase is %s", o.session.Phase)
	}
	o.mu.Unlock()

	o.Clear()
	return nil
}

// Wait blocks until the latest attempt resolves or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (*proto.VerificationOutcome, error) {
	o.mu.Lock()
	result := o.last
	o.mu.Unlock()

	if result == nil {
		return nil, proto.ErrInvalidState.WithCausef("no verification attempt")
	}
	return result.Wait(ctx)
}

// Close stops all timers and ignores later validator updates.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopCaptureLocked()
	o.stopAttemptLocked(context.Canceled)
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.closed = true
}

func (o *Orchestrator) runAttempt(run *attemptRun, attempt *strategy.Attempt) {
	outcome, err := o.strategy.Run(run.ctx, attempt)
	o.resolve(run, outcome, err)
}

func (o *Orchestrator) runCountdown(run *attemptRun) {
	ticker := o.clock.Ticker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-run.ctx.Done():
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.attempt != run {
				o.mu.Unlock()
				return
			}
			before := o.session.CountdownSeconds
			o.refreshCountdownLocked()
			if o.session.CountdownSeconds == before {
				o.mu.Unlock()
				continue
			}
			o.commitLocked()
		}
	}
}

func (o *Orchestrator) resolve(run *attemptRun, outcome *proto.VerificationOutcome, err error) {
	o.mu.Lock()
	if o.attempt != run {
		o.mu.Unlock()
		return
	}
	o.attempt = nil
	run.expiry.Stop()
	run.cancel(nil)

	log := o11y.LoggerFromContext(run.ctx)
	s := &o.session
	s.CountdownSeconds = o.ceiling()

	if err == nil && outcome == nil {
		err = proto.ErrTransport.WithCausef("strategy returned no outcome")
	}
	if err != nil {
		log.Info("verification attempt failed", "attempt_id", run.id, "error", err)
		s.Phase = proto.SessionPhase_AwaitingMethodSelection
		s.Error = userMessage(err)
		_ = run.result.Fail(err)
		o.commitLocked()
		return
	}

	if outcome.Timestamp.IsZero() {
		outcome.Timestamp = o.clock.Now().UTC()
	}
	s.Phase = proto.SessionPhase_Completed
	s.Error = ""
	s.Outcome = outcome
	_ = run.result.Resolve(outcome)
	log.Info("verification attempt completed", "attempt_id", run.id, "digital_id", outcome.DigitalID)

	hooks := o.hooks
	session := o.session.Clone()
	o.commitLocked()

	for _, hook := range hooks {
		hook(context.WithoutCancel(run.ctx), session)
	}
}

func (o *Orchestrator) expire(id string) {
	o.mu.Lock()
	run := o.attempt
	if run == nil || run.id != id {
		o.mu.Unlock()
		return
	}
	o.stopAttemptLocked(proto.ErrSessionExpired)

	s := &o.session
	s.Phase = proto.SessionPhase_Expired
	s.Error = proto.ErrSessionExpired.Message
	s.CountdownSeconds = o.ceiling()
	o.commitLocked()
}

// stopAttemptLocked cancels the running attempt, if any, failing its result with cause.
func (o *Orchestrator) stopAttemptLocked(cause error) {
	run := o.attempt
	if run == nil {
		return
	}
	o.attempt = nil
	run.expiry.Stop()
	run.cancel(cause)
	_ = run.result.Fail(cause)
}

func (o *Orchestrator) stopCaptureLocked() {
	o.generation++
	if o.scanCancel != nil {
		o.scanCancel()
		o.scanCancel = nil
	}
	if o.images != nil {
		o.images.Dismiss()
	}
}

// destroyLocked drops the session and everything attached to it.
func (o *Orchestrator) destroyLocked() {
	o.stopCaptureLocked()
	o.stopAttemptLocked(context.Canceled)
	o.token = ""
	o.session = proto.VerificationSession{
		Phase:            proto.SessionPhase_Idle,
		ServiceName:      o.session.ServiceName,
		CountdownSeconds: o.ceiling(),
	}
}

func (o *Orchestrator) requireSessionLocked() error {
	s := &o.session
	if !s.Phase.HasSession() {
		return o.failLocked(proto.ErrTokenRequired)
	}
	if s.Phase == proto.SessionPhase_Completed {
		return o.failLocked(proto.ErrInvalidState.WithCausef("session already completed"))
	}
	return nil
}

// failLocked records err as the session error and returns it.
func (o *Orchestrator) failLocked(err error) error {
	o.session.Error = userMessage(err)
	return err
}

func (o *Orchestrator) refreshCountdownLocked() {
	if o.attempt == nil {
		return
	}
	remaining := o.attempt.deadline.Sub(o.clock.Now())
	secs := int(math.Ceil(remaining.Seconds()))
	if secs < 0 {
		secs = 0
	}
	o.session.CountdownSeconds = secs
}

func (o *Orchestrator) ceiling() int {
	return int(math.Ceil(o.countdown.Seconds()))
}

// commitLocked releases the lock and notifies listeners of the new session.
func (o *Orchestrator) commitLocked() {
	session := o.session.Clone()
	listeners := make([]func(proto.VerificationSession), 0, len(o.listeners))
	for i := 0; i < o.nextID; i++ {
		if fn, ok := o.listeners[i]; ok {
			listeners = append(listeners, fn)
		}
	}
	o.mu.Unlock()

	for _, fn := range listeners {
		fn(session)
	}
}

// userMessage returns the single message shown for err. Errors without a classified message are
// reported as a generic transport failure.
func userMessage(err error) string {
	var e proto.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return proto.ErrTransport.Message
}

type attemptProgress struct {
	o  *Orchestrator
	id string
}

func (p *attemptProgress) Processing() {
	o := p.o
	o.mu.Lock()
	if o.attempt == nil || o.attempt.id != p.id || o.session.Phase != proto.SessionPhase_Pending {
		o.mu.Unlock()
		return
	}
	o.session.Phase = proto.SessionPhase_Processing
	o.commitLocked()
}

func (p *attemptProgress) Polled(count int) {
	o := p.o
	o.mu.Lock()
	if o.attempt == nil || o.attempt.id != p.id {
		o.mu.Unlock()
		return
	}
	o.session.PollAttempts = count
	o.commitLocked()
}
