// Package validator exchanges access tokens for validation results as the user types.
//
// Updates are debounced; every issued request carries a generation number and only the response
// of the latest generation is applied.
package validator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/benbjohnson/clock"
)

const DefaultDebounce = 500 * time.Millisecond

type TokenValidator interface {
	ValidateToken(ctx context.Context, accessToken string, service string) (*proto.ValidationResult, error)
}

type Status string

const (
	StatusIdle       Status = "idle"
	StatusValidating Status = "validating"
	StatusValid      Status = "valid"
	StatusInvalid    Status = "invalid"
)

// State is a snapshot of the validator. Seq increases with every change, so listeners can drop
// snapshots delivered out of order.
type State struct {
	Seq        uint64                 `json:"seq"`
	Generation uint64                 `json:"generation"`
	Status     Status                 `json:"status"`
	Scheduled  bool                   `json:"scheduled"`
	Token      string                 `json:"-"`
	Service    string                 `json:"service"`
	Result     proto.ValidationResult `json:"result"`
}

// Settled reports whether no debounce or request is outstanding.
func (s State) Settled() bool {
	return !s.Scheduled && s.Status != StatusValidating
}

type Validator struct {
	client   TokenValidator
	clock    clock.Clock
	debounce time.Duration
	metrics  *o11y.Metrics

	mu         sync.Mutex
	state      State
	generation uint64
	timer      *clock.Timer
	cancel     context.CancelFunc
	listeners  map[int]func(State)
	nextID     int
	closed     bool
}

type Option func(*Validator)

func WithClock(c clock.Clock) Option {
	return func(v *Validator) {
		v.clock = c
	}
}

func WithDebounce(d time.Duration) Option {
	return func(v *Validator) {
		if d > 0 {
			v.debounce = d
		}
	}
}

func WithMetrics(m *o11y.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

func New(client TokenValidator, opts ...Option) *Validator {
	v := &Validator{
		client:    client,
		clock:     clock.New(),
		debounce:  DefaultDebounce,
		listeners: map[int]func(State){},
		state:     State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// OnChange registers fn to receive every state change. fn runs outside the validator's lock on
// the goroutine that caused the change. The returned func unregisters it.
func (v *Validator) OnChange(fn func(State)) func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		delete(v.listeners, id)
	}
}

func (v *Validator) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Update is called on every change of the token input.
func (v *Validator) Update(token string, service string) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}

	v.stopLocked()
	v.generation++
	gen := v.generation

	service = strings.TrimSpace(service)
	if service == "" {
		service = proto.DefaultServiceName
	}

	if len(strings.TrimSpace(token)) < proto.MinTokenLength {
		state := v.setLocked(State{Status: StatusIdle, Token: token, Service: service})
		listeners := v.listenersLocked()
		v.mu.Unlock()
		notify(listeners, state)
		return
	}

	next := v.state
	next.Token = token
	next.Service = service
	next.Scheduled = true
	if next.Status == StatusValidating {
		next.Status = StatusIdle
		if next.Result.Valid {
			next.Status = StatusValid
		}
	}
	state := v.setLocked(next)
	v.timer = v.clock.AfterFunc(v.debounce, func() {
		v.validate(gen)
	})
	listeners := v.listenersLocked()
	v.mu.Unlock()
	notify(listeners, state)
}

// Clear resets the validator to Idle and drops any outstanding work.
func (v *Validator) Clear() {
	v.mu.Lock()
	v.stopLocked()
	v.generation++
	state := v.setLocked(State{Status: StatusIdle, Service: v.state.Service})
	listeners := v.listenersLocked()
	v.mu.Unlock()
	notify(listeners, state)
}

// Close stops timers, cancels the in-flight request and ignores later updates.
func (v *Validator) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
	v.generation++
	v.closed = true
}

// Wait blocks until the validator has settled or ctx is done.
func (v *Validator) Wait(ctx context.Context) (State, error) {
	settled := make(chan State, 1)
	unsubscribe := v.OnChange(func(s State) {
		if s.Settled() {
			select {
			case settled <- s:
			default:
			}
		}
	})
	defer unsubscribe()

	if s := v.State(); s.Settled() {
		return s, nil
	}
	select {
	case s := <-settled:
		return v.latestSettled(s), nil
	case <-ctx.Done():
		return v.State(), ctx.Err()
	}
}

func (v *Validator) latestSettled(s State) State {
	if cur := v.State(); cur.Seq > s.Seq {
		return cur
	}
	return s
}

func (v *Validator) validate(gen uint64) {
	v.mu.Lock()
	if gen != v.generation || v.closed {
		v.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	v.cancel = cancel
	v.timer = nil

	next := v.state
	next.Status = StatusValidating
	next.Scheduled = false
	next.Generation = gen
	token, service := next.Token, next.Service
	state := v.setLocked(next)
	listeners := v.listenersLocked()
	v.mu.Unlock()
	notify(listeners, state)

	ctx, span := o11y.Trace(ctx, "validator.Validate", o11y.WithAnnotation("service", service))
	res, err := v.client.ValidateToken(ctx, token, service)
	span.RecordError(err)
	span.End()

	v.mu.Lock()
	if gen != v.generation {
		v.mu.Unlock()
		v.metrics.StaleValidation()
		o11y.LoggerFromContext(ctx).Debug("discarding stale token validation", "generation", gen)
		return
	}
	cancel()
	v.cancel = nil

	next = v.state
	next.Generation = gen
	switch {
	case err != nil:
		next.Status = StatusInvalid
		next.Result = proto.ValidationResult{ErrorMessage: failureMessage(err)}
		v.metrics.ValidationResult("error")
	case res == nil || !res.Valid:
		next.Status = StatusInvalid
		msg := proto.ErrTokenInvalid.Message
		if res != nil && res.ErrorMessage != "" {
			msg = res.ErrorMessage
		}
		next.Result = proto.ValidationResult{ErrorMessage: msg}
		v.metrics.ValidationResult("invalid")
	default:
		next.Status = StatusValid
		next.Result = *res
		next.Result.ErrorMessage = ""
		v.metrics.ValidationResult("valid")
	}
	state = v.setLocked(next)
	listeners = v.listenersLocked()
	v.mu.Unlock()
	notify(listeners, state)
}

func failureMessage(err error) string {
	var e proto.Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return proto.ErrTokenInvalid.Message
}

func (v *Validator) stopLocked() {
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	if v.cancel != nil {
		v.cancel()
		v.cancel = nil
	}
}

func (v *Validator) setLocked(next State) State {
	next.Seq = v.state.Seq + 1
	v.state = next
	return next
}

func (v *Validator) listenersLocked() []func(State) {
	out := make([]func(State), 0, len(v.listeners))
	for i := 0; i < v.nextID; i++ {
		if fn, ok := v.listeners[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

func notify(listeners []func(State), state State) {
	for _, fn := range listeners {
		fn(state)
	}
}
