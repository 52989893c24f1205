package o11y

import (
	"context"
	"errors"
	"time"

	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/strategy"
)

type tracedStrategy struct {
	strategy.Strategy
	metrics *Metrics
}

func NewTracedStrategy(s strategy.Strategy, metrics *Metrics) strategy.Strategy {
	return &tracedStrategy{Strategy: s, metrics: metrics}
}

// Run implements strategy.Strategy.
func (t *tracedStrategy) Run(ctx context.Context, attempt *strategy.Attempt) (_ *proto.VerificationOutcome, err error) {
	ctx, span := Trace(ctx, t.ID()+".Run", WithAttempt(attempt.ID, attempt.Method, attempt.ServiceName))
	start := time.Now()
	defer func() {
		span.RecordError(err)
		span.End()
		t.metrics.AttemptResolved(t.ID(), resolvedPhase(ctx, err), time.Since(start).Seconds())
	}()

	span.SetAnnotation("operation", "verification.run")
	t.metrics.AttemptStarted(t.ID(), string(attempt.Method))

	return t.Strategy.Run(ctx, attempt)
}

// resolvedPhase classifies how an attempt ended. A cancelled run is an expiry when ctx was
// cancelled with proto.ErrSessionExpired as its cause.
func resolvedPhase(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return string(proto.SessionPhase_Completed)
	case ctx.Err() == nil:
		return string(proto.SessionPhase_Failed)
	case errors.Is(context.Cause(ctx), proto.ErrSessionExpired):
		return string(proto.SessionPhase_Expired)
	}
	return "cancelled"
}
