// Package polling submits an asynchronous verification attempt and polls the service for its
// result.
package polling

import (
	"context"
	"time"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/strategy"
	"github.com/benbjohnson/clock"
)

const ID = "polling"

type Client interface {
	StartVerification(ctx context.Context, params *proto.StartVerificationParams) error
	LatestResult(ctx context.Context, biometricHash string) (*proto.LatestResultResponse, error)
}

type Config struct {
	// StartDelay separates the accepted start request from the first processing report.
	StartDelay time.Duration
	// Interval is the wait between two polls.
	Interval time.Duration
	// MaxAttempts bounds the number of polls. Zero means unbounded.
	MaxAttempts int
}

type Strategy struct {
	client  Client
	cfg     Config
	clock   clock.Clock
	metrics *o11y.Metrics
}

var _ strategy.Strategy = (*Strategy)(nil)

func New(client Client, cfg Config, clk clock.Clock, metrics *o11y.Metrics) *Strategy {
	if clk == nil {
		clk = clock.New()
	}
	return &Strategy{client: client, cfg: cfg, clock: clk, metrics: metrics}
}

func (s *Strategy) ID() string {
	return ID
}

func (s *Strategy) Run(ctx context.Context, attempt *strategy.Attempt) (*proto.VerificationOutcome, error) {
	log := o11y.LoggerFromContext(ctx)

	if err := attempt.CheckArtifacts(); err != nil {
		return nil, err
	}

	err := s.client.StartVerification(ctx, &proto.StartVerificationParams{
		BiometricHash: attempt.BiometricHash,
		Service:       attempt.ServiceName,
		Method:        attempt.Method,
		BiometricData: attempt.Artifacts.Payload(proto.ArtifactKind_Fingerprint),
		ImageURL:      attempt.Artifacts.Payload(proto.ArtifactKind_Image),
	})
	if err != nil {
		return nil, err
	}

	if err := s.sleep(ctx, s.cfg.StartDelay); err != nil {
		return nil, err
	}
	attempt.ReportProcessing()

	for polls := 1; ; polls++ {
		if s.cfg.MaxAttempts > 0 && polls > s.cfg.MaxAttempts {
			log.Warn("verification poll limit reached", "attempt_id", attempt.ID, "polls", s.cfg.MaxAttempts)
			return nil, proto.ErrPollLimit
		}
		if err := s.sleep(ctx, s.cfg.Interval); err != nil {
			return nil, err
		}

		attempt.ReportPoll(polls)
		res, err := s.client.LatestResult(ctx, attempt.BiometricHash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.metrics.PollCycle("error")
			return nil, err
		}
		s.metrics.PollCycle(string(res.Status))

		switch res.Status {
		case proto.ResultStatus_Pending:
			continue
		case proto.ResultStatus_Expired:
			return nil, proto.ErrOperationExpired
		case proto.ResultStatus_Completed:
			if !res.Success {
				return nil, proto.ErrRejected.WithMessage(res.Message)
			}
			identity, err := proto.DecodeIdentity(res.UserInfo)
			if err != nil {
				log.Warn("ignoring undecodable user info", "attempt_id", attempt.ID, "error", err)
				identity = nil
			}
			var method proto.VerificationMethod
			if res.VerificationDetails != nil {
				method = res.VerificationDetails.Method
			}
			return attempt.Outcome(identity, res.DigitalID, method, res.Message), nil
		}
	}
}

func (s *Strategy) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := s.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
