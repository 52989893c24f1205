// Package oneshot verifies an attempt with a single completion request, comparing the captured
// face image against the reference image locally first.
package oneshot

import (
	"context"

	"github.com/0xsequence/identity-verifier/compare"
	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/0xsequence/identity-verifier/strategy"
)

const ID = "oneshot"

type Client interface {
	CompleteVerification(ctx context.Context, params *proto.CompleteVerificationParams) (*proto.CompleteVerificationResponse, error)
}

type Strategy struct {
	client   Client
	comparer compare.Comparer
}

var _ strategy.Strategy = (*Strategy)(nil)

// New returns the one-shot strategy. A nil comparer fails every image verification.
func New(client Client, comparer compare.Comparer) *Strategy {
	return &Strategy{client: client, comparer: comparer}
}

func (s *Strategy) ID() string {
	return ID
}

func (s *Strategy) Run(ctx context.Context, attempt *strategy.Attempt) (*proto.VerificationOutcome, error) {
	log := o11y.LoggerFromContext(ctx)

	if err := attempt.CheckArtifacts(); err != nil {
		return nil, err
	}
	attempt.ReportProcessing()

	imageVerified := false
	if attempt.Method.Requires(proto.ArtifactKind_Image) {
		match, err := s.compare(ctx, attempt)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil {
			log.Warn("face comparison failed", "attempt_id", attempt.ID, "error", err)
		}
		if !match {
			return nil, proto.ErrFaceMismatch
		}
		imageVerified = true
	}

	res, err := s.client.CompleteVerification(ctx, &proto.CompleteVerificationParams{
		BiometricHash: attempt.BiometricHash,
		Service:       attempt.ServiceName,
		Method:        attempt.Method,
		ImageVerified: imageVerified,
		BiometricData: attempt.Artifacts.Payload(proto.ArtifactKind_Fingerprint),
	})
	if err != nil {
		return nil, err
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

func (s *Strategy) compare(ctx context.Context, attempt *strategy.Attempt) (bool, error) {
	if s.comparer == nil {
		return false, proto.ErrComparisonFailed.WithCausef("no face comparer configured")
	}
	if attempt.ReferenceImageURL == "" {
		return false, proto.ErrComparisonFailed.WithCausef("no reference image")
	}
	return s.comparer.Compare(ctx, attempt.ReferenceImageURL, attempt.Artifacts.Payload(proto.ArtifactKind_Image))
}
