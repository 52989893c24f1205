// Package strategy defines how a verification attempt is submitted to the remote service.
//
// Two implementations exist: polling, which registers an asynchronous attempt and polls for its
// result, and oneshot, which compares images locally and submits a single completion request.
package strategy

import (
	"context"

	"github.com/0xsequence/identity-verifier/proto"
)

type Strategy interface {
	// ID is the configuration name of the strategy.
	ID() string
	// Run submits the attempt and blocks until it resolves, fails or ctx is cancelled.
	Run(ctx context.Context, attempt *Attempt) (*proto.VerificationOutcome, error)
}

// Progress receives intermediate state of a running attempt.
type Progress interface {
	Processing()
	Polled(count int)
}

// Attempt is an immutable snapshot of the session taken when the attempt starts.
type Attempt struct {
	ID                string
	BiometricHash     string
	ServiceName       string
	Method            proto.VerificationMethod
	Artifacts         proto.Artifacts
	ReferenceImageURL string
	Identity          *proto.UserIdentity

	Progress Progress
}

func (a *Attempt) ReportProcessing() {
	if a.Progress != nil {
		a.Progress.Processing()
	}
}

func (a *Attempt) ReportPoll(count int) {
	if a.Progress != nil {
		a.Progress.Polled(count)
	}
}

// CheckArtifacts returns the input error for the first artifact the method requires but the
// attempt lacks.
func (a *Attempt) CheckArtifacts() error {
	kind, missing := a.Artifacts.Missing(a.Method)
	if !missing {
		return nil
	}
	if kind == proto.ArtifactKind_Fingerprint {
		return proto.ErrFingerprintMissing
	}
	return proto.ErrFaceMissing
}

// Outcome builds the verification outcome for a successful resolution. Identity falls back to the
// one known from token validation when the server does not repeat it.
func (a *Attempt) Outcome(identity *proto.UserIdentity, digitalID string, method proto.VerificationMethod, message string) *proto.VerificationOutcome {
	if identity == nil {
		identity = a.Identity
	}
	if digitalID == "" && identity != nil {
		digitalID = identity.DigitalID
	}
	if !method.IsValid() {
		method = a.Method
	}
	return &proto.VerificationOutcome{
		Success:     true,
		Identity:    identity,
		DigitalID:   digitalID,
		Method:      method,
		ServiceName: a.ServiceName,
		Message:     message,
	}
}
