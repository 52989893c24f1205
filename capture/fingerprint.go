package capture

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"time"

	"github.com/0xsequence/identity-verifier/proto"
	"github.com/benbjohnson/clock"
)

// FingerprintSource produces a fingerprint artifact, reporting progress in percent.
type FingerprintSource interface {
	Scan(ctx context.Context, progress func(percent int)) (proto.CaptureArtifact, error)
}

const (
	DefaultScanInterval = 100 * time.Millisecond
	scanStep            = 10
	scanSuffixLength    = 9
	base36Alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// Scanner simulates a fingerprint reader. It never reports a partial or failed scan; the only way
// to stop it early is cancelling ctx.
type Scanner struct {
	clock    clock.Clock
	interval time.Duration
	random   io.Reader
}

var _ FingerprintSource = (*Scanner)(nil)

type ScannerOption func(*Scanner)

func WithScanClock(c clock.Clock) ScannerOption {
	return func(s *Scanner) {
		s.clock = c
	}
}

func WithScanInterval(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRandom sets the source of the random artifact suffix.
func WithRandom(r io.Reader) ScannerOption {
	return func(s *Scanner) {
		s.random = r
	}
}

func NewScanner(opts ...ScannerOption) *Scanner {
	s := &Scanner{
		clock:    clock.New(),
		interval: DefaultScanInterval,
		random:   rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) Scan(ctx context.Context, progress func(percent int)) (proto.CaptureArtifact, error) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	percent := 0
	for percent < 100 {
		select {
		case <-ctx.Done():
			return proto.CaptureArtifact{}, ctx.Err()
		case <-ticker.C:
			percent += scanStep
			if progress != nil {
				progress(percent)
			}
		}
	}

	id, err := s.artifactID()
	if err != nil {
		return proto.CaptureArtifact{}, err
	}
	return proto.NewFingerprintArtifact(id, s.clock.Now()), nil
}

// Start runs Scan in the background and returns its single-shot result.
func (s *Scanner) Start(ctx context.Context, progress func(percent int)) *Result[proto.CaptureArtifact] {
	return Go(ctx, func(ctx context.Context) (proto.CaptureArtifact, error) {
		return s.Scan(ctx, progress)
	})
}

func (s *Scanner) artifactID() (string, error) {
	buf := make([]byte, scanSuffixLength)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	for i, b := range buf {
		buf[i] = base36Alphabet[int(b)%len(base36Alphabet)]
	}
	return fmt.Sprintf("fingerprint_%d_%s", s.clock.Now().UnixMilli(), buf), nil
}
