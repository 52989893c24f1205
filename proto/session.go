package proto

// VerificationSession is the state of one verification session, from token validation to
// outcome. Values returned to callers are copies.
type VerificationSession struct {
	Phase             SessionPhase         `json:"phase"`
	Method            VerificationMethod   `json:"method,omitempty"`
	Artifacts         Artifacts            `json:"artifacts,omitempty"`
	BiometricHash     string               `json:"biometricHash,omitempty"`
	ServiceName       string               `json:"serviceName"`
	ReferenceImageURL string               `json:"referenceImageUrl,omitempty"`
	AvailableMethods  AvailableMethods     `json:"availableMethods"`
	Identity          *UserIdentity        `json:"identity,omitempty"`
	AttemptID         string               `json:"attemptId,omitempty"`
	CountdownSeconds  int                  `json:"countdownSeconds"`
	PollAttempts      int                  `json:"pollAttempts"`
	Error             string               `json:"error,omitempty"`
	Outcome           *VerificationOutcome `json:"outcome,omitempty"`
}

func (s VerificationSession) Clone() VerificationSession {
	out := s
	if s.Artifacts != nil {
		out.Artifacts = s.Artifacts.Clone()
	}
	if s.Identity != nil {
		ident := *s.Identity
		out.Identity = &ident
	}
	if s.Outcome != nil {
		outcome := *s.Outcome
		out.Outcome = &outcome
	}
	return out
}
