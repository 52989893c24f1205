package proto

type SessionPhase string

const (
	SessionPhase_Idle                    SessionPhase = "idle"
	SessionPhase_TokenValidating         SessionPhase = "token_validating"
	SessionPhase_AwaitingMethodSelection SessionPhase = "awaiting_method_selection"
	SessionPhase_Pending                 SessionPhase = "pending"
	SessionPhase_Processing              SessionPhase = "processing"
	SessionPhase_Completed               SessionPhase = "completed"
	SessionPhase_Failed                  SessionPhase = "failed"
	SessionPhase_Expired                 SessionPhase = "expired"
)

// HasSession reports whether a validated token backs the phase.
func (p SessionPhase) HasSession() bool {
	switch p {
	case SessionPhase_Idle, SessionPhase_TokenValidating, "":
		return false
	}
	return true
}

// IsAttemptActive reports whether a verification attempt is outstanding.
func (p SessionPhase) IsAttemptActive() bool {
	return p == SessionPhase_Pending || p == SessionPhase_Processing
}

// CanStart reports whether a new attempt may be started from the phase.
func (p SessionPhase) CanStart() bool {
	switch p {
	case SessionPhase_AwaitingMethodSelection, SessionPhase_Failed, SessionPhase_Expired:
		return true
	}
	return false
}
