package proto

import (
	"encoding/json"
	"time"
)

// VerificationOutcome is the resolved result of a verification attempt.
type VerificationOutcome struct {
	Success     bool               `json:"success"`
	Identity    *UserIdentity      `json:"userInfo,omitempty"`
	DigitalID   string             `json:"digitalId,omitempty"`
	Method      VerificationMethod `json:"method"`
	ServiceName string             `json:"requestedService"`
	Timestamp   time.Time          `json:"verificationTime"`
	Message     string             `json:"message,omitempty"`
}

// AuthRecord is the single persisted authentication entry kept by the session cache. TokenExpiry
// holds the expiry reported by the service verbatim and may be empty.
type AuthRecord struct {
	AccessToken string          `json:"accessToken"`
	DigitalID   string          `json:"digitalId,omitempty"`
	Identity    *UserIdentity   `json:"userInfo,omitempty"`
	RawPayload  json.RawMessage `json:"biometricData,omitempty"`
	CapturedAt  int64           `json:"timestamp"`
	TokenExpiry string          `json:"tokenExpiry,omitempty"`
}
