package proto

import "fmt"

type VerificationMethod string

const (
	VerificationMethod_Fingerprint VerificationMethod = "biometric"
	VerificationMethod_Image       VerificationMethod = "image"
	VerificationMethod_Both        VerificationMethod = "both"
)

func (m VerificationMethod) IsValid() bool {
	switch m {
	case VerificationMethod_Fingerprint, VerificationMethod_Image, VerificationMethod_Both:
		return true
	}
	return false
}

// Requires reports whether an artifact of the given kind must be captured before submission.
func (m VerificationMethod) Requires(kind ArtifactKind) bool {
	switch kind {
	case ArtifactKind_Fingerprint:
		return m == VerificationMethod_Fingerprint || m == VerificationMethod_Both
	case ArtifactKind_Image:
		return m == VerificationMethod_Image || m == VerificationMethod_Both
	}
	return false
}

func (m VerificationMethod) Label() string {
	switch m {
	case VerificationMethod_Fingerprint:
		return "Fingerprint"
	case VerificationMethod_Image:
		return "Facial image"
	case VerificationMethod_Both:
		return "Fingerprint and facial image"
	}
	return string(m)
}

func ParseVerificationMethod(s string) (VerificationMethod, error) {
	switch s {
	case "biometric", "fingerprint":
		return VerificationMethod_Fingerprint, nil
	case "image", "face":
		return VerificationMethod_Image, nil
	case "both":
		return VerificationMethod_Both, nil
	}
	return "", fmt.Errorf("invalid verification method: %q", s)
}

// AvailableMethods is the set of capture methods the backend allows for a validated identity.
type AvailableMethods struct {
	Biometric bool `json:"biometric"`
	Image     bool `json:"image"`
}

// Known reports whether the backend advertised any method at all.
func (a AvailableMethods) Known() bool {
	return a.Biometric || a.Image
}

func (a AvailableMethods) Allows(m VerificationMethod) bool {
	if !a.Known() {
		return m.IsValid()
	}
	switch m {
	case VerificationMethod_Fingerprint:
		return a.Biometric
	case VerificationMethod_Image:
		return a.Image
	case VerificationMethod_Both:
		return a.Biometric && a.Image
	}
	return false
}
