package proto

import "time"

type ArtifactKind string

const (
	ArtifactKind_Fingerprint ArtifactKind = "fingerprint"
	ArtifactKind_Image       ArtifactKind = "image"
)

// CaptureArtifact is the proof produced by one capture attempt: a fingerprint payload or the URL
// of an uploaded image. Artifacts are values; a newer capture replaces an older one wholesale.
type CaptureArtifact struct {
	Kind       ArtifactKind `json:"kind"`
	Payload    string       `json:"payload"`
	CapturedAt time.Time    `json:"capturedAt"`
}

func NewFingerprintArtifact(payload string, at time.Time) CaptureArtifact {
	return CaptureArtifact{Kind: ArtifactKind_Fingerprint, Payload: payload, CapturedAt: at}
}

func NewImageArtifact(url string, at time.Time) CaptureArtifact {
	return CaptureArtifact{Kind: ArtifactKind_Image, Payload: url, CapturedAt: at}
}

func (a CaptureArtifact) IsValid() bool {
	if a.Payload == "" {
		return false
	}
	return a.Kind == ArtifactKind_Fingerprint || a.Kind == ArtifactKind_Image
}

// Artifacts holds at most one artifact per kind.
type Artifacts map[ArtifactKind]CaptureArtifact

func (a Artifacts) Get(kind ArtifactKind) (CaptureArtifact, bool) {
	artifact, ok := a[kind]
	return artifact, ok && artifact.IsValid()
}

func (a Artifacts) Payload(kind ArtifactKind) string {
	artifact, _ := a.Get(kind)
	return artifact.Payload
}

// Missing returns the first artifact kind required by method that has not been captured.
func (a Artifacts) Missing(method VerificationMethod) (ArtifactKind, bool) {
	for _, kind := range []ArtifactKind{ArtifactKind_Fingerprint, ArtifactKind_Image} {
		if !method.Requires(kind) {
			continue
		}
		if _, ok := a.Get(kind); !ok {
			return kind, true
		}
	}
	return "", false
}

func (a Artifacts) Clone() Artifacts {
	out := make(Artifacts, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}
