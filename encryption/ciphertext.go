package encryption

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const ciphertextVersion = "v1"

// Ciphertext is an envelope: a KMS-encrypted data key plus the data sealed with it.
type Ciphertext struct {
	EncryptedKey  []byte
	Nonce         []byte
	EncryptedData []byte
}

func (c *Ciphertext) Encode() (string, error) {
	if len(c.EncryptedKey) == 0 {
		return "", fmt.Errorf("encrypted key cannot be empty")
	}
	if len(c.Nonce) == 0 {
		return "", fmt.Errorf("nonce cannot be empty")
	}
	if len(c.EncryptedData) == 0 {
		return "", fmt.Errorf("encrypted data cannot be empty")
	}
	return strings.Join([]string{
		ciphertextVersion,
		base64.RawURLEncoding.EncodeToString(c.EncryptedKey),
		base64.RawURLEncoding.EncodeToString(c.Nonce),
		base64.RawURLEncoding.EncodeToString(c.EncryptedData),
	}, "."), nil
}

func DecodeCiphertext(ciphertext string) (*Ciphertext, error) {
	parts := strings.Split(ciphertext, ".")
	if len(parts) != 4 {
		return nil, fmt.Errorf("invalid ciphertext")
	}
	if parts[0] != ciphertextVersion {
		return nil, fmt.Errorf("unsupported ciphertext version: %s", parts[0])
	}

	var decoded [3][]byte
	for i, name := range []string{"encrypted key", "nonce", "encrypted data"} {
		b, err := base64.RawURLEncoding.DecodeString(parts[i+1])
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if len(b) == 0 {
			return nil, fmt.Errorf("%s cannot be empty", name)
		}
		decoded[i] = b
	}
	return &Ciphertext{
		EncryptedKey:  decoded[0],
		Nonce:         decoded[1],
		EncryptedData: decoded[2],
	}, nil
}
