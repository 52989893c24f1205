package proto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// UserIdentity is the identity record supplied by the verification service. It is never mutated
// by the client.
type UserIdentity struct {
	FirstName      string `json:"firstName" mapstructure:"firstName"`
	LastName       string `json:"lastName" mapstructure:"lastName"`
	Email          string `json:"email,omitempty" mapstructure:"email"`
	Phone          string `json:"phone,omitempty" mapstructure:"phone"`
	Nationality    string `json:"nationality,omitempty" mapstructure:"nationality"`
	DigitalID      string `json:"digitalId,omitempty" mapstructure:"digitalId"`
	DateOfBirth    string `json:"dateOfBirth,omitempty" mapstructure:"dateOfBirth"`
	Gender         string `json:"gender,omitempty" mapstructure:"gender"`
	NationalID     string `json:"nationalId,omitempty" mapstructure:"nationalId"`
	CurrentAddress string `json:"currentAddress,omitempty" mapstructure:"currentAddress"`
	District       string `json:"district,omitempty" mapstructure:"district"`
	Sector         string `json:"sector,omitempty" mapstructure:"sector"`
	Cell           string `json:"cell,omitempty" mapstructure:"cell"`
	Village        string `json:"village,omitempty" mapstructure:"village"`
	IsActive       bool   `json:"isActive,omitempty" mapstructure:"isActive"`
	SecurityLevel  string `json:"securityLevel,omitempty" mapstructure:"securityLevel"`
}

// DecodeIdentity converts the loosely typed userInfo object returned by the service. The service
// encodes some scalar fields inconsistently (numbers as strings, booleans as "true"), so decoding
// is weakly typed.
func DecodeIdentity(raw map[string]any) (*UserIdentity, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ident UserIdentity
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &ident,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return &ident, nil
}

func (id UserIdentity) Validate() error {
	if strings.TrimSpace(id.FirstName) == "" && strings.TrimSpace(id.LastName) == "" {
		return fmt.Errorf("identity name cannot be empty")
	}
	return nil
}

func (id UserIdentity) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(id.FirstName) + " " + strings.TrimSpace(id.LastName))
}

// Hash returns a stable fingerprint of the identity, used as a log-safe correlation value.
func (id UserIdentity) Hash() string {
	encoded := strings.Join([]string{id.DigitalID, id.NationalID, id.FirstName, id.LastName, id.Email}, "|")
	hash := sha256.Sum256([]byte(encoded))
	return hex.EncodeToString(hash[:])
}
