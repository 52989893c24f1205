// Package present maps verification outcomes to display data.
package present

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/0xsequence/identity-verifier/proto"
	"github.com/gowebpki/jcs"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type Category string

const (
	CategoryGovernment Category = "government"
	CategoryFinance    Category = "finance"
	CategoryHealth     Category = "health"
	CategoryGeneral    Category = "general"
)

// TimeLayout is the layout of View.VerifiedAt.
const TimeLayout = "January 2, 2006 at 15:04 MST"

type Field struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

type View struct {
	Success         bool     `json:"success"`
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	FullName        string   `json:"fullName"`
	DigitalID       string   `json:"digitalId"`
	MaskedDigitalID string   `json:"maskedDigitalId"`
	ServiceName     string   `json:"serviceName"`
	ServiceCategory Category `json:"serviceCategory"`
	Method          string   `json:"method"`
	VerifiedAt      string   `json:"verifiedAt"`
	Message         string   `json:"message,omitempty"`
	Details         []Field  `json:"details"`
	ReceiptID       string   `json:"receiptId"`
}

// Present builds the display data for outcome. The receipt id is stable for equal outcomes.
func Present(outcome *proto.VerificationOutcome) View {
	if outcome == nil {
		return View{Title: "Verification Failed", ServiceCategory: CategoryGeneral}
	}

	view := View{
		Success:         outcome.Success,
		DigitalID:       outcome.DigitalID,
		MaskedDigitalID: MaskDigitalID(outcome.DigitalID),
		ServiceName:     outcome.ServiceName,
		ServiceCategory: CategorizeService(outcome.ServiceName),
		Method:          MethodLabel(outcome.Method),
		Message:         outcome.Message,
		ReceiptID:       ReceiptID(outcome),
	}
	if !outcome.Timestamp.IsZero() {
		view.VerifiedAt = outcome.Timestamp.UTC().Format(TimeLayout)
	}

	if outcome.Success {
		view.Title = "Verification Successful"
		view.Summary = "Access granted for " + outcome.ServiceName
	} else {
		view.Title = "Verification Failed"
		view.Summary = "Access denied for " + outcome.ServiceName
	}

	if ident := outcome.Identity; ident != nil {
		view.FullName = FullName(ident)
		view.Details = identityFields(ident)
	}
	return view
}

// FullName title-cases the first and last name of ident.
func FullName(ident *proto.UserIdentity) string {
	caser := cases.Title(language.Und)
	return caser.String(ident.FullName())
}

func identityFields(ident *proto.UserIdentity) []Field {
	var fields []Field
	add := func(label string, value string) {
		if value = strings.TrimSpace(value); value != "" {
			fields = append(fields, Field{Label: label, Value: value})
		}
	}
	caser := cases.Title(language.Und)

	add("Email", ident.Email)
	add("Phone", ident.Phone)
	add("Nationality", caser.String(ident.Nationality))
	add("Date of Birth", ident.DateOfBirth)
	add("Gender", caser.String(ident.Gender))
	add("National ID", ident.NationalID)

	var address []string
	for _, part := range []string{ident.Village, ident.Cell, ident.Sector, ident.District} {
		if part = strings.TrimSpace(part); part != "" {
			address = append(address, part)
		}
	}
	if ident.CurrentAddress != "" {
		add("Address", ident.CurrentAddress)
	} else {
		add("Address", strings.Join(address, ", "))
	}
	return fields
}

// CategorizeService derives the display category from the service name.
func CategorizeService(service string) Category {
	s := strings.ToLower(service)
	switch {
	case strings.Contains(s, "government"):
		return CategoryGovernment
	case strings.Contains(s, "bank"), strings.Contains(s, "finance"):
		return CategoryFinance
	case strings.Contains(s, "health"):
		return CategoryHealth
	}
	return CategoryGeneral
}

func MethodLabel(method proto.VerificationMethod) string {
	switch method {
	case proto.VerificationMethod_Fingerprint:
		return "Fingerprint"
	case proto.VerificationMethod_Image:
		return "Face Recognition"
	case proto.VerificationMethod_Both:
		return "Multi-Factor"
	}
	return string(method)
}

// MaskDigitalID keeps the first and last four characters of id.
func MaskDigitalID(id string) string {
	r := []rune(id)
	if len(r) <= 8 {
		return id
	}
	return string(r[:4]) + strings.Repeat("*", len(r)-8) + string(r[len(r)-4:])
}

// ReceiptID is the hex SHA-256 of the canonical JSON of outcome.
func ReceiptID(outcome *proto.VerificationOutcome) string {
	b, err := json.Marshal(outcome)
	if err != nil {
		return ""
	}
	canonical, err := jcs.Transform(b)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Elapsed formats the time since the verification in whole seconds, minutes or hours.
func Elapsed(outcome *proto.VerificationOutcome, now time.Time) string {
	d := now.Sub(outcome.Timestamp)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour") + " ago"
	}
	return outcome.Timestamp.UTC().Format("January 2, 2006")
}

func plural(n int, unit string) string {
	s := strconv.Itoa(n) + " " + unit
	if n != 1 {
		s += "s"
	}
	return s
}
