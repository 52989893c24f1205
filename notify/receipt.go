package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/0xsequence/identity-verifier/present"
)

var receiptHTML = template.Must(template.New("receipt").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p>{{.Summary}}</p>
<table>
<tr><td>Full Name</td><td>{{.FullName}}</td></tr>
<tr><td>Digital ID</td><td>{{.MaskedDigitalID}}</td></tr>
<tr><td>Method</td><td>{{.Method}}</td></tr>
<tr><td>Verified</td><td>{{.VerifiedAt}}</td></tr>
</table>
<p>Receipt {{.ReceiptID}}</p>
</body></html>`))

type Receipt struct {
	Subject string
	HTML    string
	Text    string
}

func BuildReceipt(view present.View) (*Receipt, error) {
	var html bytes.Buffer
	if err := receiptHTML.Execute(&html, view); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n%s\n\n", view.Title, view.Summary)
	fmt.Fprintf(&text, "Full Name: %s\n", view.FullName)
	fmt.Fprintf(&text, "Digital ID: %s\n", view.MaskedDigitalID)
	fmt.Fprintf(&text, "Method: %s\n", view.Method)
	fmt.Fprintf(&text, "Verified: %s\n\n", view.VerifiedAt)
	fmt.Fprintf(&text, "Receipt %s\n", view.ReceiptID)

	return &Receipt{
		Subject: "Identity verification receipt: " + view.ServiceName,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
