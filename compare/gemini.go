package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/0xsequence/identity-verifier/o11y"
)

const facePrompt = `Compare these two face images and determine if they show the same person:

IMPORTANT: Focus on:
- Facial bone structure
- Eye shape and spacing
- Nose shape and size
- Mouth and jaw line
- Unique facial features

Ignore:
- Lighting differences
- Image quality
- Background
- Clothing
- Facial expressions
- Minor angle differences

Respond with only:
- "MATCH" if they are the same person
- "NO_MATCH" if they are different people`

// Gemini asks a multimodal model whether two faces match. Only the exact answer MATCH counts as
// a match.
type Gemini struct {
	endpoint string
	model    string
	apiKey   string
	client   o11y.HTTPClient
}

var _ Comparer = (*Gemini)(nil)

func NewGemini(endpoint string, model string, apiKey string, client o11y.HTTPClient) *Gemini {
	if client == nil {
		client = http.DefaultClient
	}
	return &Gemini{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   client,
	}
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func (g *Gemini) Compare(ctx context.Context, referenceURL string, candidateURL string) (_ bool, err error) {
	ctx, span := o11y.Trace(ctx, "compare.Gemini.Compare", o11y.WithAnnotation("model", g.model))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	images, err := fetchImages(ctx, g.client, referenceURL, candidateURL)
	if err != nil {
		return false, err
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Role: "user",
			Parts: []geminiPart{
				{Text: facePrompt},
				{InlineData: &geminiInlineData{MimeType: images[0].mimeType, Data: images[0].data}},
				{InlineData: &geminiInlineData{MimeType: images[1].mimeType, Data: images[1].data}},
			},
		}},
	})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	u := fmt.Sprintf("%s/v1beta/models/%s:generateContent?%s", g.endpoint, url.PathEscape(g.model), url.Values{"key": {g.apiKey}}.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("generate content: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return false, fmt.Errorf("generate content: status %d: %s", res.StatusCode, msg)
	}

	var out geminiResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return false, fmt.Errorf("response has no candidates")
	}

	answer := strings.ToUpper(strings.TrimSpace(out.Candidates[0].Content.Parts[0].Text))
	span.SetAnnotation("answer", answer)
	return answer == "MATCH", nil
}
