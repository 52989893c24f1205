package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/0xsequence/identity-verifier/o11y"
)

// Uploader stores image bytes on an image host and returns a publicly dereferenceable URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, progress func(fraction float64)) (string, error)
}

// HostUploader posts images as multipart forms with an unsigned upload preset.
type HostUploader struct {
	endpoint string
	preset   string
	client   o11y.HTTPClient
}

var _ Uploader = (*HostUploader)(nil)

func NewHostUploader(endpoint string, preset string, client o11y.HTTPClient) *HostUploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HostUploader{endpoint: endpoint, preset: preset, client: client}
}

type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (u *HostUploader) Upload(ctx context.Context, name string, data []byte, progress func(fraction float64)) (_ string, err error) {
	ctx, span := o11y.Trace(ctx, "capture.Upload", o11y.WithMetadata(map[string]any{"size": len(data)}))
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", name)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := form.WriteField("upload_preset", u.preset); err != nil {
		return "", fmt.Errorf("write upload preset: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	total := int64(body.Len())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &progressReader{
		r:        &body,
		total:    total,
		progress: progress,
	})
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.ContentLength = total
	req.Header.Set("Content-Type", form.FormDataContentType())

	res, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer res.Body.Close()

	var out uploadResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil && res.StatusCode < 300 {
		return "", fmt.Errorf("decode upload response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		if out.Error != nil && out.Error.Message != "" {
			return "", fmt.Errorf("upload: status %d: %s", res.StatusCode, out.Error.Message)
		}
		return "", fmt.Errorf("upload: status %d", res.StatusCode)
	}
	if out.SecureURL == "" {
		return "", fmt.Errorf("upload response has no secure_url")
	}
	if progress != nil {
		progress(1)
	}
	return out.SecureURL, nil
}

type progressReader struct {
	r        io.Reader
	total    int64
	progress func(float64)

	mu   sync.Mutex
	read int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.progress != nil && p.total > 0 {
		p.mu.Lock()
		p.read += int64(n)
		fraction := float64(p.read) / float64(p.total)
		p.mu.Unlock()
		// The final step is reported once the host has accepted the upload.
		if fraction < 1 {
			p.progress(fraction)
		}
	}
	return n, err
}
