package compare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/0xsequence/identity-verifier/o11y"
)

const DefaultThreshold = 0.75

// Regula scores face similarity with the Regula Face API and matches above a threshold.
type Regula struct {
	baseURL   string
	threshold float64
	client    o11y.HTTPClient
}

var _ Comparer = (*Regula)(nil)

func NewRegula(baseURL string, threshold float64, client o11y.HTTPClient) *Regula {
	if client == nil {
		client = http.DefaultClient
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Regula{baseURL: strings.TrimSuffix(baseURL, "/"), threshold: threshold, client: client}
}

type regulaImage struct {
	Type  int    `json:"type"`
	Data  string `json:"data"`
	Index int    `json:"index"`
}

type regulaRequest struct {
	Images []regulaImage `json:"images"`
}

type regulaResponse struct {
	Results []struct {
		Similarity float64 `json:"similarity"`
	} `json:"results"`
}

func (r *Regula) Compare(ctx context.Context, referenceURL string, candidateURL string) (_ bool, err error) {
	ctx, span := o11y.Trace(ctx, "compare.Regula.Compare")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	similarity, err := r.Similarity(ctx, referenceURL, candidateURL)
	if err != nil {
		return false, err
	}
	matched := similarity >= r.threshold
	o11y.LoggerFromContext(ctx).Info("face match completed", "similarity", similarity, "matched", matched)
	return matched, nil
}

// Similarity returns the 0-1 similarity score of the two images.
func (r *Regula) Similarity(ctx context.Context, referenceURL string, candidateURL string) (float64, error) {
	images, err := fetchImages(ctx, r.client, referenceURL, candidateURL)
	if err != nil {
		return 0, err
	}

	body, err := json.Marshal(regulaRequest{Images: []regulaImage{
		{Type: 1, Data: images[0].data, Index: 1},
		{Type: 2, Data: images[1].data, Index: 2},
	}})
	if err != nil {
		return 0, fmt.Errorf("marshal match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/api/match", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("execute match request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return 0, fmt.Errorf("face match failed with status %d: %s", res.StatusCode, msg)
	}

	var out regulaResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode match response: %w", err)
	}
	if len(out.Results) == 0 {
		return 0, nil
	}
	return out.Results[0].Similarity, nil
}

// HealthCheck verifies the face API is reachable.
func (r *Regula) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/healthz", nil)
	if err != nil {
		return fmt.Errorf("create health check request: %w", err)
	}
	res, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute health check request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", res.StatusCode)
	}
	return nil
}
