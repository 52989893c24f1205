// Package compare decides whether two face images show the same person by delegating to an
// external model.
package compare

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"github.com/0xsequence/identity-verifier/o11y"
	"golang.org/x/sync/errgroup"
)

// Comparer compares a reference image with a freshly captured one, both given by URL.
type Comparer interface {
	Compare(ctx context.Context, referenceURL string, candidateURL string) (bool, error)
}

const maxImageSize = 10 << 20

type fetchedImage struct {
	mimeType string
	data     string
}

// fetchImages downloads both images concurrently and base64-encodes them.
func fetchImages(ctx context.Context, client o11y.HTTPClient, urls ...string) ([]fetchedImage, error) {
	out := make([]fetchedImage, len(urls))
	g, ctx := errgroup.WithContext(ctx)
	for i, url := range urls {
		g.Go(func() error {
			img, err := fetchImage(ctx, client, url)
			if err != nil {
				return err
			}
			out[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func fetchImage(ctx context.Context, client o11y.HTTPClient, url string) (fetchedImage, error) {
	if url == "" {
		return fetchedImage{}, fmt.Errorf("image url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fetchedImage{}, fmt.Errorf("create image request: %w", err)
	}
	res, err := client.Do(req)
	if err != nil {
		return fetchedImage{}, fmt.Errorf("fetch image: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fetchedImage{}, fmt.Errorf("fetch image: status %d", res.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(res.Body, maxImageSize+1))
	if err != nil {
		return fetchedImage{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageSize {
		return fetchedImage{}, fmt.Errorf("image exceeds %d bytes", maxImageSize)
	}
	if len(data) == 0 {
		return fetchedImage{}, fmt.Errorf("image is empty")
	}

	mimeType := res.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return fetchedImage{mimeType: mimeType, data: base64.StdEncoding.EncodeToString(data)}, nil
}
