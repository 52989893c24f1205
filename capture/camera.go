package capture

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	"net/http"
	"sync"

	"github.com/0xsequence/identity-verifier/o11y"
	"golang.org/x/image/draw"
)

const (
	FrameWidth  = 320
	FrameHeight = 240
)

// Camera acquires a capture device.
type Camera interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream is an acquired device. Close releases it and must be called on every exit path.
type Stream interface {
	Snapshot(ctx context.Context) (image.Image, error)
	Close() error
}

// HTTPCamera is a network camera exposing a still-image snapshot endpoint.
type HTTPCamera struct {
	url    string
	client o11y.HTTPClient
}

func NewHTTPCamera(url string, client o11y.HTTPClient) *HTTPCamera {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPCamera{url: url, client: client}
}

func (c *HTTPCamera) Open(ctx context.Context) (Stream, error) {
	if c.url == "" {
		return nil, fmt.Errorf("camera url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check camera: %w", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("check camera: status %d", res.StatusCode)
	}
	return &httpStream{camera: c}, nil
}

type httpStream struct {
	camera *HTTPCamera
	mu     sync.Mutex
	closed bool
}

func (s *httpStream) Snapshot(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("camera stream is closed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.camera.url, nil)
	if err != nil {
		return nil, err
	}
	res, err := s.camera.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch frame: status %d", res.StatusCode)
	}

	img, _, err := image.Decode(res.Body)
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func (s *httpStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// scaleFrame draws src into a FrameWidth x FrameHeight canvas, stretching it to fill.
func scaleFrame(src image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}
