package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/0xsequence/identity-verifier/o11y"
	"github.com/0xsequence/identity-verifier/proto"
	"github.com/benbjohnson/clock"
)

type Source string

const (
	SourceCamera Source = "camera"
	SourceFile   Source = "file"
)

// Selection is the image chosen for upload.
type Selection struct {
	Name        string
	ContentType string
	Data        []byte
	Source      Source
}

// ImageCapture obtains image bytes from a camera or a selected file and uploads them. The two
// sources are exclusive: selecting a file releases the camera.
type ImageCapture struct {
	camera   Camera
	uploader Uploader
	clock    clock.Clock

	mu        sync.Mutex
	stream    Stream
	selection *Selection
	uploading bool
}

func NewImageCapture(camera Camera, uploader Uploader, c clock.Clock) *ImageCapture {
	if c == nil {
		c = clock.New()
	}
	return &ImageCapture{camera: camera, uploader: uploader, clock: c}
}

// OpenCamera acquires the camera. A failure leaves no stream open.
func (c *ImageCapture) OpenCamera(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	if c.camera == nil {
		return proto.ErrCameraUnavailable.WithCausef("no camera configured")
	}
	stream, err := c.camera.Open(ctx)
	if err != nil {
		return proto.ErrCameraUnavailable.WithCause(err)
	}
	c.stream = stream
	return nil
}

// CameraOpen reports whether the camera is currently held.
func (c *ImageCapture) CameraOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// TakePhoto snapshots a frame, scales it to 320x240, PNG-encodes it and selects it. The camera is
// released whether or not the snapshot succeeds.
func (c *ImageCapture) TakePhoto(ctx context.Context) (err error) {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		return proto.ErrCameraUnavailable.WithCausef("camera is not open")
	}
	defer func() {
		if cerr := stream.Close(); cerr != nil {
			o11y.LoggerFromContext(ctx).Warn("failed to release camera", "error", cerr)
		}
	}()

	frame, err := stream.Snapshot(ctx)
	if err != nil {
		return proto.ErrCameraUnavailable.WithCause(err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, scaleFrame(frame)); err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = &Selection{
		Name:        fmt.Sprintf("capture-%d.png", c.clock.Now().UnixMilli()),
		ContentType: "image/png",
		Data:        buf.Bytes(),
		Source:      SourceCamera,
	}
	return nil
}

// Dismiss releases the camera without taking a photo.
func (c *ImageCapture) Dismiss() {
	c.mu.Lock()
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
}

// SelectFile selects image bytes provided by the user.
func (c *ImageCapture) SelectFile(name string, data []byte) error {
	if len(data) == 0 {
		return proto.ErrNoImageSelected
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return proto.ErrInvalidInput.WithMessage("Please select an image file.").WithCausef("content type %s", contentType)
	}

	c.Dismiss()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = &Selection{
		Name:        filepath.Base(name),
		ContentType: contentType,
		Data:        append([]byte(nil), data...),
		Source:      SourceFile,
	}
	return nil
}

func (c *ImageCapture) SelectPath(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return proto.ErrInvalidInput.WithMessage("Unable to read image file.").WithCause(err)
	}
	return c.SelectFile(path, data)
}

func (c *ImageCapture) Selected() (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selection == nil {
		return Selection{}, false
	}
	return *c.selection, true
}

// ClearSelection drops the selected image.
func (c *ImageCapture) ClearSelection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selection = nil
}

// Upload sends the selected image to the image host and returns the image artifact. On failure
// the selection is kept so the upload can be retried.
func (c *ImageCapture) Upload(ctx context.Context, progress func(fraction float64)) (_ proto.CaptureArtifact, err error) {
	ctx, span := o11y.Trace(ctx, "capture.ImageCapture.Upload")
	defer func() {
		span.RecordError(err)
		span.End()
	}()

	c.mu.Lock()
	if c.selection == nil {
		c.mu.Unlock()
		return proto.CaptureArtifact{}, proto.ErrNoImageSelected
	}
	if c.uploading {
		c.mu.Unlock()
		return proto.CaptureArtifact{}, proto.ErrInvalidState.WithMessage("Upload already in progress")
	}
	if c.uploader == nil {
		c.mu.Unlock()
		return proto.CaptureArtifact{}, proto.ErrUploadFailed.WithCausef("no uploader configured")
	}
	selection := *c.selection
	c.uploading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
	}()

	url, err := c.uploader.Upload(ctx, selection.Name, selection.Data, progress)
	if err != nil {
		if ctx.Err() != nil {
			return proto.CaptureArtifact{}, ctx.Err()
		}
		return proto.CaptureArtifact{}, proto.ErrUploadFailed.WithCause(err)
	}
	return proto.NewImageArtifact(url, c.clock.Now()), nil
}

// Close releases the camera. It is safe to call at any time.
func (c *ImageCapture) Close() error {
	c.Dismiss()
	return nil
}
