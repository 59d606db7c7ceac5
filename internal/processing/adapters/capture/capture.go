// Package capture provides FrameSource implementations.
//
// Workstations stream their camera and sensor frames to the service one
// capture at a time, so the production source is a single uploaded frame.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // decoder registration
	_ "image/png"  // decoder registration
	"sync"

	dErrors "checkpoint/pkg/domain-errors"
)

// DefaultMaxPixels bounds uploaded frames to 4096x4096.
const DefaultMaxPixels = 4096 * 4096

var (
	// ErrNotAcquired is returned by ReadFrame outside Acquire/Release.
	ErrNotAcquired = errors.New("frame source not acquired")

	// ErrFrameTooLarge is returned for frames whose header declares more
	// pixels than the source accepts. Nothing is decoded in that case.
	ErrFrameTooLarge = errors.New("frame exceeds pixel limit")
)

// Uploaded serves one encoded frame received from a workstation.
type Uploaded struct {
	mu        sync.Mutex
	data      []byte
	acquired  bool
	maxPixels int64
}

// NewUploaded wraps an encoded frame. maxPixels <= 0 uses DefaultMaxPixels.
func NewUploaded(data []byte, maxPixels int) *Uploaded {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Uploaded{data: data, maxPixels: int64(maxPixels)}
}

func (u *Uploaded) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.data) == 0 {
		return errors.New("no frame received from workstation")
	}
	u.acquired = true
	return nil
}

// ReadFrame decodes the uploaded frame. PNG and JPEG are accepted. The
// header is checked against the pixel limit before any pixel data is
// allocated; oversized frames fail with a validation error.
func (u *Uploaded) ReadFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.acquired {
		return nil, ErrNotAcquired
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(u.data))
	if err != nil {
		return nil, fmt.Errorf("decode frame header: %w", err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > u.maxPixels {
		return nil, dErrors.Wrap(ErrFrameTooLarge, dErrors.CodeValidation,
			fmt.Sprintf("frame is %dx%d, above the %d pixel limit", cfg.Width, cfg.Height, u.maxPixels))
	}
	img, _, err := image.Decode(bytes.NewReader(u.data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// Release drops the frame; a released source cannot be read again.
func (u *Uploaded) Release() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.acquired = false
	u.data = nil
	return nil
}

// Fake is a scripted FrameSource for tests.
type Fake struct {
	Frame      image.Image
	AcquireErr error
	ReadErr    error

	mu       sync.Mutex
	acquires int
	releases int
	held     bool
}

// NewFakeFrame returns a Fake serving a solid w x h frame.
func NewFakeFrame(w, h int) *Fake {
	return &Fake{Frame: image.NewRGBA(image.Rect(0, 0, w, h))}
}

func (f *Fake) Acquire(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AcquireErr != nil {
		return f.AcquireErr
	}
	f.acquires++
	f.held = true
	return nil
}

func (f *Fake) ReadFrame(context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.held {
		return nil, ErrNotAcquired
	}
	if f.ReadErr != nil {
		return nil, f.ReadErr
	}
	return f.Frame, nil
}

func (f *Fake) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	f.held = false
	return nil
}

// Balanced reports whether every Acquire was matched by a Release.
func (f *Fake) Balanced() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.held && f.acquires <= f.releases
}

func (f *Fake) Acquires() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires
}
