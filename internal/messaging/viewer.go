package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// Status is the viewer's connection state as shown to the user.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusConnected Status = "connected"
	StatusError     Status = "error"
)

// Scheduler runs f once after d.
type Scheduler func(d time.Duration, f func())

func afterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// ViewerConfig describes one viewer frame.
type ViewerConfig struct {
	Name         string
	Allowed      *Allowlist
	DisplayDelay time.Duration // cosmetic pause between accepting and displaying an image
	Host         Window        // nil when the viewer runs as a standalone window
	HostOrigin   string
}

// Viewer consumes SHOW_IMAGE envelopes and displays the carried image.
type Viewer struct {
	name       string
	allowed    *Allowlist
	delay      time.Duration
	host       Window
	hostOrigin string
	schedule   Scheduler

	mu      sync.Mutex
	status  Status
	loading bool
	current *model.ImageRecordView
	seq     uint64
}

// NewViewer creates a Viewer. A nil scheduler uses time.AfterFunc.
func NewViewer(cfg ViewerConfig, schedule Scheduler) (*Viewer, error) {
	if cfg.Allowed == nil {
		return nil, errors.New("viewer: allowlist is required")
	}

	v := &Viewer{
		name:     cfg.Name,
		allowed:  cfg.Allowed,
		delay:    cfg.DisplayDelay,
		host:     cfg.Host,
		status:   StatusWaiting,
		schedule: schedule,
	}

	if v.schedule == nil {
		v.schedule = afterFunc
	}

	if cfg.Host != nil {
		origin, err := NormalizeOrigin(cfg.HostOrigin)
		if err != nil {
			return nil, fmt.Errorf("viewer %s host: %w", cfg.Name, err)
		}
		v.hostOrigin = origin
	}

	return v, nil
}

// Receive handles a posted message and reports whether it was accepted.
// Messages from origins outside the allowlist are logged and dropped without
// touching the viewer's state.
func (v *Viewer) Receive(msg Message) bool {
	if !v.allowed.Allows(msg.Origin) {
		zlog.Logger.Warn().
			Str("viewer", v.name).
			Str("origin", msg.Origin).
			Msg("message from unauthorized origin")
		return false
	}

	if msg.Envelope.Type != ShowImage || msg.Envelope.Data == nil {
		return false
	}

	view := *msg.Envelope.Data

	v.mu.Lock()
	v.status = StatusConnected
	v.loading = true
	v.seq++
	seq := v.seq
	v.mu.Unlock()

	v.schedule(v.delay, func() {
		v.mu.Lock()
		defer v.mu.Unlock()

		// A newer envelope arrived while this one was pending.
		if v.seq != seq {
			return
		}
		v.current = &view
		v.loading = false
	})

	return true
}

// AnnounceReady posts VIEWER_READY to the host window, addressed to the host's origin.
func (v *Viewer) AnnounceReady(ctx context.Context) error {
	if v.host == nil {
		return nil
	}

	err := v.host.PostMessage(ctx, Envelope{Type: ViewerReady}, v.hostOrigin)

	v.mu.Lock()
	defer v.mu.Unlock()

	if err != nil {
		zlog.Logger.Err(err).Str("viewer", v.name).Msg("failed to send ready message")
		v.status = StatusError
		return fmt.Errorf("announce ready: %w", err)
	}

	v.status = StatusConnected

	return nil
}

// Current returns the displayed image, if any.
func (v *Viewer) Current() (model.ImageRecordView, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current == nil {
		return model.ImageRecordView{}, false
	}

	return *v.current, true
}

// Status returns the connection state.
func (v *Viewer) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.status
}

// Loading reports whether an accepted image is waiting for its display delay.
func (v *Viewer) Loading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	return v.loading
}

// Name returns the viewer's name.
func (v *Viewer) Name() string {
	return v.name
}
