package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// Target is a viewer window the gallery broadcasts to.
type Target struct {
	Name   string
	Origin string // the viewer document's origin, used as the post target
	Window Window
}

// Gallery broadcasts the selected image to its viewer targets.
type Gallery struct {
	baseURL string
	targets []Target

	mu    sync.Mutex
	ready map[string]bool // by target origin
}

// NewGallery creates a Gallery whose envelopes resolve image paths against baseURL.
// Every target must carry a concrete origin.
func NewGallery(baseURL string, targets ...Target) (*Gallery, error) {
	g := &Gallery{
		baseURL: baseURL,
		ready:   make(map[string]bool, len(targets)),
	}

	for _, t := range targets {
		origin, err := NormalizeOrigin(t.Origin)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		t.Origin = origin
		g.targets = append(g.targets, t)
	}

	return g, nil
}

// Broadcast posts a SHOW_IMAGE envelope for rec to every target.
// Each post addresses the target's own origin. Failures are logged and
// returned joined; no retry is attempted.
func (g *Gallery) Broadcast(ctx context.Context, rec model.ImageRecord) error {
	env := NewShowImage(g.baseURL, rec)

	var errs []error
	for _, t := range g.targets {
		if t.Window == nil {
			zlog.Logger.Warn().Str("viewer", t.Name).Msg("viewer window not available")
			errs = append(errs, fmt.Errorf("post to %s: window not available", t.Name))
			continue
		}

		if err := t.Window.PostMessage(ctx, env, t.Origin); err != nil {
			zlog.Logger.Err(err).
				Str("viewer", t.Name).
				Str("origin", t.Origin).
				Msg("failed to post message to viewer")
			errs = append(errs, fmt.Errorf("post to %s: %w", t.Name, err))
			continue
		}

		zlog.Logger.Debug().
			Str("viewer", t.Name).
			Str("url", env.Data.FullURL).
			Msg("image sent to viewer")
	}

	return errors.Join(errs...)
}

// Receive handles a message posted back by a viewer.
// Only VIEWER_READY from a known target origin is accepted.
func (g *Gallery) Receive(msg Message) bool {
	origin, err := NormalizeOrigin(msg.Origin)
	if err != nil || !g.isTarget(origin) {
		zlog.Logger.Warn().Str("origin", msg.Origin).Msg("message from unauthorized origin")
		return false
	}

	if msg.Envelope.Type != ViewerReady {
		return false
	}

	g.mu.Lock()
	g.ready[origin] = true
	g.mu.Unlock()

	return true
}

// Ready reports whether the viewer at origin has announced readiness.
// Broadcast does not wait for it.
func (g *Gallery) Ready(origin string) bool {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	return g.ready[norm]
}

func (g *Gallery) isTarget(origin string) bool {
	for _, t := range g.targets {
		if t.Origin == origin {
			return true
		}
	}

	return false
}
