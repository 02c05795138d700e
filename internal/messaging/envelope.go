// Package messaging implements the cross-window protocol between the gallery
// page and its viewer frames.
//
// Envelopes travel over the host platform's window messaging primitive,
// abstracted here as Window. Delivery is fire-and-forget: nothing is queued,
// acknowledged or replayed, and a viewer that is not listening when a message
// is posted never sees it. Receivers act only on messages whose sender origin
// is in their Allowlist, and senders always address an explicit target origin.
package messaging

import (
	"context"
	"strings"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// MessageType identifies the kind of envelope.
type MessageType string

const (
	// ShowImage is sent by the gallery and carries the selected image.
	ShowImage MessageType = "SHOW_IMAGE"
	// ViewerReady is sent by a viewer to its host once it listens for messages.
	ViewerReady MessageType = "VIEWER_READY"
)

// Envelope is the message structure exchanged between windows.
type Envelope struct {
	Type MessageType            `json:"type"`
	Data *model.ImageRecordView `json:"data,omitempty"`
}

// Message is an envelope as received, together with the sender's origin
// reported by the platform.
type Message struct {
	Origin   string
	Envelope Envelope
}

// Window is the platform primitive used to post an envelope to another window.
// targetOrigin must be a concrete origin; the platform drops the message when
// the receiving document does not have that origin.
type Window interface {
	PostMessage(ctx context.Context, env Envelope, targetOrigin string) error
}

// NewView resolves the record's public path against baseURL.
func NewView(baseURL string, rec model.ImageRecord) model.ImageRecordView {
	return model.ImageRecordView{
		ImageRecord: rec,
		FullURL:     strings.TrimRight(baseURL, "/") + rec.PublicPath,
	}
}

// NewShowImage builds the SHOW_IMAGE envelope for rec.
func NewShowImage(baseURL string, rec model.ImageRecord) Envelope {
	view := NewView(baseURL, rec)

	return Envelope{Type: ShowImage, Data: &view}
}
