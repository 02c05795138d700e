package image

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-gallery/internal/model"
)

// service defines the interface for applying image events to the local registry.
type service interface {
	ApplyEvent(ctx context.Context, evt model.ImageEvent) error
}

// EventHandler handles Kafka messages announcing uploads and deletions made
// by other instances sharing the same store.
type EventHandler struct {
	service service
}

// NewEventHandler creates a new handler with the given service.
func NewEventHandler(s service) *EventHandler {
	return &EventHandler{service: s}
}

// Handle decodes the message and applies the event.
// A malformed payload is logged and dropped so it does not block the partition.
func (h *EventHandler) Handle(ctx context.Context, msg kafka.Message) error {
	var evt model.ImageEvent
	if err := json.Unmarshal(msg.Value, &evt); err != nil {
		zlog.Logger.Err(err).Str("key", string(msg.Key)).Msg("dropping malformed image event")
		return nil
	}

	if err := h.service.ApplyEvent(ctx, evt); err != nil {
		return fmt.Errorf("apply %s event for %s: %w", evt.Type, evt.Image.ID, err)
	}

	zlog.Logger.Debug().
		Str("type", string(evt.Type)).
		Str("id", evt.Image.ID).
		Str("instance", evt.Instance).
		Msg("image event applied")

	return nil
}
