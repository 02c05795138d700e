package model

import "time"

// EventType names a registry mutation announced to other instances.
type EventType string

const (
	EventImageUploaded EventType = "image.uploaded"
	EventImageDeleted  EventType = "image.deleted"
)

// ImageEvent is the payload published to the message queue after a mutation.
type ImageEvent struct {
	Type       EventType   `json:"type"`
	Image      ImageRecord `json:"image"`
	Instance   string      `json:"instance"` // id of the publishing process
	OccurredAt time.Time   `json:"occurred_at"`
}
