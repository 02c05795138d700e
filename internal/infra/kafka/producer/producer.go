package producer

import (
	"context"
	"encoding/json"
	"fmt"

	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/image-gallery/internal/config"
	"github.com/aliskhannn/image-gallery/internal/model"
)

// Producer publishes image events to Kafka.
type Producer struct {
	client   *wbfkafka.Producer
	strategy retry.Strategy
}

// New creates a new Producer for the configured topic.
func New(cfg *config.Kafka, s retry.Strategy) *Producer {
	return &Producer{
		client:   wbfkafka.NewProducer(cfg.Brokers, cfg.Topic),
		strategy: s,
	}
}

// Publish serializes the event to JSON and sends it to Kafka.
// The image ID is used as the message key so events for one image stay ordered.
func (p *Producer) Publish(ctx context.Context, evt model.ImageEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err = p.client.SendWithRetry(ctx, p.strategy, []byte(evt.Image.ID), data); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Close closes the underlying Kafka writer.
func (p *Producer) Close() error {
	return p.client.Close()
}
