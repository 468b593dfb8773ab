// Package pubsub publishes change events to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	gcppubsub "cloud.google.com/go/pubsub"

	"github.com/talemon/pagewatch/internal/watch"
)

// Config identifies the target topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// Publisher sends change events to a Pub/Sub topic.
type Publisher struct {
	client *gcppubsub.Client
	topic  *gcppubsub.Topic
}

// New connects to Pub/Sub and binds the topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		return nil, fmt.Errorf("pubsub project and topic are required")
	}
	client, err := gcppubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client: client,
		topic:  client.Topic(cfg.TopicID),
	}, nil
}

// Publish marshals the event to JSON and blocks until the server
// acknowledges it. Event identity rides in attributes so subscribers
// can filter without unmarshaling.
func (p *Publisher) Publish(ctx context.Context, event watch.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	result := p.topic.Publish(ctx, &gcppubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"event_id": event.EventID,
			"page_id":  strconv.FormatInt(event.PageID, 10),
			"url":      event.URL,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish change event: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client.
func (p *Publisher) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
