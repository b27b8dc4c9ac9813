// Package events publishes catalog-update notifications for downstream
// consumers (the pricing rollups read these instead of polling the
// catalog tables). Publishing is best-effort; a failed publish never
// fails the crawl that produced it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
)

// Update describes one successful catalog upsert.
type Update struct {
	Handle    string    `json:"handle"`
	SourceURL string    `json:"source_url"`
	Price     string    `json:"price,omitempty"`
	Currency  string    `json:"currency,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Publisher is the notification contract used by workers.
type Publisher interface {
	ProductUpserted(ctx context.Context, update Update) error
	Close() error
}

// NoOp drops every event; used when no topic is configured.
type NoOp struct{}

// ProductUpserted for NoOp does nothing.
func (*NoOp) ProductUpserted(context.Context, Update) error { return nil }

// Close for NoOp does nothing.
func (*NoOp) Close() error { return nil }

// PubSub publishes updates to a GCP Pub/Sub topic.
type PubSub struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// NewPubSub creates a Pub/Sub client and verifies the topic exists,
// authenticating via Application Default Credentials.
func NewPubSub(ctx context.Context, projectID, topicID string) (*PubSub, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &PubSub{client: client, topic: topic}, nil
}

// ProductUpserted implements Publisher. The publish is fire-and-forget;
// the client batches and retries in the background.
func (p *PubSub) ProductUpserted(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	p.topic.Publish(ctx, &pubsub.Message{Data: data})
	return nil
}

// Close flushes pending publishes and closes the client.
func (p *PubSub) Close() error {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
