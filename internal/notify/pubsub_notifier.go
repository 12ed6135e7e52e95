package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/chairwatch/chairwatch/internal/catalog"
)

// PubSubNotifier publishes digests to a Google Cloud Pub/Sub topic. A
// downstream mailer subscribes to the topic and owns formatting and
// delivery.
type PubSubNotifier struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    *zap.Logger
}

// NewPubSubNotifier creates a Pub/Sub client and checks the topic
// exists. It authenticates with Application Default Credentials.
func NewPubSubNotifier(ctx context.Context, projectID, topicID string, log *zap.Logger) (*PubSubNotifier, error) {
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

	return &PubSubNotifier{client: client, topic: topic, log: log}, nil
}

// Notify publishes the digest and waits for the server ack, so the
// caller only marks postings emailed after the message is durably
// accepted.
func (n *PubSubNotifier) Notify(ctx context.Context, postings []catalog.Posting) error {
	if len(postings) == 0 {
		return nil
	}

	payload, err := json.Marshal(BuildDigest(postings))
	if err != nil {
		return fmt.Errorf("marshal digest: %w", err)
	}

	result := n.topic.Publish(ctx, &pubsub.Message{Data: payload})
	id, err := result.Get(ctx)
	if err != nil {
		return fmt.Errorf("publish digest: %w", err)
	}
	n.log.Info("digest published",
		zap.String("message_id", id),
		zap.Int("count", len(postings)))
	return nil
}

// Close flushes pending publishes and closes the client.
func (n *PubSubNotifier) Close() error {
	n.topic.Stop()
	if err := n.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
