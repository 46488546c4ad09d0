package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dmfontes/skuld/internal/validation"
)

// Publisher fans out change events on the project channels.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	validation.AssertNotNil(client, "redis client")
	return &Publisher{client: client}
}

// Publish sends one event to every live subscriber of the project. Publish
// order on one project is the order subscribers observe; there is no
// cross-project ordering.
func (p *Publisher) Publish(ctx context.Context, projectKey string, event Event) error {
	data, err := event.Encode()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(projectKey), data).Err(); err != nil {
		return fmt.Errorf("failed to publish event for project %q: %w", projectKey, err)
	}
	return nil
}
