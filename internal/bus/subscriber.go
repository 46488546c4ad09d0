package bus

import (
	"context"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Subscriber receives change events for one project at a time.
type Subscriber struct {
	client *redis.Client
	logger *slog.Logger
}

// NewSubscriber wraps an existing Redis client.
func NewSubscriber(client *redis.Client, logger *slog.Logger) *Subscriber {
	if client == nil {
		panic("bus: redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{client: client, logger: logger}
}

// ProjectEvent pairs an event with the project whose channel delivered it.
type ProjectEvent struct {
	ProjectKey string
	Event      Event
}

// SubscribeAll opens a pattern subscription across every project channel.
// The edge plane uses this to invalidate its L1 cache on any config change.
func (s *Subscriber) SubscribeAll(ctx context.Context) <-chan ProjectEvent {
	pubsub := s.client.PSubscribe(ctx, channelPrefix+":*")
	events := make(chan ProjectEvent, 64)

	go func() {
		defer close(events)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := DecodeEvent([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("dropping undecodable bus frame",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				projectKey := strings.TrimPrefix(msg.Channel, channelPrefix+":")
				select {
				case events <- ProjectEvent{ProjectKey: projectKey, Event: event}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}

// Subscribe opens a project-scoped event channel. The returned channel is
// closed when ctx is cancelled; frames that fail to decode are dropped with
// a warning. There is no replay buffer: a subscriber that reconnects must
// re-bootstrap from the cache layer.
func (s *Subscriber) Subscribe(ctx context.Context, projectKey string) <-chan Event {
	pubsub := s.client.Subscribe(ctx, Channel(projectKey))
	events := make(chan Event, 64)

	go func() {
		defer close(events)
		defer func() { _ = pubsub.Close() }()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := DecodeEvent([]byte(msg.Payload))
				if err != nil {
					s.logger.Warn("dropping undecodable bus frame",
						slog.String("channel", msg.Channel),
						slog.Any("error", err),
					)
					continue
				}
				select {
				case events <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return events
}
