package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bilgisen/contentgen/internal/models"
)

// ChannelName is the Redis pub/sub channel carrying notifications between processes.
func ChannelName(prefix string) string {
	return prefix + "notifications"
}

type envelope struct {
	UserID string              `json:"userId"`
	Event  models.ContentEvent `json:"event"`
}

// Publisher is the Notifier used by processes that do not hold sockets.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

var _ Notifier = (*Publisher)(nil)

func NewPublisher(client redis.UniversalClient, prefix string) *Publisher {
	return &Publisher{client: client, channel: ChannelName(prefix)}
}

func (p *Publisher) Notify(ctx context.Context, userID string, event models.ContentEvent) error {
	data, err := json.Marshal(envelope{UserID: userID, Event: event})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Relay feeds notifications published on Redis into the local hub.
type Relay struct {
	client  redis.UniversalClient
	channel string
	hub     *Hub
	log     zerolog.Logger
}

func NewRelay(client redis.UniversalClient, prefix string, hub *Hub, log zerolog.Logger) *Relay {
	return &Relay{
		client:  client,
		channel: ChannelName(prefix),
		hub:     hub,
		log:     log.With().Str("component", "relay").Logger(),
	}
}

// Run subscribes and relays until ctx is cancelled, resubscribing with backoff.
func (r *Relay) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		var sub *redis.PubSub
		err := backoff.RetryNotify(func() error {
			sub = r.client.Subscribe(ctx, r.channel)
			if _, err := sub.Receive(ctx); err != nil {
				_ = sub.Close()
				if ctx.Err() != nil {
					return backoff.Permanent(ctx.Err())
				}
				return err
			}
			return nil
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			r.log.Warn().Err(err).Dur("retry_in", wait).Msg("notification subscribe failed")
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		b.Reset()
		r.log.Info().Str("channel", r.channel).Msg("relaying notifications")
		r.consume(ctx, sub)
		_ = sub.Close()

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (r *Relay) consume(ctx context.Context, sub *redis.PubSub) {
	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				r.log.Warn().Msg("notification subscription closed")
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn().Err(err).Msg("unreadable notification")
				continue
			}
			if err := r.hub.Notify(ctx, env.UserID, env.Event); err != nil {
				r.log.Warn().Err(err).Str("user_id", env.UserID).Msg("relay notify failed")
			}
		}
	}
}
