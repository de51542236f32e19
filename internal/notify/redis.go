package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Publisher is the part of the go-redis client used for pub/sub.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Envelope is the JSON message published on the channel.
type Envelope struct {
	Type    string    `json:"type"`
	SentAt  time.Time `json:"sentAt"`
	Payload any       `json:"payload"`
}

// Redis publishes notifications to one pub/sub channel.
type Redis struct {
	client  Publisher
	channel string
	now     func() time.Time
}

func NewRedis(client Publisher, channel string) *Redis {
	return &Redis{client: client, channel: channel, now: time.Now}
}

// NewRedisClient parses a redis:// URL and checks the server is reachable.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

func (r *Redis) RequestFulfilled(ctx context.Context, event RequestEvent) error {
	return r.publish(ctx, EventRequestFulfilled, event)
}

func (r *Redis) DonationStageChanged(ctx context.Context, event DonationEvent) error {
	return r.publish(ctx, EventDonationStageChanged, event)
}

func (r *Redis) publish(ctx context.Context, eventType string, payload any) error {
	msg, err := json.Marshal(Envelope{Type: eventType, SentAt: r.now(), Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode %s notification: %w", eventType, err)
	}

	if err := r.client.Publish(ctx, r.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish %s notification: %w", eventType, err)
	}

	return nil
}
