package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/sparkmeet/messaging/pkg/log"
)

// RedisPubSub implements PubSub over Redis channels. Conversation and
// presence streams map one-to-one onto Redis channel names.
type RedisPubSub struct {
	client        *redis.Client
	subscriptions map[string]*redis.PubSub
	mu            sync.RWMutex
}

// NewRedisPubSub connects to Redis and verifies the connection.
func NewRedisPubSub(cfg RedisConfig) (*RedisPubSub, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPubSub{
		client:        client,
		subscriptions: make(map[string]*redis.PubSub),
	}, nil
}

// Publish publishes an event to the specified channel.
func (r *RedisPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Subscribe opens a subscription on a single channel.
func (r *RedisPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	return r.open(ctx, channel, r.client.Subscribe(ctx, channel))
}

// SubscribePattern opens a subscription on every channel matching the
// glob pattern.
func (r *RedisPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	return r.open(ctx, pattern, r.client.PSubscribe(ctx, pattern))
}

func (r *RedisPubSub) open(ctx context.Context, key string, pubsub *redis.PubSub) (<-chan *Event, error) {
	r.mu.Lock()
	if prev, ok := r.subscriptions[key]; ok {
		prev.Close()
	}
	r.subscriptions[key] = pubsub
	r.mu.Unlock()

	eventCh := make(chan *Event, 100)
	go r.pump(ctx, pubsub, eventCh)
	return eventCh, nil
}

// Unsubscribe tears down the subscription on a channel. A channel that
// was never subscribed is a no-op.
func (r *RedisPubSub) Unsubscribe(ctx context.Context, channel string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pubsub, ok := r.subscriptions[channel]; ok {
		delete(r.subscriptions, channel)
		return pubsub.Close()
	}
	return nil
}

// Close closes all subscriptions and the Redis client.
func (r *RedisPubSub) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pubsub := range r.subscriptions {
		pubsub.Close()
	}
	r.subscriptions = make(map[string]*redis.PubSub)

	return r.client.Close()
}

// pump decodes inbound messages and forwards them in arrival order.
// Malformed payloads are dropped; a subscriber that stops draining loses
// events rather than stalling delivery for everyone else.
func (r *RedisPubSub) pump(ctx context.Context, pubsub *redis.PubSub, eventCh chan<- *Event) {
	defer close(eventCh)

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.L().Warn().Err(err).Str(log.FieldChannel, msg.Channel).Msg("dropping malformed pubsub event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}

var _ PubSub = (*RedisPubSub)(nil)
