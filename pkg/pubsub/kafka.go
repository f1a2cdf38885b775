package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/sparkmeet/messaging/pkg/log"
)

// Fixed topics backing the channel namespaces.
const (
	topicConversationEvents = "chat-conv-events"
	topicPresence           = "chat-presence"
)

// channelToTopicAndKey converts a Redis-style channel name to a Kafka topic
// and partition key.
//
//	"chat:conv:CONV123:events" → topic "chat-conv-events", key "CONV123"
//	"chat:presence:USER456"    → topic "chat-presence",    key "USER456"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	switch {
	case len(parts) == 4 && parts[0] == "chat" && parts[1] == "conv" && parts[3] == "events":
		return topicConversationEvents, parts[2], nil
	case len(parts) == 3 && parts[0] == "chat" && parts[1] == "presence":
		return topicPresence, parts[2], nil
	default:
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
}

// patternToTopic converts a Redis-style subscribe pattern to a Kafka topic.
//
//	"chat:conv:*:events" → "chat-conv-events"
//	"chat:presence:*"    → "chat-presence"
func patternToTopic(pattern string) (string, error) {
	channel := strings.ReplaceAll(pattern, "*", "_placeholder_")
	topic, _, err := channelToTopicAndKey(channel)
	return topic, err
}

var groupIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

func sanitizeGroupID(s string) string {
	return groupIDSanitizer.ReplaceAllString(s, "-")
}

// kafkaSubscription tracks a single consumer subscription.
type kafkaSubscription struct {
	consumer *kafka.Consumer
	cancel   context.CancelFunc
}

// KafkaPubSub implements PubSub using Apache Kafka.
type KafkaPubSub struct {
	producer      *kafka.Producer
	subscriptions map[string]*kafkaSubscription // channel or pattern → subscription
	config        KafkaConfig
	mu            sync.Mutex
	doneCh        chan struct{}
}

// NewKafkaPubSub creates a new Kafka-based PubSub instance.
func NewKafkaPubSub(cfg KafkaConfig) (*KafkaPubSub, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kps := &KafkaPubSub{
		producer:      p,
		subscriptions: make(map[string]*kafkaSubscription),
		config:        cfg,
		doneCh:        make(chan struct{}),
	}

	go kps.deliveryReportHandler()

	if err := kps.ensureTopics(); err != nil {
		log.L().Warn().Err(err).Msg("failed to ensure kafka topics (may already exist)")
	}

	return kps, nil
}

// ensureTopics creates the fixed topics if they don't exist.
func (k *KafkaPubSub) ensureTopics() error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": k.config.Brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topics := []kafka.TopicSpecification{
		{Topic: topicConversationEvents, NumPartitions: partitions, ReplicationFactor: 1},
		{Topic: topicPresence, NumPartitions: partitions, ReplicationFactor: 1},
	}

	results, err := admin.CreateTopics(ctx, topics)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			log.L().Warn().Str("topic", r.Topic).Str("error", r.Error.String()).Msg("failed to create topic")
		}
	}

	return nil
}

// deliveryReportHandler processes delivery reports from the producer.
func (k *KafkaPubSub) deliveryReportHandler() {
	for e := range k.producer.Events() {
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			log.L().Error().Err(m.TopicPartition.Error).Msg("kafka pubsub delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish publishes an event to the specified channel (converted to Kafka topic + key).
func (k *KafkaPubSub) Publish(ctx context.Context, channel string, event *Event) error {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return fmt.Errorf("failed to parse channel: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Subscribe subscribes to a specific channel, filtering topic messages by key.
func (k *KafkaPubSub) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	topic, key, err := channelToTopicAndKey(channel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel: %w", err)
	}
	return k.subscribeToTopic(ctx, channel, topic, key)
}

// SubscribePattern subscribes to channels matching a pattern (consumes the whole topic).
func (k *KafkaPubSub) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	topic, err := patternToTopic(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}
	return k.subscribeToTopic(ctx, pattern, topic, "")
}

// subscribeToTopic creates a consumer for a topic, optionally filtering by key.
func (k *KafkaPubSub) subscribeToTopic(ctx context.Context, subKey, topic, filterKey string) (<-chan *Event, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	// Close existing subscription for this key if any
	if existing, ok := k.subscriptions[subKey]; ok {
		existing.cancel()
		existing.consumer.Close()
		delete(k.subscriptions, subKey)
	}

	groupID := k.config.GroupID
	if groupID == "" {
		groupID = "messaging-pubsub"
	}

	// Specific channel subscriptions get a per-channel group so they do not
	// compete with pattern subscriptions for partitions.
	consumerGroupID := groupID
	if filterKey != "" {
		consumerGroupID = fmt.Sprintf("%s-%s", groupID, sanitizeGroupID(subKey))
	}

	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":       k.config.Brokers,
		"group.id":                consumerGroupID,
		"auto.offset.reset":       "latest",
		"enable.auto.commit":      true,
		"auto.commit.interval.ms": 5000,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	if err := c.Subscribe(topic, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	eventCh := make(chan *Event, 100)

	k.subscriptions[subKey] = &kafkaSubscription{
		consumer: c,
		cancel:   cancel,
	}

	go k.consumeMessages(subCtx, c, eventCh, filterKey)

	return eventCh, nil
}

// consumeMessages polls Kafka and forwards events to the channel.
func (k *KafkaPubSub) consumeMessages(ctx context.Context, c *kafka.Consumer, eventCh chan<- *Event, filterKey string) {
	defer close(eventCh)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ev := c.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if filterKey != "" && string(e.Key) != filterKey {
				continue
			}

			var event Event
			if err := json.Unmarshal(e.Value, &event); err != nil {
				log.L().Warn().Err(err).Msg("kafka pubsub: failed to unmarshal event")
				continue
			}

			select {
			case eventCh <- &event:
			case <-ctx.Done():
				return
			default:
				// Channel full, skip message
			}

		case kafka.Error:
			log.L().Error().Str("error", e.String()).Bool("fatal", e.IsFatal()).Msg("kafka pubsub error")
			if e.IsFatal() {
				return
			}

		case kafka.OffsetsCommitted:
			// Normal auto-commit
		default:
			// Ignore other events
		}
	}
}

// Unsubscribe unsubscribes from a channel or pattern.
func (k *KafkaPubSub) Unsubscribe(ctx context.Context, channel string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if sub, ok := k.subscriptions[channel]; ok {
		sub.cancel()
		if err := sub.consumer.Close(); err != nil {
			return fmt.Errorf("failed to close consumer: %w", err)
		}
		delete(k.subscriptions, channel)
	}

	return nil
}

// Close closes all subscriptions and the producer.
func (k *KafkaPubSub) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, sub := range k.subscriptions {
		sub.cancel()
		sub.consumer.Close()
	}
	k.subscriptions = make(map[string]*kafkaSubscription)

	k.producer.Flush(3000)
	k.producer.Close()
	<-k.doneCh

	return nil
}
