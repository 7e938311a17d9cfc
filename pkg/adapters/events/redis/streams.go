package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/pkg/ports"
)

// StreamsEventBus implements EventBus using Redis Streams
type StreamsEventBus struct {
	client        *redis.Client
	logger        *zap.Logger
	consumerGroup string
	consumerName  string
	maxLen        int64

	mu      sync.Mutex
	cancels map[string][]context.CancelFunc
	wg      sync.WaitGroup
}

// NewStreamsEventBus creates a new Redis Streams event bus. Streams are
// trimmed to about maxLen entries; zero disables trimming.
func NewStreamsEventBus(client *redis.Client, consumerGroup, consumerName string, maxLen int64, logger *zap.Logger) (*StreamsEventBus, error) {
	if consumerGroup == "" || consumerName == "" {
		return nil, errors.New("consumer group and consumer name are required")
	}
	return &StreamsEventBus{
		client:        client,
		logger:        logger,
		consumerGroup: consumerGroup,
		consumerName:  consumerName,
		maxLen:        maxLen,
		cancels:       make(map[string][]context.CancelFunc),
	}, nil
}

// Publish publishes an event to the appropriate stream topic
func (e *StreamsEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	streamKey := getStreamKey(topic)

	// Serialize event
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Add to stream
	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if e.maxLen > 0 {
		args.MaxLen = e.maxLen
		args.Approx = true
	}

	if _, err := e.client.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	e.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("run_id", event.RunID),
		zap.String("stream", streamKey))

	return nil
}

// Subscribe reads the topic stream in the background until ctx is cancelled
// or the topic is unsubscribed
func (e *StreamsEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	streamKey := getStreamKey(topic)

	// Create consumer group if it doesn't exist
	err := e.client.XGroupCreateMkStream(ctx, streamKey, e.consumerGroup, "$").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[topic] = append(e.cancels[topic], cancel)
	e.mu.Unlock()

	e.logger.Info("subscribed to event stream",
		zap.String("stream", streamKey),
		zap.String("consumer_group", e.consumerGroup),
		zap.String("consumer", e.consumerName))

	// Start reading from stream
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.readStream(ctx, streamKey, handler)
	}()

	return nil
}

// readStream reads events from a stream
func (e *StreamsEventBus) readStream(ctx context.Context, streamKey string, handler ports.EventHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Read from stream
		streams, err := e.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    e.consumerGroup,
			Consumer: e.consumerName,
			Streams:  []string{streamKey, ">"},
			Count:    10,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				// No new messages
				continue
			}
			e.logger.Error("failed to read from stream",
				zap.String("stream", streamKey),
				zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}

		// Process messages
		for _, stream := range streams {
			for _, message := range stream.Messages {
				e.processMessage(ctx, streamKey, message, handler)
			}
		}
	}
}

// processMessage processes a single message from the stream
func (e *StreamsEventBus) processMessage(ctx context.Context, streamKey string, message redis.XMessage, handler ports.EventHandler) {
	// Extract event data
	data, ok := message.Values["data"].(string)
	if !ok {
		e.logger.Error("invalid message format",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID))
		return
	}

	// Deserialize event
	var event ports.Event
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		e.logger.Error("failed to unmarshal event",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	// Call handler
	if err := handler(ctx, event); err != nil {
		e.logger.Error("handler error",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
		return
	}

	// Acknowledge message
	if err := e.client.XAck(ctx, streamKey, e.consumerGroup, message.ID).Err(); err != nil {
		e.logger.Error("failed to acknowledge message",
			zap.String("stream", streamKey),
			zap.String("message_id", message.ID),
			zap.Error(err))
	}
}

// Unsubscribe stops every reader of a topic
func (e *StreamsEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	cancels := e.cancels[topic]
	delete(e.cancels, topic)
	e.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return nil
}

// Close stops all readers and waits for them. The Redis client is closed by
// the caller.
func (e *StreamsEventBus) Close() error {
	e.mu.Lock()
	for topic, cancels := range e.cancels {
		for _, cancel := range cancels {
			cancel()
		}
		delete(e.cancels, topic)
	}
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// getStreamKey returns the Redis stream key for a topic
func getStreamKey(topic string) string {
	return fmt.Sprintf("maestro:events:%s", topic)
}
