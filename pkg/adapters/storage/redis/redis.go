package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/maestro/pkg/ports"
)

const keyPrefix = "maestro:definitions:"

// DefinitionStore implements DefinitionStore using Redis
type DefinitionStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewDefinitionStore creates a new Redis definition store. A zero ttl keeps
// documents until deleted.
func NewDefinitionStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *DefinitionStore {
	return &DefinitionStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Save stores document under name
func (s *DefinitionStore) Save(ctx context.Context, name string, document []byte) error {
	// Save to Redis with TTL
	if err := s.client.Set(ctx, getDefinitionKey(name), document, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save definition: %w", err)
	}

	s.logger.Debug("definition saved",
		zap.String("name", name),
		zap.Int("bytes", len(document)))

	return nil
}

// Load returns the document stored under name
func (s *DefinitionStore) Load(ctx context.Context, name string) ([]byte, error) {
	// Get from Redis
	data, err := s.client.Get(ctx, getDefinitionKey(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ports.ErrDefinitionNotFound, name)
		}
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return data, nil
}

// Delete removes the document stored under name
func (s *DefinitionStore) Delete(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, getDefinitionKey(name)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ports.ErrDefinitionNotFound, name)
	}

	s.logger.Debug("definition deleted", zap.String("name", name))
	return nil
}

// Exists checks if a document is stored under name
func (s *DefinitionStore) Exists(ctx context.Context, name string) (bool, error) {
	result, err := s.client.Exists(ctx, getDefinitionKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}

	return result > 0, nil
}

// List returns stored names in sorted order
func (s *DefinitionStore) List(ctx context.Context) ([]string, error) {
	var cursor uint64
	var names []string

	// Scan for keys
	for {
		batch, next, err := s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}
		// Extract names from keys
		for _, key := range batch {
			if name := strings.TrimPrefix(key, keyPrefix); name != "" {
				names = append(names, name)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Strings(names)
	return names, nil
}

// getDefinitionKey returns the Redis key for a definition
func getDefinitionKey(name string) string {
	return keyPrefix + name
}
