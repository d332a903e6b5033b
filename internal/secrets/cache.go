package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	platformredis "onboarder/internal/platform/redis"
)

// CachedStore is a Redis read-through cache in front of another Store.
// Misses and marshal problems degrade to the underlying store; the cache is
// an optimization, never a source of truth.
type CachedStore struct {
	next   Store
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(next Store, client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger}
}

func (s *CachedStore) Get(ctx context.Context, name string) (map[string]string, error) {
	key := "secret:" + name

	raw, err := s.client.Client.Get(ctx, key).Result()
	if err == nil {
		doc := map[string]string{}
		if err := json.Unmarshal([]byte(raw), &doc); err == nil {
			return doc, nil
		}
		// Unreadable cache entry: fall through and overwrite.
	} else if !errors.Is(err, goredis.Nil) {
		s.logger.WarnContext(ctx, "secret cache read failed", "secret", name, "error", err)
	}

	doc, err := s.next.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(doc); err == nil {
		if err := s.client.Client.Set(ctx, key, encoded, s.ttl).Err(); err != nil {
			s.logger.WarnContext(ctx, "secret cache write failed", "secret", name, "error", err)
		}
	}
	return doc, nil
}
