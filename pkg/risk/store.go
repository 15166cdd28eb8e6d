package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrScoreNotFound is returned when no score has been computed for a user.
var ErrScoreNotFound = errors.New("risk: score not found")

// ScoreStore persists derived risk scores.
type ScoreStore interface {
	Put(ctx context.Context, score *Score) error
	Get(ctx context.Context, userID string) (*Score, error)
	All(ctx context.Context) ([]*Score, error)
}

// MemoryScoreStore is an in-memory ScoreStore.
type MemoryScoreStore struct {
	mu     sync.RWMutex
	scores map[string]*Score
}

func NewMemoryScoreStore() *MemoryScoreStore {
	return &MemoryScoreStore{scores: make(map[string]*Score)}
}

func (s *MemoryScoreStore) Put(_ context.Context, score *Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *score
	s.scores[score.UserID] = &cp
	return nil
}

func (s *MemoryScoreStore) Get(_ context.Context, userID string) (*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	score, ok := s.scores[userID]
	if !ok {
		return nil, ErrScoreNotFound
	}
	cp := *score
	return &cp, nil
}

func (s *MemoryScoreStore) All(_ context.Context) ([]*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Score, 0, len(s.scores))
	for _, score := range s.scores {
		cp := *score
		out = append(out, &cp)
	}
	return out, nil
}

// RedisScoreCache is a read-through cache in front of a ScoreStore, for
// deployments where many front ends poll scores far more often than the
// engine recomputes them.
type RedisScoreCache struct {
	inner  ScoreStore
	client *redis.Client
	ttl    time.Duration
}

// NewRedisScoreCache wraps inner with a Redis cache.
func NewRedisScoreCache(inner ScoreStore, client *redis.Client, ttl time.Duration) *RedisScoreCache {
	return &RedisScoreCache{inner: inner, client: client, ttl: ttl}
}

func scoreKey(userID string) string { return "tradecore:risk:" + userID }

func (c *RedisScoreCache) Put(ctx context.Context, score *Score) error {
	if err := c.inner.Put(ctx, score); err != nil {
		return err
	}
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("risk: marshal score: %w", err)
	}
	if err := c.client.Set(ctx, scoreKey(score.UserID), data, c.ttl).Err(); err != nil {
		// Cache write failure is not fatal; the inner store is authoritative.
		return nil
	}
	return nil
}

func (c *RedisScoreCache) Get(ctx context.Context, userID string) (*Score, error) {
	data, err := c.client.Get(ctx, scoreKey(userID)).Bytes()
	if err == nil {
		var score Score
		if jsonErr := json.Unmarshal(data, &score); jsonErr == nil {
			return &score, nil
		}
		// Corrupt cache entry falls through to the inner store.
	}

	score, err := c.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(score); err == nil {
		_ = c.client.Set(ctx, scoreKey(userID), data, c.ttl).Err()
	}
	return score, nil
}

func (c *RedisScoreCache) All(ctx context.Context) ([]*Score, error) {
	return c.inner.All(ctx)
}
