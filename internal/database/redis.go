package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tasvid/internal/config"
	"tasvid/internal/metrics"
	"tasvid/internal/models"
)

// RedisStore implements Store for Redis. Entry order lives in a list of
// IDs, the entries themselves in a hash keyed by ID.
type RedisStore struct {
	client   *redis.Client
	orderKey string
	dataKey  string
	timeout  time.Duration
	metrics  *metrics.Metrics
}

// NewRedisStore creates a new Redis store
func NewRedisStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.HistoryURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url error: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.DBMaxConnections
	opts.MinIdleConns = min(2, cfg.DBMaxConnections) // Keep a few connections warm (or max if max < 2)
	opts.ConnMaxLifetime = 1 * time.Hour             // Recycle connections after 1 hour
	opts.ConnMaxIdleTime = 30 * time.Minute          // Close idle connections after 30 min

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisStore{
		client:   client,
		orderKey: cfg.KeyPrefix + "history",
		dataKey:  cfg.KeyPrefix + "history:entries",
		timeout:  cfg.DatabaseQueryTimeout,
		metrics:  m,
	}, nil
}

func (s *RedisStore) begin(ctx context.Context, op string) (context.Context, func()) {
	start := time.Now()
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	return queryCtx, func() {
		cancel()
		s.metrics.HistoryOpDuration.WithLabelValues("redis", op).Observe(time.Since(start).Seconds())
	}
}

// List returns every entry in append order
func (s *RedisStore) List(ctx context.Context) ([]models.HistoryEntry, error) {
	queryCtx, done := s.begin(ctx, "list")
	defer done()

	ids, err := s.client.LRange(queryCtx, s.orderKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	vals, err := s.client.HMGet(queryCtx, s.dataKey, ids...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.HistoryEntry, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// order list and hash drifted apart; skip the orphan
			continue
		}
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Get returns the entry with the given ID
func (s *RedisStore) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	queryCtx, done := s.begin(ctx, "get")
	defer done()

	data, err := s.client.HGet(queryCtx, s.dataKey, id).Bytes()
	if err == redis.Nil {
		return nil, models.NotFound("history entry", id)
	}
	if err != nil {
		return nil, err
	}

	var e models.HistoryEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Append stores entry and records its position
func (s *RedisStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	queryCtx, done := s.begin(ctx, "append")
	defer done()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	added, err := s.client.HSetNX(queryCtx, s.dataKey, entry.ID, data).Result()
	if err != nil {
		return err
	}
	if !added {
		return ErrDuplicate
	}
	return s.client.RPush(queryCtx, s.orderKey, entry.ID).Err()
}

// RewritePath updates entries recorded at oldPath
func (s *RedisStore) RewritePath(ctx context.Context, oldPath, newPath string) (int, error) {
	queryCtx, done := s.begin(ctx, "rewrite_path")
	defer done()

	all, err := s.client.HGetAll(queryCtx, s.dataKey).Result()
	if err != nil {
		return 0, err
	}

	updates := make(map[string]interface{})
	for id, raw := range all {
		var e models.HistoryEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return 0, err
		}
		if e.Path != oldPath {
			continue
		}
		e.Path = newPath
		e.Title = TitleFromPath(newPath)
		data, err := json.Marshal(e)
		if err != nil {
			return 0, err
		}
		updates[id] = data
	}
	if len(updates) == 0 {
		return 0, nil
	}
	if err := s.client.HSet(queryCtx, s.dataKey, updates).Err(); err != nil {
		return 0, err
	}
	return len(updates), nil
}

// Delete removes the entry with the given ID
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	queryCtx, done := s.begin(ctx, "delete")
	defer done()

	n, err := s.client.HDel(queryCtx, s.dataKey, id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.NotFound("history entry", id)
	}
	return s.client.LRem(queryCtx, s.orderKey, 0, id).Err()
}

// Clear removes every entry
func (s *RedisStore) Clear(ctx context.Context) error {
	queryCtx, done := s.begin(ctx, "clear")
	defer done()

	return s.client.Del(queryCtx, s.orderKey, s.dataKey).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
