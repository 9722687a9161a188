package tabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrEmptyRedisURL is returned by OpenRedis for a blank URL.
	ErrEmptyRedisURL = errors.New("empty redis connection URL")

	// ErrRedisNotReady is returned by OpenRedis when the server does not answer PING.
	ErrRedisNotReady = errors.New("redis did not answer ping")
)

// OpenRedis parses a redis:// or rediss:// URL and checks the server answers.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, ErrEmptyRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisNotReady, err)
	}
	return client, nil
}

// RedisStorage keeps one hash per session: field = tab id, value = JSON record.
// Every Put refreshes the key's TTL so an abandoned session's records vanish.
type RedisStorage struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStorage wraps client. ttl should span a few heartbeat intervals.
func NewRedisStorage(client redis.Cmdable, ttl time.Duration) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be positive", ErrConfig)
	}
	return &RedisStorage{client: client, ttl: ttl}, nil
}

// Put writes rec and refreshes the TTL in one transaction.
func (s *RedisStorage) Put(ctx context.Context, key string, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, rec.TabID, b)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put: %w", err)
	}
	return nil
}

// List returns the records under key ordered by tab id. Malformed values are skipped.
func (s *RedisStorage) List(ctx context.Context, key string) ([]Record, error) {
	raw, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list: %w", err)
	}
	out := make([]Record, 0, len(raw))
	for field, v := range raw {
		var r Record
		if err := json.Unmarshal([]byte(v), &r); err != nil || r.TabID != field {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out, nil
}

// Delete removes one tab's record.
func (s *RedisStorage) Delete(ctx context.Context, key, tabID string) error {
	if err := s.client.HDel(ctx, key, tabID).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}
