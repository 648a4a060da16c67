package diagnostics

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisDefaultKey = "gtaskfs:diagnostics"

// RedisSink keeps the newest entries in a capped list.
type RedisSink struct {
	client   *redis.Client
	key      string
	capacity int64
}

// NewRedisSink accepts a redis:// URL. The optional "key" query parameter
// names the list.
func NewRedisSink(dsn string) (*RedisSink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	key := redisDefaultKey
	if idx := strings.Index(dsn, "?"); idx >= 0 {
		query := dsn[idx+1:]
		dsn = dsn[:idx]
		for _, pair := range strings.Split(query, "&") {
			if name, value, ok := strings.Cut(pair, "="); ok && name == "key" && strings.TrimSpace(value) != "" {
				key = strings.TrimSpace(value)
			}
		}
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, err
	}
	return NewRedisSinkWithClient(redis.NewClient(opts), key, DefaultCapacity), nil
}

func NewRedisSinkWithClient(client *redis.Client, key string, capacity int) *RedisSink {
	if strings.TrimSpace(key) == "" {
		key = redisDefaultKey
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RedisSink{client: client, key: key, capacity: int64(capacity)}
}

func (s *RedisSink) Record(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key, payload)
	pipe.LTrim(ctx, s.key, -s.capacity, -1)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	values, err := s.client.LRange(ctx, s.key, start, -1).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(values))
	for _, value := range values {
		var entry Entry
		if err := json.Unmarshal([]byte(value), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
