package services

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// RedisSink mirrors the error log into a single redis string key
type RedisSink struct {
	client *redis.Client
	key    string
}

// NewRedisSink connects to redis and verifies the connection with a ping.
// Callers fall back to a FileSink when this fails.
func NewRedisSink(ctx context.Context, addr, password string, db int, key string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis not available at %s: %w", addr, err)
	}

	return &RedisSink{client: client, key: key}, nil
}

func (s *RedisSink) Write(ctx context.Context, data []byte) error {
	return s.client.Set(ctx, s.key, data, 0).Err()
}

// Read returns the stored log, or nil when the key does not exist
func (s *RedisSink) Read(ctx context.Context) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	return val, err
}

func (s *RedisSink) Describe() string {
	return fmt.Sprintf("redis://%s/%s", s.client.Options().Addr, s.key)
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}

// MultiSink writes to every sink, returning the first error
type MultiSink []ErrorSink

func (m MultiSink) Write(ctx context.Context, data []byte) error {
	var firstErr error
	for _, s := range m {
		if err := s.Write(ctx, data); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s: %w", s.Describe(), err)
		}
	}
	return firstErr
}

func (m MultiSink) Describe() string {
	desc := ""
	for i, s := range m {
		if i > 0 {
			desc += ", "
		}
		desc += s.Describe()
	}
	return desc
}
