// Package redis provides a Redis-backed storage.Store, used when several view
// server instances share client state.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/jmcleod/emporia/storage"
)

const defaultTimeout = 2 * time.Second

// Store implements storage.Store on top of a Redis client. Keys are prefixed
// with the origin so several origins can share one Redis database.
type Store struct {
	client  goredis.Cmdable
	prefix  string
	timeout time.Duration
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTimeout bounds each Redis round trip. Default: 2s.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) {
		s.timeout = d
	}
}

// NewStore returns a Store for origin using client.
func NewStore(client goredis.Cmdable, origin string, opts ...Option) *Store {
	s := &Store{
		client:  client,
		prefix:  "emporia:" + origin + ":",
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) Get(key string) (string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", fmt.Errorf("%s: %w", key, storage.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

func (s *Store) Set(key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}
