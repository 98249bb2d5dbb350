// Package sessionstore holds small string values for the lifetime of one
// chat session.
package sessionstore

import (
	"context"
	"errors"
	"fmt"
	redisSvc "roomchat/internal/service/redis"
	"sync"
	"time"
)

// ErrNotFound is returned by Get for an unset name.
var ErrNotFound = errors.New("sessionstore: not found")

type (
	// Store is session-scoped key/value storage.
	Store interface {
		Get(ctx context.Context, name string) (string, error)
		Set(ctx context.Context, name, value string) error
		Delete(ctx context.Context, name string) error
	}

	Memory struct {
		mu     sync.RWMutex
		values map[string]string
	}

	// Redis namespaces every name under one session id and expires it with
	// the session.
	Redis struct {
		redis     *redisSvc.RedisService
		sessionID string
		ttl       time.Duration
	}
)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}

func NewRedis(redis *redisSvc.RedisService, sessionID string, ttl time.Duration) *Redis {
	return &Redis{
		redis:     redis,
		sessionID: sessionID,
		ttl:       ttl,
	}
}

func (r *Redis) key(name string) string {
	return fmt.Sprintf("session:%s:%s", r.sessionID, name)
}

func (r *Redis) Get(ctx context.Context, name string) (string, error) {
	v, err := r.redis.Get(ctx, r.key(name))
	if errors.Is(err, redisSvc.ErrNotFound) {
		return "", ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, name, value string) error {
	return r.redis.Set(ctx, r.key(name), value, r.ttl)
}

func (r *Redis) Delete(ctx context.Context, name string) error {
	return r.redis.Del(ctx, r.key(name))
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Redis)(nil)
)
