package server

import (
	"context"
	"encoding/json"
	"fmt"
	"roomchat/internal/model"
	"roomchat/internal/service/redis"
	"sync"
)

type (
	// HistoryStore keeps the most recent messages of each room for replay
	// on join. List returns them oldest first.
	HistoryStore interface {
		Append(ctx context.Context, room string, m model.Message) error
		List(ctx context.Context, room string) ([]model.Message, error)
		RemoveUser(ctx context.Context, room, user string) error
	}

	RedisHistory struct {
		redisService *redis.RedisService
		limit        int64
	}

	MemoryHistory struct {
		mu    sync.RWMutex
		rooms map[string][]model.Message
		limit int
	}
)

func historyKey(room string) string {
	return fmt.Sprintf("room: %s, messages", room)
}

func NewRedisHistory(redisSvc *redis.RedisService, limit int) *RedisHistory {
	return &RedisHistory{redisService: redisSvc, limit: int64(limit)}
}

func (h *RedisHistory) Append(ctx context.Context, room string, m model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if h.limit <= 0 {
		return nil
	}
	return h.redisService.RPushCapped(ctx, historyKey(room), h.limit, data)
}

func (h *RedisHistory) List(ctx context.Context, room string) ([]model.Message, error) {
	vals, err := h.redisService.LRange(ctx, historyKey(room))
	if err != nil {
		return nil, err
	}

	res := make([]model.Message, 0, len(vals))
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, nil
}

// RemoveUser deletes the user's entries by exact value, so messages
// appended while it runs survive.
func (h *RedisHistory) RemoveUser(ctx context.Context, room, user string) error {
	vals, err := h.redisService.LRange(ctx, historyKey(room))
	if err != nil {
		return err
	}

	var drop []any
	for _, v := range vals {
		var m model.Message
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return err
		}
		if m.User == user {
			drop = append(drop, v)
		}
	}
	return h.redisService.LRemAll(ctx, historyKey(room), drop...)
}

func NewMemoryHistory(limit int) *MemoryHistory {
	return &MemoryHistory{rooms: make(map[string][]model.Message), limit: limit}
}

func (h *MemoryHistory) Append(_ context.Context, room string, m model.Message) error {
	if h.limit <= 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := append(h.rooms[room], m)
	if len(msgs) > h.limit {
		msgs = append([]model.Message(nil), msgs[len(msgs)-h.limit:]...)
	}
	h.rooms[room] = msgs
	return nil
}

func (h *MemoryHistory) List(_ context.Context, room string) ([]model.Message, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]model.Message{}, h.rooms[room]...), nil
}

func (h *MemoryHistory) RemoveUser(_ context.Context, room, user string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs := h.rooms[room]
	keep := msgs[:0]
	for _, m := range msgs {
		if m.User != user {
			keep = append(keep, m)
		}
	}
	h.rooms[room] = keep
	return nil
}

var (
	_ HistoryStore = (*RedisHistory)(nil)
	_ HistoryStore = (*MemoryHistory)(nil)
)
