// Package projection fans committed game snapshots out to external consumers.
// The coordinator publishes; nothing here can influence game state.
package projection

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Sink consumes one snapshot per committed transition.
type Sink interface {
	Publish(snap domain.Snapshot)
}

// Multi forwards each snapshot to every sink in order.
type Multi []Sink

func (m Multi) Publish(snap domain.Snapshot) {
	for _, s := range m {
		s.Publish(snap)
	}
}

// RedisSink publishes snapshots on redis pub/sub for out-of-process consumers
// (dashboards, the vision service's expected-position feed).
type RedisSink struct {
	rdb *redis.Client
}

func NewRedisSink(rdb *redis.Client) *RedisSink { return &RedisSink{rdb: rdb} }

// Channel is the pub/sub channel carrying one game's snapshots.
func Channel(gameID string) string { return "game.snapshot." + gameID }

func (s *RedisSink) Publish(snap domain.Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		obslog.L().Error("snapshot_marshal_failed", zap.String("game_id", snap.GameID), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.rdb.Publish(ctx, Channel(snap.GameID), raw).Err(); err != nil {
		obslog.L().Warn("snapshot_publish_failed", zap.String("game_id", snap.GameID), zap.Error(err))
	}
}

// Hub is the in-process fanout used by websocket subscribers. Slow subscribers
// lose intermediate snapshots rather than blocking the publisher; every
// subscriber always eventually sees the latest state.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Snapshot]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan domain.Snapshot]struct{})}
}

// Subscribe returns a channel of snapshots for the game and a cancel func.
func (h *Hub) Subscribe(gameID string) (<-chan domain.Snapshot, func()) {
	ch := make(chan domain.Snapshot, 8)
	h.mu.Lock()
	set, ok := h.subs[gameID]
	if !ok {
		set = make(map[chan domain.Snapshot]struct{})
		h.subs[gameID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[gameID]; ok {
			if _, live := set[ch]; live {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, gameID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Publish(snap domain.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[snap.GameID] {
		select {
		case ch <- snap:
		default:
			// Drop the oldest buffered snapshot to make room for the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
