package archive

import (
	"context"
	"sort"
	"sync"
)

// MemRepository is the in-memory Repository used when no database is
// configured and in tests.
type MemRepository struct {
	mu     sync.RWMutex
	nextID int64
	byGame map[string]*Record
}

func NewMemRepository() *MemRepository {
	return &MemRepository{byGame: make(map[string]*Record)}
}

func (m *MemRepository) InsertGame(_ context.Context, rec *Record) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byGame[rec.GameID]; ok {
		return 0, ErrDuplicateGame
	}
	m.nextID++
	cp := *rec
	cp.ID = m.nextID
	m.byGame[rec.GameID] = &cp
	return cp.ID, nil
}

func (m *MemRepository) GetGame(_ context.Context, gameID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byGame[gameID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MemRepository) RecentByBoard(_ context.Context, boardID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Record, 0, limit)
	for _, rec := range m.byGame {
		if rec.BoardID == boardID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
