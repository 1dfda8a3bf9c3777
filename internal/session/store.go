package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ttlFinished keeps a finished game readable for a grace period after the
// archive has the durable copy.
const ttlFinished = time.Hour

// Store persists games and the per-board exclusivity claim in redis. Live
// games have no TTL; they are removed from the active index on termination.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store { return &Store{rdb: rdb} }

func (s *Store) keyGame(gameID string) string   { return "game:" + gameID }
func (s *Store) keyBoard(boardID string) string { return "board:" + boardID + ":game" }
func (s *Store) keyActive() string              { return "games:active" }

// ClaimBoard takes the exclusive claim for the board. Returns false when
// another non-terminal game already holds it.
func (s *Store) ClaimBoard(ctx context.Context, boardID, gameID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.keyBoard(boardID), gameID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("claim board %s: %w", boardID, err)
	}
	return ok, nil
}

// ReleaseBoard drops the claim, but only if this game still holds it.
func (s *Store) ReleaseBoard(ctx context.Context, boardID, gameID string) error {
	holder, err := s.rdb.Get(ctx, s.keyBoard(boardID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read board claim %s: %w", boardID, err)
	}
	if holder != gameID {
		return nil
	}
	return s.rdb.Del(ctx, s.keyBoard(boardID)).Err()
}

func (s *Store) SaveGame(ctx context.Context, g *domain.Game) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal game %s: %w", g.ID, err)
	}
	ttl := time.Duration(0)
	if g.Phase.Terminal() {
		ttl = ttlFinished
	}
	if err := s.rdb.Set(ctx, s.keyGame(g.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("save game %s: %w", g.ID, err)
	}
	if g.Phase.Terminal() {
		return s.rdb.SRem(ctx, s.keyActive(), g.ID).Err()
	}
	return s.rdb.SAdd(ctx, s.keyActive(), g.ID).Err()
}

// LoadGame returns nil without error when the game is unknown.
func (s *Store) LoadGame(ctx context.Context, gameID string) (*domain.Game, error) {
	raw, err := s.rdb.Get(ctx, s.keyGame(gameID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	var g domain.Game
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game %s: %w", gameID, err)
	}
	return &g, nil
}

// ActiveGameIDs lists games that were live at the last save.
func (s *Store) ActiveGameIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, s.keyActive()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active games: %w", err)
	}
	return ids, nil
}
