package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"go.uber.org/zap"
)

// Service converts finished games into archive rows. It satisfies the
// registry's archiver hook.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) ArchiveGame(ctx context.Context, g *domain.Game) error {
	id, err := s.repo.InsertGame(ctx, RecordOf(g))
	if errors.Is(err, ErrDuplicateGame) {
		obslog.L().Debug("archive_duplicate", zap.String("game_id", g.ID))
		return nil
	}
	if err != nil {
		return err
	}
	obslog.L().Info("game_archived",
		zap.String("game_id", g.ID),
		zap.Int64("archive_id", id),
		zap.String("result", string(g.Result)))
	return nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS archived_games (
		id          BIGSERIAL PRIMARY KEY,
		game_id     TEXT NOT NULL UNIQUE,
		board_id    TEXT NOT NULL,
		human_color TEXT NOT NULL,
		difficulty  INT NOT NULL,
		result      TEXT NOT NULL,
		draw_reason TEXT NOT NULL DEFAULT '',
		winner      TEXT NOT NULL DEFAULT '',
		final_fen   TEXT NOT NULL,
		moves       JSONB NOT NULL,
		fault_code  TEXT NOT NULL DEFAULT '',
		started_at  TIMESTAMPTZ NOT NULL,
		ended_at    TIMESTAMPTZ NOT NULL,
		duration_ms BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_archived_games_board
		ON archived_games (board_id, ended_at DESC);`

// EnsureSchema creates the archive table when it does not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure archive schema: %w", err)
	}
	return nil
}
