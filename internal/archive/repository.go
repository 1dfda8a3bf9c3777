// Package archive stores finished games durably. Terminated games are archived,
// never deleted; the live store only keeps them for a short grace period.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
)

var ErrDuplicateGame = errors.New("game already archived")

// Record is the durable row of one finished game.
type Record struct {
	ID         int64
	GameID     string
	BoardID    string
	HumanColor domain.Color
	Difficulty int
	Result     domain.Result
	DrawReason string
	Winner     domain.Color
	FinalFEN   string
	Moves      []domain.MoveRecord
	FaultCode  domain.FaultCode
	StartedAt  time.Time
	EndedAt    time.Time
	Duration   time.Duration
}

type Repository interface {
	InsertGame(ctx context.Context, rec *Record) (int64, error)
	GetGame(ctx context.Context, gameID string) (*Record, error)
	RecentByBoard(ctx context.Context, boardID string, limit int) ([]*Record, error)
}

type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &repository{db: db}
}

func (r *repository) InsertGame(ctx context.Context, rec *Record) (int64, error) {
	if rec == nil {
		return 0, fmt.Errorf("nil archive record")
	}
	moves, err := json.Marshal(rec.Moves)
	if err != nil {
		return 0, fmt.Errorf("marshal moves: %w", err)
	}

	const query = `
		INSERT INTO archived_games (
			game_id,
			board_id,
			human_color,
			difficulty,
			result,
			draw_reason,
			winner,
			final_fen,
			moves,
			fault_code,
			started_at,
			ended_at,
			duration_ms
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
		ON CONFLICT (game_id) DO NOTHING
		RETURNING id`

	var id sql.NullInt64
	err = r.db.QueryRowContext(
		ctx,
		query,
		rec.GameID,
		rec.BoardID,
		rec.HumanColor,
		rec.Difficulty,
		rec.Result,
		rec.DrawReason,
		rec.Winner,
		rec.FinalFEN,
		moves,
		rec.FaultCode,
		rec.StartedAt,
		rec.EndedAt,
		rec.Duration.Milliseconds(),
	).Scan(&id)
	if err == sql.ErrNoRows || (err == nil && !id.Valid) {
		return 0, ErrDuplicateGame
	}
	if err != nil {
		return 0, fmt.Errorf("insert archived game: %w", err)
	}
	return id.Int64, nil
}

const selectColumns = `
	id,
	game_id,
	board_id,
	human_color,
	difficulty,
	result,
	draw_reason,
	winner,
	final_fen,
	moves,
	fault_code,
	started_at,
	ended_at,
	duration_ms`

func (r *repository) GetGame(ctx context.Context, gameID string) (*Record, error) {
	query := `SELECT` + selectColumns + `
		FROM archived_games
		WHERE game_id = $1`

	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select archived game: %w", err)
	}
	return rec, nil
}

func (r *repository) RecentByBoard(ctx context.Context, boardID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT` + selectColumns + `
		FROM archived_games
		WHERE board_id = $1
		ORDER BY ended_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, boardID, limit)
	if err != nil {
		return nil, fmt.Errorf("select archived games: %w", err)
	}
	defer rows.Close()

	out := make([]*Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan archived game: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec        Record
		movesJSON  []byte
		durationMS sql.NullInt64
	)
	if err := row.Scan(
		&rec.ID,
		&rec.GameID,
		&rec.BoardID,
		&rec.HumanColor,
		&rec.Difficulty,
		&rec.Result,
		&rec.DrawReason,
		&rec.Winner,
		&rec.FinalFEN,
		&movesJSON,
		&rec.FaultCode,
		&rec.StartedAt,
		&rec.EndedAt,
		&durationMS,
	); err != nil {
		return nil, err
	}
	if durationMS.Valid {
		rec.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	}
	if err := json.Unmarshal(movesJSON, &rec.Moves); err != nil {
		return nil, fmt.Errorf("unmarshal moves: %w", err)
	}
	return &rec, nil
}

// RecordOf converts a finished game into its archive row.
func RecordOf(g *domain.Game) *Record {
	rec := &Record{
		GameID:     g.ID,
		BoardID:    g.BoardID,
		HumanColor: g.HumanColor,
		Difficulty: g.Difficulty,
		Result:     g.Result,
		DrawReason: g.DrawReason,
		Winner:     g.Winner,
		FinalFEN:   g.FEN,
		Moves:      g.Moves,
		StartedAt:  g.CreatedAt,
		EndedAt:    g.EndedAt,
	}
	if g.Fault != nil {
		rec.FaultCode = g.Fault.Code
	}
	if !g.EndedAt.IsZero() {
		rec.Duration = g.EndedAt.Sub(g.CreatedAt)
	}
	return rec
}
