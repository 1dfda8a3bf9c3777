// Package gateway defines the narrow async contracts between the turn
// coordinator and the three external collaborators. A gateway accepts a
// request, returns immediately, and later posts exactly one terminal event
// (succeeded or failed) to the event bus. Gateways never retry internally;
// retry policy belongs to the turn coordinator.
package gateway

import (
	"context"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/board"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
)

// Publisher is the posting side of the event bus.
type Publisher interface {
	Post(ev eventbus.Event) bool
}

// DetectRequest asks the vision collaborator whether the human moved.
type DetectRequest struct {
	GameID        string
	CorrelationID string
	BoardID       string
	FEN           string
	Attempt       int
	Deadline      time.Time
}

// ComputeRequest asks the chess engine for a move.
type ComputeRequest struct {
	GameID        string
	CorrelationID string
	StartFEN      string
	MovesUCI      []string
	Difficulty    int
	TimeBudget    time.Duration
	Deadline      time.Time
}

// ExecuteRequest asks the robot arm to physically perform an already
// validated move. Callers guarantee legality.
type ExecuteRequest struct {
	GameID        string
	CorrelationID string
	BoardID       string
	From          string
	To            string
	Kind          board.MoveKind
	Promotion     string
	Deadline      time.Time
}

type Detector interface {
	DetectMove(ctx context.Context, req DetectRequest)
}

type Decider interface {
	ComputeMove(ctx context.Context, req ComputeRequest)
}

type Executor interface {
	ExecuteMove(ctx context.Context, req ExecuteRequest)
}
