package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Mover identifies which side committed a move.
type Mover string

const (
	MoverHuman  Mover = "human"
	MoverEngine Mover = "engine"
)

// Phase is the turn coordinator's state-machine state.
type Phase string

const (
	PhaseCreated         Phase = "created"
	PhaseAwaitingHuman   Phase = "awaiting_human_move"
	PhaseConfirmingHuman Phase = "confirming_human_move"
	PhaseApplyingHuman   Phase = "applying_human_move"
	PhaseAwaitingEngine  Phase = "awaiting_engine_move"
	PhaseApplyingEngine  Phase = "applying_engine_move"
	PhaseExecutingRobot  Phase = "executing_robot_move"
	PhasePaused          Phase = "paused"
	PhaseGameOver        Phase = "game_over"
)

// awaiting-collaborator phases carry exactly one in-flight request.
func (p Phase) Awaiting() bool {
	switch p {
	case PhaseConfirmingHuman, PhaseAwaitingEngine, PhaseExecutingRobot:
		return true
	}
	return false
}

func (p Phase) Terminal() bool { return p == PhaseGameOver }

type RequestKind string

const (
	RequestDetectMove  RequestKind = "detect_move"
	RequestComputeMove RequestKind = "compute_move"
	RequestExecuteMove RequestKind = "execute_move"
)

// PendingRequest describes the single in-flight collaborator request of a game.
// Attempt starts at 1 and counts semantic retries of the same request.
type PendingRequest struct {
	Kind          RequestKind `json:"kind"`
	CorrelationID string      `json:"correlation_id"`
	IssuedAt      time.Time   `json:"issued_at"`
	Deadline      time.Time   `json:"deadline"`
	Attempt       int         `json:"attempt"`
}

// MoveRecord is one committed move. Appended only after legality has been
// confirmed against the position it was played from.
type MoveRecord struct {
	Mover       Mover     `json:"mover"`
	UCI         string    `json:"uci"`
	SAN         string    `json:"san"`
	FENAfter    string    `json:"fen_after"`
	Capture     bool      `json:"capture,omitempty"`
	Check       bool      `json:"check,omitempty"`
	Checkmate   bool      `json:"checkmate,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

type FaultCode string

const (
	FaultDetectionTimeout   FaultCode = "detection_timeout"
	FaultBoardMismatch      FaultCode = "board_mismatch"
	FaultGraspFailure       FaultCode = "grasp_failure"
	FaultPathBlocked        FaultCode = "path_blocked"
	FaultHardwareFault      FaultCode = "hardware_fault"
	FaultExecutionTimeout   FaultCode = "execution_timeout"
	FaultEngineUnavailable  FaultCode = "engine_unavailable"
	FaultInvariantViolation FaultCode = "invariant_violation"
	FaultRestartRecovery    FaultCode = "restart_recovery"
)

// Fault records why a game is Paused (or, for fatal faults, why it was forced
// over). ResumeKind is the request to re-issue on operator resume.
type Fault struct {
	Code        FaultCode   `json:"code"`
	Detail      string      `json:"detail,omitempty"`
	ResumePhase Phase       `json:"resume_phase,omitempty"`
	ResumeKind  RequestKind `json:"resume_kind,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

type Result string

const (
	ResultInProgress  Result = "in_progress"
	ResultCheckmate   Result = "checkmate"
	ResultStalemate   Result = "stalemate"
	ResultDraw        Result = "draw"
	ResultResignation Result = "resignation"
	ResultAbort       Result = "abort"
	ResultFatal       Result = "fatal"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Game is the authoritative state of one physical match. Mutated only by the
// game's own turn coordinator actor.
type Game struct {
	ID          string `json:"id"`
	BoardID     string `json:"board_id"`
	HumanColor  Color  `json:"human_color"`
	EngineColor Color  `json:"engine_color"`

	// StartFEN is empty for a standard start; FEN is the current position.
	StartFEN string       `json:"start_fen,omitempty"`
	FEN      string       `json:"fen"`
	Moves    []MoveRecord `json:"moves"`

	Phase      Phase           `json:"phase"`
	Pending    *PendingRequest `json:"pending,omitempty"`
	Fault      *Fault          `json:"fault,omitempty"`
	Difficulty int             `json:"difficulty"`

	Result     Result `json:"result"`
	DrawReason string `json:"draw_reason,omitempty"`
	Winner     Color  `json:"winner,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

func NewGame(id, boardID string, humanColor Color, difficulty int, now time.Time) *Game {
	if humanColor != Black {
		humanColor = White
	}
	return &Game{
		ID:          id,
		BoardID:     boardID,
		HumanColor:  humanColor,
		EngineColor: humanColor.Other(),
		FEN:         StartFEN,
		Phase:       PhaseCreated,
		Difficulty:  difficulty,
		Result:      ResultInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ToMove derives the side to move from the committed move log of a standard
// game: white to move iff the log length is even.
func (g *Game) ToMove() Color {
	if len(g.Moves)%2 == 0 {
		return White
	}
	return Black
}

func (g *Game) LastMove() *MoveRecord {
	if len(g.Moves) == 0 {
		return nil
	}
	return &g.Moves[len(g.Moves)-1]
}

// MovesUCI returns the committed move log in UCI notation.
func (g *Game) MovesUCI() []string {
	out := make([]string, len(g.Moves))
	for i := range g.Moves {
		out[i] = g.Moves[i].UCI
	}
	return out
}

var (
	ErrTurnParity      = errors.New("move log parity disagrees with position turn")
	ErrPendingMismatch = errors.New("pending request does not match phase")
)

// Validate checks the structural invariants that must hold after every
// committed transition. A violation here is a defect, not an input error.
func (g *Game) Validate() error {
	turn := fenTurn(g.FEN)
	if turn != "" {
		want := "w"
		if g.ToMove() == Black {
			want = "b"
		}
		if turn != want {
			return fmt.Errorf("%w: %d moves, fen turn %q", ErrTurnParity, len(g.Moves), turn)
		}
	}
	if g.Phase.Awaiting() && g.Pending == nil {
		return fmt.Errorf("%w: phase %s with no pending request", ErrPendingMismatch, g.Phase)
	}
	if !g.Phase.Awaiting() && g.Pending != nil {
		return fmt.Errorf("%w: phase %s with pending %s", ErrPendingMismatch, g.Phase, g.Pending.Kind)
	}
	if g.Pending != nil && g.Pending.Deadline.IsZero() {
		return fmt.Errorf("%w: pending %s has no deadline", ErrPendingMismatch, g.Pending.Kind)
	}
	return nil
}

func fenTurn(fen string) string {
	parts := strings.Fields(fen)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}
