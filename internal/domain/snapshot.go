package domain

import "time"

// Candidate is an unconfirmed move claim from the detector or the decider.
// Discarded once it is either committed or rejected.
type Candidate struct {
	Source     Mover    `json:"source"`
	UCI        string   `json:"uci"`
	Confidence float64  `json:"confidence,omitempty"`
	EvalCP     int      `json:"eval_cp,omitempty"`
	Principal  []string `json:"principal,omitempty"`
}

// SnapshotFault is the operator-facing slice of a Fault.
type SnapshotFault struct {
	Code    FaultCode `json:"code"`
	Detail  string    `json:"detail,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Snapshot is the read-only projection emitted on every committed transition.
type Snapshot struct {
	GameID      string         `json:"game_id"`
	BoardID     string         `json:"board_id"`
	Phase       Phase          `json:"phase"`
	FEN         string         `json:"fen"`
	HumanColor  Color          `json:"human_color"`
	Difficulty  int            `json:"difficulty"`
	ToMove      Color          `json:"to_move"`
	MoveCount   int            `json:"move_count"`
	LastMove    *MoveRecord    `json:"last_move,omitempty"`
	Result      Result         `json:"result"`
	DrawReason  string         `json:"draw_reason,omitempty"`
	Winner      Color          `json:"winner,omitempty"`
	Fault       *SnapshotFault `json:"fault,omitempty"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Snapshot materializes the projection from the current game state. The move
// log itself is not copied; consumers needing history read the archive.
func (g *Game) Snapshot(now time.Time) Snapshot {
	s := Snapshot{
		GameID:      g.ID,
		BoardID:     g.BoardID,
		Phase:       g.Phase,
		FEN:         g.FEN,
		HumanColor:  g.HumanColor,
		Difficulty:  g.Difficulty,
		ToMove:      g.ToMove(),
		MoveCount:   len(g.Moves),
		Result:      g.Result,
		DrawReason:  g.DrawReason,
		Winner:      g.Winner,
		GeneratedAt: now,
	}
	if lm := g.LastMove(); lm != nil {
		cp := *lm
		s.LastMove = &cp
	}
	if g.Fault != nil {
		s.Fault = &SnapshotFault{Code: g.Fault.Code, Detail: g.Fault.Detail}
	}
	return s
}
