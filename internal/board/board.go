// Package board is the pure chess-rules model. Every function replays the
// committed move log from the start position and answers from the reconstructed
// game, so callers never share mutable board state.
package board

import (
	"errors"
	"fmt"
	"strings"

	nchess "github.com/corentings/chess/v2"
)

var ErrIllegalMove = errors.New("illegal move")

// MoveKind classifies a move for the robot executor.
type MoveKind string

const (
	KindNormal    MoveKind = "normal"
	KindCapture   MoveKind = "capture"
	KindPromotion MoveKind = "promotion"
	KindCastle    MoveKind = "castle"
)

// Outcome is the terminal evaluation of a position.
type Outcome struct {
	Terminal   bool
	Winner     string // "white" | "black", checkmate only
	Checkmate  bool
	Stalemate  bool
	Draw       bool
	DrawReason string
}

// Applied describes one legally applied move.
type Applied struct {
	UCI       string
	SAN       string
	FENAfter  string
	From      string
	To        string
	Kind      MoveKind
	Promotion string
	Capture   bool
	Check     bool
	Checkmate bool
	Outcome   Outcome
}

// reconstruct replays UCI moves from startFEN ("" = standard start). Replaying
// rather than loading the current FEN keeps repetition and move counters intact.
func reconstruct(startFEN string, moves []string) (*nchess.Game, error) {
	var game *nchess.Game
	if strings.TrimSpace(startFEN) == "" {
		game = nchess.NewGame()
	} else {
		opt, err := nchess.FEN(startFEN)
		if err != nil {
			return nil, fmt.Errorf("parse start fen: %w", err)
		}
		game = nchess.NewGame(opt)
	}
	for i, mv := range moves {
		if err := game.PushNotationMove(strings.ToLower(mv), nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay move %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

// Apply plays moveText (UCI preferred, SAN fallback) on top of the given move
// log and returns the full move record. Illegal or unparsable input yields
// ErrIllegalMove; the inputs are never mutated.
func Apply(startFEN string, moves []string, moveText string) (Applied, error) {
	game, err := reconstruct(startFEN, moves)
	if err != nil {
		return Applied{}, err
	}
	if game.Outcome() != nchess.NoOutcome {
		return Applied{}, fmt.Errorf("%w: game already decided", ErrIllegalMove)
	}

	pos := game.Position()
	text := strings.TrimSpace(moveText)
	if text == "" {
		return Applied{}, ErrIllegalMove
	}

	uciNotation := nchess.UCINotation{}
	sanNotation := nchess.AlgebraicNotation{}
	mv, err := uciNotation.Decode(pos, strings.ToLower(text))
	if err != nil {
		mv, err = sanNotation.Decode(pos, text)
		if err != nil {
			return Applied{}, fmt.Errorf("%w: %q", ErrIllegalMove, moveText)
		}
	}
	if err := game.Move(mv, nil); err != nil {
		return Applied{}, fmt.Errorf("%w: %q", ErrIllegalMove, moveText)
	}

	applied := Applied{
		UCI:      strings.ToLower(uciNotation.Encode(pos, mv)),
		SAN:      sanNotation.Encode(pos, mv),
		FENAfter: game.FEN(),
		From:     mv.S1().String(),
		To:       mv.S2().String(),
		Kind:     classify(mv),
		Capture:  mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant),
		Check:    mv.HasTag(nchess.Check),
		Outcome:  outcomeOf(game),
	}
	if promo := mv.Promo(); promo != nchess.NoPieceType {
		applied.Promotion = promo.String()
	}
	applied.Checkmate = applied.Outcome.Checkmate
	return applied, nil
}

// LegalMoves lists every legal move of the position, in UCI notation.
func LegalMoves(startFEN string, moves []string) ([]string, error) {
	game, err := reconstruct(startFEN, moves)
	if err != nil {
		return nil, err
	}
	pos := game.Position()
	uciNotation := nchess.UCINotation{}
	valid := game.ValidMoves()
	out := make([]string, 0, len(valid))
	for i := range valid {
		out = append(out, strings.ToLower(uciNotation.Encode(pos, &valid[i])))
	}
	return out, nil
}

// FEN returns the position after the given move log.
func FEN(startFEN string, moves []string) (string, error) {
	game, err := reconstruct(startFEN, moves)
	if err != nil {
		return "", err
	}
	return game.FEN(), nil
}

// Evaluate reports whether the position after the move log is terminal.
func Evaluate(startFEN string, moves []string) (Outcome, error) {
	game, err := reconstruct(startFEN, moves)
	if err != nil {
		return Outcome{}, err
	}
	return outcomeOf(game), nil
}

func outcomeOf(game *nchess.Game) Outcome {
	switch game.Outcome() {
	case nchess.WhiteWon:
		return Outcome{Terminal: true, Checkmate: true, Winner: "white"}
	case nchess.BlackWon:
		return Outcome{Terminal: true, Checkmate: true, Winner: "black"}
	case nchess.Draw:
		method := game.Method()
		if method == nchess.Stalemate {
			return Outcome{Terminal: true, Stalemate: true}
		}
		return Outcome{Terminal: true, Draw: true, DrawReason: strings.ToLower(method.String())}
	default:
		return Outcome{}
	}
}

func classify(mv *nchess.Move) MoveKind {
	switch {
	case mv.HasTag(nchess.KingSideCastle) || mv.HasTag(nchess.QueenSideCastle):
		return KindCastle
	case mv.Promo() != nchess.NoPieceType:
		return KindPromotion
	case mv.HasTag(nchess.Capture) || mv.HasTag(nchess.EnPassant):
		return KindCapture
	default:
		return KindNormal
	}
}
