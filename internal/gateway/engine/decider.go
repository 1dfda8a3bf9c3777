// Package engine is the chess-engine gateway. It owns a pool of Stockfish
// processes and answers compute requests asynchronously through the event bus.
package engine

import (
	"context"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"go.uber.org/zap"
)

// Decider computes engine moves off the coordinator goroutine and posts
// exactly one terminal event per request.
type Decider struct {
	pool *Pool
	bus  gateway.Publisher
}

func NewDecider(pool *Pool, bus gateway.Publisher) *Decider {
	return &Decider{pool: pool, bus: bus}
}

func (d *Decider) ComputeMove(ctx context.Context, req gateway.ComputeRequest) {
	go d.compute(ctx, req)
}

func (d *Decider) compute(ctx context.Context, req gateway.ComputeRequest) {
	log := obslog.L().With(
		zap.String("game_id", req.GameID),
		zap.String("correlation_id", req.CorrelationID),
		zap.Int("difficulty", req.Difficulty))

	if !req.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, req.Deadline)
		defer cancel()
	}

	lv := LevelFor(req.Difficulty)
	started := time.Now()

	s, err := d.pool.Acquire(ctx, lv)
	if err != nil {
		log.Error("engine_acquire_failed", zap.Error(err))
		d.fail(req, err)
		return
	}

	res, err := s.search(ctx, req.StartFEN, req.MovesUCI, limitsFor(lv, req.TimeBudget))
	if err != nil {
		log.Error("engine_search_failed", zap.Error(err))
		d.pool.Discard(lv, s)
		d.fail(req, err)
		return
	}
	d.pool.Release(lv, s)

	log.Info("engine_move_computed",
		zap.String("move", res.BestMove),
		zap.Int("eval_cp", res.EvalCP),
		zap.Duration("elapsed", time.Since(started)))

	d.bus.Post(eventbus.Event{
		GameID:        req.GameID,
		Kind:          eventbus.KindRequestSucceeded,
		CorrelationID: req.CorrelationID,
		RequestKind:   domain.RequestComputeMove,
		Candidate: &domain.Candidate{
			Source:    domain.MoverEngine,
			UCI:       res.BestMove,
			EvalCP:    res.EvalCP,
			Principal: res.Principal,
		},
	})
}

func (d *Decider) fail(req gateway.ComputeRequest, err error) {
	d.bus.Post(eventbus.Event{
		GameID:        req.GameID,
		Kind:          eventbus.KindRequestFailed,
		CorrelationID: req.CorrelationID,
		RequestKind:   domain.RequestComputeMove,
		FailCode:      domain.FaultEngineUnavailable,
		FailDetail:    err.Error(),
	})
}

func (d *Decider) Close() { d.pool.Close() }
