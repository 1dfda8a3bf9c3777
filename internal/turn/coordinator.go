// Package turn holds the per-game state machine. One Coordinator goroutine
// owns one Game: it consumes the game's inbox, issues collaborator requests,
// applies retry and fallback policy and commits every board mutation. Nothing
// else writes game state.
package turn

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/huahua9185/dofbot-chess/internal/board"
	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"go.uber.org/zap"
)

// Policy bundles the numeric knobs of the state machine. All values come from
// configuration; zero values are replaced by the defaults below.
type Policy struct {
	ConfidenceThreshold float64
	DetectTimeout       time.Duration
	DetectMaxAttempts   int
	ComputeSlack        time.Duration
	ComputeMaxAttempts  int
	ExecTimeout         time.Duration
	ExecMaxAttempts     int
	MinDifficulty       int
	StaleGameTimeout    time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.ConfidenceThreshold <= 0 {
		p.ConfidenceThreshold = 0.5
	}
	if p.DetectTimeout <= 0 {
		p.DetectTimeout = 10 * time.Second
	}
	if p.DetectMaxAttempts <= 0 {
		p.DetectMaxAttempts = 3
	}
	if p.ComputeSlack <= 0 {
		p.ComputeSlack = 5 * time.Second
	}
	if p.ComputeMaxAttempts <= 0 {
		p.ComputeMaxAttempts = 3
	}
	if p.ExecTimeout <= 0 {
		p.ExecTimeout = 30 * time.Second
	}
	if p.ExecMaxAttempts <= 0 {
		p.ExecMaxAttempts = 3
	}
	if p.MinDifficulty <= 0 {
		p.MinDifficulty = 1
	}
	if p.StaleGameTimeout <= 0 {
		p.StaleGameTimeout = 5 * time.Minute
	}
	return p
}

// EngineBudget maps a difficulty level to the engine's nominal move time; the
// coordinator uses it to size compute deadlines and the halved fallback budget.
type EngineBudget func(difficulty int) time.Duration

// Hooks are the coordinator's outward edges. Publish mirrors every committed
// transition; Persist stores the game; Finished fires once on terminal phase.
type Hooks struct {
	Publish  func(domain.Snapshot)
	Persist  func(*domain.Game) error
	Finished func(*domain.Game)
}

// execPlan is the physical move currently owed to the robot, kept for retries.
type execPlan struct {
	From      string
	To        string
	Kind      board.MoveKind
	Promotion string
}

type Coordinator struct {
	game  *domain.Game
	inbox *eventbus.Inbox
	bus   gateway.Publisher

	detector gateway.Detector
	decider  gateway.Decider
	executor gateway.Executor

	clock  Clock
	policy Policy
	budget EngineBudget
	hooks  Hooks
	log    *zap.Logger

	timer          Timer
	exec           *execPlan
	deferredAction eventbus.OperatorAction
}

func NewCoordinator(
	game *domain.Game,
	inbox *eventbus.Inbox,
	bus gateway.Publisher,
	detector gateway.Detector,
	decider gateway.Decider,
	executor gateway.Executor,
	clock Clock,
	policy Policy,
	budget EngineBudget,
	hooks Hooks,
) *Coordinator {
	return &Coordinator{
		game:     game,
		inbox:    inbox,
		bus:      bus,
		detector: detector,
		decider:  decider,
		executor: executor,
		clock:    clock,
		policy:   policy.withDefaults(),
		budget:   budget,
		hooks:    hooks,
		log:      obslog.L().With(zap.String("game_id", game.ID), zap.String("board_id", game.BoardID)),
	}
}

// Run drives the game to its terminal phase. It returns when the game is over,
// the inbox closes, or the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.start()
	for !c.game.Phase.Terminal() {
		select {
		case <-ctx.Done():
			c.stopTimer()
			return
		case ev, ok := <-c.inbox.Events():
			if !ok {
				c.stopTimer()
				return
			}
			c.handle(ev)
		}
	}
	c.stopTimer()
	if c.hooks.Finished != nil {
		c.hooks.Finished(c.game)
	}
}

func (c *Coordinator) start() {
	switch c.game.Phase {
	case domain.PhaseCreated:
		if c.game.ToMove() == c.game.HumanColor {
			c.game.Phase = domain.PhaseAwaitingHuman
			c.commit("game_started")
		} else {
			c.issueCompute(1)
		}
	case domain.PhasePaused:
		// Recovered from a restart; wait for the operator to resume.
		c.commit("game_recovered")
	default:
		c.log.Warn("unexpected_start_phase", zap.String("phase", string(c.game.Phase)))
		c.pause(domain.FaultRestartRecovery, "process restarted mid-request", "")
	}
}

func (c *Coordinator) handle(ev eventbus.Event) {
	switch ev.Kind {
	case eventbus.KindChangeSuspected:
		c.onChangeSuspected()
	case eventbus.KindRequestSucceeded, eventbus.KindRequestFailed, eventbus.KindRequestTimeout:
		c.onRequestResolved(ev)
	case eventbus.KindOperatorAction:
		c.onOperatorAction(ev.Action)
	case eventbus.KindSweep:
		c.onSweep()
	default:
		c.log.Warn("unknown_event_kind", zap.String("kind", string(ev.Kind)))
	}
}

func (c *Coordinator) onChangeSuspected() {
	if c.game.Phase != domain.PhaseAwaitingHuman {
		c.log.Debug("change_signal_ignored", zap.String("phase", string(c.game.Phase)))
		return
	}
	c.issueDetect(1)
}

// onRequestResolved matches a terminal or timeout event against the single
// pending request. Stale correlation ids are discarded, which makes duplicate
// and late deliveries idempotent.
func (c *Coordinator) onRequestResolved(ev eventbus.Event) {
	pending := c.game.Pending
	if pending == nil || pending.CorrelationID != ev.CorrelationID {
		c.log.Debug("stale_event_discarded",
			zap.String("kind", string(ev.Kind)),
			zap.String("correlation_id", ev.CorrelationID))
		return
	}
	c.stopTimer()

	switch pending.Kind {
	case domain.RequestDetectMove:
		c.resolveDetect(ev, pending.Attempt)
	case domain.RequestComputeMove:
		c.resolveCompute(ev, pending.Attempt)
	case domain.RequestExecuteMove:
		c.resolveExecute(ev, pending.Attempt)
	}
}

// --- detection ---

func (c *Coordinator) issueDetect(attempt int) {
	corr := uuid.NewString()
	deadline := c.clock.Now().Add(c.policy.DetectTimeout)
	c.game.Phase = domain.PhaseConfirmingHuman
	c.game.Pending = &domain.PendingRequest{
		Kind:          domain.RequestDetectMove,
		CorrelationID: corr,
		IssuedAt:      c.clock.Now(),
		Deadline:      deadline,
		Attempt:       attempt,
	}
	c.armTimer(corr, domain.RequestDetectMove, c.policy.DetectTimeout)
	c.commit("detect_issued")
	c.detector.DetectMove(context.Background(), gateway.DetectRequest{
		GameID:        c.game.ID,
		CorrelationID: corr,
		BoardID:       c.game.BoardID,
		FEN:           c.game.FEN,
		Attempt:       attempt,
		Deadline:      deadline,
	})
}

func (c *Coordinator) resolveDetect(ev eventbus.Event, attempt int) {
	c.game.Pending = nil

	switch ev.Kind {
	case eventbus.KindRequestTimeout:
		c.retryDetect(attempt, domain.FaultDetectionTimeout, "detection timed out")
		return
	case eventbus.KindRequestFailed:
		if ev.FailCode == domain.FaultBoardMismatch {
			c.retryDetect(attempt, domain.FaultBoardMismatch, ev.FailDetail)
			return
		}
		c.retryDetect(attempt, domain.FaultDetectionTimeout, ev.FailDetail)
		return
	}

	if ev.NoChange {
		// False alarm; go back to waiting without burning an attempt.
		c.game.Phase = domain.PhaseAwaitingHuman
		c.commit("no_change_detected")
		return
	}
	if ev.Candidate == nil {
		c.retryDetect(attempt, domain.FaultDetectionTimeout, "empty detection payload")
		return
	}
	if ev.Candidate.Confidence < c.policy.ConfidenceThreshold {
		c.log.Info("detection_low_confidence",
			zap.String("uci", ev.Candidate.UCI),
			zap.Float64("confidence", ev.Candidate.Confidence))
		c.retryDetect(attempt, domain.FaultDetectionTimeout, "confidence below threshold")
		return
	}

	c.game.Phase = domain.PhaseApplyingHuman
	applied, err := board.Apply(c.game.StartFEN, c.game.MovesUCI(), ev.Candidate.UCI)
	if err != nil {
		c.log.Info("detected_move_illegal",
			zap.String("uci", ev.Candidate.UCI), zap.Error(err))
		c.retryDetect(attempt, domain.FaultBoardMismatch, "detected move is illegal: "+ev.Candidate.UCI)
		return
	}

	c.commitMove(domain.MoverHuman, applied)
	if c.finishIfOver(applied.Outcome) {
		return
	}
	c.issueCompute(1)
}

func (c *Coordinator) retryDetect(attempt int, code domain.FaultCode, detail string) {
	if attempt >= c.policy.DetectMaxAttempts {
		c.pause(code, detail, domain.RequestDetectMove)
		return
	}
	c.issueDetect(attempt + 1)
}

// --- engine ---

func (c *Coordinator) issueCompute(attempt int) {
	difficulty := c.game.Difficulty
	budget := time.Duration(0)
	switch attempt {
	case 1:
	case 2:
		// First fallback: same difficulty, half the nominal move time.
		budget = c.budget(difficulty) / 2
	default:
		// Last resort: weakest configured level.
		difficulty = c.policy.MinDifficulty
	}

	corr := uuid.NewString()
	nominal := c.budget(difficulty)
	if budget > 0 {
		nominal = budget
	}
	timeout := nominal + c.policy.ComputeSlack
	deadline := c.clock.Now().Add(timeout)

	c.game.Phase = domain.PhaseAwaitingEngine
	c.game.Pending = &domain.PendingRequest{
		Kind:          domain.RequestComputeMove,
		CorrelationID: corr,
		IssuedAt:      c.clock.Now(),
		Deadline:      deadline,
		Attempt:       attempt,
	}
	c.armTimer(corr, domain.RequestComputeMove, timeout)
	c.commit("compute_issued")
	c.decider.ComputeMove(context.Background(), gateway.ComputeRequest{
		GameID:        c.game.ID,
		CorrelationID: corr,
		StartFEN:      c.game.StartFEN,
		MovesUCI:      c.game.MovesUCI(),
		Difficulty:    difficulty,
		TimeBudget:    budget,
		Deadline:      deadline,
	})
}

func (c *Coordinator) resolveCompute(ev eventbus.Event, attempt int) {
	c.game.Pending = nil

	if ev.Kind != eventbus.KindRequestSucceeded || ev.Candidate == nil {
		c.retryCompute(attempt, ev.FailDetail)
		return
	}

	c.game.Phase = domain.PhaseApplyingEngine
	applied, err := board.Apply(c.game.StartFEN, c.game.MovesUCI(), ev.Candidate.UCI)
	if err != nil {
		// Engine moves are trusted but still checked.
		c.log.Error("engine_move_illegal",
			zap.String("uci", ev.Candidate.UCI), zap.Error(err))
		c.retryCompute(attempt, "engine proposed illegal move: "+ev.Candidate.UCI)
		return
	}

	c.commitMove(domain.MoverEngine, applied)
	c.exec = &execPlan{
		From:      applied.From,
		To:        applied.To,
		Kind:      applied.Kind,
		Promotion: applied.Promotion,
	}
	c.issueExecute(1)
}

func (c *Coordinator) retryCompute(attempt int, detail string) {
	if attempt >= c.policy.ComputeMaxAttempts {
		c.pause(domain.FaultEngineUnavailable, detail, domain.RequestComputeMove)
		return
	}
	c.issueCompute(attempt + 1)
}

// --- robot ---

func (c *Coordinator) issueExecute(attempt int) {
	corr := uuid.NewString()
	deadline := c.clock.Now().Add(c.policy.ExecTimeout)
	c.game.Phase = domain.PhaseExecutingRobot
	c.game.Pending = &domain.PendingRequest{
		Kind:          domain.RequestExecuteMove,
		CorrelationID: corr,
		IssuedAt:      c.clock.Now(),
		Deadline:      deadline,
		Attempt:       attempt,
	}
	c.armTimer(corr, domain.RequestExecuteMove, c.policy.ExecTimeout)
	c.commit("execute_issued")
	c.executor.ExecuteMove(context.Background(), gateway.ExecuteRequest{
		GameID:        c.game.ID,
		CorrelationID: corr,
		BoardID:       c.game.BoardID,
		From:          c.exec.From,
		To:            c.exec.To,
		Kind:          c.exec.Kind,
		Promotion:     c.exec.Promotion,
		Deadline:      deadline,
	})
}

func (c *Coordinator) resolveExecute(ev eventbus.Event, attempt int) {
	c.game.Pending = nil

	failCode := domain.FaultCode("")
	detail := ""
	switch ev.Kind {
	case eventbus.KindRequestSucceeded:
	case eventbus.KindRequestTimeout:
		failCode, detail = domain.FaultExecutionTimeout, "robot execution timed out"
	default:
		failCode, detail = ev.FailCode, ev.FailDetail
	}

	if failCode != "" {
		// A deferred abort or resign outranks retries: the in-flight action has
		// now failed, so the operator's decision is honored instead.
		if act := c.deferredAction; act != "" {
			c.deferredAction = ""
			c.exec = nil
			c.honorDeferred(act)
			return
		}
		switch failCode {
		case domain.FaultGraspFailure, domain.FaultExecutionTimeout:
			if attempt >= c.policy.ExecMaxAttempts {
				c.pause(failCode, detail, domain.RequestExecuteMove)
				return
			}
			c.issueExecute(attempt + 1)
		default:
			// Blocked path or a hardware fault needs a human at the board.
			c.pause(failCode, detail, domain.RequestExecuteMove)
		}
		return
	}

	c.exec = nil
	if act := c.deferredAction; act != "" {
		// An abort arrived mid-trajectory; honor it now that the arm is idle.
		c.deferredAction = ""
		c.honorDeferred(act)
		return
	}

	last := c.game.LastMove()
	if last != nil && last.Checkmate {
		c.gameOverFromOutcome()
		return
	}
	outcome, err := board.Evaluate(c.game.StartFEN, c.game.MovesUCI())
	if err == nil && outcome.Terminal {
		c.gameOverFromOutcome()
		return
	}
	c.game.Phase = domain.PhaseAwaitingHuman
	c.commit("awaiting_human")
}

// --- operator / lifecycle ---

// honorDeferred terminates the game for an operator action that was queued
// while the arm was mid-trajectory. Only abort and resign are ever deferred.
func (c *Coordinator) honorDeferred(action eventbus.OperatorAction) {
	if action == eventbus.ActionResign {
		c.endGame(domain.ResultResignation, c.game.EngineColor, "", "human_resigned")
		return
	}
	c.endGame(domain.ResultAbort, "", "", "game_aborted")
}

func (c *Coordinator) onOperatorAction(action eventbus.OperatorAction) {
	if c.game.Phase == domain.PhaseExecutingRobot && action != eventbus.ActionResume {
		// Never leave the arm mid-trajectory; finish or fail first.
		c.deferredAction = action
		c.log.Info("operator_action_deferred", zap.String("action", string(action)))
		return
	}

	switch action {
	case eventbus.ActionResume:
		c.resume()
	case eventbus.ActionResign:
		c.endGame(domain.ResultResignation, c.game.EngineColor, "", "human_resigned")
	case eventbus.ActionAbort:
		c.endGame(domain.ResultAbort, "", "", "game_aborted")
	}
}

func (c *Coordinator) resume() {
	if c.game.Phase != domain.PhasePaused {
		c.log.Debug("resume_ignored", zap.String("phase", string(c.game.Phase)))
		return
	}
	fault := c.game.Fault
	c.game.Fault = nil

	kind := domain.RequestKind("")
	if fault != nil {
		kind = fault.ResumeKind
	}
	switch kind {
	case domain.RequestDetectMove:
		c.issueDetect(1)
	case domain.RequestComputeMove:
		c.issueCompute(1)
	case domain.RequestExecuteMove:
		if c.exec != nil {
			c.issueExecute(1)
			return
		}
		// Plan lost across a restart; the operator has reconciled the board.
		c.game.Phase = domain.PhaseAwaitingHuman
		c.commit("resumed")
	default:
		// Restart recovery: derive the side to move from the log.
		if c.game.ToMove() == c.game.HumanColor {
			c.game.Phase = domain.PhaseAwaitingHuman
			c.commit("resumed")
		} else {
			c.issueCompute(1)
		}
	}
}

func (c *Coordinator) onSweep() {
	if c.game.Phase != domain.PhaseAwaitingHuman {
		return
	}
	idle := c.clock.Now().Sub(c.game.UpdatedAt)
	if idle < c.policy.StaleGameTimeout {
		return
	}
	c.log.Info("stale_game_aborted", zap.Duration("idle", idle))
	c.endGame(domain.ResultAbort, "", "", "stale_game_aborted")
}

func (c *Coordinator) pause(code domain.FaultCode, detail string, resumeKind domain.RequestKind) {
	c.game.Fault = &domain.Fault{
		Code:        code,
		Detail:      detail,
		ResumePhase: c.game.Phase,
		ResumeKind:  resumeKind,
		OccurredAt:  c.clock.Now(),
	}
	c.game.Phase = domain.PhasePaused
	c.game.Pending = nil
	c.commit("game_paused")
}

// commitMove appends a legality-confirmed move and advances the position.
func (c *Coordinator) commitMove(mover domain.Mover, applied board.Applied) {
	now := c.clock.Now()
	c.game.Moves = append(c.game.Moves, domain.MoveRecord{
		Mover:       mover,
		UCI:         applied.UCI,
		SAN:         applied.SAN,
		FENAfter:    applied.FENAfter,
		Capture:     applied.Capture,
		Check:       applied.Check,
		Checkmate:   applied.Checkmate,
		CommittedAt: now,
	})
	c.game.FEN = applied.FENAfter
	c.log.Info("move_committed",
		zap.String("mover", string(mover)),
		zap.String("uci", applied.UCI),
		zap.String("san", applied.SAN),
		zap.Int("move_count", len(c.game.Moves)))
}

func (c *Coordinator) finishIfOver(outcome board.Outcome) bool {
	if !outcome.Terminal {
		return false
	}
	c.endFromOutcome(outcome)
	return true
}

func (c *Coordinator) gameOverFromOutcome() {
	outcome, err := board.Evaluate(c.game.StartFEN, c.game.MovesUCI())
	if err != nil {
		c.fatal("outcome evaluation failed: " + err.Error())
		return
	}
	if !outcome.Terminal {
		c.fatal("terminal phase reached with non-terminal position")
		return
	}
	c.endFromOutcome(outcome)
}

func (c *Coordinator) endFromOutcome(outcome board.Outcome) {
	switch {
	case outcome.Checkmate:
		c.endGame(domain.ResultCheckmate, domain.Color(outcome.Winner), "", "checkmate")
	case outcome.Stalemate:
		c.endGame(domain.ResultStalemate, "", "", "stalemate")
	default:
		c.endGame(domain.ResultDraw, "", outcome.DrawReason, "draw")
	}
}

func (c *Coordinator) endGame(result domain.Result, winner domain.Color, drawReason, event string) {
	c.stopTimer()
	c.game.Phase = domain.PhaseGameOver
	c.game.Pending = nil
	c.game.Result = result
	c.game.Winner = winner
	c.game.DrawReason = drawReason
	c.game.EndedAt = c.clock.Now()
	c.commit(event)
}

// fatal forces the game over after an internal contradiction. The diagnostic
// fault stays on the game for the operator.
func (c *Coordinator) fatal(detail string) {
	c.log.Error("invariant_violation", zap.String("detail", detail))
	c.game.Fault = &domain.Fault{
		Code:       domain.FaultInvariantViolation,
		Detail:     detail,
		OccurredAt: c.clock.Now(),
	}
	c.endGame(domain.ResultFatal, "", "", "game_fatal")
}

// commit finalizes one transition: validate invariants, persist, project.
func (c *Coordinator) commit(event string) {
	now := c.clock.Now()
	c.game.UpdatedAt = now

	if err := c.game.Validate(); err != nil && c.game.Result != domain.ResultFatal {
		c.fatal(err.Error())
		return
	}

	c.log.Info(event, zap.String("phase", string(c.game.Phase)))
	if c.hooks.Persist != nil {
		if err := c.hooks.Persist(c.game); err != nil {
			c.log.Error("persist_failed", zap.Error(err))
		}
	}
	if c.hooks.Publish != nil {
		c.hooks.Publish(c.game.Snapshot(now))
	}
}

func (c *Coordinator) armTimer(corr string, kind domain.RequestKind, d time.Duration) {
	c.stopTimer()
	gameID := c.game.ID
	bus := c.bus
	c.timer = c.clock.AfterFunc(d, func() {
		bus.Post(eventbus.Event{
			GameID:        gameID,
			Kind:          eventbus.KindRequestTimeout,
			CorrelationID: corr,
			RequestKind:   kind,
		})
	})
}

func (c *Coordinator) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
