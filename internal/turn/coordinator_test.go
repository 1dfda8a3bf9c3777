package turn

import (
	"context"
	"testing"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
)

type fakeTimer struct{ stopped bool }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return true
}

type fakeClock struct {
	now    time.Time
	timers []*fakeTimer
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) AfterFunc(time.Duration, func()) Timer {
	t := &fakeTimer{}
	c.timers = append(c.timers, t)
	return t
}

type recordingBus struct{ events []eventbus.Event }

func (b *recordingBus) Post(ev eventbus.Event) bool {
	b.events = append(b.events, ev)
	return true
}

type fakeDetector struct{ reqs []gateway.DetectRequest }

func (d *fakeDetector) DetectMove(_ context.Context, req gateway.DetectRequest) {
	d.reqs = append(d.reqs, req)
}

type fakeDecider struct{ reqs []gateway.ComputeRequest }

func (d *fakeDecider) ComputeMove(_ context.Context, req gateway.ComputeRequest) {
	d.reqs = append(d.reqs, req)
}

type fakeExecutor struct{ reqs []gateway.ExecuteRequest }

func (e *fakeExecutor) ExecuteMove(_ context.Context, req gateway.ExecuteRequest) {
	e.reqs = append(e.reqs, req)
}

type fixture struct {
	game      *domain.Game
	c         *Coordinator
	det       *fakeDetector
	dec       *fakeDecider
	exe       *fakeExecutor
	bus       *recordingBus
	clock     *fakeClock
	published []domain.Snapshot
}

func newFixture(t *testing.T, humanColor domain.Color) *fixture {
	t.Helper()
	f := &fixture{
		det:   &fakeDetector{},
		dec:   &fakeDecider{},
		exe:   &fakeExecutor{},
		bus:   &recordingBus{},
		clock: &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	f.game = domain.NewGame("g1", "board-1", humanColor, 4, f.clock.now)
	f.c = NewCoordinator(
		f.game, nil, f.bus,
		f.det, f.dec, f.exe,
		f.clock, Policy{}, func(int) time.Duration { return time.Second },
		Hooks{
			Publish: func(s domain.Snapshot) { f.published = append(f.published, s) },
		},
	)
	return f
}

func (f *fixture) corr(t *testing.T) string {
	t.Helper()
	if f.game.Pending == nil {
		t.Fatal("no pending request")
	}
	return f.game.Pending.CorrelationID
}

func (f *fixture) detectSucceed(t *testing.T, uci string, confidence float64) {
	t.Helper()
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestSucceeded,
		CorrelationID: f.corr(t), RequestKind: domain.RequestDetectMove,
		Candidate: &domain.Candidate{Source: domain.MoverHuman, UCI: uci, Confidence: confidence},
	})
}

func (f *fixture) computeSucceed(t *testing.T, uci string) {
	t.Helper()
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestSucceeded,
		CorrelationID: f.corr(t), RequestKind: domain.RequestComputeMove,
		Candidate: &domain.Candidate{Source: domain.MoverEngine, UCI: uci},
	})
}

func (f *fixture) execSucceed(t *testing.T) {
	t.Helper()
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestSucceeded,
		CorrelationID: f.corr(t), RequestKind: domain.RequestExecuteMove,
		Exec: &eventbus.ExecReport{OK: true},
	})
}

func (f *fixture) execFail(t *testing.T, code domain.FaultCode) {
	t.Helper()
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestFailed,
		CorrelationID: f.corr(t), RequestKind: domain.RequestExecuteMove,
		FailCode: code,
	})
}

func (f *fixture) timeout(t *testing.T, kind domain.RequestKind) {
	t.Helper()
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestTimeout,
		CorrelationID: f.corr(t), RequestKind: kind,
	})
}

func (f *fixture) wantPhase(t *testing.T, want domain.Phase) {
	t.Helper()
	if f.game.Phase != want {
		t.Fatalf("phase = %s, want %s", f.game.Phase, want)
	}
}

func TestFullTurnCycle(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.wantPhase(t, domain.PhaseAwaitingHuman)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.wantPhase(t, domain.PhaseConfirmingHuman)
	if len(f.det.reqs) != 1 || f.det.reqs[0].Attempt != 1 {
		t.Fatalf("detect requests = %+v", f.det.reqs)
	}

	f.detectSucceed(t, "e2e4", 0.98)
	f.wantPhase(t, domain.PhaseAwaitingEngine)
	if len(f.game.Moves) != 1 || f.game.Moves[0].UCI != "e2e4" {
		t.Fatalf("moves = %+v, want [e2e4]", f.game.Moves)
	}
	if len(f.dec.reqs) != 1 {
		t.Fatalf("compute requests = %d, want 1", len(f.dec.reqs))
	}

	f.computeSucceed(t, "e7e5")
	f.wantPhase(t, domain.PhaseExecutingRobot)
	if len(f.game.Moves) != 2 {
		t.Fatalf("moves = %d, want 2", len(f.game.Moves))
	}
	if len(f.exe.reqs) != 1 || f.exe.reqs[0].From != "e7" || f.exe.reqs[0].To != "e5" {
		t.Fatalf("execute requests = %+v", f.exe.reqs)
	}

	f.execSucceed(t)
	f.wantPhase(t, domain.PhaseAwaitingHuman)
	if f.game.Pending != nil {
		t.Error("no pending request expected while awaiting human")
	}
	if len(f.game.Moves) != 2 {
		t.Errorf("moves = %d, want 2", len(f.game.Moves))
	}
}

func TestDetectionTimeoutPausesAfterBoundedRetries(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})

	for i := 0; i < 3; i++ {
		f.timeout(t, domain.RequestDetectMove)
	}
	f.wantPhase(t, domain.PhasePaused)
	if f.game.Fault == nil || f.game.Fault.Code != domain.FaultDetectionTimeout {
		t.Fatalf("fault = %+v, want detection_timeout", f.game.Fault)
	}
	if len(f.det.reqs) != 3 {
		t.Errorf("detect requests = %d, want exactly the retry bound", len(f.det.reqs))
	}
	if len(f.game.Moves) != 0 {
		t.Errorf("move log must be unchanged, got %d moves", len(f.game.Moves))
	}
}

func TestIllegalDetectionTriggersRedetection(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})

	f.detectSucceed(t, "e2e5", 0.9)
	f.wantPhase(t, domain.PhaseConfirmingHuman)
	if len(f.det.reqs) != 2 || f.det.reqs[1].Attempt != 2 {
		t.Fatalf("detect requests = %+v, want re-issue with attempt 2", f.det.reqs)
	}
	if len(f.game.Moves) != 0 {
		t.Fatal("illegal move must not be committed")
	}

	f.detectSucceed(t, "e2e4", 0.9)
	if len(f.game.Moves) != 1 || f.game.Moves[0].UCI != "e2e4" {
		t.Fatalf("moves = %+v, want [e2e4]", f.game.Moves)
	}
}

func TestLowConfidenceRetries(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})

	f.detectSucceed(t, "e2e4", 0.2)
	f.wantPhase(t, domain.PhaseConfirmingHuman)
	if len(f.det.reqs) != 2 {
		t.Fatalf("detect requests = %d, want 2", len(f.det.reqs))
	}
	if len(f.game.Moves) != 0 {
		t.Fatal("low-confidence move must not be committed")
	}
}

func TestNoChangeReturnsToWaiting(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})

	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestSucceeded,
		CorrelationID: f.corr(t), RequestKind: domain.RequestDetectMove,
		NoChange: true,
	})
	f.wantPhase(t, domain.PhaseAwaitingHuman)
	if len(f.det.reqs) != 1 {
		t.Errorf("false alarm must not re-issue detection, got %d requests", len(f.det.reqs))
	}
}

func TestExecutorRetriesGraspThenSucceeds(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")

	committed := len(f.game.Moves)
	f.execFail(t, domain.FaultGraspFailure)
	f.execFail(t, domain.FaultGraspFailure)
	f.wantPhase(t, domain.PhaseExecutingRobot)
	if len(f.exe.reqs) != 3 || f.exe.reqs[2].From != "e7" {
		t.Fatalf("execute requests = %+v, want 3 attempts of the same move", f.exe.reqs)
	}

	f.execSucceed(t)
	f.wantPhase(t, domain.PhaseAwaitingHuman)
	if len(f.game.Moves) != committed {
		t.Error("execution retries must not touch the move log")
	}
}

func TestExecutorExhaustionPauses(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")

	for i := 0; i < 3; i++ {
		f.execFail(t, domain.FaultGraspFailure)
	}
	f.wantPhase(t, domain.PhasePaused)
	if f.game.Fault == nil || f.game.Fault.Code != domain.FaultGraspFailure {
		t.Fatalf("fault = %+v, want grasp_failure", f.game.Fault)
	}
	if len(f.game.Moves) != 2 {
		t.Error("committed engine move must survive the pause")
	}

	// Operator resume re-issues the same physical move.
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionResume})
	f.wantPhase(t, domain.PhaseExecutingRobot)
	if len(f.exe.reqs) != 4 || f.exe.reqs[3].From != "e7" {
		t.Fatalf("execute requests = %+v, want re-issued move", f.exe.reqs)
	}
}

func TestPathBlockedPausesImmediately(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")

	f.execFail(t, domain.FaultPathBlocked)
	f.wantPhase(t, domain.PhasePaused)
	if len(f.exe.reqs) != 1 {
		t.Errorf("path_blocked must not retry, got %d requests", len(f.exe.reqs))
	}
}

func TestEngineFallbackLadder(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)

	if f.dec.reqs[0].Difficulty != 4 || f.dec.reqs[0].TimeBudget != 0 {
		t.Fatalf("first compute = %+v", f.dec.reqs[0])
	}

	f.timeout(t, domain.RequestComputeMove)
	if len(f.dec.reqs) != 2 || f.dec.reqs[1].TimeBudget != 500*time.Millisecond {
		t.Fatalf("second compute = %+v, want halved budget", f.dec.reqs)
	}
	if f.dec.reqs[1].Difficulty != 4 {
		t.Errorf("second compute difficulty = %d, want unchanged", f.dec.reqs[1].Difficulty)
	}

	f.timeout(t, domain.RequestComputeMove)
	if len(f.dec.reqs) != 3 || f.dec.reqs[2].Difficulty != 1 {
		t.Fatalf("third compute = %+v, want minimum difficulty", f.dec.reqs)
	}

	f.timeout(t, domain.RequestComputeMove)
	f.wantPhase(t, domain.PhasePaused)
	if f.game.Fault == nil || f.game.Fault.Code != domain.FaultEngineUnavailable {
		t.Fatalf("fault = %+v, want engine_unavailable", f.game.Fault)
	}
}

func TestComputeRetryBoundIsConfigurable(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.policy.ComputeMaxAttempts = 2
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)

	f.timeout(t, domain.RequestComputeMove)
	f.wantPhase(t, domain.PhaseAwaitingEngine)

	f.timeout(t, domain.RequestComputeMove)
	f.wantPhase(t, domain.PhasePaused)
	if f.game.Fault == nil || f.game.Fault.Code != domain.FaultEngineUnavailable {
		t.Fatalf("fault = %+v, want engine_unavailable", f.game.Fault)
	}
	if len(f.dec.reqs) != 2 {
		t.Errorf("compute requests = %d, want the configured bound", len(f.dec.reqs))
	}
}

func TestStaleCorrelationIDIsDiscarded(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})

	detectCorr := f.corr(t)
	f.detectSucceed(t, "e2e4", 0.9)
	f.wantPhase(t, domain.PhaseAwaitingEngine)

	// A duplicate delivery of the already-consumed response changes nothing.
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestSucceeded,
		CorrelationID: detectCorr, RequestKind: domain.RequestDetectMove,
		Candidate: &domain.Candidate{Source: domain.MoverHuman, UCI: "e2e4", Confidence: 0.9},
	})
	f.wantPhase(t, domain.PhaseAwaitingEngine)
	if len(f.game.Moves) != 1 {
		t.Fatalf("moves = %d, duplicate event double-applied", len(f.game.Moves))
	}

	// Same for a late timeout of the old correlation id.
	f.c.handle(eventbus.Event{
		GameID: "g1", Kind: eventbus.KindRequestTimeout,
		CorrelationID: detectCorr, RequestKind: domain.RequestDetectMove,
	})
	f.wantPhase(t, domain.PhaseAwaitingEngine)
}

func TestHumanCheckmateEndsGame(t *testing.T) {
	f := newFixture(t, domain.Black)
	f.c.start()
	// Engine is white, so the game opens with a compute request.
	f.wantPhase(t, domain.PhaseAwaitingEngine)

	playEngine := func(uci string) {
		f.computeSucceed(t, uci)
		f.execSucceed(t)
	}
	playHuman := func(uci string) {
		f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
		f.detectSucceed(t, uci, 0.95)
	}

	playEngine("f2f3")
	playHuman("e7e5")
	playEngine("g2g4")
	playHuman("d8h4")

	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultCheckmate || f.game.Winner != domain.Black {
		t.Fatalf("result = %s winner = %s, want checkmate black", f.game.Result, f.game.Winner)
	}
	// The mating move ends the game before any engine request.
	if len(f.dec.reqs) != 2 {
		t.Errorf("compute requests = %d, want 2", len(f.dec.reqs))
	}
}

func TestEngineCheckmateWaitsForRobot(t *testing.T) {
	f := newFixture(t, domain.Black)
	f.c.start()

	playEngine := func(uci string) {
		f.computeSucceed(t, uci)
		f.execSucceed(t)
	}
	playHuman := func(uci string) {
		f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
		f.detectSucceed(t, uci, 0.95)
	}

	playEngine("e2e4")
	playHuman("e7e5")
	playEngine("f1c4")
	playHuman("b8c6")
	playEngine("d1h5")
	playHuman("g8f6")

	// Scholar's mate: committed first, executed by the arm, then game over.
	f.computeSucceed(t, "h5f7")
	f.wantPhase(t, domain.PhaseExecutingRobot)
	if f.game.Moves[len(f.game.Moves)-1].Checkmate != true {
		t.Fatal("mating move should be committed before execution")
	}
	f.execSucceed(t)
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultCheckmate || f.game.Winner != domain.White {
		t.Fatalf("result = %s winner = %s, want checkmate white", f.game.Result, f.game.Winner)
	}
}

func TestDeferredAbortHonoredWhenExecutionFails(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")
	f.wantPhase(t, domain.PhaseExecutingRobot)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionAbort})
	f.execFail(t, domain.FaultPathBlocked)

	// The in-flight action failed; the queued abort wins over the pause.
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultAbort {
		t.Fatalf("result = %s, want abort", f.game.Result)
	}
}

func TestDeferredAbortOutranksExecutionRetry(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionAbort})
	f.execFail(t, domain.FaultGraspFailure)

	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultAbort {
		t.Fatalf("result = %s, want abort", f.game.Result)
	}
	if len(f.exe.reqs) != 1 {
		t.Errorf("execute requests = %d, a retryable fault must not restart an aborted game", len(f.exe.reqs))
	}
}

func TestDeferredResignDuringRobotMotion(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionResign})
	f.wantPhase(t, domain.PhaseExecutingRobot)

	f.execSucceed(t)
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultResignation || f.game.Winner != domain.Black {
		t.Fatalf("result = %s winner = %s, want resignation black", f.game.Result, f.game.Winner)
	}
}

func TestAbortDeferredDuringRobotMotion(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.detectSucceed(t, "e2e4", 0.9)
	f.computeSucceed(t, "e7e5")
	f.wantPhase(t, domain.PhaseExecutingRobot)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionAbort})
	f.wantPhase(t, domain.PhaseExecutingRobot)

	f.execSucceed(t)
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultAbort {
		t.Fatalf("result = %s, want abort", f.game.Result)
	}
}

func TestResignation(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionResign})
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultResignation || f.game.Winner != domain.Black {
		t.Fatalf("result = %s winner = %s, want resignation black", f.game.Result, f.game.Winner)
	}
}

func TestRestartRecoveryResume(t *testing.T) {
	f := newFixture(t, domain.White)
	f.game.Phase = domain.PhasePaused
	f.game.Fault = &domain.Fault{Code: domain.FaultRestartRecovery, OccurredAt: f.clock.now}
	f.c.start()
	f.wantPhase(t, domain.PhasePaused)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindOperatorAction, Action: eventbus.ActionResume})
	f.wantPhase(t, domain.PhaseAwaitingHuman)
	if f.game.Fault != nil {
		t.Error("fault should be cleared on resume")
	}
}

func TestStaleGameSweep(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.wantPhase(t, domain.PhaseAwaitingHuman)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindSweep})
	f.wantPhase(t, domain.PhaseAwaitingHuman)

	f.clock.now = f.clock.now.Add(6 * time.Minute)
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindSweep})
	f.wantPhase(t, domain.PhaseGameOver)
	if f.game.Result != domain.ResultAbort {
		t.Fatalf("result = %s, want abort", f.game.Result)
	}
}

func TestChangeSignalIgnoredOutsideAwaitingHuman(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	f.wantPhase(t, domain.PhaseConfirmingHuman)

	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	if len(f.det.reqs) != 1 {
		t.Errorf("detect requests = %d, want 1", len(f.det.reqs))
	}
}

func TestEveryCommitPublishesSnapshot(t *testing.T) {
	f := newFixture(t, domain.White)
	f.c.start()
	published := len(f.published)
	if published == 0 {
		t.Fatal("start must publish a snapshot")
	}
	f.c.handle(eventbus.Event{GameID: "g1", Kind: eventbus.KindChangeSuspected})
	if len(f.published) <= published {
		t.Error("issuing a request must publish a snapshot")
	}
}
