// Package session enforces the one-active-game-per-board rule. The registry
// owns the actor table: each live game gets an inbox and a coordinator
// goroutine; external callers talk to games only through the event bus.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/huahua9185/dofbot-chess/internal/turn"
	"go.uber.org/zap"
)

var (
	ErrAlreadyActive = errors.New("board already has an active game")
	ErrNotFound      = errors.New("game not found")
)

// Sink receives every committed snapshot.
type Sink interface {
	Publish(snap domain.Snapshot)
}

// Archiver receives each finished game exactly once.
type Archiver interface {
	ArchiveGame(ctx context.Context, g *domain.Game) error
}

type entry struct {
	boardID string

	mu   sync.RWMutex
	snap domain.Snapshot
}

func (e *entry) set(s domain.Snapshot) {
	e.mu.Lock()
	e.snap = s
	e.mu.Unlock()
}

func (e *entry) get() domain.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snap
}

type Registry struct {
	bus      *eventbus.Bus
	store    *Store
	detector gateway.Detector
	decider  gateway.Decider
	executor gateway.Executor
	clock    turn.Clock
	policy   turn.Policy
	budget   turn.EngineBudget
	sink     Sink
	archiver Archiver

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	games map[string]*entry
}

type Config struct {
	Bus      *eventbus.Bus
	Store    *Store
	Detector gateway.Detector
	Decider  gateway.Decider
	Executor gateway.Executor
	Clock    turn.Clock
	Policy   turn.Policy
	Budget   turn.EngineBudget
	Sink     Sink
	Archiver Archiver
}

func NewRegistry(cfg Config) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	clock := cfg.Clock
	if clock == nil {
		clock = turn.RealClock()
	}
	return &Registry{
		bus:      cfg.Bus,
		store:    cfg.Store,
		detector: cfg.Detector,
		decider:  cfg.Decider,
		executor: cfg.Executor,
		clock:    clock,
		policy:   cfg.Policy,
		budget:   cfg.Budget,
		sink:     cfg.Sink,
		archiver: cfg.Archiver,
		ctx:      ctx,
		cancel:   cancel,
		games:    make(map[string]*entry),
	}
}

// Create claims the board and spawns a coordinator for a fresh game.
func (r *Registry) Create(ctx context.Context, boardID string, humanColor domain.Color, difficulty int) (domain.Snapshot, error) {
	gameID := uuid.NewString()
	ok, err := r.store.ClaimBoard(ctx, boardID, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if !ok {
		return domain.Snapshot{}, ErrAlreadyActive
	}

	game := domain.NewGame(gameID, boardID, humanColor, difficulty, r.clock.Now())
	if err := r.store.SaveGame(ctx, game); err != nil {
		_ = r.store.ReleaseBoard(ctx, boardID, gameID)
		return domain.Snapshot{}, err
	}

	snap := game.Snapshot(r.clock.Now())
	r.spawn(game, snap)
	obslog.L().Info("game_created",
		zap.String("game_id", gameID),
		zap.String("board_id", boardID),
		zap.String("human_color", string(humanColor)),
		zap.Int("difficulty", difficulty))
	return snap, nil
}

// Recover restarts actors for every game that was live before a process
// restart. In-flight collaborator answers are lost, so each recovered game is
// forced to Paused and waits for an operator to reconcile the physical board.
func (r *Registry) Recover(ctx context.Context) error {
	ids, err := r.store.ActiveGameIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		game, err := r.store.LoadGame(ctx, id)
		if err != nil {
			obslog.L().Error("recover_load_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		if game == nil || game.Phase.Terminal() {
			continue
		}
		game.Pending = nil
		game.Fault = &domain.Fault{
			Code:       domain.FaultRestartRecovery,
			Detail:     "orchestrator restarted; confirm the physical board before resuming",
			OccurredAt: r.clock.Now(),
		}
		game.Phase = domain.PhasePaused
		if err := r.store.SaveGame(ctx, game); err != nil {
			obslog.L().Error("recover_save_failed", zap.String("game_id", id), zap.Error(err))
			continue
		}
		r.spawn(game, game.Snapshot(r.clock.Now()))
		obslog.L().Info("game_recovered", zap.String("game_id", id), zap.String("board_id", game.BoardID))
	}
	return nil
}

func (r *Registry) spawn(game *domain.Game, snap domain.Snapshot) {
	e := &entry{boardID: game.BoardID, snap: snap}
	r.mu.Lock()
	r.games[game.ID] = e
	r.mu.Unlock()

	inbox := r.bus.Register(game.ID)
	coord := turn.NewCoordinator(
		game, inbox, r.bus,
		r.detector, r.decider, r.executor,
		r.clock, r.policy, r.budget,
		turn.Hooks{
			Publish: func(s domain.Snapshot) {
				e.set(s)
				if r.sink != nil {
					r.sink.Publish(s)
				}
			},
			Persist: func(g *domain.Game) error {
				return r.store.SaveGame(context.Background(), g)
			},
			Finished: func(g *domain.Game) { r.finish(g) },
		},
	)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		coord.Run(r.ctx)
	}()
}

func (r *Registry) finish(g *domain.Game) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := r.store.ReleaseBoard(ctx, g.BoardID, g.ID); err != nil {
		obslog.L().Error("board_release_failed",
			zap.String("game_id", g.ID), zap.String("board_id", g.BoardID), zap.Error(err))
	}
	if r.archiver != nil {
		if err := r.archiver.ArchiveGame(ctx, g); err != nil {
			obslog.L().Error("archive_failed", zap.String("game_id", g.ID), zap.Error(err))
		}
	}
	r.bus.Unregister(g.ID)
	r.mu.Lock()
	delete(r.games, g.ID)
	r.mu.Unlock()
	obslog.L().Info("game_finished",
		zap.String("game_id", g.ID),
		zap.String("result", string(g.Result)))
}

// Get returns the last committed snapshot. Finished games fall back to the
// store for the grace period.
func (r *Registry) Get(ctx context.Context, gameID string) (domain.Snapshot, error) {
	r.mu.Lock()
	e := r.games[gameID]
	r.mu.Unlock()
	if e != nil {
		return e.get(), nil
	}
	game, err := r.store.LoadGame(ctx, gameID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if game == nil {
		return domain.Snapshot{}, ErrNotFound
	}
	return game.Snapshot(r.clock.Now()), nil
}

// SignalChange forwards an external "the human may have moved" push signal.
func (r *Registry) SignalChange(gameID string) error {
	if !r.bus.Post(eventbus.Event{GameID: gameID, Kind: eventbus.KindChangeSuspected}) {
		return ErrNotFound
	}
	return nil
}

// OperatorAction submits resume, abort or resign for a live game.
func (r *Registry) OperatorAction(gameID string, action eventbus.OperatorAction) error {
	switch action {
	case eventbus.ActionResume, eventbus.ActionAbort, eventbus.ActionResign:
	default:
		return errors.New("unknown operator action: " + string(action))
	}
	if !r.bus.Post(eventbus.Event{GameID: gameID, Kind: eventbus.KindOperatorAction, Action: action}) {
		return ErrNotFound
	}
	return nil
}

// Terminate force-aborts a game.
func (r *Registry) Terminate(gameID string) error {
	return r.OperatorAction(gameID, eventbus.ActionAbort)
}

// RunSweeper periodically posts a liveness sweep to every live game until the
// context is cancelled.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.mu.Lock()
			ids := make([]string, 0, len(r.games))
			for id := range r.games {
				ids = append(ids, id)
			}
			r.mu.Unlock()
			for _, id := range ids {
				r.bus.Post(eventbus.Event{GameID: id, Kind: eventbus.KindSweep})
			}
		}
	}
}

// Close stops every actor and waits for them to exit.
func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
}
