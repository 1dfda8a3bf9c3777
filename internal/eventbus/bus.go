// Package eventbus routes collaborator responses, timer expirations and
// operator actions into per-game ordered inboxes. One inbox per live game;
// events for one game are consumed strictly in posting order.
package eventbus

import (
	"sync"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"go.uber.org/zap"
)

type Kind string

const (
	// A collaborator (or an external push signal) suspects the human moved.
	KindChangeSuspected Kind = "change_suspected"
	// Terminal gateway events, matched against the pending correlation id.
	KindRequestSucceeded Kind = "request_succeeded"
	KindRequestFailed    Kind = "request_failed"
	// Deadline expiry owned by the turn coordinator.
	KindRequestTimeout Kind = "request_timeout"
	// Operator / session-level actions.
	KindOperatorAction Kind = "operator_action"
	// Periodic liveness sweep.
	KindSweep Kind = "sweep"
)

type OperatorAction string

const (
	ActionResume OperatorAction = "resume"
	ActionAbort  OperatorAction = "abort"
	ActionResign OperatorAction = "resign"
)

// ExecReport is the executor's terminal payload.
type ExecReport struct {
	OK    bool             `json:"ok"`
	Fault domain.FaultCode `json:"fault,omitempty"`
}

// Event is the single envelope shape delivered to a game's inbox. Exactly the
// fields matching Kind are set; the rest stay zero.
type Event struct {
	GameID        string          `json:"game_id"`
	Kind          Kind            `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestKind   domain.RequestKind `json:"request_kind,omitempty"`

	// Detector / decider success payload.
	Candidate *domain.Candidate `json:"candidate,omitempty"`
	NoChange  bool              `json:"no_change,omitempty"`

	// Executor result.
	Exec *ExecReport `json:"exec,omitempty"`

	// Failure detail for KindRequestFailed.
	FailCode   domain.FaultCode `json:"fail_code,omitempty"`
	FailDetail string           `json:"fail_detail,omitempty"`

	Action OperatorAction `json:"action,omitempty"`
	At     time.Time      `json:"at"`
}

const inboxBuffer = 256

// Inbox is one game's ordered event queue.
type Inbox struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newInbox() *Inbox {
	return &Inbox{ch: make(chan Event, inboxBuffer)}
}

// Events is the consumption side; closed when the game is unregistered.
func (in *Inbox) Events() <-chan Event { return in.ch }

// post enqueues without blocking the producer. A full inbox means the actor is
// wedged; the event is dropped and logged rather than stalling gateways.
func (in *Inbox) post(ev Event) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.closed {
		return false
	}
	select {
	case in.ch <- ev:
		return true
	default:
		obslog.L().Error("inbox_overflow",
			zap.String("game_id", ev.GameID),
			zap.String("kind", string(ev.Kind)))
		return false
	}
}

func (in *Inbox) close() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.closed {
		in.closed = true
		close(in.ch)
	}
}

// Bus owns the inbox table. Gateways and timers post here by game id; posts for
// games that are gone are dropped silently (late answers after termination).
type Bus struct {
	mu      sync.RWMutex
	inboxes map[string]*Inbox
}

func New() *Bus {
	return &Bus{inboxes: make(map[string]*Inbox)}
}

func (b *Bus) Register(gameID string) *Inbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	if in, ok := b.inboxes[gameID]; ok {
		return in
	}
	in := newInbox()
	b.inboxes[gameID] = in
	return in
}

func (b *Bus) Unregister(gameID string) {
	b.mu.Lock()
	in := b.inboxes[gameID]
	delete(b.inboxes, gameID)
	b.mu.Unlock()
	if in != nil {
		in.close()
	}
}

// Post delivers an event to the game's inbox. Returns false if the game has no
// inbox (terminated) or the inbox rejected the event.
func (b *Bus) Post(ev Event) bool {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	in := b.inboxes[ev.GameID]
	b.mu.RUnlock()
	if in == nil {
		obslog.L().Debug("event_no_inbox",
			zap.String("game_id", ev.GameID),
			zap.String("kind", string(ev.Kind)))
		return false
	}
	return in.post(ev)
}
