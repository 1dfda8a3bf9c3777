package robot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/board"
	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
)

type busChan struct{ ch chan eventbus.Event }

func newBusChan() *busChan { return &busChan{ch: make(chan eventbus.Event, 1)} }

func (b *busChan) Post(ev eventbus.Event) bool {
	b.ch <- ev
	return true
}

func (b *busChan) wait(t *testing.T) eventbus.Event {
	t.Helper()
	select {
	case ev := <-b.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event posted")
		return eventbus.Event{}
	}
}

func executeRequest() gateway.ExecuteRequest {
	return gateway.ExecuteRequest{
		GameID:        "g1",
		CorrelationID: "c1",
		BoardID:       "board-1",
		From:          "e7",
		To:            "e8",
		Kind:          board.KindPromotion,
		Promotion:     "q",
		Deadline:      time.Now().Add(2 * time.Second),
	}
}

func TestExecuteMoveSuccess(t *testing.T) {
	var got executePayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/execute" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		json.NewEncoder(w).Encode(executeReply{OK: true})
	}))
	defer srv.Close()

	bus := newBusChan()
	NewExecutor(srv.URL, bus).ExecuteMove(context.Background(), executeRequest())

	ev := bus.wait(t)
	if ev.Kind != eventbus.KindRequestSucceeded || ev.CorrelationID != "c1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Exec == nil || !ev.Exec.OK {
		t.Errorf("Exec = %+v, want ok", ev.Exec)
	}
	if got.From != "e7" || got.To != "e8" || got.Kind != "promotion" || got.Promotion != "q" {
		t.Errorf("payload = %+v", got)
	}
}

func TestExecuteMoveFaultMapping(t *testing.T) {
	tests := []struct {
		fault string
		want  domain.FaultCode
	}{
		{"grasp_failure", domain.FaultGraspFailure},
		{"path_blocked", domain.FaultPathBlocked},
		{"execution_timeout", domain.FaultExecutionTimeout},
		{"gremlins", domain.FaultHardwareFault},
	}
	for _, tt := range tests {
		t.Run(tt.fault, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(executeReply{OK: false, Fault: tt.fault, Detail: "boom"})
			}))
			defer srv.Close()

			bus := newBusChan()
			NewExecutor(srv.URL, bus).ExecuteMove(context.Background(), executeRequest())

			ev := bus.wait(t)
			if ev.Kind != eventbus.KindRequestFailed || ev.FailCode != tt.want {
				t.Fatalf("event = %+v, want failure %s", ev, tt.want)
			}
		})
	}
}

func TestExecuteMoveTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening

	bus := newBusChan()
	NewExecutor(srv.URL, bus).ExecuteMove(context.Background(), executeRequest())

	ev := bus.wait(t)
	if ev.Kind != eventbus.KindRequestFailed || ev.FailCode != domain.FaultExecutionTimeout {
		t.Fatalf("event = %+v, want execution_timeout failure", ev)
	}
}

func TestBoardLockSerializesPerBoard(t *testing.T) {
	e := NewExecutor("http://localhost:0", newBusChan())
	if e.boardLock("board-1") != e.boardLock("board-1") {
		t.Error("same board should share one lock")
	}
	if e.boardLock("board-1") == e.boardLock("board-2") {
		t.Error("different boards should not share a lock")
	}
}
