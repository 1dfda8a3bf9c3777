// Package robot is the arm-controller gateway. It asks the robot service to
// physically perform a validated move and reports the result to the event bus.
// One arm can move one piece at a time, so requests for the same board are
// serialized here.
package robot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultTimeout = 30 * time.Second

type executePayload struct {
	BoardID   string `json:"board_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Kind      string `json:"kind"`
	Promotion string `json:"promotion,omitempty"`
}

type executeReply struct {
	OK     bool   `json:"ok"`
	Fault  string `json:"fault,omitempty"`
	Detail string `json:"detail,omitempty"`
}

type Executor struct {
	baseURL string
	http    *fasthttp.Client
	bus     gateway.Publisher

	mu     sync.Mutex
	boards map[string]*sync.Mutex
}

func NewExecutor(baseURL string, bus gateway.Publisher) *Executor {
	return &Executor{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: defaultTimeout, WriteTimeout: defaultTimeout, MaxConnsPerHost: 8},
		bus:     bus,
		boards:  make(map[string]*sync.Mutex),
	}
}

func (e *Executor) boardLock(boardID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.boards[boardID]
	if !ok {
		l = &sync.Mutex{}
		e.boards[boardID] = l
	}
	return l
}

func (e *Executor) ExecuteMove(ctx context.Context, req gateway.ExecuteRequest) {
	go e.execute(ctx, req)
}

func (e *Executor) execute(ctx context.Context, req gateway.ExecuteRequest) {
	log := obslog.L().With(
		zap.String("game_id", req.GameID),
		zap.String("correlation_id", req.CorrelationID),
		zap.String("board_id", req.BoardID),
		zap.String("move", req.From+req.To))

	lock := e.boardLock(req.BoardID)
	lock.Lock()
	defer lock.Unlock()

	reply, err := e.callExecute(ctx, req)
	if err != nil {
		log.Error("robot_execute_failed", zap.Error(err))
		e.fail(req, domain.FaultExecutionTimeout, err.Error())
		return
	}
	if !reply.OK {
		code := faultCodeOf(reply.Fault)
		log.Error("robot_execute_fault",
			zap.String("fault", string(code)), zap.String("detail", reply.Detail))
		e.fail(req, code, reply.Detail)
		return
	}

	log.Info("robot_move_executed")
	e.bus.Post(eventbus.Event{
		GameID:        req.GameID,
		Kind:          eventbus.KindRequestSucceeded,
		CorrelationID: req.CorrelationID,
		RequestKind:   domain.RequestExecuteMove,
		Exec:          &eventbus.ExecReport{OK: true},
	})
}

func (e *Executor) fail(req gateway.ExecuteRequest, code domain.FaultCode, detail string) {
	e.bus.Post(eventbus.Event{
		GameID:        req.GameID,
		Kind:          eventbus.KindRequestFailed,
		CorrelationID: req.CorrelationID,
		RequestKind:   domain.RequestExecuteMove,
		FailCode:      code,
		FailDetail:    detail,
	})
}

func (e *Executor) callExecute(ctx context.Context, in gateway.ExecuteRequest) (executeReply, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(e.baseURL + "/execute")
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(executePayload{
		BoardID:   in.BoardID,
		From:      in.From,
		To:        in.To,
		Kind:      string(in.Kind),
		Promotion: in.Promotion,
	})
	if err != nil {
		return executeReply{}, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := e.http.DoDeadline(req, resp, deadlineFor(ctx, in.Deadline)); err != nil {
		return executeReply{}, fmt.Errorf("robot request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return executeReply{}, fmt.Errorf("robot api error: status=%d", status)
	}

	var reply executeReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return executeReply{}, fmt.Errorf("decode response: %w", err)
	}
	return reply, nil
}

// faultCodeOf normalizes the robot service's fault strings. Unknown faults are
// treated as hardware faults so they pause the game rather than retrying.
func faultCodeOf(fault string) domain.FaultCode {
	switch domain.FaultCode(fault) {
	case domain.FaultGraspFailure:
		return domain.FaultGraspFailure
	case domain.FaultPathBlocked:
		return domain.FaultPathBlocked
	case domain.FaultExecutionTimeout:
		return domain.FaultExecutionTimeout
	default:
		return domain.FaultHardwareFault
	}
}

func deadlineFor(ctx context.Context, reqDeadline time.Time) time.Time {
	deadline := time.Now().Add(defaultTimeout)
	if !reqDeadline.IsZero() && reqDeadline.Before(deadline) {
		deadline = reqDeadline
	}
	if ctxDL, ok := ctx.Deadline(); ok && ctxDL.Before(deadline) {
		deadline = ctxDL
	}
	return deadline
}
