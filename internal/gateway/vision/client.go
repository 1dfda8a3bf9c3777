// Package vision is the camera-service gateway. It asks the vision collaborator
// to compare the physical board against the expected position and posts the
// verdict to the event bus.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/gateway"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

type detectPayload struct {
	BoardID string `json:"board_id"`
	FEN     string `json:"fen"`
	Attempt int    `json:"attempt"`
}

type detectReply struct {
	Changed    bool    `json:"changed"`
	UCI        string  `json:"uci"`
	Confidence float64 `json:"confidence"`
	Fault      string  `json:"fault,omitempty"`
	Detail     string  `json:"detail,omitempty"`
}

// Detector posts one detect_move verdict per request. It performs a single
// attempt; retry policy lives in the turn coordinator.
type Detector struct {
	baseURL string
	http    *fasthttp.Client
	bus     gateway.Publisher
}

func NewDetector(baseURL string, bus gateway.Publisher) *Detector {
	return &Detector{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &fasthttp.Client{ReadTimeout: defaultTimeout, WriteTimeout: defaultTimeout, MaxConnsPerHost: 16},
		bus:     bus,
	}
}

func (d *Detector) DetectMove(ctx context.Context, req gateway.DetectRequest) {
	go d.detect(ctx, req)
}

func (d *Detector) detect(ctx context.Context, req gateway.DetectRequest) {
	log := obslog.L().With(
		zap.String("game_id", req.GameID),
		zap.String("correlation_id", req.CorrelationID),
		zap.Int("attempt", req.Attempt))

	reply, err := d.callDetect(ctx, req)
	if err != nil {
		log.Warn("vision_detect_failed", zap.Error(err))
		d.bus.Post(eventbus.Event{
			GameID:        req.GameID,
			Kind:          eventbus.KindRequestFailed,
			CorrelationID: req.CorrelationID,
			RequestKind:   domain.RequestDetectMove,
			FailCode:      domain.FaultDetectionTimeout,
			FailDetail:    err.Error(),
		})
		return
	}

	if reply.Fault != "" {
		code := domain.FaultBoardMismatch
		if reply.Fault != string(domain.FaultBoardMismatch) {
			code = domain.FaultDetectionTimeout
		}
		log.Warn("vision_detect_fault",
			zap.String("fault", reply.Fault), zap.String("detail", reply.Detail))
		d.bus.Post(eventbus.Event{
			GameID:        req.GameID,
			Kind:          eventbus.KindRequestFailed,
			CorrelationID: req.CorrelationID,
			RequestKind:   domain.RequestDetectMove,
			FailCode:      code,
			FailDetail:    reply.Detail,
		})
		return
	}

	ev := eventbus.Event{
		GameID:        req.GameID,
		Kind:          eventbus.KindRequestSucceeded,
		CorrelationID: req.CorrelationID,
		RequestKind:   domain.RequestDetectMove,
	}
	if !reply.Changed {
		ev.NoChange = true
		log.Debug("vision_no_change")
	} else {
		ev.Candidate = &domain.Candidate{
			Source:     domain.MoverHuman,
			UCI:        strings.ToLower(strings.TrimSpace(reply.UCI)),
			Confidence: reply.Confidence,
		}
		log.Info("vision_move_detected",
			zap.String("uci", ev.Candidate.UCI),
			zap.Float64("confidence", reply.Confidence))
	}
	d.bus.Post(ev)
}

func (d *Detector) callDetect(ctx context.Context, in gateway.DetectRequest) (detectReply, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(d.baseURL + "/detect")
	req.Header.SetContentType("application/json")

	payload, err := json.Marshal(detectPayload{BoardID: in.BoardID, FEN: in.FEN, Attempt: in.Attempt})
	if err != nil {
		return detectReply{}, fmt.Errorf("marshal request: %w", err)
	}
	req.SetBody(payload)

	if err := d.http.DoDeadline(req, resp, deadlineFor(ctx, in.Deadline)); err != nil {
		return detectReply{}, fmt.Errorf("vision request: %w", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return detectReply{}, fmt.Errorf("vision api error: status=%d", status)
	}

	var reply detectReply
	if err := json.Unmarshal(resp.Body(), &reply); err != nil {
		return detectReply{}, fmt.Errorf("decode response: %w", err)
	}
	return reply, nil
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
