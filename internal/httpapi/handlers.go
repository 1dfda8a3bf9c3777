package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/huahua9185/dofbot-chess/internal/archive"
	"github.com/huahua9185/dofbot-chess/internal/domain"
	"github.com/huahua9185/dofbot-chess/internal/eventbus"
	"github.com/huahua9185/dofbot-chess/internal/msgcat"
	"github.com/huahua9185/dofbot-chess/internal/projection"
	"github.com/huahua9185/dofbot-chess/internal/render"
	"github.com/huahua9185/dofbot-chess/internal/session"
)

type handlers struct {
	registry          *session.Registry
	hub               *projection.Hub
	repo              archive.Repository
	catalog           *msgcat.Catalog
	defaultDifficulty int
}

type createGameRequest struct {
	BoardID    string `json:"board_id"`
	HumanColor string `json:"human_color"`
	Difficulty int    `json:"difficulty"`
}

type snapshotResponse struct {
	domain.Snapshot
	ResultMessage string `json:"result_message,omitempty"`
}

// view fills the operator-facing text alongside the machine-readable codes.
func (h *handlers) view(snap domain.Snapshot) snapshotResponse {
	resp := snapshotResponse{Snapshot: snap}
	if snap.Fault != nil {
		fault := *snap.Fault
		fault.Message = h.catalog.FaultMessage(fault.Code, fault.Detail)
		resp.Fault = &fault
	}
	if snap.Phase.Terminal() && snap.Result != domain.ResultInProgress {
		resp.ResultMessage = h.catalog.ResultMessage(snap.Result, snap.Winner, snap.DrawReason)
	}
	return resp
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) createGame(w http.ResponseWriter, r *http.Request) {
	var req createGameRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.BoardID == "" {
		writeError(w, http.StatusBadRequest, "board_id is required")
		return
	}
	color := domain.White
	if req.HumanColor == string(domain.Black) {
		color = domain.Black
	}
	difficulty := req.Difficulty
	if difficulty == 0 {
		difficulty = h.defaultDifficulty
	}
	if difficulty < 1 || difficulty > 10 {
		writeError(w, http.StatusBadRequest, "difficulty must be between 1 and 10")
		return
	}

	snap, err := h.registry.Create(r.Context(), req.BoardID, color, difficulty)
	if errors.Is(err, session.ErrAlreadyActive) {
		writeError(w, http.StatusConflict, "board already has an active game")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, h.view(snap))
}

func (h *handlers) getGame(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Get(r.Context(), chi.URLParam(r, "gameID"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.view(snap))
}

func (h *handlers) operatorAction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	action := eventbus.OperatorAction(req.Action)
	switch action {
	case eventbus.ActionResume, eventbus.ActionAbort, eventbus.ActionResign:
	default:
		writeError(w, http.StatusBadRequest, "action must be resume, abort or resign")
		return
	}
	if err := h.registry.OperatorAction(chi.URLParam(r, "gameID"), action); err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// signalChange is the vision service's push hook for "the human may have moved".
func (h *handlers) signalChange(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.SignalChange(chi.URLParam(r, "gameID")); err != nil {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h *handlers) boardPNG(w http.ResponseWriter, r *http.Request) {
	snap, err := h.registry.Get(r.Context(), chi.URLParam(r, "gameID"))
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var highlight *render.Highlight
	if lm := snap.LastMove; lm != nil && len(lm.UCI) >= 4 {
		highlight = &render.Highlight{From: lm.UCI[:2], To: lm.UCI[2:4]}
	}
	img, err := render.BoardPNG(snap.FEN, highlight)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(img)
}

func (h *handlers) recentGames(w http.ResponseWriter, r *http.Request) {
	records, err := h.repo.RecentByBoard(r.Context(), chi.URLParam(r, "boardID"), 20)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}
