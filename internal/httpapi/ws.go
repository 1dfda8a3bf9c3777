package httpapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/huahua9185/dofbot-chess/internal/obslog"
	"github.com/huahua9185/dofbot-chess/internal/session"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// streamSnapshots pushes the current snapshot and then every committed
// transition over a websocket until the client disconnects or the game ends.
func (h *handlers) streamSnapshots(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	snap, err := h.registry.Get(r.Context(), gameID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "game not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		obslog.L().Warn("websocket_accept_failed", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	updates, cancel := h.hub.Subscribe(gameID)
	defer cancel()

	if err := wsjson.Write(ctx, conn, h.view(snap)); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "game finished")
				return
			}
			if err := wsjson.Write(ctx, conn, h.view(next)); err != nil {
				return
			}
			if next.Phase.Terminal() {
				conn.Close(websocket.StatusNormalClosure, "game finished")
				return
			}
		}
	}
}
