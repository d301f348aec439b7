package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	helloTimeout  = 5 * time.Second
	locateTimeout = 2 * time.Minute
)

// handleLocate runs a server-driven unlock attempt. The device answers
// geolocation requests over the socket; the host samples, judges and
// replies with a result or error message before closing.
func handleLocate(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := playerApp(r)
		spotID := chi.URLParam(r, "spotID")
		if _, err := a.Spot(spotID); err != nil {
			writeAppError(w, err)
			return
		}
		secure := isSecureContext(r)

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Error("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		ctx, cancel := context.WithTimeout(r.Context(), locateTimeout)
		defer cancel()

		var hello deviceMessage
		hctx, hcancel := context.WithTimeout(ctx, helloTimeout)
		err = wsjson.Read(hctx, conn, &hello)
		hcancel()
		if err != nil || hello.Type != "hello" {
			logger.Debug("locate handshake failed", "error", err, "type", hello.Type)
			conn.Close(websocket.StatusPolicyViolation, "expected hello")
			return
		}

		loc := newWSLocation(ctx, conn, hello.Geolocation)
		att, err := a.AttemptUnlock(ctx, spotID, loc, secure)
		if err != nil {
			logger.Info("locate attempt failed", "player", playerID(r), "spot", spotID, "error", err)
			_, body := errorResponse(err)
			body.Log = att.Log
			if err := wsjson.Write(ctx, conn, hostMessage{Type: "error", Error: &body}); err != nil {
				logger.Debug("websocket write failed", "error", err)
				return
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}

		res := toUnlockResponse(att)
		if err := wsjson.Write(ctx, conn, hostMessage{Type: "result", Result: &res}); err != nil {
			logger.Debug("websocket write failed", "error", err)
			return
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
