package server

import (
	"context"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/stamprally/internal/app"
)

type ctxKey int

const (
	ctxKeyApp ctxKey = iota
	ctxKeyPlayer
)

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func playerMiddleware(players *Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "player")
			if !playerIDPattern.MatchString(id) {
				writeError(w, http.StatusBadRequest, "invalid player id")
				return
			}

			a, err := players.Get(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusServiceUnavailable, "stamp store unavailable")
				return
			}

			ctx := context.WithValue(r.Context(), ctxKeyApp, a)
			ctx = context.WithValue(ctx, ctxKeyPlayer, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func playerApp(r *http.Request) *app.App {
	return r.Context().Value(ctxKeyApp).(*app.App)
}

func playerID(r *http.Request) string {
	return r.Context().Value(ctxKeyPlayer).(string)
}
