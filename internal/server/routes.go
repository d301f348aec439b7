package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/stamprally/internal/handler/health"
	"github.com/playperu/stamprally/internal/metrics"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Stamp Rally API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, deps.Checks).Routes())
	r.Handle("/metrics", metrics.Handler())

	r.Get("/api/spots", handleCatalog(deps.Catalog))
	r.Post("/api/players", handleNewPlayer())

	// Player routes: {player} is resolved by playerMiddleware.
	r.Route("/api/players/{player}", func(r chi.Router) {
		r.Use(playerMiddleware(deps.Players))
		r.Get("/spots", handleListSpots())
		r.Get("/spots/{spotID}", handleGetSpot())
		r.Post("/spots/{spotID}/readings", handleReadings())
		r.Get("/spots/{spotID}/locate", handleLocate(logger))
		r.Post("/spots/{spotID}/quiz", handleStartQuiz())
		r.Post("/spots/{spotID}/quiz/answer", handleAnswer())
		r.Get("/stamps", handleStamps())
		r.Get("/events", handleEvents(deps.Broker))
	})

	if deps.SPADir != "" {
		if info, err := os.Stat(deps.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", deps.SPADir)
			r.NotFound(handleSPA(deps.SPADir))
		}
	}
}
