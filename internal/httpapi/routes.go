package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/courtside/pickleball-live/internal/hub"
	"github.com/courtside/pickleball-live/internal/live"
	"github.com/courtside/pickleball-live/internal/store"
	"github.com/courtside/pickleball-live/internal/ws"
)

func SetupRoutes(h *hub.Hub, repo store.MatchRepository, channel live.Channel, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/matches/{matchID}", GetMatch(repo, log))
	r.Post("/matches/{matchID}/session", StartSession(h, repo, log))
	r.Get("/ws", ws.Handler(h, channel, log))

	return r
}
