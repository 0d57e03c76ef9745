package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"

	"github.com/Dosada05/typing-arena/handlers"
	"github.com/Dosada05/typing-arena/middleware"
	"github.com/Dosada05/typing-arena/services"
	"github.com/Dosada05/typing-arena/spectate"
	"github.com/Dosada05/typing-arena/storage"
)

func SetupRoutes(
	router chi.Router,
	logger *slog.Logger,
	allowedOrigins []string,
	roomHandler *handlers.RoomHandler,
	webSocketHandler *handlers.WebSocketHandler,
) {
	router.Use(chiMiddleware.RequestID)
	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(chiMiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	router.Get("/healthz", roomHandler.Health)

	router.Route("/api", func(r chi.Router) {
		r.Get("/competitions/{roomID}", roomHandler.Snapshot(storage.KeySession))
		r.Get("/tournaments/{roomID}", roomHandler.Snapshot(storage.KeyTournament))
	})

	router.Route("/ws", func(r chi.Router) {
		r.Get("/competitions/{roomID}", webSocketHandler.Serve(services.KindCompetition))
		r.Get("/tournaments/{roomID}", webSocketHandler.Serve(services.KindTournament))
		r.Get("/spectate/{roomID}", webSocketHandler.Serve(spectate.Kind))
	})
}
