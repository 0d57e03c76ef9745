package routes

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/Dosada05/typing-arena/handlers"
	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/storage"
)

func newRouter() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := realtime.NewRegistry(logger, time.Minute)
	hub := realtime.NewHub(logger)

	router := chi.NewRouter()
	SetupRoutes(router, logger, []string{"https://arena.example"},
		handlers.NewRoomHandler(storage.NewMemoryStore(), registry),
		handlers.NewWebSocketHandler(hub, registry, []string{"https://arena.example"}, logger),
	)
	return router
}

func TestRoutes_SnapshotEndpoints(t *testing.T) {
	router := newRouter()

	for _, path := range []string{"/api/competitions/ROOM1", "/api/tournaments/CUP"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "could not be found")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_CORS(t *testing.T) {
	router := newRouter()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://arena.example")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "https://arena.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
