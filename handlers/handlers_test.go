package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/spectate"
	"github.com/Dosada05/typing-arena/storage"
)

type fixture struct {
	server   *httptest.Server
	store    *storage.MemoryStore
	registry *realtime.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, cancel := context.WithCancel(context.Background())
	hub := realtime.NewHub(logger)
	go hub.Run(ctx)

	registry := realtime.NewRegistry(logger, time.Minute)
	registry.RegisterKind(spectate.Kind, func(roomID string) realtime.Room {
		return spectate.NewRoom(roomID, hub.Scope(spectate.Kind), clockwork.NewRealClock(), logger)
	})

	store := storage.NewMemoryStore()
	rooms := NewRoomHandler(store, registry)
	ws := NewWebSocketHandler(hub, registry, []string{"*"}, logger)

	r := chi.NewRouter()
	r.Get("/healthz", rooms.Health)
	r.Get("/api/competitions/{roomID}", rooms.Snapshot(storage.KeySession))
	r.Get("/ws/spectate/{roomID}", ws.Serve(spectate.Kind))

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = registry.Shutdown(context.Background())
	})
	return &fixture{server: srv, store: store, registry: registry}
}

func TestRoomHandler_Snapshot(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/api/competitions/NOPE")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	require.NoError(t, f.store.Put(context.Background(), "ROOM1", storage.KeySession, []byte(`{"roomId":"ROOM1","status":"waiting"}`)))

	resp, err = http.Get(f.server.URL + "/api/competitions/ROOM1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"roomId":"ROOM1","status":"waiting"}`, string(body))
}

func TestRoomHandler_Health(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got struct {
		Status string `json:"status"`
		Rooms  int    `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "ok", got.Status)
	assert.Zero(t, got.Rooms)
}

func TestWebSocketHandler_SpectateRelay(t *testing.T) {
	f := newFixture(t)
	base := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/spectate/live"

	watcher, _, err := websocket.DefaultDialer.Dial(base+"?role=spectator", nil)
	require.NoError(t, err)
	defer watcher.Close()

	var presence spectate.PresenceEvent
	require.NoError(t, watcher.ReadJSON(&presence))
	assert.Equal(t, spectate.MsgPresence, presence.Type)
	assert.Equal(t, 1, f.registry.Len())
	assert.Zero(t, f.registry.Reap(), "a room with a live connection is kept")

	typist, _, err := websocket.DefaultDialer.Dial(base+"?role=typist&userId=u1&name=alice", nil)
	require.NoError(t, err)
	defer typist.Close()

	var joined spectate.TypistEvent
	require.NoError(t, watcher.ReadJSON(&joined))
	assert.Equal(t, spectate.TypistEvent{Type: spectate.MsgTypistJoined, UserID: "u1", Name: "alice"}, joined)

	require.NoError(t, typist.WriteMessage(websocket.TextMessage, []byte(`{"progress":10}`)))

	var update spectate.TypistUpdateEvent
	require.NoError(t, watcher.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, watcher.ReadJSON(&update))
	assert.Equal(t, spectate.MsgTypistUpdate, update.Type)
	assert.JSONEq(t, `{"progress":10}`, string(update.Data))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://arena.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws/spectate/x", nil)
	assert.True(t, check(req), "no Origin header")

	req.Header.Set("Origin", "https://arena.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
