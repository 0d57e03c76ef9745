package handlers

import (
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/utils"
)

type WebSocketHandler struct {
	hub      *realtime.Hub
	registry *realtime.Registry
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewWebSocketHandler builds the upgrade handler. An origin list containing
// "*" accepts any origin.
func NewWebSocketHandler(hub *realtime.Hub, registry *realtime.Registry, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub:      hub,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser client
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return slices.Contains(allowed, u.Scheme+"://"+u.Host)
	}
}

// Serve returns the upgrade handler for one room kind. Clients connect to
// /ws/{kind}/{roomID}; the query string is handed to the room on connect.
func (h *WebSocketHandler) Serve(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" {
			badRequestResponse(w, r, "missing room id")
			return
		}

		room, release, err := h.registry.Acquire(kind, roomID)
		if err != nil {
			serverErrorResponse(w, r, err)
			return
		}
		defer release()

		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			h.logger.Warn("websocket upgrade failed", slog.String("kind", kind), slog.String("room_id", roomID), slog.Any("error", err))
			return
		}

		client := realtime.NewClient(h.hub, conn, utils.NewConnectionID(), realtime.RoomKey(kind, roomID), r.URL.Query())
		client.OnMessage = func(payload []byte) { room.HandleMessage(client.ID, payload) }
		client.OnClose = func() { room.HandleDisconnect(client.ID) }

		if err := h.hub.Register(r.Context(), client); err != nil {
			h.logger.Warn("hub registration failed", slog.String("room", client.Room), slog.Any("error", err))
			conn.Close()
			return
		}
		room.HandleConnect(client.ID, client.Query)

		go client.WritePump()
		go client.ReadPump()

		h.logger.Debug("websocket connected", slog.String("room", client.Room), slog.String("conn_id", client.ID))
	}
}
