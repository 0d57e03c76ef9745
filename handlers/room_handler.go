package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/storage"
)

// RoomHandler serves the persisted record of a room read-only.
type RoomHandler struct {
	store    storage.StateStore
	registry *realtime.Registry
}

func NewRoomHandler(store storage.StateStore, registry *realtime.Registry) *RoomHandler {
	return &RoomHandler{store: store, registry: registry}
}

// Snapshot returns the record stored under key for {roomID}.
func (h *RoomHandler) Snapshot(key string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomID")
		if roomID == "" {
			badRequestResponse(w, r, "missing room id")
			return
		}

		blob, err := h.store.Get(r.Context(), roomID, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				notFoundResponse(w, r)
				return
			}
			serverErrorResponse(w, r, err)
			return
		}

		if err := writeJSON(w, http.StatusOK, json.RawMessage(blob), nil); err != nil {
			serverErrorResponse(w, r, err)
		}
	}
}

func (h *RoomHandler) Health(w http.ResponseWriter, r *http.Request) {
	env := jsonResponse{"status": "ok", "rooms": h.registry.Len()}
	if err := writeJSON(w, http.StatusOK, env, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}
