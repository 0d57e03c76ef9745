// Package spectate implements ad-hoc spectating: typists stream their
// progress frames and everyone else in the room watches. Nothing is persisted.
package spectate

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/typing-arena/realtime"
)

const Kind = "spectate"

const (
	RoleTypist    = "typist"
	RoleSpectator = "spectator"

	MsgPresence     = "PRESENCE"
	MsgTypistJoined = "TYPIST_JOINED"
	MsgTypistLeft   = "TYPIST_LEFT"
	MsgTypistUpdate = "TYPIST_UPDATE"
)

type Typist struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type PresenceEvent struct {
	Type    string   `json:"type"`
	Typists []Typist `json:"typists"`
}

type TypistEvent struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type TypistUpdateEvent struct {
	Type   string          `json:"type"`
	UserID string          `json:"userId"`
	Name   string          `json:"name"`
	Data   json.RawMessage `json:"data"`
}

type Room struct {
	id     string
	out    realtime.Broadcaster
	clock  clockwork.Clock
	logger *slog.Logger
	actor  *realtime.Actor

	typists      map[string]Typist
	spectators   map[string]struct{}
	lastActivity time.Time
}

var _ realtime.Room = (*Room)(nil)

func NewRoom(id string, out realtime.Broadcaster, clock clockwork.Clock, logger *slog.Logger) *Room {
	return &Room{
		id:           id,
		out:          out,
		clock:        clock,
		logger:       logger.With(slog.String("kind", Kind), slog.String("room_id", id)),
		actor:        realtime.NewActor(),
		typists:      make(map[string]Typist),
		spectators:   make(map[string]struct{}),
		lastActivity: clock.Now(),
	}
}

func (r *Room) HandleConnect(connectionID string, query url.Values) {
	r.actor.Do(func() {
		r.lastActivity = r.clock.Now()
		r.out.SendTo(r.id, connectionID, PresenceEvent{Type: MsgPresence, Typists: r.presence()})

		if query.Get("role") != RoleTypist {
			r.spectators[connectionID] = struct{}{}
			return
		}
		typist := Typist{UserID: query.Get("userId"), Name: query.Get("name")}
		if typist.UserID == "" {
			typist.UserID = connectionID
		}
		if typist.Name == "" {
			typist.Name = "anonymous"
		}
		r.typists[connectionID] = typist
		r.out.BroadcastToRoom(r.id, TypistEvent{Type: MsgTypistJoined, UserID: typist.UserID, Name: typist.Name})
		r.logger.Debug("typist joined", slog.String("user_id", typist.UserID))
	})
}

func (r *Room) HandleMessage(connectionID string, payload []byte) {
	r.actor.Do(func() {
		r.lastActivity = r.clock.Now()
		typist, ok := r.typists[connectionID]
		if !ok {
			return
		}
		if !json.Valid(payload) {
			r.logger.Warn("dropping non-JSON typist frame", slog.String("conn_id", connectionID))
			return
		}
		data := make(json.RawMessage, len(payload))
		copy(data, payload)
		r.out.BroadcastToRoom(r.id, TypistUpdateEvent{Type: MsgTypistUpdate, UserID: typist.UserID, Name: typist.Name, Data: data})
	})
}

func (r *Room) HandleDisconnect(connectionID string) {
	r.actor.Do(func() {
		r.lastActivity = r.clock.Now()
		delete(r.spectators, connectionID)
		typist, ok := r.typists[connectionID]
		if !ok {
			return
		}
		delete(r.typists, connectionID)
		r.out.BroadcastToRoom(r.id, TypistEvent{Type: MsgTypistLeft, UserID: typist.UserID, Name: typist.Name})
	})
}

func (r *Room) Idle(ttl time.Duration) bool {
	idle := true
	r.actor.Call(func() {
		idle = len(r.typists) == 0 && len(r.spectators) == 0 && r.clock.Since(r.lastActivity) >= ttl
	})
	return idle
}

func (r *Room) Close() {
	r.actor.Stop()
}

// Presence returns the typists currently in the room.
func (r *Room) Presence() []Typist {
	var out []Typist
	r.actor.Call(func() { out = r.presence() })
	return out
}

func (r *Room) presence() []Typist {
	out := make([]Typist, 0, len(r.typists))
	for _, t := range r.typists {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
