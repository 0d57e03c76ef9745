package realtime

import (
	"net/url"
	"time"
)

// Room is a live, single-threaded coordinator for one room id. Transport
// callbacks only enqueue work; they never block on room logic.
type Room interface {
	HandleConnect(connectionID string, query url.Values)
	HandleMessage(connectionID string, payload []byte)
	HandleDisconnect(connectionID string)
	// Idle reports whether the room has no connections, no armed timers and
	// has seen no activity for at least ttl.
	Idle(ttl time.Duration) bool
	Close()
}

// Broadcaster delivers outbound events. Implementations serialise the message
// before returning so callers may keep mutating their state.
type Broadcaster interface {
	SendTo(roomID, connectionID string, message interface{})
	BroadcastToRoom(roomID string, message interface{})
}

var _ Broadcaster = (*Hub)(nil)

type scopedBroadcaster struct {
	hub  *Hub
	kind string
}

// Scope returns a Broadcaster that addresses rooms of one kind, translating
// bare room ids into RoomKey addresses.
func (h *Hub) Scope(kind string) Broadcaster {
	return scopedBroadcaster{hub: h, kind: kind}
}

func (s scopedBroadcaster) SendTo(roomID, connectionID string, message interface{}) {
	s.hub.SendTo(RoomKey(s.kind, roomID), connectionID, message)
}

func (s scopedBroadcaster) BroadcastToRoom(roomID string, message interface{}) {
	s.hub.BroadcastToRoom(RoomKey(s.kind, roomID), message)
}
