package storage

import (
	"context"
	"errors"
)

// Fixed per-room keys.
const (
	KeySession    = "session"
	KeyTournament = "tournament"
)

var ErrNotFound = errors.New("room state not found")

// StateStore holds one durable blob per (room, key). Writes overwrite;
// there is no optimistic concurrency, the room actor is the sole writer.
type StateStore interface {
	Get(ctx context.Context, roomID, key string) ([]byte, error)

	Put(ctx context.Context, roomID, key string, blob []byte) error

	Delete(ctx context.Context, roomID, key string) error
}

func objectKey(roomID, key string) string {
	return "rooms/" + roomID + "/" + key + ".json"
}
