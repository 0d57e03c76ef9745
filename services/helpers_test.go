package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/Dosada05/typing-arena/storage"
)

const testText = "the quick brown fox"

type sentMessage struct {
	ConnectionID string // empty for broadcasts
	Type         string
	Body         map[string]interface{}
}

// recordingBroadcaster captures every outbound message, serialised at send
// time the way the hub does it.
type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []sentMessage
}

func (b *recordingBroadcaster) record(connectionID string, message interface{}) {
	blob, err := json.Marshal(message)
	if err != nil {
		panic(err)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(blob, &body); err != nil {
		panic(err)
	}
	typ, _ := body["type"].(string)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, sentMessage{ConnectionID: connectionID, Type: typ, Body: body})
}

func (b *recordingBroadcaster) SendTo(_, connectionID string, message interface{}) {
	b.record(connectionID, message)
}

func (b *recordingBroadcaster) BroadcastToRoom(_ string, message interface{}) {
	b.record("", message)
}

func (b *recordingBroadcaster) all() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]sentMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = nil
}

// broadcasts returns the types of room-wide messages in order.
func (b *recordingBroadcaster) broadcasts() []string {
	var types []string
	for _, m := range b.all() {
		if m.ConnectionID == "" {
			types = append(types, m.Type)
		}
	}
	return types
}

// sentTo returns the unicast messages delivered to one connection.
func (b *recordingBroadcaster) sentTo(connectionID string) []sentMessage {
	var out []sentMessage
	for _, m := range b.all() {
		if m.ConnectionID == connectionID {
			out = append(out, m)
		}
	}
	return out
}

func (b *recordingBroadcaster) lastError(connectionID string) string {
	msgs := b.sentTo(connectionID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Type == "ERROR" {
			msg, _ := msgs[i].Body["message"].(string)
			return msg
		}
	}
	return ""
}

var errStoreDown = errors.New("store unavailable")

// flakyStore fails writes while failing is set.
type flakyStore struct {
	storage.StateStore
	failing atomic.Bool
}

func (s *flakyStore) Put(ctx context.Context, roomID, key string, blob []byte) error {
	if s.failing.Load() {
		return errStoreDown
	}
	return s.StateStore.Put(ctx, roomID, key, blob)
}

func testDeps(t *testing.T, store storage.StateStore) (RoomDeps, *recordingBroadcaster, *clockwork.FakeClock) {
	t.Helper()
	out := &recordingBroadcaster{}
	clock := clockwork.NewFakeClock()
	return RoomDeps{
		Store:          store,
		Broadcaster:    out,
		Clock:          clock,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		ReconnectGrace: DefaultReconnectGrace,
	}, out, clock
}

func eventually(t *testing.T, cond func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msgAndArgs...)
}
