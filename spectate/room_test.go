package spectate

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type delivery struct {
	conn string
	body string
}

type captureBroadcaster struct {
	mu  sync.Mutex
	got []delivery
}

func (c *captureBroadcaster) add(conn string, msg interface{}) {
	blob, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, delivery{conn: conn, body: string(blob)})
}

func (c *captureBroadcaster) SendTo(_, conn string, msg interface{}) { c.add(conn, msg) }
func (c *captureBroadcaster) BroadcastToRoom(_ string, msg interface{}) { c.add("", msg) }

func (c *captureBroadcaster) all() []delivery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]delivery(nil), c.got...)
}

func newTestRoom(t *testing.T) (*Room, *captureBroadcaster, *clockwork.FakeClock) {
	out := &captureBroadcaster{}
	clock := clockwork.NewFakeClock()
	r := NewRoom("live", out, clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(r.Close)
	return r, out, clock
}

func TestRoom_TypistFramesAreRelayed(t *testing.T) {
	r, out, _ := newTestRoom(t)

	r.HandleConnect("s1", url.Values{"role": {RoleSpectator}})
	r.HandleConnect("t1", url.Values{"role": {RoleTypist}, "userId": {"u1"}, "name": {"alice"}})
	r.HandleMessage("t1", []byte(`{"progress":42}`))
	r.HandleMessage("s1", []byte(`{"progress":99}`))
	require.Equal(t, []Typist{{UserID: "u1", Name: "alice"}}, r.Presence())

	got := out.all()
	require.Len(t, got, 4)
	assert.Equal(t, "s1", got[0].conn)
	assert.JSONEq(t, `{"type":"PRESENCE","typists":[]}`, got[0].body)
	assert.Equal(t, "t1", got[1].conn)
	assert.JSONEq(t, `{"type":"TYPIST_JOINED","userId":"u1","name":"alice"}`, got[2].body)
	assert.JSONEq(t, `{"type":"TYPIST_UPDATE","userId":"u1","name":"alice","data":{"progress":42}}`, got[3].body)
}

func TestRoom_TypistLeaving(t *testing.T) {
	r, out, _ := newTestRoom(t)
	r.HandleConnect("t1", url.Values{"role": {RoleTypist}})
	r.HandleDisconnect("t1")
	assert.Empty(t, r.Presence())

	got := out.all()
	assert.JSONEq(t, `{"type":"TYPIST_LEFT","userId":"t1","name":"anonymous"}`, got[len(got)-1].body)
}

func TestRoom_Idle(t *testing.T) {
	r, _, clock := newTestRoom(t)
	r.HandleConnect("s1", nil)
	assert.False(t, r.Idle(0))

	r.HandleDisconnect("s1")
	clock.Advance(time.Minute)
	assert.True(t, r.Idle(time.Minute))
}
