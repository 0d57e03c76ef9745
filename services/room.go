package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Dosada05/typing-arena/models"
	"github.com/Dosada05/typing-arena/realtime"
	"github.com/Dosada05/typing-arena/storage"
)

const (
	DefaultReconnectGrace = 30 * time.Second
	persistTimeout        = 5 * time.Second
)

// RoomDeps are the collaborators shared by every coordinator.
type RoomDeps struct {
	Store          storage.StateStore
	Broadcaster    realtime.Broadcaster
	Clock          clockwork.Clock
	Logger         *slog.Logger
	ReconnectGrace time.Duration
}

type outbound struct {
	connectionID string // empty means the whole room
	message      interface{}
}

// roomCore is the plumbing both coordinators share: the actor, the live
// connection set, the reconnect tracker and persist-then-broadcast.
type roomCore struct {
	id     string
	key    string
	store  storage.StateStore
	out    realtime.Broadcaster
	clock  clockwork.Clock
	logger *slog.Logger

	actor     *realtime.Actor
	ctx       context.Context
	cancel    context.CancelFunc
	reconnect *ReconnectTracker

	connections  map[string]struct{}
	lastActivity time.Time
	outbox       []outbound

	// state returns the aggregate to persist, or false when there is none.
	state func() (interface{}, bool)
}

func newRoomCore(kind, roomID, key string, deps RoomDeps) *roomCore {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ReconnectGrace <= 0 {
		deps.ReconnectGrace = DefaultReconnectGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &roomCore{
		id:           roomID,
		key:          key,
		store:        deps.Store,
		out:          deps.Broadcaster,
		clock:        deps.Clock,
		logger:       deps.Logger.With(slog.String("kind", kind), slog.String("room_id", roomID)),
		actor:        realtime.NewActor(),
		ctx:          ctx,
		cancel:       cancel,
		connections:  make(map[string]struct{}),
		lastActivity: deps.Clock.Now(),
	}
	r.reconnect = NewReconnectTracker(deps.Clock, deps.ReconnectGrace, r.actor.Do)
	return r
}

func (r *roomCore) nowMs() int64 {
	return r.clock.Now().UnixMilli()
}

func (r *roomCore) touch() {
	r.lastActivity = r.clock.Now()
}

func (r *roomCore) send(connectionID string, message interface{}) {
	r.outbox = append(r.outbox, outbound{connectionID: connectionID, message: message})
}

func (r *roomCore) broadcast(message interface{}) {
	r.outbox = append(r.outbox, outbound{message: message})
}

func (r *roomCore) flush() {
	for _, o := range r.outbox {
		if o.connectionID == "" {
			r.out.BroadcastToRoom(r.id, o.message)
		} else {
			r.out.SendTo(r.id, o.connectionID, o.message)
		}
	}
	r.outbox = r.outbox[:0]
}

func (r *roomCore) discard() {
	r.outbox = r.outbox[:0]
}

func (r *roomCore) persist() error {
	ctx, cancel := context.WithTimeout(r.ctx, persistTimeout)
	defer cancel()

	value, ok := r.state()
	if !ok {
		if err := r.store.Delete(ctx, r.id, r.key); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return nil
	}
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode room state: %w", err)
	}
	return r.store.Put(ctx, r.id, r.key, blob)
}

// commit persists the aggregate and only then delivers the queued messages.
// On failure the queued messages are dropped.
func (r *roomCore) commit() error {
	if err := r.persist(); err != nil {
		r.logger.Error("failed to persist room state", slog.Any("error", err))
		r.discard()
		return fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}
	r.flush()
	return nil
}

// commitDeferred is commit for timer-driven transitions, which have no
// initiator to notify: failures are logged and messages still go out.
func (r *roomCore) commitDeferred() {
	if err := r.persist(); err != nil {
		r.logger.Error("failed to persist room state", slog.Any("error", err))
	}
	r.flush()
}

// load reads the persisted aggregate into dst and reports whether one existed.
func (r *roomCore) load(dst interface{}) (bool, error) {
	ctx, cancel := context.WithTimeout(r.ctx, persistTimeout)
	defer cancel()

	blob, err := r.store.Get(ctx, r.id, r.key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(blob, dst); err != nil {
		return false, fmt.Errorf("failed to decode room state: %w", err)
	}
	return true, nil
}

func (r *roomCore) replyError(connectionID string, err error) {
	r.out.SendTo(r.id, connectionID, models.NewErrorEvent(errorMessage(err)))
}

func (r *roomCore) connect(connectionID string) {
	r.connections[connectionID] = struct{}{}
	r.touch()
}

func (r *roomCore) disconnect(connectionID string) {
	delete(r.connections, connectionID)
	r.touch()
}

func (r *roomCore) idle(ttl time.Duration, timersArmed func() bool) bool {
	idle := true
	r.actor.Call(func() {
		idle = len(r.connections) == 0 &&
			r.reconnect.Len() == 0 &&
			!timersArmed() &&
			r.clock.Since(r.lastActivity) >= ttl
	})
	return idle
}

func (r *roomCore) close(stopTimers func()) {
	r.actor.Call(func() {
		r.reconnect.CancelAll()
		stopTimers()
	})
	r.cancel()
	r.actor.Stop()
	r.logger.Info("room closed")
}

// snapshot deep-copies v inside the actor.
func snapshot[T any](r *roomCore, v func() *T) *T {
	var out *T
	r.actor.Call(func() {
		src := v()
		if src == nil {
			return
		}
		blob, err := json.Marshal(src)
		if err != nil {
			return
		}
		out = new(T)
		if err := json.Unmarshal(blob, out); err != nil {
			out = nil
		}
	})
	return out
}
