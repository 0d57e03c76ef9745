package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"
)

var ErrUnknownRoomKind = errors.New("unknown room kind")

// RoomFactory builds the coordinator for a room id the first time it is needed.
type RoomFactory func(roomID string) Room

// entry is a live room plus the connections being attached to it. A pinned
// room is never reaped, and epoch changes on every Acquire.
type entry struct {
	room  Room
	pins  int
	epoch uint64
}

// Registry owns every live room, keyed by kind and id.
type Registry struct {
	mu        sync.Mutex
	rooms     map[string]*entry
	factories map[string]RoomFactory
	idleTTL   time.Duration
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger, idleTTL time.Duration) *Registry {
	return &Registry{
		rooms:     make(map[string]*entry),
		factories: make(map[string]RoomFactory),
		idleTTL:   idleTTL,
		logger:    logger,
	}
}

func (r *Registry) RegisterKind(kind string, factory RoomFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// RoomKey is the address of a room across kinds. The hub and the registry
// both key on it so a competition and a tournament may share an id.
func RoomKey(kind, roomID string) string {
	return kind + "/" + roomID
}

// Get returns the live room, creating it on first use.
func (r *Registry) Get(kind, roomID string) (Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.entryLocked(kind, roomID)
	if err != nil {
		return nil, err
	}
	return e.room, nil
}

// Acquire is Get for a connection that is about to attach to the room. The
// room is not reaped until release is called, which must happen after the
// room has been told about the connection.
func (r *Registry) Acquire(kind, roomID string) (Room, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.entryLocked(kind, roomID)
	if err != nil {
		return nil, nil, err
	}
	e.pins++
	e.epoch++

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			e.pins--
			r.mu.Unlock()
		})
	}
	return e.room, release, nil
}

func (r *Registry) entryLocked(kind, roomID string) (*entry, error) {
	key := RoomKey(kind, roomID)
	if e, ok := r.rooms[key]; ok {
		return e, nil
	}
	factory, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoomKind, kind)
	}
	e := &entry{room: factory(roomID)}
	r.rooms[key] = e
	r.logger.Info("room created", slog.String("kind", kind), slog.String("room_id", roomID))
	return e, nil
}

// Lookup returns the room without creating it.
func (r *Registry) Lookup(kind, roomID string) (Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.rooms[RoomKey(kind, roomID)]
	if !ok {
		return nil, false
	}
	return e.room, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

type reapCandidate struct {
	key   string
	entry *entry
	epoch uint64
}

// Reap closes rooms that have been idle for longer than the configured ttl
// and returns how many were closed. Idle goes through the room's actor, so it
// is asked without holding the registry lock; a room acquired meanwhile is
// kept.
func (r *Registry) Reap() int {
	r.mu.Lock()
	candidates := make([]reapCandidate, 0, len(r.rooms))
	for key, e := range r.rooms {
		if e.pins == 0 {
			candidates = append(candidates, reapCandidate{key: key, entry: e, epoch: e.epoch})
		}
	}
	r.mu.Unlock()

	idle := candidates[:0]
	for _, c := range candidates {
		if c.entry.room.Idle(r.idleTTL) {
			idle = append(idle, c)
		}
	}
	if len(idle) == 0 {
		return 0
	}

	var reaped []Room
	r.mu.Lock()
	for _, c := range idle {
		if r.rooms[c.key] != c.entry || c.entry.pins > 0 || c.entry.epoch != c.epoch {
			continue
		}
		delete(r.rooms, c.key)
		reaped = append(reaped, c.entry.room)
		r.logger.Info("reaping idle room", slog.String("key", c.key))
	}
	r.mu.Unlock()

	for _, room := range reaped {
		room.Close()
	}
	return len(reaped)
}

// Start schedules the idle reaper.
func (r *Registry) Start(interval time.Duration) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			if n := r.Reap(); n > 0 {
				r.logger.Debug("idle rooms reaped", slog.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule room reaper: %w", err)
	}
	sched.Start()
	r.scheduler = sched
	return nil
}

// Shutdown stops the reaper and closes every room in parallel.
func (r *Registry) Shutdown(ctx context.Context) error {
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			r.logger.Warn("scheduler shutdown failed", slog.Any("error", err))
		}
	}

	r.mu.Lock()
	rooms := make([]Room, 0, len(r.rooms))
	for key, e := range r.rooms {
		rooms = append(rooms, e.room)
		delete(r.rooms, key)
	}
	r.mu.Unlock()

	g, gCtx := errgroup.WithContext(ctx)
	for _, room := range rooms {
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				room.Close()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-gCtx.Done():
				return gCtx.Err()
			}
		})
	}
	return g.Wait()
}
