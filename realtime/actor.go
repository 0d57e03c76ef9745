package realtime

import (
	"sync"
)

// Actor runs closures one at a time, in submission order, on a single
// goroutine. All state owned by a room is only touched from inside it.
type Actor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	stopped bool
	done    chan struct{}
}

func NewActor() *Actor {
	a := &Actor{done: make(chan struct{})}
	a.cond = sync.NewCond(&a.mu)
	go a.loop()
	return a
}

func (a *Actor) loop() {
	defer close(a.done)
	for {
		a.mu.Lock()
		for len(a.queue) == 0 && !a.stopped {
			a.cond.Wait()
		}
		if len(a.queue) == 0 && a.stopped {
			a.mu.Unlock()
			return
		}
		fn := a.queue[0]
		a.queue[0] = nil
		a.queue = a.queue[1:]
		a.mu.Unlock()

		fn()
	}
}

// Do enqueues fn without waiting. It reports false once the actor is stopped.
func (a *Actor) Do(fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	a.queue = append(a.queue, fn)
	a.cond.Signal()
	return true
}

// Call enqueues fn and blocks until it has run. It must not be called from
// inside the actor.
func (a *Actor) Call(fn func()) bool {
	finished := make(chan struct{})
	if !a.Do(func() {
		defer close(finished)
		fn()
	}) {
		return false
	}
	<-finished
	return true
}

// Stop lets already queued work finish, then ends the loop.
func (a *Actor) Stop() {
	a.mu.Lock()
	a.stopped = true
	a.cond.Signal()
	a.mu.Unlock()
	<-a.done
}
