// Package pause implements the cooperative suspend/resume primitive shared
// by all pipeline stages. Pausing only takes effect at defined yield points:
// in-flight work is never preempted, only the next un-started unit is held.
package pause

import "sync"

// Listener is notified on every actual pause state change
type Listener func(paused bool)

// Gate is a broadcast pause gate. Any number of tasks may block in Wait;
// Resume releases them all simultaneously.
type Gate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	paused    bool
	listeners map[int]Listener
	nextID    int
}

// NewGate creates a gate in the resumed state
func NewGate() *Gate {
	g := &Gate{listeners: make(map[int]Listener)}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// Pause suspends dispatch of new work. Calling Pause while already paused
// is a no-op with no duplicate notification.
func (g *Gate) Pause() {
	g.setPaused(true)
}

// Resume releases all waiters. Calling Resume while already resumed is a
// no-op with no duplicate notification.
func (g *Gate) Resume() {
	g.setPaused(false)
}

// Paused reports the current gate state
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Wait blocks the calling task until the gate is resumed. There is no bound
// on the wait duration.
func (g *Gate) Wait() {
	g.mu.Lock()
	for g.paused {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// Reset forces the resumed state and releases any pending waiters. Called at
// run start and in the orchestrator's guaranteed cleanup path.
func (g *Gate) Reset() {
	g.setPaused(false)
}

// Subscribe registers a state-change listener and returns its handle
func (g *Gate) Subscribe(fn Listener) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.nextID
	g.nextID++
	g.listeners[id] = fn
	return id
}

// Unsubscribe removes a previously registered listener
func (g *Gate) Unsubscribe(id int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.listeners, id)
}

func (g *Gate) setPaused(paused bool) {
	g.mu.Lock()
	if g.paused == paused {
		g.mu.Unlock()
		return
	}
	g.paused = paused
	if !paused {
		g.cond.Broadcast()
	}
	notify := make([]Listener, 0, len(g.listeners))
	for _, fn := range g.listeners {
		notify = append(notify, fn)
	}
	g.mu.Unlock()

	// Listeners run outside the lock so they may call back into the gate
	for _, fn := range notify {
		fn(paused)
	}
}
