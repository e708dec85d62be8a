package pause

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGate_WaitWhenResumed(t *testing.T) {
	g := NewGate()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait blocked on a resumed gate")
	}
}

func TestGate_ResumeReleasesAllWaiters(t *testing.T) {
	g := NewGate()
	g.Pause()

	const waiters = 8
	var released atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Wait()
			released.Add(1)
		}()
	}

	// Give the waiters time to block
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), released.Load())

	g.Resume()
	wg.Wait()
	require.Equal(t, int32(waiters), released.Load())
}

func TestGate_IdempotentTransitions(t *testing.T) {
	g := NewGate()

	var notifications atomic.Int32
	id := g.Subscribe(func(paused bool) {
		notifications.Add(1)
	})
	defer g.Unsubscribe(id)

	g.Pause()
	g.Pause() // no duplicate notification
	require.Equal(t, int32(1), notifications.Load())
	require.True(t, g.Paused())

	g.Resume()
	g.Resume()
	require.Equal(t, int32(2), notifications.Load())
	require.False(t, g.Paused())

	g.Reset() // already resumed, still a no-op notification-wise
	require.Equal(t, int32(2), notifications.Load())
}

func TestGate_ResetReleasesWaiters(t *testing.T) {
	g := NewGate()
	g.Pause()

	done := make(chan struct{})
	go func() {
		g.Wait()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	g.Reset()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Reset did not release the pending waiter")
	}
	require.False(t, g.Paused())
}

func TestGate_ListenerObservesStateChanges(t *testing.T) {
	g := NewGate()

	var mu sync.Mutex
	var seen []bool
	g.Subscribe(func(paused bool) {
		mu.Lock()
		seen = append(seen, paused)
		mu.Unlock()
	})

	g.Pause()
	g.Resume()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []bool{true, false}, seen)
}
