package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func testClassifier(err error) Outcome {
	switch {
	case err == nil:
		return Done
	case errors.Is(err, errTransient):
		return Defer
	default:
		return Fail
	}
}

func newTestEngine(t *testing.T, interval time.Duration) *Engine {
	t.Helper()
	e := NewEngine(Config{
		Name:           "test",
		Classify:       testClassifier,
		ResendInterval: interval,
		MailboxSize:    16,
	})
	t.Cleanup(e.Close)
	return e
}

func TestEngine_ConnectedSuccess(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, time.Hour)
	var calls int
	err := e.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateConnected, e.State())
}

func TestEngine_PermanentErrorKeepsState(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, time.Hour)
	err := e.Do(context.Background(), func(context.Context) error { return errPermanent })
	require.ErrorIs(t, err, errPermanent)
	assert.Equal(t, StateConnected, e.State())
}

func TestEngine_TransientDefersUntilRecovery(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 10*time.Millisecond)
	var attempts atomic.Int32
	err := e.Do(context.Background(), func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, StateConnected, e.State())
}

func TestEngine_ReconnectingParksFreshCalls(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 10*time.Millisecond)
	var gate atomic.Bool
	gate.Store(true)

	// Flip to Reconnecting with a call that only recovers once the gate opens.
	first := make(chan error, 1)
	go func() {
		first <- e.Do(context.Background(), func(context.Context) error {
			if gate.Load() {
				return errTransient
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return e.State() == StateReconnecting },
		time.Second, time.Millisecond)

	// A fresh call now skips the inline attempt and parks.
	var inlineRan atomic.Bool
	second := make(chan error, 1)
	go func() {
		second <- e.Do(context.Background(), func(context.Context) error {
			inlineRan.Store(true)
			if gate.Load() {
				return errTransient
			}
			return nil
		})
	}()
	// Give the second call time to park; it must not run before a tick.
	time.Sleep(5 * time.Millisecond)

	gate.Store(false)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	assert.True(t, inlineRan.Load())
	assert.Equal(t, StateConnected, e.State())
}

func TestEngine_FIFOWithinMailbox(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 50*time.Millisecond)
	var gate atomic.Bool
	gate.Store(true)

	var mu sync.Mutex
	var order []int

	mkAction := func(i int) Action {
		return func(context.Context) error {
			if gate.Load() {
				return errTransient
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}
	}

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = e.Do(context.Background(), mkAction(i))
		}(i)
		if i == 0 {
			require.Eventually(t, func() bool { return e.State() == StateReconnecting },
				time.Second, time.Millisecond)
		} else {
			// Stagger so mailbox order matches launch order.
			time.Sleep(20 * time.Millisecond)
		}
	}

	gate.Store(false)
	wg.Wait()
	for i, err := range errs {
		require.NoError(t, err, "action %d", i)
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestEngine_ParkedPermanentErrorSurfaces(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, 10*time.Millisecond)
	var gate atomic.Bool
	gate.Store(true)

	first := make(chan error, 1)
	go func() {
		first <- e.Do(context.Background(), func(context.Context) error {
			if gate.Load() {
				return errTransient
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return e.State() == StateReconnecting },
		time.Second, time.Millisecond)

	got := make(chan error, 1)
	go func() {
		got <- e.Do(context.Background(), func(context.Context) error { return errPermanent })
	}()
	select {
	case err := <-got:
		require.ErrorIs(t, err, errPermanent)
	case <-time.After(time.Second):
		t.Fatal("parked permanent error never surfaced")
	}

	gate.Store(false)
	require.NoError(t, <-first)
}

func TestEngine_CallerCancelWhileParked(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, time.Hour)
	var gate atomic.Bool
	gate.Store(true)

	flip := make(chan error, 1)
	go func() {
		flip <- e.Do(context.Background(), func(context.Context) error {
			if gate.Load() {
				return errTransient
			}
			return nil
		})
	}()
	require.Eventually(t, func() bool { return e.State() == StateReconnecting },
		time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	go func() {
		got <- e.Do(ctx, func(context.Context) error { return errTransient })
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-got:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller never released")
	}
	gate.Store(false)
}

func TestEngine_CloseReleasesParked(t *testing.T) {
	t.Parallel()
	e := NewEngine(Config{
		Name:           "close-test",
		Classify:       testClassifier,
		ResendInterval: time.Hour,
		MailboxSize:    16,
	})
	got := make(chan error, 1)
	go func() {
		got <- e.Do(context.Background(), func(context.Context) error { return errTransient })
	}()
	require.Eventually(t, func() bool { return e.State() == StateReconnecting },
		time.Second, time.Millisecond)
	e.Close()
	select {
	case err := <-got:
		require.ErrorIs(t, err, ErrEngineClosed)
	case <-time.After(time.Second):
		t.Fatal("close never released parked caller")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
}
