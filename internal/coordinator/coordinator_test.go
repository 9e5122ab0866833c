package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal(msg)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCoordinatorServesSnapshot(t *testing.T) {
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		return trydan.Snapshot{trydan.FieldChargeState: float64(2)}, nil
	}

	c := New("garage", fetch, time.Hour, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return c.Snapshot() != nil }, "no snapshot after initial poll")

	state, ok := c.Snapshot().Int(trydan.FieldChargeState)
	assert.True(t, ok)
	assert.Equal(t, trydan.ChargeStateCharging, state)
	assert.True(t, c.Healthy())
}

func TestCoordinatorKeepsStaleSnapshotOnFailure(t *testing.T) {
	var fail atomic.Bool
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return trydan.Snapshot{trydan.FieldChargeEnergy: 4.0}, nil
	}

	c := New("garage", fetch, time.Hour, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return c.Snapshot() != nil }, "no snapshot after initial poll")

	fail.Store(true)
	c.RequestRefresh()
	waitFor(t, func() bool { return !c.Healthy() }, "coordinator never went unhealthy")

	// The last good snapshot survives the failure.
	snap := c.Snapshot()
	require.NotNil(t, snap)
	energy, ok := snap.Float(trydan.FieldChargeEnergy)
	assert.True(t, ok)
	assert.Equal(t, 4.0, energy)
}

func TestCoordinatorLogsErrorOnceAndRecoveryOnce(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	var fail atomic.Bool
	var polls atomic.Int32
	fail.Store(true)
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		polls.Add(1)
		if fail.Load() {
			return nil, errors.New("timeout")
		}
		return trydan.Snapshot{}, nil
	}

	c := New("garage", fetch, time.Hour, logger)
	c.Start(context.Background())
	defer c.Stop()

	// Drive several failing cycles.
	waitFor(t, func() bool { return polls.Load() >= 1 }, "initial poll never ran")
	for i := 0; i < 3; i++ {
		before := polls.Load()
		c.RequestRefresh()
		waitFor(t, func() bool { return polls.Load() > before }, "refresh poll never ran")
	}

	assert.Equal(t, 1, logs.FilterMessage("Charger poll failed").Len(),
		"repeated failures must log exactly once")

	// Recover and poll again.
	fail.Store(false)
	c.RequestRefresh()
	waitFor(t, func() bool { return c.Healthy() }, "coordinator never recovered")

	recoveries := logs.FilterMessage("Charger poll recovered")
	assert.Equal(t, 1, recoveries.Len())
	assert.Equal(t, int64(4), recoveries.All()[0].ContextMap()["failed_cycles"])

	// A second healthy cycle logs nothing new.
	before := polls.Load()
	c.RequestRefresh()
	waitFor(t, func() bool { return polls.Load() > before }, "refresh poll never ran")
	assert.Equal(t, 1, logs.FilterMessage("Charger poll recovered").Len())
}

func TestCoordinatorCoalescesRefreshRequests(t *testing.T) {
	release := make(chan struct{})
	var polls atomic.Int32
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		polls.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return trydan.Snapshot{}, nil
	}

	c := New("garage", fetch, time.Hour, zap.NewNop())
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return polls.Load() == 1 }, "initial poll never started")

	// Burst of refresh requests while the first poll is in flight.
	for i := 0; i < 10; i++ {
		c.RequestRefresh()
	}
	release <- struct{}{}

	// The burst coalesces into at most one extra poll.
	waitFor(t, func() bool { return polls.Load() == 2 }, "coalesced refresh never ran")
	release <- struct{}{}
	waitFor(t, func() bool { return c.Snapshot() != nil }, "no snapshot stored")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), polls.Load())
}

func TestCoordinatorHealthTransitions(t *testing.T) {
	var fail atomic.Bool
	var polls atomic.Int32
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		polls.Add(1)
		if fail.Load() {
			return nil, errors.New("connection refused")
		}
		return trydan.Snapshot{}, nil
	}

	c := New("garage", fetch, time.Hour, zap.NewNop())

	var mu sync.Mutex
	var transitions []bool
	c.AddHealthListener(func(healthy bool) {
		mu.Lock()
		transitions = append(transitions, healthy)
		mu.Unlock()
	})

	seen := func() []bool {
		mu.Lock()
		defer mu.Unlock()
		out := make([]bool, len(transitions))
		copy(out, transitions)
		return out
	}

	c.Start(context.Background())
	defer c.Stop()

	// Healthy polls produce no transition, not even the first one.
	waitFor(t, func() bool { return polls.Load() >= 1 }, "initial poll never ran")
	assert.Empty(t, seen())

	// A failure episode notifies unhealthy exactly once, however long it lasts.
	fail.Store(true)
	for i := 0; i < 3; i++ {
		before := polls.Load()
		c.RequestRefresh()
		waitFor(t, func() bool { return polls.Load() > before }, "refresh poll never ran")
	}
	assert.Equal(t, []bool{false}, seen())

	// Recovery notifies healthy exactly once.
	fail.Store(false)
	c.RequestRefresh()
	waitFor(t, func() bool { return c.Healthy() }, "coordinator never recovered")
	assert.Equal(t, []bool{false, true}, seen())

	// A second episode produces a fresh pair.
	fail.Store(true)
	before := polls.Load()
	c.RequestRefresh()
	waitFor(t, func() bool { return polls.Load() > before }, "refresh poll never ran")
	assert.Equal(t, []bool{false, true, false}, seen())
}

func TestCoordinatorListeners(t *testing.T) {
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		return trydan.Snapshot{trydan.FieldChargeState: float64(1)}, nil
	}

	c := New("garage", fetch, time.Hour, zap.NewNop())

	var notified atomic.Int32
	c.AddListener(func(snap trydan.Snapshot) {
		panic("bad listener")
	})
	c.AddListener(func(snap trydan.Snapshot) {
		notified.Add(1)
	})

	c.Start(context.Background())
	defer c.Stop()

	// A panicking listener must not prevent later listeners from running.
	waitFor(t, func() bool { return notified.Load() >= 1 }, "listener never notified")
}

func TestCoordinatorStopIsIdempotent(t *testing.T) {
	fetch := func(ctx context.Context) (trydan.Snapshot, error) {
		return trydan.Snapshot{}, nil
	}

	c := New("garage", fetch, 10*time.Millisecond, zap.NewNop())
	c.Start(context.Background())

	c.Stop()
	c.Stop()
}

func TestCoordinatorDefaultInterval(t *testing.T) {
	c := New("garage", nil, 0, zap.NewNop())
	assert.Equal(t, DefaultInterval, c.interval)
}
