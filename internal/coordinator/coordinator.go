// Package coordinator owns the periodic poll loop for one charger and the
// cached snapshot every other component reads.
package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// FetchFunc performs one device read. The coordinator supplies a context
// that is cancelled at teardown; the fetch must respect it.
type FetchFunc func(ctx context.Context) (trydan.Snapshot, error)

// Listener is invoked after every successful snapshot replacement.
type Listener func(snap trydan.Snapshot)

// HealthListener is invoked on poll-health transitions: once when a failure
// episode begins, once when it ends. Steady states produce no calls.
type HealthListener func(healthy bool)

// DefaultInterval matches the vendor app's refresh cadence.
const DefaultInterval = 2 * time.Second

// Coordinator runs one strictly sequential poll loop per charger. Ticks and
// refresh requests that arrive while a poll is in flight are coalesced, not
// queued, so a slow device never sees stacked concurrent requests.
//
// Failure degrades freshness only: the cached snapshot stays at the last
// good value and the loop keeps running.
type Coordinator struct {
	name     string
	fetch    FetchFunc
	interval time.Duration
	logger   *zap.Logger

	snap      atomic.Pointer[trydan.Snapshot]
	refreshCh chan struct{}
	failing   atomic.Bool

	// Error bookkeeping is only touched from the loop goroutine.
	consecutiveErrors int
	errorLogged       bool

	mu              sync.RWMutex
	listeners       []Listener
	healthListeners []HealthListener

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New creates a coordinator for the named charger. interval <= 0 falls back
// to DefaultInterval.
func New(name string, fetch FetchFunc, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		name:      name,
		fetch:     fetch,
		interval:  interval,
		logger:    logger.With(zap.String("charger", name)),
		refreshCh: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Start launches the poll loop. An immediate first poll runs before the
// ticker takes over so consumers get data without waiting a full interval.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	go func() {
		defer close(c.done)

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.poll(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.poll(ctx)
			case <-c.refreshCh:
				c.poll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight poll, if any, to finish.
// Safe to call more than once.
func (c *Coordinator) Stop() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
	})
}

// Snapshot returns the last good snapshot, or nil if no poll has ever
// succeeded. Callers must not mutate the result.
func (c *Coordinator) Snapshot() trydan.Snapshot {
	p := c.snap.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Healthy reports whether a snapshot exists and the most recent poll cycle
// succeeded.
func (c *Coordinator) Healthy() bool {
	return c.snap.Load() != nil && !c.failing.Load()
}

// RequestRefresh schedules an out-of-cycle poll, used after writes so
// dependent state reflects the change promptly. Non-blocking: if a refresh
// is already pending or a poll is in flight, the request coalesces into it.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

// AddListener registers a callback for successful snapshot replacements.
// Listeners run on the loop goroutine; panics are recovered so a bad
// consumer cannot kill the loop.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// AddHealthListener registers a callback for poll-health transitions.
// Listeners run on the loop goroutine; panics are recovered.
func (c *Coordinator) AddHealthListener(l HealthListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.healthListeners = append(c.healthListeners, l)
}

func (c *Coordinator) poll(ctx context.Context) {
	span, ctx := tracer.StartSpanFromContext(ctx, "coordinator.poll",
		tracer.Tag("charger", c.name))
	defer span.Finish()

	snap, err := c.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.consecutiveErrors++
		c.failing.Store(true)
		if !c.errorLogged {
			c.logger.Error("Charger poll failed", zap.Error(err))
			c.errorLogged = true
			c.notifyHealth(false)
		} else {
			c.logger.Debug("Charger poll still failing",
				zap.Int("consecutive_errors", c.consecutiveErrors),
				zap.Error(err),
			)
		}
		span.SetTag("error", err)
		return
	}

	if c.consecutiveErrors > 0 {
		c.logger.Info("Charger poll recovered",
			zap.Int("failed_cycles", c.consecutiveErrors),
		)
		c.notifyHealth(true)
	}
	c.consecutiveErrors = 0
	c.errorLogged = false
	c.failing.Store(false)

	c.snap.Store(&snap)
	c.notify(snap)
}

func (c *Coordinator) notifyHealth(healthy bool) {
	c.mu.RLock()
	listeners := make([]HealthListener, len(c.healthListeners))
	copy(listeners, c.healthListeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Health listener panicked", zap.Any("panic", r))
				}
			}()
			l(healthy)
		}()
	}
}

func (c *Coordinator) notify(snap trydan.Snapshot) {
	c.mu.RLock()
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Error("Snapshot listener panicked", zap.Any("panic", r))
				}
			}()
			l(snap)
		}()
	}
}
