package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/entities"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// DistanceInterval is the cadence of the target-distance check.
const DistanceInterval = 10 * time.Second

// DistanceRule pauses charging once the estimated range added reaches the
// user's kilometre target. Idempotent: after it fires, the paused skip and
// the zeroed target keep later ticks from re-triggering.
type DistanceRule struct {
	states      *entities.Registry
	snaps       SnapshotSource
	control     Controller
	kwhPer100km float64
	logger      *zap.Logger
}

// NewDistanceRule wires the rule to one charger's entities, snapshot cache
// and dispatcher. kwhPer100km is validated positive at configuration time.
func NewDistanceRule(states *entities.Registry, snaps SnapshotSource, control Controller, kwhPer100km float64, logger *zap.Logger) *DistanceRule {
	return &DistanceRule{
		states:      states,
		snaps:       snaps,
		control:     control,
		kwhPer100km: kwhPer100km,
		logger:      logger,
	}
}

// Tick runs one evaluation. It never propagates a panic or error: a failed
// scheduled task would otherwise silently stop firing.
func (r *DistanceRule) Tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Distance rule panicked", zap.Any("panic", rec))
		}
	}()

	if r.states.IsOn(entities.PausedSwitch) {
		return
	}

	// Unreadable target means no valid target: skip, never crash the timer.
	target, ok := r.states.Number(entities.KmToChargeNumber)
	if !ok || target == 0 {
		return
	}

	snap := r.snaps.Snapshot()
	if snap == nil {
		return
	}
	rangeKm, ok := snap.RangeEstimate(r.kwhPer100km)
	if !ok {
		return
	}
	if rangeKm < target {
		return
	}

	r.logger.Info("Target range reached, pausing charging",
		zap.Float64("range_km", rangeKm),
		zap.Float64("target_km", target),
	)

	if err := r.control.SetSwitch(ctx, trydan.FieldPaused, true); err != nil {
		r.logger.Error("Failed to pause charging", zap.Error(err))
		return
	}
	if err := r.control.SetSwitch(ctx, trydan.FieldLocked, true); err != nil {
		r.logger.Warn("Failed to lock charger", zap.Error(err))
	}

	// Mirror the pause before resetting the target so a racing re-evaluation
	// cannot observe a nonzero target on an unpaused charger.
	r.states.SetBool(entities.PausedSwitch, true)
	if err := r.states.SetNumber(entities.KmToChargeNumber, 0); err != nil {
		r.logger.Warn("Failed to reset distance target", zap.Error(err))
	}

	r.states.Fire(entities.ChargingCompleteEvent, map[string]interface{}{
		"range_km":  rangeKm,
		"target_km": target,
	})
}

// PausedWatcher tracks the pause switch's own transitions, covering manual
// pauses that the timer-driven rule never sees: switching to paused resets
// the distance target proactively.
type PausedWatcher struct {
	states *entities.Registry
	logger *zap.Logger

	mu        sync.Mutex
	wasPaused bool
}

// NewPausedWatcher registers the watcher on the registry.
func NewPausedWatcher(states *entities.Registry, logger *zap.Logger) *PausedWatcher {
	w := &PausedWatcher{states: states, logger: logger}
	states.Watch(entities.PausedSwitch, w.onChange)
	return w
}

func (w *PausedWatcher) onChange(_, oldState, newState string) {
	switch {
	case oldState == entities.StateOff && newState == entities.StateOn:
		if err := w.states.SetNumber(entities.KmToChargeNumber, 0); err != nil {
			w.logger.Warn("Failed to reset distance target on pause", zap.Error(err))
		}
		w.mu.Lock()
		w.wasPaused = true
		w.mu.Unlock()
	case oldState == entities.StateOn && newState == entities.StateOff:
		w.mu.Lock()
		w.wasPaused = false
		w.mu.Unlock()
	}
}

// WasPaused reports whether the charger is currently in a pause episode.
func (w *PausedWatcher) WasPaused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.wasPaused
}
