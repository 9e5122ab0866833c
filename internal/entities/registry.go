// Package entities models the platform-facing entity surface of one
// charger: named switches and numeric setpoints with states, change
// notification, and a small event bus. Orchestration rules resolve entities
// through it by identifier and never hold handles across cycles.
package entities

import (
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/store"
)

// Entity identifiers. The switch entities mirror device flags; the number
// entities are user setpoints owned by the platform side.
const (
	PausedSwitch     = "switch.trydan_paused"
	LockedSwitch     = "switch.trydan_locked"
	DynamicSwitch    = "switch.trydan_dynamic"
	PvpcSwitch       = "switch.trydan_pvpc_charge"
	KmToChargeNumber = "number.trydan_km_to_charge"
	MaxPriceNumber   = "number.trydan_max_price"
)

// Switch states are stored as the on/off literals the platform uses.
const (
	StateOn  = "on"
	StateOff = "off"
)

// ChargingCompleteEvent is published when the distance rule pauses charging
// because the target range was reached.
const ChargingCompleteEvent = "charging_complete"

// numberBounds are the closed ranges enforced on setpoint writes.
var numberBounds = map[string][2]float64{
	KmToChargeNumber: {0, 1000},
	MaxPriceNumber:   {0, 1},
}

// persisted marks the entities whose state survives restarts.
var persisted = map[string]bool{
	KmToChargeNumber: true,
	MaxPriceNumber:   true,
	PvpcSwitch:       true,
}

// ChangeFunc observes a state transition of one entity.
type ChangeFunc func(entityID, oldState, newState string)

// EventFunc observes a custom event.
type EventFunc func(event string, data map[string]interface{})

// Registry holds the entity states of one charger.
type Registry struct {
	charger string
	store   *store.Store // may be nil
	logger  *zap.Logger

	mu       sync.RWMutex
	states   map[string]string
	watchers map[string][]ChangeFunc
	eventFns []EventFunc
}

// New creates the registry for a charger, restoring persisted setpoints from
// the store when one is given.
func New(charger string, st *store.Store, logger *zap.Logger) *Registry {
	r := &Registry{
		charger:  charger,
		store:    st,
		logger:   logger.With(zap.String("charger", charger)),
		states:   make(map[string]string),
		watchers: make(map[string][]ChangeFunc),
	}

	r.states[KmToChargeNumber] = "0"
	r.states[MaxPriceNumber] = "0"
	r.states[PvpcSwitch] = StateOff

	if st != nil {
		for id := range persisted {
			if v, ok, err := st.Get(r.storeKey(id)); err == nil && ok {
				r.states[id] = v
			}
		}
	}
	return r
}

// Resolve returns the current state of an entity and whether the entity
// exists yet. Callers treat a missing entity as "skip this cycle", never as
// an error: during startup ordering some entities appear late.
func (r *Registry) Resolve(entityID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[entityID]
	return state, ok
}

// Number resolves an entity and parses its state as a float. ok is false
// when the entity is missing or its state does not parse.
func (r *Registry) Number(entityID string) (float64, bool) {
	raw, ok := r.Resolve(entityID)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// IsOn resolves a switch entity; a missing entity reads as off.
func (r *Registry) IsOn(entityID string) bool {
	state, ok := r.Resolve(entityID)
	return ok && state == StateOn
}

// Set replaces an entity's state and notifies watchers of the transition.
// Watchers run synchronously on the caller's goroutine, outside the lock.
func (r *Registry) Set(entityID, state string) {
	r.mu.Lock()
	old, existed := r.states[entityID]
	if existed && old == state {
		r.mu.Unlock()
		return
	}
	r.states[entityID] = state
	watchers := make([]ChangeFunc, len(r.watchers[entityID]))
	copy(watchers, r.watchers[entityID])
	r.mu.Unlock()

	if persisted[entityID] && r.store != nil {
		if err := r.store.Set(r.storeKey(entityID), state); err != nil {
			r.logger.Warn("Failed to persist entity state",
				zap.String("entity", entityID), zap.Error(err))
		}
	}

	for _, w := range watchers {
		w(entityID, old, state)
	}
}

// SetBool sets a switch entity from a boolean.
func (r *Registry) SetBool(entityID string, on bool) {
	if on {
		r.Set(entityID, StateOn)
	} else {
		r.Set(entityID, StateOff)
	}
}

// SetNumber sets a numeric setpoint, enforcing the entity's closed range.
func (r *Registry) SetNumber(entityID string, value float64) error {
	if bounds, ok := numberBounds[entityID]; ok {
		if value < bounds[0] || value > bounds[1] {
			return fmt.Errorf("%s must be between %g and %g", entityID, bounds[0], bounds[1])
		}
	}
	r.Set(entityID, strconv.FormatFloat(value, 'f', -1, 64))
	return nil
}

// Watch registers a callback for state transitions of one entity.
func (r *Registry) Watch(entityID string, fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watchers[entityID] = append(r.watchers[entityID], fn)
}

// SubscribeEvents registers a callback for custom events.
func (r *Registry) SubscribeEvents(fn EventFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventFns = append(r.eventFns, fn)
}

// Fire publishes a custom event to all subscribers.
func (r *Registry) Fire(event string, data map[string]interface{}) {
	r.mu.RLock()
	subs := make([]EventFunc, len(r.eventFns))
	copy(subs, r.eventFns)
	r.mu.RUnlock()

	r.logger.Debug("Firing event", zap.String("event", event))
	for _, fn := range subs {
		fn(event, data)
	}
}

func (r *Registry) storeKey(entityID string) string {
	return r.charger + "/" + entityID
}
