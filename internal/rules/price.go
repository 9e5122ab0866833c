package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/entities"
	"github.com/Rain1971/V2C-trydant/internal/pvpc"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// PriceInterval is the cadence of the price-gating check.
const PriceInterval = 60 * time.Second

// PriceSource is the externally-owned hourly price curve.
type PriceSource interface {
	Refresh(ctx context.Context) error
	CurrentPrice(now time.Time) (float64, bool)
	CheapHoursBelow(now time.Time, maxPrice float64) pvpc.CheapHours
}

// PriceRule gates charging on the hourly electricity price while the PVPC
// toggle is on: price at or below the ceiling resumes charging, above it
// pauses. Level-triggered, so repeating a cycle with unchanged inputs only
// produces tolerated no-op writes.
type PriceRule struct {
	states  *entities.Registry
	prices  PriceSource // nil when no price endpoint is configured
	control Controller
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	forecast pvpc.CheapHours
}

// NewPriceRule wires the rule to one charger's entities, dispatcher and the
// shared price source.
func NewPriceRule(states *entities.Registry, prices PriceSource, control Controller, logger *zap.Logger) *PriceRule {
	return &PriceRule{
		states:  states,
		prices:  prices,
		control: control,
		logger:  logger,
		now:     time.Now,
	}
}

// Tick runs one gating cycle. Entities are resolved fresh every cycle; any
// collaborator that is not resolvable yet skips the cycle silently, since
// that is expected during startup ordering.
func (r *PriceRule) Tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Price rule panicked", zap.Any("panic", rec))
		}
	}()

	if r.prices == nil {
		return
	}
	if _, ok := r.states.Resolve(entities.PausedSwitch); !ok {
		return
	}
	if !r.states.IsOn(entities.PvpcSwitch) {
		return
	}
	maxPrice, ok := r.states.Number(entities.MaxPriceNumber)
	if !ok {
		return
	}

	// The curve's own update cycle is independently scheduled, so refresh
	// before reading. A failed refresh falls back to the cached curve.
	if err := r.prices.Refresh(ctx); err != nil {
		r.logger.Debug("Price refresh failed, using cached curve", zap.Error(err))
	}

	price, ok := r.prices.CurrentPrice(r.now())
	if !ok {
		return
	}

	pause := price > maxPrice
	if err := r.control.SetSwitch(ctx, trydan.FieldPaused, pause); err != nil {
		r.logger.Error("Failed to apply price gating",
			zap.Bool("pause", pause),
			zap.Float64("price", price),
			zap.Float64("max_price", maxPrice),
			zap.Error(err),
		)
		return
	}
	r.states.SetBool(entities.PausedSwitch, pause)

	forecast := r.prices.CheapHoursBelow(r.now(), maxPrice)
	r.mu.Lock()
	r.forecast = forecast
	r.mu.Unlock()

	r.logger.Debug("Price gating applied",
		zap.Float64("price", price),
		zap.Float64("max_price", maxPrice),
		zap.Bool("paused", pause),
		zap.Int("cheap_hours", forecast.Count),
	)
}

// Forecast returns the cheap-hours diagnostics from the last cycle.
func (r *PriceRule) Forecast() pvpc.CheapHours {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forecast
}
