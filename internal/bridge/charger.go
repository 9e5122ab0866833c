package bridge

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/Rain1971/V2C-trydant/internal/coordinator"
	"github.com/Rain1971/V2C-trydant/internal/entities"
	"github.com/Rain1971/V2C-trydant/internal/mqtt"
	"github.com/Rain1971/V2C-trydant/internal/pvpc"
	"github.com/Rain1971/V2C-trydant/internal/rules"
	"github.com/Rain1971/V2C-trydant/internal/store"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// Charger is the per-device context: protocol client, poll coordinator,
// entity registry and orchestration rules for one configured Trydan. It is
// built on configuration add and torn down as a unit on remove, so no timer
// outlives its device.
type Charger struct {
	cfg         config.ChargerConfig
	logger      *zap.Logger
	client      *trydan.Client
	coord       *coordinator.Coordinator
	states      *entities.Registry
	runner      *rules.Runner
	distance    *rules.DistanceRule
	price       *rules.PriceRule
	watcher     *rules.PausedWatcher
	mqttHandler *mqtt.MqttHandler
}

// NewCharger assembles the device context. prices and mqttHandler may be
// nil when the corresponding integration is not configured.
func NewCharger(
	cfg config.ChargerConfig,
	st *store.Store,
	prices *pvpc.Client,
	mqttHandler *mqtt.MqttHandler,
	logger *zap.Logger,
) *Charger {
	logger = logger.With(zap.String("charger", cfg.Name))

	c := &Charger{
		cfg:         cfg,
		logger:      logger,
		mqttHandler: mqttHandler,
	}

	c.client = trydan.NewClient(cfg.Host, &trydan.ClientOptions{
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Retries:      cfg.Retries,
		RetryDelay:   cfg.RetryDelay,
	}, logger)

	c.coord = coordinator.New(cfg.Name, c.client.RealTimeData, cfg.PollInterval, logger)
	c.states = entities.New(cfg.Name, st, logger)
	c.watcher = rules.NewPausedWatcher(c.states, logger)

	c.coord.AddListener(c.onSnapshot)
	c.coord.AddHealthListener(c.onHealth)
	c.states.SubscribeEvents(c.onEvent)

	var priceSource rules.PriceSource
	if prices != nil {
		priceSource = prices
	}
	c.distance = rules.NewDistanceRule(c.states, c.coord, c, cfg.KwhPer100km, logger)
	c.price = rules.NewPriceRule(c.states, priceSource, c, logger)

	c.runner = rules.NewRunner(logger)
	return c
}

// Start launches the poll loop and the rule timers.
func (c *Charger) Start(ctx context.Context) error {
	c.coord.Start(ctx)

	if err := c.runner.AddEvery(rules.DistanceInterval, func() { c.distance.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule distance rule: %w", err)
	}
	if err := c.runner.AddEvery(rules.PriceInterval, func() { c.price.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule price rule: %w", err)
	}
	c.runner.Start()

	c.logger.Info("Charger started",
		zap.String("host", c.cfg.Host),
		zap.Duration("poll_interval", c.cfg.PollInterval),
	)
	return nil
}

// Stop tears down the rule timers and the poll loop.
func (c *Charger) Stop() {
	c.runner.Stop()
	c.coord.Stop()
	c.logger.Info("Charger stopped")
}

// Name returns the configured charger name.
func (c *Charger) Name() string {
	return c.cfg.Name
}

// Host returns the charger's address.
func (c *Charger) Host() string {
	return c.cfg.Host
}

// KwhPer100km returns the configured vehicle consumption.
func (c *Charger) KwhPer100km() float64 {
	return c.cfg.KwhPer100km
}

// Available reports whether at least one poll has ever succeeded.
func (c *Charger) Available() bool {
	return c.coord.Snapshot() != nil
}

// Snapshot returns the last good device snapshot, or nil before the first
// successful poll.
func (c *Charger) Snapshot() trydan.Snapshot {
	return c.coord.Snapshot()
}

// States exposes the charger's entity registry.
func (c *Charger) States() *entities.Registry {
	return c.states
}

// PriceForecast returns the price rule's cheap-hours diagnostics.
func (c *Charger) PriceForecast() pvpc.CheapHours {
	return c.price.Forecast()
}

// SetSwitch writes a boolean control and schedules an out-of-cycle poll so
// dependent state reflects the change promptly. The refresh is requested
// only after the write completed.
func (c *Charger) SetSwitch(ctx context.Context, field string, on bool) error {
	span, ctx := tracer.StartSpanFromContext(ctx, "charger.set_switch",
		tracer.Tag("charger", c.cfg.Name), tracer.Tag("field", field))
	defer span.Finish()

	if err := c.client.WriteSwitch(ctx, field, on); err != nil {
		span.SetTag("error", err)
		return err
	}
	c.coord.RequestRefresh()
	return nil
}

// SetSetpoint writes a numeric control (validated range) and schedules an
// out-of-cycle poll.
func (c *Charger) SetSetpoint(ctx context.Context, field string, value int) error {
	span, ctx := tracer.StartSpanFromContext(ctx, "charger.set_setpoint",
		tracer.Tag("charger", c.cfg.Name), tracer.Tag("field", field))
	defer span.Finish()

	if err := c.client.WriteSetpoint(ctx, field, value); err != nil {
		span.SetTag("error", err)
		return err
	}
	c.coord.RequestRefresh()
	return nil
}

// Pause pauses charging.
func (c *Charger) Pause(ctx context.Context) error {
	c.logger.Info("Pausing charging")
	return c.SetSwitch(ctx, trydan.FieldPaused, true)
}

// Resume resumes charging.
func (c *Charger) Resume(ctx context.Context) error {
	c.logger.Info("Resuming charging")
	return c.SetSwitch(ctx, trydan.FieldPaused, false)
}

// SetKmToCharge sets the distance target setpoint.
func (c *Charger) SetKmToCharge(km float64) error {
	return c.states.SetNumber(entities.KmToChargeNumber, km)
}

// SetMaxPrice sets the price ceiling setpoint.
func (c *Charger) SetMaxPrice(price float64) error {
	return c.states.SetNumber(entities.MaxPriceNumber, price)
}

// SetPvpc toggles price-based charge gating.
func (c *Charger) SetPvpc(on bool) {
	c.states.SetBool(entities.PvpcSwitch, on)
}

// onSnapshot mirrors device flags into the entity registry and publishes
// the fresh state over MQTT. Runs on the coordinator's loop goroutine.
func (c *Charger) onSnapshot(snap trydan.Snapshot) {
	if paused, ok := snap.Bool(trydan.FieldPaused); ok {
		c.states.SetBool(entities.PausedSwitch, paused)
	}
	if locked, ok := snap.Bool(trydan.FieldLocked); ok {
		c.states.SetBool(entities.LockedSwitch, locked)
	}
	if dynamic, ok := snap.Bool(trydan.FieldDynamic); ok {
		c.states.SetBool(entities.DynamicSwitch, dynamic)
	}

	if c.mqttHandler == nil {
		return
	}
	if err := c.mqttHandler.PublishChargerState(c.cfg.Name, snap, c.derived(snap)); err != nil {
		c.logger.Warn("Failed to publish charger state", zap.Error(err))
	}
}

// derived computes the secondary values published alongside raw fields.
func (c *Charger) derived(snap trydan.Snapshot) map[string]interface{} {
	out := make(map[string]interface{})
	if km, ok := snap.RangeEstimate(c.cfg.KwhPer100km); ok {
		out["charge_km"] = km
	}
	if status, ok := snap.NumericStatus(); ok {
		out["numeric_status"] = status
		out["charge_state_text"] = trydan.ChargeStateText(status)
	}
	if secs, ok := snap.Int(trydan.FieldChargeTime); ok {
		out["charge_time_text"] = trydan.FormatChargeTime(secs)
	}
	if mode, ok := snap.Int(trydan.FieldDynamicPowerMode); ok {
		if label, ok := trydan.DynamicPowerModeLabel(mode); ok {
			out["dynamic_power_mode_text"] = label
		}
	}
	return out
}

// onHealth mirrors poll-health transitions onto the MQTT availability
// topic, so a charger that goes dark reads offline until it recovers.
// PublishChargerState re-asserts online on every successful poll.
func (c *Charger) onHealth(healthy bool) {
	if !healthy {
		c.logger.Warn("Charger unreachable")
	}
	if c.mqttHandler == nil {
		return
	}
	if err := c.mqttHandler.PublishAvailability(c.cfg.Name, healthy); err != nil {
		c.logger.Warn("Failed to publish availability", zap.Error(err))
	}
}

func (c *Charger) onEvent(event string, data map[string]interface{}) {
	c.logger.Info("Charger event", zap.String("event", event))
	if c.mqttHandler == nil {
		return
	}
	if err := c.mqttHandler.PublishEvent(c.cfg.Name, event, data); err != nil {
		c.logger.Warn("Failed to publish event", zap.Error(err))
	}
}
