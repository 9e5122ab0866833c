// Package bridge ties the device protocol, poll coordinators, entity
// registries and orchestration rules into one service keyed by charger
// name.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/Rain1971/V2C-trydant/internal/mqtt"
	"github.com/Rain1971/V2C-trydant/internal/pvpc"
	"github.com/Rain1971/V2C-trydant/internal/store"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

// Service owns the per-charger contexts. Chargers are constructed from
// configuration at startup and torn down together on shutdown.
type Service struct {
	cfg         *config.Config
	logger      *zap.Logger
	mqttHandler *mqtt.MqttHandler

	mu       sync.RWMutex
	chargers map[string]*Charger
}

// NewService builds the charger contexts from configuration. st, prices and
// mqttHandler may be nil for disabled integrations.
func NewService(cfg *config.Config, st *store.Store, prices *pvpc.Client, mqttHandler *mqtt.MqttHandler, logger *zap.Logger) *Service {
	s := &Service{
		cfg:         cfg,
		logger:      logger,
		mqttHandler: mqttHandler,
		chargers:    make(map[string]*Charger, len(cfg.Chargers)),
	}

	for _, chargerCfg := range cfg.Chargers {
		s.chargers[chargerCfg.Name] = NewCharger(chargerCfg, st, prices, mqttHandler, logger)
	}

	return s
}

// Start launches every charger context and the MQTT command subscription.
func (s *Service) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, charger := range s.chargers {
		if err := charger.Start(ctx); err != nil {
			return fmt.Errorf("failed to start charger %s: %w", name, err)
		}
	}

	if s.mqttHandler != nil {
		if err := s.mqttHandler.SubscribeToCommands(s); err != nil {
			return fmt.Errorf("failed to subscribe to MQTT commands: %w", err)
		}
		s.publishChargerList()
	}

	s.logger.Info("Bridge service started", zap.Int("chargers", len(s.chargers)))
	return nil
}

// Stop tears down every charger context. No recurring timer survives this.
func (s *Service) Stop() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, charger := range s.chargers {
		charger.Stop()
	}
	s.logger.Info("Bridge service stopped")
}

// GetCharger returns a charger by name
func (s *Service) GetCharger(name string) (*Charger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	charger, ok := s.chargers[name]
	if !ok {
		return nil, fmt.Errorf("charger %s not found", name)
	}

	return charger, nil
}

// ListChargers returns all configured chargers
func (s *Service) ListChargers() []*Charger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chargers := make([]*Charger, 0, len(s.chargers))
	for _, c := range s.chargers {
		chargers = append(chargers, c)
	}

	return chargers
}

func (s *Service) publishChargerList() {
	s.mu.RLock()
	infos := make([]mqtt.ChargerInfo, 0, len(s.chargers))
	for name, charger := range s.chargers {
		infos = append(infos, mqtt.ChargerInfo{
			Name:      name,
			Host:      charger.Host(),
			Available: charger.Available(),
		})
	}
	s.mu.RUnlock()

	if err := s.mqttHandler.PublishChargerList(infos); err != nil {
		s.logger.Warn("Failed to publish charger list", zap.Error(err))
	}
}

// CommandHandler implementation for MQTT commands

// HandlePause pauses charging on the specified charger
func (s *Service) HandlePause(chargerName string) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.Pause(context.Background())
}

// HandleResume resumes charging on the specified charger
func (s *Service) HandleResume(chargerName string) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.Resume(context.Background())
}

// HandleLock locks or unlocks the specified charger
func (s *Service) HandleLock(chargerName string, locked bool) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.SetSwitch(context.Background(), trydan.FieldLocked, locked)
}

// HandleSetSetpoint writes a numeric control on the specified charger
func (s *Service) HandleSetSetpoint(chargerName, field string, value int) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.SetSetpoint(context.Background(), field, value)
}

// HandleSetKmToCharge sets the distance target on the specified charger
func (s *Service) HandleSetKmToCharge(chargerName string, km float64) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.SetKmToCharge(km)
}

// HandleSetMaxPrice sets the price ceiling on the specified charger
func (s *Service) HandleSetMaxPrice(chargerName string, price float64) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	return charger.SetMaxPrice(price)
}

// HandleSetPvpc toggles price gating on the specified charger
func (s *Service) HandleSetPvpc(chargerName string, on bool) error {
	charger, err := s.GetCharger(chargerName)
	if err != nil {
		return err
	}
	charger.SetPvpc(on)
	return nil
}
