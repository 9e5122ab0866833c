package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/config"
	"github.com/Rain1971/V2C-trydant/internal/entities"
)

func testServiceConfig() *config.Config {
	return &config.Config{
		Chargers: []config.ChargerConfig{
			{
				Name:         "garage",
				Host:         "192.168.1.50",
				PollInterval: 2 * time.Second,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 5 * time.Second,
				Retries:      3,
				RetryDelay:   time.Second,
				KwhPer100km:  20,
			},
			{
				Name:         "driveway",
				Host:         "192.168.1.51",
				PollInterval: 2 * time.Second,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 5 * time.Second,
				Retries:      3,
				RetryDelay:   time.Second,
				KwhPer100km:  15,
			},
		},
		Network: config.NetworkConfig{APIPort: 8080},
	}
}

func TestServiceChargerLookup(t *testing.T) {
	s := NewService(testServiceConfig(), nil, nil, nil, zap.NewNop())

	charger, err := s.GetCharger("garage")
	require.NoError(t, err)
	assert.Equal(t, "garage", charger.Name())
	assert.Equal(t, "192.168.1.50", charger.Host())
	assert.Equal(t, 20.0, charger.KwhPer100km())

	_, err = s.GetCharger("nonexistent")
	assert.ErrorContains(t, err, "not found")

	assert.Len(t, s.ListChargers(), 2)
}

func TestServiceChargersStartUnavailable(t *testing.T) {
	s := NewService(testServiceConfig(), nil, nil, nil, zap.NewNop())

	charger, err := s.GetCharger("garage")
	require.NoError(t, err)

	// No poll has run, so no snapshot and not available.
	assert.False(t, charger.Available())
	assert.Nil(t, charger.Snapshot())
}

func TestServiceLocalSetpoints(t *testing.T) {
	s := NewService(testServiceConfig(), nil, nil, nil, zap.NewNop())

	require.NoError(t, s.HandleSetKmToCharge("garage", 120))
	charger, err := s.GetCharger("garage")
	require.NoError(t, err)
	km, ok := charger.States().Number(entities.KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 120.0, km)

	// Setpoints are per charger.
	driveway, err := s.GetCharger("driveway")
	require.NoError(t, err)
	km, _ = driveway.States().Number(entities.KmToChargeNumber)
	assert.Equal(t, 0.0, km)

	assert.Error(t, s.HandleSetKmToCharge("garage", 2000))
	assert.Error(t, s.HandleSetKmToCharge("nonexistent", 100))

	require.NoError(t, s.HandleSetMaxPrice("garage", 0.15))
	price, ok := charger.States().Number(entities.MaxPriceNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.15, price)
	assert.Error(t, s.HandleSetMaxPrice("garage", 1.5))

	require.NoError(t, s.HandleSetPvpc("garage", true))
	assert.True(t, charger.States().IsOn(entities.PvpcSwitch))
}
