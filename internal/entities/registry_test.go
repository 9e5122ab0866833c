package entities

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/store"
)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestRegistryDefaults(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	km, ok := r.Number(KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.0, km)

	maxPrice, ok := r.Number(MaxPriceNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.0, maxPrice)

	assert.False(t, r.IsOn(PvpcSwitch))

	// Mirror entities do not exist until the first snapshot arrives.
	_, ok = r.Resolve(PausedSwitch)
	assert.False(t, ok)
}

func TestRegistrySetAndResolve(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	r.SetBool(PausedSwitch, true)
	assert.True(t, r.IsOn(PausedSwitch))

	r.SetBool(PausedSwitch, false)
	state, ok := r.Resolve(PausedSwitch)
	assert.True(t, ok)
	assert.Equal(t, StateOff, state)
}

func TestRegistryNumberParsing(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	require.NoError(t, r.SetNumber(KmToChargeNumber, 150))
	km, ok := r.Number(KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 150.0, km)

	// An unparseable state resolves but does not read as a number.
	r.Set(KmToChargeNumber, "unknown")
	_, ok = r.Number(KmToChargeNumber)
	assert.False(t, ok)
	state, ok := r.Resolve(KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, "unknown", state)
}

func TestRegistryNumberBounds(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	assert.NoError(t, r.SetNumber(KmToChargeNumber, 0))
	assert.NoError(t, r.SetNumber(KmToChargeNumber, 1000))
	assert.Error(t, r.SetNumber(KmToChargeNumber, -1))
	assert.Error(t, r.SetNumber(KmToChargeNumber, 1001))

	assert.NoError(t, r.SetNumber(MaxPriceNumber, 0.15))
	assert.Error(t, r.SetNumber(MaxPriceNumber, 1.5))

	// A rejected write leaves the state untouched.
	require.NoError(t, r.SetNumber(MaxPriceNumber, 0.2))
	require.Error(t, r.SetNumber(MaxPriceNumber, 2))
	v, ok := r.Number(MaxPriceNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.2, v)
}

func TestRegistryWatchers(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	type transition struct{ old, new string }
	var seen []transition
	r.Watch(PausedSwitch, func(entityID, oldState, newState string) {
		assert.Equal(t, PausedSwitch, entityID)
		seen = append(seen, transition{oldState, newState})
	})

	r.SetBool(PausedSwitch, true)
	r.SetBool(PausedSwitch, true) // no transition, no callback
	r.SetBool(PausedSwitch, false)

	require.Len(t, seen, 2)
	assert.Equal(t, transition{"", StateOn}, seen[0])
	assert.Equal(t, transition{StateOn, StateOff}, seen[1])
}

func TestRegistryEvents(t *testing.T) {
	r := New("garage", nil, zap.NewNop())

	var gotEvent string
	var gotData map[string]interface{}
	r.SubscribeEvents(func(event string, data map[string]interface{}) {
		gotEvent = event
		gotData = data
	})

	r.Fire(ChargingCompleteEvent, map[string]interface{}{"range_km": 25.0})

	assert.Equal(t, ChargingCompleteEvent, gotEvent)
	assert.Equal(t, 25.0, gotData["range_km"])
}

func TestRegistryPersistence(t *testing.T) {
	st := testStore(t)

	r := New("garage", st, zap.NewNop())
	require.NoError(t, r.SetNumber(KmToChargeNumber, 120))
	require.NoError(t, r.SetNumber(MaxPriceNumber, 0.15))
	r.SetBool(PvpcSwitch, true)
	r.SetBool(PausedSwitch, true) // not persisted

	// A fresh registry over the same store restores the setpoints.
	r2 := New("garage", st, zap.NewNop())

	km, ok := r2.Number(KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 120.0, km)

	maxPrice, ok := r2.Number(MaxPriceNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.15, maxPrice)

	assert.True(t, r2.IsOn(PvpcSwitch))

	_, ok = r2.Resolve(PausedSwitch)
	assert.False(t, ok)
}

func TestRegistryPersistenceIsPerCharger(t *testing.T) {
	st := testStore(t)

	garage := New("garage", st, zap.NewNop())
	require.NoError(t, garage.SetNumber(KmToChargeNumber, 200))

	driveway := New("driveway", st, zap.NewNop())
	km, ok := driveway.Number(KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.0, km)
}
