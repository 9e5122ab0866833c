package rules

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Rain1971/V2C-trydant/internal/entities"
	"github.com/Rain1971/V2C-trydant/internal/trydan"
)

type fakeSnapshots struct {
	snap trydan.Snapshot
}

func (f *fakeSnapshots) Snapshot() trydan.Snapshot { return f.snap }

type switchWrite struct {
	field string
	on    bool
}

type fakeController struct {
	mu     sync.Mutex
	writes []switchWrite
	fail   map[string]error
}

func (f *fakeController) SetSwitch(ctx context.Context, field string, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[field]; err != nil {
		return err
	}
	f.writes = append(f.writes, switchWrite{field, on})
	return nil
}

func (f *fakeController) written() []switchWrite {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]switchWrite, len(f.writes))
	copy(out, f.writes)
	return out
}

func newDistanceFixture(t *testing.T, energy, target float64) (*DistanceRule, *entities.Registry, *fakeController) {
	t.Helper()
	states := entities.New("garage", nil, zap.NewNop())
	states.SetBool(entities.PausedSwitch, false)
	require.NoError(t, states.SetNumber(entities.KmToChargeNumber, target))

	snaps := &fakeSnapshots{snap: trydan.Snapshot{trydan.FieldChargeEnergy: energy}}
	control := &fakeController{}
	rule := NewDistanceRule(states, snaps, control, 20.0, zap.NewNop())
	return rule, states, control
}

func TestDistanceRuleTriggersAtTarget(t *testing.T) {
	// 4.0 kWh at 20 kWh/100km adds 25 km, meeting a 24 km target.
	rule, states, control := newDistanceFixture(t, 4.0, 24)

	var events []map[string]interface{}
	states.SubscribeEvents(func(event string, data map[string]interface{}) {
		assert.Equal(t, entities.ChargingCompleteEvent, event)
		events = append(events, data)
	})

	rule.Tick(context.Background())

	// Pause first, then lock.
	require.Equal(t, []switchWrite{
		{trydan.FieldPaused, true},
		{trydan.FieldLocked, true},
	}, control.written())

	assert.True(t, states.IsOn(entities.PausedSwitch))
	km, ok := states.Number(entities.KmToChargeNumber)
	assert.True(t, ok)
	assert.Equal(t, 0.0, km)

	require.Len(t, events, 1)
	assert.Equal(t, 25.0, events[0]["range_km"])
	assert.Equal(t, 24.0, events[0]["target_km"])
}

func TestDistanceRuleFiresOnce(t *testing.T) {
	rule, _, control := newDistanceFixture(t, 4.0, 24)

	rule.Tick(context.Background())
	rule.Tick(context.Background())
	rule.Tick(context.Background())

	// The paused skip and the zeroed target keep later ticks inert.
	assert.Len(t, control.written(), 2)
}

func TestDistanceRuleBelowTarget(t *testing.T) {
	rule, states, control := newDistanceFixture(t, 4.0, 26)

	rule.Tick(context.Background())

	assert.Empty(t, control.written())
	assert.False(t, states.IsOn(entities.PausedSwitch))
	km, _ := states.Number(entities.KmToChargeNumber)
	assert.Equal(t, 26.0, km)
}

func TestDistanceRuleSkips(t *testing.T) {
	t.Run("already paused", func(t *testing.T) {
		rule, states, control := newDistanceFixture(t, 4.0, 24)
		states.SetBool(entities.PausedSwitch, true)

		rule.Tick(context.Background())
		assert.Empty(t, control.written())
	})

	t.Run("no target", func(t *testing.T) {
		rule, _, control := newDistanceFixture(t, 4.0, 0)
		rule.Tick(context.Background())
		assert.Empty(t, control.written())
	})

	t.Run("unreadable target", func(t *testing.T) {
		rule, states, control := newDistanceFixture(t, 4.0, 24)
		states.Set(entities.KmToChargeNumber, "unavailable")

		rule.Tick(context.Background())
		assert.Empty(t, control.written())
	})

	t.Run("no snapshot yet", func(t *testing.T) {
		rule, _, control := newDistanceFixture(t, 4.0, 24)
		rule.snaps = &fakeSnapshots{snap: nil}

		rule.Tick(context.Background())
		assert.Empty(t, control.written())
	})

	t.Run("snapshot without energy", func(t *testing.T) {
		rule, _, control := newDistanceFixture(t, 4.0, 24)
		rule.snaps = &fakeSnapshots{snap: trydan.Snapshot{trydan.FieldChargeState: float64(2)}}

		rule.Tick(context.Background())
		assert.Empty(t, control.written())
	})
}

func TestDistanceRulePauseFailureAborts(t *testing.T) {
	rule, states, control := newDistanceFixture(t, 4.0, 24)
	control.fail = map[string]error{trydan.FieldPaused: errors.New("device unreachable")}

	rule.Tick(context.Background())

	// Nothing past the failed pause: the target stays set for a retry.
	assert.Empty(t, control.written())
	assert.False(t, states.IsOn(entities.PausedSwitch))
	km, _ := states.Number(entities.KmToChargeNumber)
	assert.Equal(t, 24.0, km)
}

func TestDistanceRuleLockFailureContinues(t *testing.T) {
	rule, states, control := newDistanceFixture(t, 4.0, 24)
	control.fail = map[string]error{trydan.FieldLocked: errors.New("device unreachable")}

	var fired int
	states.SubscribeEvents(func(event string, data map[string]interface{}) { fired++ })

	rule.Tick(context.Background())

	// Lock is best-effort: the pause still lands and the event still fires.
	assert.Equal(t, []switchWrite{{trydan.FieldPaused, true}}, control.written())
	assert.True(t, states.IsOn(entities.PausedSwitch))
	assert.Equal(t, 1, fired)
}

func TestPausedWatcherResetsTarget(t *testing.T) {
	states := entities.New("garage", nil, zap.NewNop())
	states.SetBool(entities.PausedSwitch, false)
	require.NoError(t, states.SetNumber(entities.KmToChargeNumber, 150))

	w := NewPausedWatcher(states, zap.NewNop())
	assert.False(t, w.WasPaused())

	// A manual pause clears the pending target.
	states.SetBool(entities.PausedSwitch, true)
	assert.True(t, w.WasPaused())
	km, _ := states.Number(entities.KmToChargeNumber)
	assert.Equal(t, 0.0, km)

	// Resuming ends the pause episode without touching the target.
	require.NoError(t, states.SetNumber(entities.KmToChargeNumber, 80))
	states.SetBool(entities.PausedSwitch, false)
	assert.False(t, w.WasPaused())
	km, _ = states.Number(entities.KmToChargeNumber)
	assert.Equal(t, 80.0, km)
}
