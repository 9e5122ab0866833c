package trydan

import (
	"fmt"
	"math"
)

// chargeEfficiency models the energy lost between the meter and the battery.
const chargeEfficiency = 0.8

// RangeEstimate computes the kilometres of range added so far from the
// session's cumulative energy, rounded to two decimals. ok is false when the
// snapshot carries no ChargeEnergy field; the metric is then undefined and
// must not be reported. kwhPer100km is validated to be positive at
// configuration time.
func (s Snapshot) RangeEstimate(kwhPer100km float64) (float64, bool) {
	energy, ok := s.Float(FieldChargeEnergy)
	if !ok {
		return 0, false
	}
	km := energy / ((kwhPer100km / 100) * chargeEfficiency)
	return math.Round(km*100) / 100, true
}

// NumericStatus returns the raw charge-state code. Values outside the three
// documented states pass through unchanged so newer firmware does not break
// consumers.
func (s Snapshot) NumericStatus() (int, bool) {
	return s.Int(FieldChargeState)
}

// ChargeStateText maps the charge-state enum to the hose status strings the
// vendor app uses. Unknown codes are rendered as the bare number.
func ChargeStateText(state int) string {
	switch state {
	case ChargeStateUnplugged:
		return "Manguera no conectada"
	case ChargeStatePlugged:
		return "Manguera conectada (NO CARGA)"
	case ChargeStateCharging:
		return "Manguera conectada (CARGANDO)"
	default:
		return fmt.Sprintf("%d", state)
	}
}

// FormatChargeTime renders elapsed charge seconds as HH:MM:SS. The hour
// field is zero-padded to two digits but not truncated at 24.
func FormatChargeTime(seconds int) string {
	hours := seconds / 3600
	minutes := (seconds % 3600) / 60
	secs := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

// DynamicPowerModeOptions are the symbolic modes offered by the selector
// surface. Their index is the wire value. Raw modes 6 and 7 exist on some
// firmware and are accepted on write, but have no label.
var DynamicPowerModeOptions = []string{
	"Enable Timed Power",
	"Disable Timed Power",
	"Disable Timed Power and set Exclusive Mode",
	"Disable Timed Power and set Min Power Mode",
	"Disable Timed Power and set Grid+FV mode",
	"Disable Timed Power and set Stop Mode",
}

// DynamicPowerModeLabel returns the selector label for a mode value.
func DynamicPowerModeLabel(mode int) (string, bool) {
	if mode < 0 || mode >= len(DynamicPowerModeOptions) {
		return "", false
	}
	return DynamicPowerModeOptions[mode], true
}

// DynamicPowerModeValue returns the wire value for a selector label.
func DynamicPowerModeValue(label string) (int, bool) {
	for i, opt := range DynamicPowerModeOptions {
		if opt == label {
			return i, true
		}
	}
	return 0, false
}
