package trydan

// Field names reported by the Trydan firmware on /RealTimeData. The set
// varies across firmware versions, so consumers must treat a missing key as
// absent rather than zero.
const (
	FieldChargeState      = "ChargeState"
	FieldChargePower      = "ChargePower"
	FieldChargeEnergy     = "ChargeEnergy"
	FieldChargeTime       = "ChargeTime"
	FieldHousePower       = "HousePower"
	FieldFVPower          = "FVPower"
	FieldPaused           = "Paused"
	FieldLocked           = "Locked"
	FieldTimer            = "Timer"
	FieldIntensity        = "Intensity"
	FieldDynamic          = "Dynamic"
	FieldMinIntensity     = "MinIntensity"
	FieldMaxIntensity     = "MaxIntensity"
	FieldPauseDynamic     = "PauseDynamic"
	FieldDynamicPowerMode = "DynamicPowerMode"
	FieldContractedPower  = "ContractedPower"
	FieldSlaveError       = "SlaveError"
	FieldFirmwareVersion  = "FirmwareVersion"
	FieldReadyState       = "ReadyState"
	FieldSSID             = "SSID"
	FieldIP               = "IP"
	FieldSignalStatus     = "SignalStatus"
)

// Charge states reported in the ChargeState field.
const (
	ChargeStateUnplugged = 0
	ChargeStatePlugged   = 1
	ChargeStateCharging  = 2
)

// Snapshot is one complete read of the charger's status fields. It is
// replaced wholesale on every successful poll and never mutated in place, so
// it is safe to share across goroutines.
type Snapshot map[string]interface{}

// Float returns a numeric field as float64. JSON numbers always decode as
// float64, but values injected by tests or repairs may be typed differently.
func (s Snapshot) Float(key string) (float64, bool) {
	v, ok := s[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Int returns a numeric field truncated to int.
func (s Snapshot) Int(key string) (int, bool) {
	f, ok := s.Float(key)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool returns a boolean field. The firmware reports flags as 0/1 integers,
// so numeric values are accepted too.
func (s Snapshot) Bool(key string) (bool, bool) {
	v, ok := s[key]
	if !ok {
		return false, false
	}
	switch b := v.(type) {
	case bool:
		return b, true
	case float64:
		return b != 0, true
	case int:
		return b != 0, true
	}
	return false, false
}

// String returns a string field.
func (s Snapshot) String(key string) (string, bool) {
	v, ok := s[key]
	if !ok {
		return "", false
	}
	str, ok := v.(string)
	return str, ok
}
