package monitor

import (
	"encoding/json"
	"math"

	"codeberg.org/mutker/reactorctl/internal/errors"
)

// payload is the published state document. Field precision is part of the
// contract: voltage 3 decimals, current 4, temperature 2; CPU readings are
// null when unknown.
type payload struct {
	Voltage          float64  `json:"voltage"`
	Current          float64  `json:"current"`
	BatteryLevel     int      `json:"battery_level"`
	ExternalPower    string   `json:"external_power"`
	CPUTemperature   *float64 `json:"cpu_temperature"`
	CPUStat          *uint32  `json:"cpu_stat"`
	WarningThreshold int      `json:"battery_warning_threshold"`
	VoltageMinimum   float64  `json:"battery_voltage_minimum"`
	VoltageMaximum   float64  `json:"battery_voltage_maximum"`
	ReportInterval   int      `json:"report_interval"`
}

func statePayload(s State, cfg Config) ([]byte, error) {
	p := payload{
		Voltage:          roundTo(s.Voltage, 3),
		Current:          roundTo(s.Current, 4),
		BatteryLevel:     s.BatteryLevel,
		ExternalPower:    cfg.PayloadOff,
		WarningThreshold: s.Settings.WarningThreshold,
		VoltageMinimum:   s.Settings.VoltageMinimum,
		VoltageMaximum:   s.Settings.VoltageMaximum,
		ReportInterval:   s.Settings.ReportInterval,
	}
	if s.ExternalPower {
		p.ExternalPower = cfg.PayloadOn
	}
	if s.Temperature.OK {
		celsius := roundTo(s.Temperature.Celsius, 2)
		p.CPUTemperature = &celsius
	}
	if s.Throttle.OK {
		mask := s.Throttle.Mask
		p.CPUStat = &mask
	}

	encoded, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err)
	}
	return encoded, nil
}

func roundTo(v float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(v*scale) / scale
}
