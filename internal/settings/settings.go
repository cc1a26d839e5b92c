// Package settings holds the runtime-adjustable battery parameters. Unlike
// the static configuration file these survive restarts and can be changed
// over the broker while the daemon runs.
package settings

import (
	"sync"

	"codeberg.org/mutker/reactorctl/internal/errors"
	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
)

// Field identifies one adjustable setting.
type Field string

const (
	FieldWarningThreshold Field = "battery_warning_threshold"
	FieldVoltageMinimum   Field = "battery_voltage_minimum"
	FieldVoltageMaximum   Field = "battery_voltage_maximum"
	FieldReportInterval   Field = "report_interval"
)

// Values is one consistent snapshot of all adjustable settings. Threshold is
// a battery percentage, voltages are volts, the report interval is seconds.
type Values struct {
	WarningThreshold int
	VoltageMinimum   float64
	VoltageMaximum   float64
	ReportInterval   int
}

// Defaults are the stock parameters for a 2-cell 18650 pack.
func Defaults() Values {
	return Values{
		WarningThreshold: 10,
		VoltageMinimum:   2.7,
		VoltageMaximum:   4.2,
		ReportInterval:   30,
	}
}

// Manager combines the persisted store with an in-memory snapshot and
// announces every successful write on the bus.
type Manager struct {
	mu     sync.RWMutex
	values Values
	repo   Repository
	bus    *events.Bus
}

// NewManager loads the persisted values, falling back to defaults on first
// run, and persists the defaults so later runs see a populated store.
func NewManager(repo Repository, bus *events.Bus) (*Manager, error) {
	values, found, err := repo.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		values = Defaults()
		if err := repo.Save(values); err != nil {
			return nil, err
		}
		logger.Info().Msg("Initialized settings store with defaults")
	}

	return &Manager{values: values, repo: repo, bus: bus}, nil
}

// Snapshot returns the current values.
func (m *Manager) Snapshot() Values {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.values
}

// Set validates and persists one field, then publishes the write event. The
// in-memory snapshot only changes if persistence succeeded.
func (m *Manager) Set(field Field, value float64) error {
	m.mu.Lock()

	next := m.values
	if err := apply(&next, field, value); err != nil {
		m.mu.Unlock()
		return err
	}
	if err := m.repo.Save(next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.values = next
	m.mu.Unlock()

	logger.Info().
		Str("field", string(field)).
		Float64("value", value).
		Msg("Setting updated")
	m.bus.Publish(events.SettingsWrite)

	return nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.repo.Close()
}

func apply(v *Values, field Field, value float64) error {
	switch field {
	case FieldWarningThreshold:
		if value < 0 || value > 100 {
			return errors.WithMessage(errors.ErrInvalidSetting, "warning threshold must be between 0 and 100")
		}
		v.WarningThreshold = int(value)
	case FieldVoltageMinimum:
		if value <= 0 {
			return errors.WithMessage(errors.ErrInvalidSetting, "minimum voltage must be positive")
		}
		v.VoltageMinimum = value
	case FieldVoltageMaximum:
		if value <= 0 {
			return errors.WithMessage(errors.ErrInvalidSetting, "maximum voltage must be positive")
		}
		v.VoltageMaximum = value
	case FieldReportInterval:
		if value < 1 {
			return errors.New(errors.ErrInvalidInterval)
		}
		v.ReportInterval = int(value)
	default:
		return errors.WithMessage(errors.ErrInvalidSetting, "unknown setting field: "+string(field))
	}

	return nil
}
