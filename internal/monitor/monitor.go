// Package monitor owns the battery state machine. It is the only writer of
// the device state: poll ticks, report ticks and bus notifications are all
// funneled through one command queue consumed by a single goroutine.
package monitor

import (
	"time"

	"codeberg.org/mutker/reactorctl/internal/cpu"
	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/power"
	"codeberg.org/mutker/reactorctl/internal/settings"
	"codeberg.org/mutker/reactorctl/internal/tasks"
)

// rangeCurrentSentinel replaces the unreadable current after a sensor range
// overflow. Large enough to classify as discharge on any sane threshold.
const rangeCurrentSentinel = 6000

// externalPowerCurrentMax is the discharge current (mA) above which the
// battery must be carrying the board, i.e. external power is gone. Small
// positive readings below it are sensor noise on a full battery.
const externalPowerCurrentMax = 10

// voltageMargin is subtracted from the configured maximum before computing
// the battery percentage, and (independently) added to it for the faulty
// charger guard. Two different margins derived from one configured value;
// they stay distinct on purpose.
const voltageMargin = 0.05

// CPUReader provides the best-effort CPU readings attached to each report.
type CPUReader interface {
	Temperature() cpu.Temperature
	Throttle() cpu.Throttle
}

// Settings provides the runtime-adjustable battery parameters.
type Settings interface {
	Snapshot() settings.Values
}

// State is the device state. Mutated only by the monitor's own loop; other
// goroutines read a copy via Snapshot.
type State struct {
	Voltage       float64
	Current       float64
	BatteryLevel  int
	ExternalPower bool
	Temperature   cpu.Temperature
	Throttle      cpu.Throttle
	Settings      settings.Values
}

// Config carries the fully-resolved topics and payload tokens.
type Config struct {
	StatusTopic   string
	StateTopic    string
	StatusOnline  string
	StatusOffline string
	PayloadOn     string
	PayloadOff    string
	PollInterval  time.Duration
}

type Monitor struct {
	cfg      Config
	sensor   power.Sensor
	cpu      CPUReader
	settings Settings
	bus      *events.Bus

	state    State
	commands chan func()
	done     chan struct{}

	pollTask   *tasks.Periodic
	reportTask *tasks.Periodic
}

// New constructs the monitor. The state starts optimistic: full battery on
// external power, so a startup mid-blackout converges downward instead of
// shutting down before the first real sample.
func New(cfg Config, sensor power.Sensor, cpuReader CPUReader, stg Settings, bus *events.Bus) *Monitor {
	m := &Monitor{
		cfg:      cfg,
		sensor:   sensor,
		cpu:      cpuReader,
		settings: stg,
		bus:      bus,
		state: State{
			BatteryLevel:  100,
			ExternalPower: true,
			Settings:      stg.Snapshot(),
		},
		commands: make(chan func(), 16),
		done:     make(chan struct{}),
	}

	m.pollTask = tasks.NewPeriodic(cfg.PollInterval, func() {
		m.enqueue(m.tick)
	})
	m.reportTask = tasks.NewPeriodic(
		time.Duration(m.state.Settings.ReportInterval)*time.Second,
		func() {
			m.enqueue(m.report)
		},
	)

	return m
}

// Start launches the owning loop and the poll cadence. Reporting starts on
// the first broker connect; until then forced reports still publish and are
// simply dropped by the disconnected transport.
func (m *Monitor) Start() {
	logger.Info().Msg("Initiating battery monitor")

	m.bus.Subscribe(events.Connected, func(...any) {
		m.reportTask.Start()
	})
	m.bus.Subscribe(events.SettingsWrite, func(...any) {
		m.enqueue(m.refreshSettings)
	})

	go m.run()
	m.pollTask.Start()
}

// Stop halts both cadences and the owning loop. In-flight ticks complete.
func (m *Monitor) Stop() {
	m.pollTask.Stop()
	m.reportTask.Stop()
	close(m.done)
}

// Snapshot returns a consistent copy of the device state, sequenced through
// the owning loop.
func (m *Monitor) Snapshot() State {
	reply := make(chan State, 1)
	m.enqueue(func() { reply <- m.state })

	select {
	case s := <-reply:
		return s
	case <-m.done:
		// Loop stopped: the single writer is gone, a direct read is safe.
		return m.state
	}
}

func (m *Monitor) run() {
	for {
		select {
		case <-m.done:
			return
		case cmd := <-m.commands:
			cmd()
		}
	}
}

func (m *Monitor) enqueue(fn func()) {
	select {
	case <-m.done:
	case m.commands <- fn:
	}
}

// tick is one poll cycle.
func (m *Monitor) tick() {
	m.refreshSettings()

	shutdown := false

	sample, err := m.sensor.Sample()
	switch {
	case power.IsRangeError(err):
		// Assume no external power so a low voltage reading still shuts the
		// host down.
		logger.Warn().Float64("voltage", sample.Voltage).Msg("Battery current range error")
		m.state.Voltage = sample.Voltage
		m.state.Current = rangeCurrentSentinel
		m.state.ExternalPower = false
		m.publish(m.cfg.StatusTopic, []byte(m.cfg.StatusOffline), true)

	case err != nil:
		logger.Error().AnErr("error", err).Msg("Failed to read power sensor")
		return

	default:
		denominator := m.state.Settings.VoltageMaximum - voltageMargin - m.state.Settings.VoltageMinimum
		if denominator == 0 {
			logger.Error().
				Float64("voltage_minimum", m.state.Settings.VoltageMinimum).
				Float64("voltage_maximum", m.state.Settings.VoltageMaximum).
				Msg("Voltage minimum and maximum difference is equal to 0")
			return
		}

		m.state.Voltage = sample.Voltage
		m.state.Current = sample.Current
		m.state.BatteryLevel = batteryLevel(sample.Voltage, m.state.Settings)

		switch {
		case m.state.Current > externalPowerCurrentMax:
			// Discharging on battery.
			if m.state.ExternalPower {
				m.state.ExternalPower = false
				m.report()
			}
		case m.state.Current >= 0:
			// Battery full, trickle only.
			m.state.ExternalPower = true
		default:
			// Charging.
			if !m.state.ExternalPower {
				m.state.ExternalPower = true
				m.report()
			}
		}

		// Republished every tick the warning condition holds, not only on
		// the edge.
		if m.state.BatteryLevel <= m.state.Settings.WarningThreshold && !m.state.ExternalPower {
			m.report()
		}
	}

	if m.state.BatteryLevel == 0 && !m.state.ExternalPower {
		shutdown = true
	}

	// A voltage above the configured maximum means a faulty charger is being
	// read as persistently "charging"; treat it as external power.
	if m.state.Voltage > m.state.Settings.VoltageMaximum+voltageMargin {
		m.state.ExternalPower = true
		m.report()
	}

	if shutdown {
		logger.Warn().
			Float64("voltage", m.state.Voltage).
			Msg("Forcing system shutdown, going offline")
		m.bus.Publish(events.Shutdown)
	}
}

// batteryLevel maps a voltage onto [0,100], truncated. The margin keeps the
// display from sitting below 100% on a full battery.
func batteryLevel(voltage float64, s settings.Values) int {
	level := (voltage - s.VoltageMinimum) / (s.VoltageMaximum - voltageMargin - s.VoltageMinimum) * 100
	if level > 100 {
		level = 100
	}
	if level < 0 {
		level = 0
	}
	return int(level)
}

func (m *Monitor) refreshSettings() {
	m.state.Settings = m.settings.Snapshot()
	m.reportTask.SetInterval(time.Duration(m.state.Settings.ReportInterval) * time.Second)
}

// report publishes the online heartbeat and the state payload. CPU readings
// are refreshed here, not on every poll tick.
func (m *Monitor) report() {
	m.refreshSettings()

	m.state.Temperature = m.cpu.Temperature()
	m.state.Throttle = m.cpu.Throttle()
	if !m.state.Temperature.OK || !m.state.Throttle.OK {
		logger.Warn().Msg("Failed to read CPU information")
	}

	m.publish(m.cfg.StatusTopic, []byte(m.cfg.StatusOnline), true)

	payload, err := statePayload(m.state, m.cfg)
	if err != nil {
		logger.Error().AnErr("error", err).Msg("Failed to encode state payload")
		return
	}
	m.publish(m.cfg.StateTopic, payload, false)
}

func (m *Monitor) publish(topic string, payload []byte, retain bool) {
	m.bus.Publish(events.Publish, topic, payload, retain)
}
