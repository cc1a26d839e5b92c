package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/reactorctl/internal/cpu"
	"codeberg.org/mutker/reactorctl/internal/errors"
	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/power"
	"codeberg.org/mutker/reactorctl/internal/settings"
)

func init() {
	logger.Init(false, false, false)
}

type scriptedSensor struct {
	samples []power.Sample
	errs    []error
	i       int
}

func (s *scriptedSensor) push(sample power.Sample, err error) {
	s.samples = append(s.samples, sample)
	s.errs = append(s.errs, err)
}

func (s *scriptedSensor) Sample() (power.Sample, error) {
	if s.i >= len(s.samples) {
		return power.Sample{}, errors.New(errors.ErrReadSensor)
	}
	sample, err := s.samples[s.i], s.errs[s.i]
	s.i++
	return sample, err
}

type stubCPU struct {
	temperature cpu.Temperature
	throttle    cpu.Throttle
}

func (s stubCPU) Temperature() cpu.Temperature { return s.temperature }
func (s stubCPU) Throttle() cpu.Throttle       { return s.throttle }

type stubSettings struct {
	values settings.Values
}

func (s *stubSettings) Snapshot() settings.Values { return s.values }

type published struct {
	topic   string
	payload string
	retain  bool
}

func testConfig() Config {
	return Config{
		StatusTopic:   "reactorctl/pi/status",
		StateTopic:    "reactorctl/pi/state",
		StatusOnline:  "online",
		StatusOffline: "offline",
		PayloadOn:     "ON",
		PayloadOff:    "OFF",
		PollInterval:  time.Second,
	}
}

func newTestMonitor(t *testing.T, sensor power.Sensor) (*Monitor, *[]published, *int) {
	t.Helper()

	bus := events.New()
	var out []published
	bus.Subscribe(events.Publish, func(args ...any) {
		out = append(out, published{
			topic:   args[0].(string),
			payload: string(args[1].([]byte)),
			retain:  args[2].(bool),
		})
	})

	shutdowns := 0
	bus.Subscribe(events.Shutdown, func(...any) { shutdowns++ })

	stg := &stubSettings{values: settings.Defaults()}
	m := New(testConfig(), sensor, stubCPU{
		temperature: cpu.Temperature{Celsius: 37.13, OK: true},
		throttle:    cpu.Throttle{Mask: 0, OK: true},
	}, stg, bus)

	return m, &out, &shutdowns
}

func countTopic(out []published, topic string) int {
	n := 0
	for _, p := range out {
		if p.topic == topic {
			n++
		}
	}
	return n
}

func TestBatteryLevelEndpoints(t *testing.T) {
	s := settings.Defaults()

	assert.Equal(t, 0, batteryLevel(s.VoltageMinimum, s))
	assert.Equal(t, 100, batteryLevel(s.VoltageMaximum-voltageMargin, s))
}

func TestBatteryLevelClamps(t *testing.T) {
	s := settings.Defaults()

	assert.Equal(t, 0, batteryLevel(2.0, s))
	assert.Equal(t, 100, batteryLevel(5.0, s))
}

func TestBatteryLevelMonotonic(t *testing.T) {
	s := settings.Defaults()

	previous := -1
	for v := s.VoltageMinimum; v <= s.VoltageMaximum; v += 0.01 {
		level := batteryLevel(v, s)
		assert.GreaterOrEqual(t, level, previous, "level must not decrease as voltage rises (v=%f)", v)
		previous = level
	}
}

func TestTickDischargeTransitionPublishesOnce(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 3.9, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 3.9, Current: 200}, nil)
	m, out, _ := newTestMonitor(t, sensor)

	m.tick()
	state := m.state
	assert.False(t, state.ExternalPower)
	assert.Equal(t, 1, countTopic(*out, m.cfg.StateTopic), "transition must force exactly one state publish")

	// Condition persists: no further transition, no further publish.
	m.tick()
	assert.Equal(t, 1, countTopic(*out, m.cfg.StateTopic))
}

func TestTickChargeRestoresExternalPower(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 3.9, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 3.9, Current: -30}, nil)
	m, out, _ := newTestMonitor(t, sensor)

	m.tick()
	require.False(t, m.state.ExternalPower)
	require.Equal(t, 1, countTopic(*out, m.cfg.StateTopic))

	m.tick()
	assert.True(t, m.state.ExternalPower)
	assert.Equal(t, 2, countTopic(*out, m.cfg.StateTopic), "restore must force exactly one more publish")
}

func TestTickTrickleCurrentMeansExternalPowerWithoutPublish(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 4.1, Current: 5}, nil)
	m, out, _ := newTestMonitor(t, sensor)

	m.tick()
	assert.True(t, m.state.ExternalPower)
	assert.Empty(t, *out)
}

func TestTickWarningRepublishesEveryTick(t *testing.T) {
	sensor := &scriptedSensor{}
	// 2.85V is ~5% with default thresholds, below the warning level of 10.
	sensor.push(power.Sample{Voltage: 2.85, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 2.85, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 2.85, Current: 200}, nil)
	m, out, _ := newTestMonitor(t, sensor)

	m.tick() // transition publish + warning publish
	m.tick() // warning publish
	m.tick() // warning publish
	assert.Equal(t, 4, countTopic(*out, m.cfg.StateTopic))
}

func TestTickShutdownFiresAtZeroWithoutExternalPower(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 2.7, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 2.65, Current: 200}, nil)
	m, _, shutdowns := newTestMonitor(t, sensor)

	m.tick()
	assert.Equal(t, 1, *shutdowns)

	// No latch: the event refires while the condition holds.
	m.tick()
	assert.Equal(t, 2, *shutdowns)
}

func TestTickNoShutdownOnExternalPower(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 2.7, Current: -30}, nil)
	m, _, shutdowns := newTestMonitor(t, sensor)

	m.tick()
	assert.Equal(t, 0, *shutdowns)
}

func TestTickRangeErrorDegrades(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 3.1}, errors.New(errors.ErrSensorRange))
	m, out, shutdowns := newTestMonitor(t, sensor)

	m.tick()

	assert.False(t, m.state.ExternalPower)
	assert.Equal(t, float64(rangeCurrentSentinel), m.state.Current)
	assert.Equal(t, 3.1, m.state.Voltage)
	assert.Equal(t, 100, m.state.BatteryLevel, "level is not recomputed on a range error")
	assert.Equal(t, 0, *shutdowns)

	require.Len(t, *out, 1)
	assert.Equal(t, m.cfg.StatusTopic, (*out)[0].topic)
	assert.Equal(t, "offline", (*out)[0].payload)
	assert.True(t, (*out)[0].retain)
}

func TestTickRangeErrorStillShutsDownOnDrainedBattery(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 2.65, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 2.65}, errors.New(errors.ErrSensorRange))
	m, _, shutdowns := newTestMonitor(t, sensor)

	m.tick()
	require.Equal(t, 1, *shutdowns)

	m.tick()
	assert.Equal(t, 2, *shutdowns, "a drained battery must still shut down during a range error")
}

func TestTickReadFailureHoldsState(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{}, errors.New(errors.ErrReadSensor))
	m, out, shutdowns := newTestMonitor(t, sensor)

	before := m.state
	m.tick()

	assert.Equal(t, before, m.state)
	assert.Empty(t, *out)
	assert.Equal(t, 0, *shutdowns)
}

func TestTickDegenerateThresholdsHoldState(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 0.04, Current: 200}, nil)
	m, out, shutdowns := newTestMonitor(t, sensor)

	// max - margin - min computes to exactly zero.
	m.stubSettings().values = settings.Values{
		WarningThreshold: 10,
		VoltageMinimum:   0,
		VoltageMaximum:   voltageMargin,
		ReportInterval:   30,
	}

	before := m.state
	m.tick()

	assert.Equal(t, before.Voltage, m.state.Voltage)
	assert.Equal(t, before.BatteryLevel, m.state.BatteryLevel)
	assert.Equal(t, before.ExternalPower, m.state.ExternalPower)
	assert.Empty(t, *out)
	assert.Equal(t, 0, *shutdowns)
}

func TestTickOverVoltageGuardForcesExternalPower(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 3.9, Current: 200}, nil)
	sensor.push(power.Sample{Voltage: 4.5, Current: 200}, nil)
	m, out, _ := newTestMonitor(t, sensor)

	m.tick()
	require.False(t, m.state.ExternalPower)
	require.Equal(t, 1, countTopic(*out, m.cfg.StateTopic))

	// Above max + margin the charger reading cannot be trusted; the guard
	// overrides the discharge classification made earlier in the same tick.
	m.tick()
	assert.True(t, m.state.ExternalPower)
	assert.Equal(t, 2, countTopic(*out, m.cfg.StateTopic))
}

func TestFourTickDischargeScenario(t *testing.T) {
	sensor := &scriptedSensor{}
	sensor.push(power.Sample{Voltage: 4.1, Current: -50}, nil)
	sensor.push(power.Sample{Voltage: 3.5, Current: -50}, nil)
	sensor.push(power.Sample{Voltage: 2.75, Current: 5}, nil)
	sensor.push(power.Sample{Voltage: 2.70, Current: 15}, nil)
	m, _, shutdowns := newTestMonitor(t, sensor)

	var levels []int
	var external []bool
	for i := 0; i < 4; i++ {
		m.tick()
		levels = append(levels, m.state.BatteryLevel)
		external = append(external, m.state.ExternalPower)
	}

	assert.Equal(t, []int{96, 55, 3, 0}, levels)
	assert.Equal(t, []bool{true, true, true, false}, external,
		"external power flips on the tick where discharge current appears")
	assert.Equal(t, 1, *shutdowns, "shutdown fires on the tick the battery hits zero")
}

func TestRunLoopSerializesMutationAgainstSnapshots(t *testing.T) {
	const (
		workers        = 4
		ticksPerWorker = 50
	)

	// Alternating discharge and charge samples: every tick flips the
	// external power classification, so every consistent state pairs the
	// current with its classification. A snapshot taken outside the owning
	// loop could observe the current of one tick with the classification of
	// the previous one, mid-mutation.
	sensor := &scriptedSensor{}
	for i := 0; i < workers*ticksPerWorker; i++ {
		if i%2 == 0 {
			sensor.push(power.Sample{Voltage: 3.9, Current: 200}, nil)
		} else {
			sensor.push(power.Sample{Voltage: 3.9, Current: -30}, nil)
		}
	}
	m, out, shutdowns := newTestMonitor(t, sensor)

	// The workers drive the ticks; keep the poll cadence out of the way.
	m.pollTask.SetInterval(time.Hour)
	m.Start()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < ticksPerWorker; i++ {
				m.enqueue(m.tick)

				s := m.Snapshot()
				switch s.Current {
				case 200:
					assert.False(t, s.ExternalPower, "discharge current paired with external power")
				case -30, 0:
					assert.True(t, s.ExternalPower, "charge current paired with battery power")
				default:
					t.Errorf("torn snapshot: current %v", s.Current)
				}
			}
		}()
	}
	wg.Wait()

	// Sequenced through the loop, so every enqueued tick has run by now.
	final := m.Snapshot()
	assert.Equal(t, 3.9, final.Voltage)
	assert.Equal(t, float64(-30), final.Current)
	assert.True(t, final.ExternalPower)

	m.Stop()
	assert.Equal(t, final, m.Snapshot(), "Snapshot after Stop must return without the loop")

	// Every tick flips the classification, so every tick forced one report.
	assert.Equal(t, workers*ticksPerWorker, countTopic(*out, m.cfg.StateTopic))
	assert.Equal(t, 0, *shutdowns)
}

// stubSettings digs the test stub back out of the monitor.
func (m *Monitor) stubSettings() *stubSettings {
	return m.settings.(*stubSettings)
}
