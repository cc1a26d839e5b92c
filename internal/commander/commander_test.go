package commander

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/settings"
)

func init() {
	logger.Init(false, false, false)
}

type recordingSettings struct {
	fields []settings.Field
	values []float64
}

func (r *recordingSettings) Set(field settings.Field, value float64) error {
	r.fields = append(r.fields, field)
	r.values = append(r.values, value)
	return nil
}

type recordingSubscriber struct {
	topics []string
}

func (r *recordingSubscriber) Subscribe(topic string) error {
	r.topics = append(r.topics, topic)
	return nil
}

func testConfig() Config {
	return Config{
		SetTopicPrefix:  "reactorctl/pi/set/",
		StatusTopic:     "reactorctl/pi/status",
		StatusOffline:   "offline",
		ShutdownCommand: "shutdown -h now",
		RestartCommand:  "shutdown -r now",
		Grace:           2 * time.Second,
	}
}

type fixture struct {
	bus        *events.Bus
	settings   *recordingSettings
	subscriber *recordingSubscriber
	commander  *Commander
	executed   []string
	terminated int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		bus:        events.New(),
		settings:   &recordingSettings{},
		subscriber: &recordingSubscriber{},
	}
	f.commander = New(testConfig(), f.settings, f.subscriber, f.bus)
	f.commander.execute = func(command string) error {
		f.executed = append(f.executed, command)
		return nil
	}
	f.commander.terminate = func() { f.terminated++ }
	f.commander.sleep = func(time.Duration) {}

	return f
}

func TestSubscribesCommandTopicsOnConnect(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(events.Connected)

	assert.ElementsMatch(t, []string{
		"reactorctl/pi/set/battery_warning_threshold",
		"reactorctl/pi/set/battery_voltage_minimum",
		"reactorctl/pi/set/battery_voltage_maximum",
		"reactorctl/pi/set/report_interval",
		"reactorctl/pi/set/shutdown",
		"reactorctl/pi/set/restart",
	}, f.subscriber.topics)
}

func TestNumberCommandUpdatesSettings(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(events.Message, "reactorctl/pi/set/battery_warning_threshold", []byte("25"))

	require.Len(t, f.settings.fields, 1)
	assert.Equal(t, settings.FieldWarningThreshold, f.settings.fields[0])
	assert.Equal(t, 25.0, f.settings.values[0])
}

func TestNonNumericPayloadIsRejected(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(events.Message, "reactorctl/pi/set/report_interval", []byte("soon"))

	assert.Empty(t, f.settings.fields)
}

func TestForeignTopicsAreIgnored(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(events.Message, "reactorctl/pi/state", []byte(`{"voltage":4.1}`))
	f.bus.Publish(events.Message, "reactorctl/pi/set/unknown_field", []byte("1"))

	assert.Empty(t, f.settings.fields)
	assert.Empty(t, f.executed)
}

func TestShutdownButtonRunsSequence(t *testing.T) {
	f := newFixture(t)

	var published []string
	f.bus.Subscribe(events.Publish, func(args ...any) {
		published = append(published, args[0].(string)+"="+string(args[1].([]byte)))
	})

	f.bus.Publish(events.Message, "reactorctl/pi/set/shutdown", []byte("PRESS"))

	assert.Equal(t, []string{"reactorctl/pi/status=offline"}, published,
		"offline marker must go out before the platform command")
	assert.Equal(t, []string{"shutdown -h now"}, f.executed)
	assert.Equal(t, 1, f.terminated)
}

func TestRestartButtonUsesRestartCommand(t *testing.T) {
	f := newFixture(t)

	f.bus.Publish(events.Message, "reactorctl/pi/set/restart", []byte("PRESS"))

	assert.Equal(t, []string{"shutdown -r now"}, f.executed)
}

func TestShutdownEventRefireIsIdempotent(t *testing.T) {
	f := newFixture(t)

	// The monitor refires while the battery stays at zero; only the first
	// event may act.
	f.bus.Publish(events.Shutdown)
	f.bus.Publish(events.Shutdown)
	f.bus.Publish(events.Shutdown)

	assert.Equal(t, []string{"shutdown -h now"}, f.executed)
	assert.Equal(t, 1, f.terminated)
}
