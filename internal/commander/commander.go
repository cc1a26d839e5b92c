// Package commander receives remote commands from the broker and carries out
// the platform shutdown or restart sequence.
package commander

import (
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/settings"
)

// Action is a platform command the commander can carry out.
type Action string

const (
	ActionShutdown Action = "shutdown"
	ActionRestart  Action = "restart"
)

// Config carries the resolved command topics and platform commands.
type Config struct {
	SetTopicPrefix  string // "<base>/<host>/set/"
	StatusTopic     string
	StatusOffline   string
	ShutdownCommand string
	RestartCommand  string
	Grace           time.Duration
}

// Settings is the writable side of the dynamic settings store.
type Settings interface {
	Set(field settings.Field, value float64) error
}

// Subscriber registers broker topic subscriptions.
type Subscriber interface {
	Subscribe(topic string) error
}

// numberFields are the remotely adjustable settings; buttonFields trigger
// platform actions.
var numberFields = []settings.Field{
	settings.FieldWarningThreshold,
	settings.FieldVoltageMinimum,
	settings.FieldVoltageMaximum,
	settings.FieldReportInterval,
}

var buttonFields = map[string]Action{
	"shutdown": ActionShutdown,
	"restart":  ActionRestart,
}

type Commander struct {
	cfg        Config
	bus        *events.Bus
	settings   Settings
	subscriber Subscriber

	// Seams for tests; production values run the real platform command and
	// exit the process.
	execute   func(command string) error
	terminate func()
	sleep     func(time.Duration)

	mu      sync.Mutex
	started bool
}

func New(cfg Config, stg Settings, subscriber Subscriber, bus *events.Bus) *Commander {
	c := &Commander{
		cfg:        cfg,
		bus:        bus,
		settings:   stg,
		subscriber: subscriber,
		execute: func(command string) error {
			return exec.Command("/bin/sh", "-c", command).Run()
		},
		terminate: func() { os.Exit(0) },
		sleep:     time.Sleep,
	}

	logger.Debug().Msg("Setup the command handler")

	bus.Subscribe(events.Connected, func(...any) { c.onConnect() })
	bus.Subscribe(events.Message, c.onMessage)
	bus.Subscribe(events.Shutdown, func(...any) { c.Run(ActionShutdown) })

	return c
}

// onConnect subscribes the set topics for every commandable field. Runs on
// every (re)connect; broker-side subscriptions do not survive a new session.
func (c *Commander) onConnect() {
	for _, field := range numberFields {
		c.subscribe(string(field))
	}
	for name := range buttonFields {
		c.subscribe(name)
	}
}

func (c *Commander) subscribe(field string) {
	topic := c.cfg.SetTopicPrefix + field
	logger.Info().Str("topic", topic).Msg("Subscribing to command topic")

	if err := c.subscriber.Subscribe(topic); err != nil {
		logger.Error().Str("topic", topic).AnErr("error", err).Msg("Failed to subscribe")
	}
}

// onMessage dispatches one inbound command: (topic string, payload []byte).
func (c *Commander) onMessage(args ...any) {
	if len(args) != 2 {
		return
	}
	topic, ok1 := args[0].(string)
	payload, ok2 := args[1].([]byte)
	if !ok1 || !ok2 {
		return
	}

	if !strings.HasPrefix(topic, c.cfg.SetTopicPrefix) {
		return
	}
	field := strings.TrimPrefix(topic, c.cfg.SetTopicPrefix)

	if action, ok := buttonFields[field]; ok {
		logger.Info().Str("action", string(action)).Msg("Button has been pressed")
		c.Run(action)
		return
	}

	for _, number := range numberFields {
		if string(number) != field {
			continue
		}

		var value float64
		if err := json.Unmarshal(payload, &value); err != nil {
			logger.Warn().
				Str("field", field).
				Str("payload", string(payload)).
				Msg("Command payload is not a number")
			return
		}

		logger.Info().
			Str("field", field).
			Float64("value", value).
			Msg("Update command received")

		if err := c.settings.Set(number, value); err != nil {
			logger.Error().Str("field", field).AnErr("error", err).Msg("Failed to update setting")
		}
		return
	}

	logger.Warn().Str("topic", topic).Msg("Command received on invalid topic")
}

// Run publishes the offline marker, allows a grace period for delivery, then
// executes the platform command and terminates the process. The monitor may
// refire its shutdown event on every tick; only the first call acts.
func (c *Commander) Run(action Action) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	command := c.cfg.ShutdownCommand
	if action == ActionRestart {
		command = c.cfg.RestartCommand
	}

	logger.Warn().Str("action", string(action)).Msg("Device command has been called")

	c.bus.Publish(events.Publish, c.cfg.StatusTopic, []byte(c.cfg.StatusOffline), true)
	c.sleep(c.cfg.Grace)

	if err := c.execute(command); err != nil {
		logger.Error().
			Str("command", command).
			AnErr("error", err).
			Msg("Platform command failed")
	}

	c.terminate()
}
