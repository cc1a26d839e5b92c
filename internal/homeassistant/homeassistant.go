// Package homeassistant publishes the retained discovery documents that let
// a home-automation registry pick up the UPS entities without manual setup.
package homeassistant

import (
	"encoding/json"
	"fmt"
	"time"

	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/settings"
	"codeberg.org/mutker/reactorctl/internal/tasks"
)

// Discovery republish runs at this multiple of the report interval.
const discoveryIntervalFactor = 4

// Settings provides the current report interval for the republish cadence.
type Settings interface {
	Snapshot() settings.Values
}

// Config resolves topics and registry metadata.
type Config struct {
	DiscoveryPrefix string // usually "homeassistant"
	ExpireAfter     int    // seconds before the registry invalidates stale data

	Hostname       string
	HostnamePretty string

	StateTopic     string
	StatusTopic    string
	SetTopicPrefix string
	StatusOnline   string
	StatusOffline  string
	PayloadOn      string
	PayloadOff     string
}

type Integration struct {
	cfg      Config
	bus      *events.Bus
	settings Settings
	entities []entity
	task     *tasks.Periodic
}

func New(cfg Config, stg Settings, bus *events.Bus) *Integration {
	i := &Integration{
		cfg:      cfg,
		bus:      bus,
		settings: stg,
	}
	i.entities = i.buildEntities()

	i.task = tasks.NewPeriodic(i.discoveryInterval(), i.publishAll)

	bus.Subscribe(events.Connected, func(...any) {
		i.publishAll()
		i.task.Start()
	})
	bus.Subscribe(events.SettingsWrite, func(...any) {
		i.task.SetInterval(i.discoveryInterval())
	})

	logger.Info().Msg("Home Assistant support has been enabled")

	return i
}

// Stop halts the republish cadence.
func (i *Integration) Stop() {
	i.task.Stop()
}

func (i *Integration) discoveryInterval() time.Duration {
	return time.Duration(i.settings.Snapshot().ReportInterval*discoveryIntervalFactor) * time.Second
}

// publishAll sends every discovery document, retained, so the registry can
// restore the entities after its own restart.
func (i *Integration) publishAll() {
	logger.Debug().Msg("Publishing discovery configuration")

	for _, e := range i.entities {
		payload, err := json.Marshal(e.descriptor)
		if err != nil {
			logger.Error().Str("topic", e.topic).AnErr("error", err).Msg("Failed to encode discovery payload")
			continue
		}
		i.bus.Publish(events.Publish, e.topic, payload, true)
	}
}

func (i *Integration) buildEntities() []entity {
	device := &Device{
		Identifiers:  "reactorctl_" + i.cfg.Hostname,
		Name:         "Red Reactor " + i.cfg.HostnamePretty,
		Manufacturer: "Pascal Herczog",
		Model:        "Red Reactor",
		HWVersion:    "Rev 1.5",
		SWVersion:    "1.0.0",
	}

	base := func(field, pretty, deviceClass string) Base {
		return Base{
			Name:        device.Name + " " + pretty,
			DeviceClass: deviceClass,
			StateClass:  "measurement",
			ExpireAfter: i.cfg.ExpireAfter,
			UniqueID:    device.Identifiers + "_" + field,
			StateTopic:  i.cfg.StateTopic,
			Availability: []Availability{{
				Topic:               i.cfg.StatusTopic,
				PayloadAvailable:    i.cfg.StatusOnline,
				PayloadNotAvailable: i.cfg.StatusOffline,
			}},
			AvailabilityMode: "all",
			ValueTemplate:    fmt.Sprintf("{{ value_json.%s }}", field),
			Device:           device,
		}
	}

	configTopic := func(entityType, field string) string {
		return fmt.Sprintf("%s/%s/%s_%s/config",
			i.cfg.DiscoveryPrefix, entityType, device.Identifiers, field)
	}

	sensor := func(field, pretty, deviceClass, unit string, precision int) entity {
		return entity{
			topic: configTopic("sensor", field),
			descriptor: Sensor{
				Base:                      base(field, pretty, deviceClass),
				UnitOfMeasurement:         unit,
				SuggestedDisplayPrecision: precision,
			},
		}
	}

	number := func(field settings.Field, pretty, unit string, min, max, step float64) entity {
		b := base(string(field), pretty, "")
		b.EntityCategory = "config"
		return entity{
			topic: configTopic("number", string(field)),
			descriptor: Number{
				Base:              b,
				CommandTopic:      i.cfg.SetTopicPrefix + string(field),
				CommandTemplate:   "{{ value }}",
				Min:               min,
				Max:               max,
				Step:              step,
				Mode:              "auto",
				UnitOfMeasurement: unit,
			},
		}
	}

	button := func(field, pretty, deviceClass string) entity {
		b := base(field, pretty, deviceClass)
		b.StateClass = ""
		b.ValueTemplate = ""
		return entity{
			topic: configTopic("button", field),
			descriptor: Button{
				Base:            b,
				CommandTopic:    i.cfg.SetTopicPrefix + field,
				CommandTemplate: "{{ value }}",
				PayloadPress:    "true",
			},
		}
	}

	externalPower := base("external_power", "External Power", "power")
	externalPower.StateClass = ""

	cpuStat := base("cpu_stat", "CPU Stat", "")
	cpuStat.EntityCategory = "diagnostic"
	cpuStat.StateClass = ""
	cpuStat.Icon = "mdi:chip"

	return []entity{
		sensor("voltage", "Voltage", "voltage", "V", 3),
		sensor("current", "Current", "current", "mA", 0),
		sensor("battery_level", "Battery Level", "battery", "%", 0),
		sensor("cpu_temperature", "CPU Temperature", "temperature", "°C", 2),
		{topic: configTopic("sensor", "cpu_stat"), descriptor: Sensor{Base: cpuStat}},
		{topic: configTopic("binary_sensor", "external_power"), descriptor: BinarySensor{
			Base:       externalPower,
			PayloadOn:  i.cfg.PayloadOn,
			PayloadOff: i.cfg.PayloadOff,
		}},
		number(settings.FieldWarningThreshold, "Battery Warning Threshold", "%", 0, 100, 1),
		number(settings.FieldVoltageMinimum, "Battery Voltage Minimum", "V", 2.5, 3.0, 0.01),
		number(settings.FieldVoltageMaximum, "Battery Voltage Maximum", "V", 4.0, 4.3, 0.01),
		number(settings.FieldReportInterval, "Report Interval", "s", 1, 600, 1),
		button("shutdown", "Shutdown", "restart"),
		button("restart", "Restart", "restart"),
	}
}
