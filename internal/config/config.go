// Package config loads the static daemon configuration: broker connection,
// topics, sensor wiring and platform commands. Runtime-adjustable battery
// parameters live in the settings store instead.
package config

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"codeberg.org/mutker/reactorctl/internal/errors"
)

const DefaultLogLevel = "info"

type Config struct {
	LogLevel string `mapstructure:"log_level"`

	MQTT          MQTT          `mapstructure:"mqtt"`
	Hostname      Hostname      `mapstructure:"hostname"`
	Status        Status        `mapstructure:"status"`
	Homeassistant Homeassistant `mapstructure:"homeassistant"`
	INA           INA           `mapstructure:"ina"`
	System        System        `mapstructure:"system"`
	Database      Database      `mapstructure:"database"`
}

type MQTT struct {
	Broker     string `mapstructure:"broker"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	ClientID   string `mapstructure:"client_id"`
	Transport  string `mapstructure:"transport"`
	Keepalive  int    `mapstructure:"keepalive"`
	BaseTopic  string `mapstructure:"base_topic"`
	Topic      Topic  `mapstructure:"topic"`
	ExitOnFail bool   `mapstructure:"exit_on_fail"`
}

type Topic struct {
	State  string `mapstructure:"state"`
	Status string `mapstructure:"status"`
	Set    string `mapstructure:"set"`
}

type Hostname struct {
	Name   string `mapstructure:"name"`
	Pretty string `mapstructure:"pretty"`
}

// Status carries the availability markers and the external power tokens.
type Status struct {
	Online     string `mapstructure:"online"`
	Offline    string `mapstructure:"offline"`
	PayloadOn  string `mapstructure:"payload_on"`
	PayloadOff string `mapstructure:"payload_off"`
}

type Homeassistant struct {
	Discovery   bool   `mapstructure:"discovery"`
	Topic       string `mapstructure:"topic"`
	ExpireAfter int    `mapstructure:"expire_after"`
}

type INA struct {
	Address         int     `mapstructure:"address"`
	ShuntOhms       float64 `mapstructure:"shunt_ohms"`
	MaxExpectedAmps float64 `mapstructure:"max_expected_amps"`
	MonitorInterval int     `mapstructure:"monitor_interval"`
	Bus             string  `mapstructure:"bus"`
}

type System struct {
	Shutdown string `mapstructure:"shutdown"`
	Restart  string `mapstructure:"restart"`
}

type Database struct {
	Path string `mapstructure:"path"`
}

// Load reads configuration from flags, the REACTORCTL_* environment and the
// TOML config file, in that order of precedence.
func Load() (*Config, error) {
	fs := pflag.NewFlagSet("reactorctl", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	configFlag := fs.String("config", "", "Path to configuration file")
	logLevelFlag := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errors.Wrap(errors.ErrBindFlags, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("REACTORCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := *configFlag
	if path == "" {
		path = os.Getenv("REACTORCTL_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("reactorctl.conf")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errors.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	if *logLevelFlag != "" {
		v.Set("log_level", *logLevelFlag)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "reactorctl"
	}

	v.SetDefault("log_level", DefaultLogLevel)

	v.SetDefault("mqtt.broker", "127.0.0.1")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "reactorctl")
	v.SetDefault("mqtt.transport", "tcp")
	v.SetDefault("mqtt.keepalive", 60)
	v.SetDefault("mqtt.base_topic", "reactorctl")
	v.SetDefault("mqtt.topic.state", "state")
	v.SetDefault("mqtt.topic.status", "status")
	v.SetDefault("mqtt.topic.set", "set")
	v.SetDefault("mqtt.exit_on_fail", false)

	v.SetDefault("hostname.name", hostname)
	v.SetDefault("hostname.pretty", hostname)

	v.SetDefault("status.online", "online")
	v.SetDefault("status.offline", "offline")
	v.SetDefault("status.payload_on", "ON")
	v.SetDefault("status.payload_off", "OFF")

	v.SetDefault("homeassistant.discovery", true)
	v.SetDefault("homeassistant.topic", "homeassistant")
	v.SetDefault("homeassistant.expire_after", 120)

	v.SetDefault("ina.address", 0x40)
	v.SetDefault("ina.shunt_ohms", 0.05)
	v.SetDefault("ina.max_expected_amps", 5.5)
	v.SetDefault("ina.monitor_interval", 5)
	v.SetDefault("ina.bus", "")

	v.SetDefault("system.shutdown", "sudo shutdown -h now")
	v.SetDefault("system.restart", "sudo shutdown -r now")

	v.SetDefault("database.path", "/var/lib/reactorctl/settings.db")
}

func validate(c *Config) error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.WithMessage(errors.ErrInvalidLogLevel, "log level must be one of debug, info, warn, error")
	}

	if c.MQTT.Broker == "" {
		return errors.WithMessage(errors.ErrMissingConfig, "mqtt broker address is required")
	}
	if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
		return errors.WithMessage(errors.ErrInvalidConfig, "mqtt port is out of range")
	}
	if c.MQTT.Keepalive < 1 {
		return errors.New(errors.ErrInvalidInterval)
	}
	if c.INA.MonitorInterval < 1 {
		return errors.New(errors.ErrInvalidInterval)
	}
	if c.INA.ShuntOhms <= 0 || c.INA.MaxExpectedAmps <= 0 {
		return errors.WithMessage(errors.ErrInvalidConfig, "ina shunt_ohms and max_expected_amps must be positive")
	}

	return nil
}

// StateTopic resolves the full state topic for this host.
func (c *Config) StateTopic() string {
	return c.MQTT.BaseTopic + "/" + c.Hostname.Name + "/" + c.MQTT.Topic.State
}

// StatusTopic resolves the full availability topic for this host.
func (c *Config) StatusTopic() string {
	return c.MQTT.BaseTopic + "/" + c.Hostname.Name + "/" + c.MQTT.Topic.Status
}

// SetTopicPrefix resolves the command topic prefix, trailing slash included.
func (c *Config) SetTopicPrefix() string {
	return c.MQTT.BaseTopic + "/" + c.Hostname.Name + "/" + c.MQTT.Topic.Set + "/"
}
