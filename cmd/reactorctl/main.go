package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/mutker/reactorctl/internal/commander"
	"codeberg.org/mutker/reactorctl/internal/config"
	"codeberg.org/mutker/reactorctl/internal/cpu"
	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/homeassistant"
	"codeberg.org/mutker/reactorctl/internal/logger"
	"codeberg.org/mutker/reactorctl/internal/monitor"
	"codeberg.org/mutker/reactorctl/internal/pid"
	"codeberg.org/mutker/reactorctl/internal/power"
	"codeberg.org/mutker/reactorctl/internal/settings"
	"codeberg.org/mutker/reactorctl/internal/transport"
)

const (
	connectRetryDelay  = 10 * time.Second
	disconnectGrace    = 2 * time.Second
	shutdownGracePause = 2 * time.Second
)

var cfg *config.Config

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel == "debug", cfg.LogLevel == "info", logger.IsService())
	logger.SetLogLevel(logger.LevelFromString(cfg.LogLevel))
	logger.Debug().Msg("Config loaded")
}

func main() {
	if err := pid.Write(); err != nil {
		logger.Fatal().AnErr("error", err).Msg("failed to acquire pid file")
	}
	defer pid.Remove()

	bus := events.New()

	repo, err := settings.NewRepository(cfg.Database.Path)
	if err != nil {
		logger.Fatal().AnErr("error", err).Msg("failed to open settings store")
	}
	stg, err := settings.NewManager(repo, bus)
	if err != nil {
		logger.Fatal().AnErr("error", err).Msg("failed to load settings")
	}
	defer stg.Close()

	// A missing sensor is fatal: the process cannot monitor without one.
	sensor, err := power.NewINA219(power.INA219Config{
		BusName:         cfg.INA.Bus,
		Address:         uint16(cfg.INA.Address),
		ShuntOhms:       cfg.INA.ShuntOhms,
		MaxExpectedAmps: cfg.INA.MaxExpectedAmps,
	})
	if err != nil {
		logger.Fatal().AnErr("error", err).Msg("failed to initialize power sensor")
	}
	defer sensor.Close()

	mon := monitor.New(monitor.Config{
		StatusTopic:   cfg.StatusTopic(),
		StateTopic:    cfg.StateTopic(),
		StatusOnline:  cfg.Status.Online,
		StatusOffline: cfg.Status.Offline,
		PayloadOn:     cfg.Status.PayloadOn,
		PayloadOff:    cfg.Status.PayloadOff,
		PollInterval:  time.Duration(cfg.INA.MonitorInterval) * time.Second,
	}, sensor, cpu.NewReader(), stg, bus)

	broker := transport.New(transport.Config{
		Broker:        cfg.MQTT.Broker,
		Port:          cfg.MQTT.Port,
		Username:      cfg.MQTT.User,
		Password:      cfg.MQTT.Password,
		ClientID:      cfg.MQTT.ClientID,
		Transport:     cfg.MQTT.Transport,
		KeepAlive:     time.Duration(cfg.MQTT.Keepalive) * time.Second,
		StatusTopic:   cfg.StatusTopic(),
		StatusOffline: cfg.Status.Offline,
	}, bus)

	commander.New(commander.Config{
		SetTopicPrefix:  cfg.SetTopicPrefix(),
		StatusTopic:     cfg.StatusTopic(),
		StatusOffline:   cfg.Status.Offline,
		ShutdownCommand: cfg.System.Shutdown,
		RestartCommand:  cfg.System.Restart,
		Grace:           shutdownGracePause,
	}, stg, broker, bus)

	if cfg.Homeassistant.Discovery {
		ha := homeassistant.New(homeassistant.Config{
			DiscoveryPrefix: cfg.Homeassistant.Topic,
			ExpireAfter:     cfg.Homeassistant.ExpireAfter,
			Hostname:        cfg.Hostname.Name,
			HostnamePretty:  cfg.Hostname.Pretty,
			StateTopic:      cfg.StateTopic(),
			StatusTopic:     cfg.StatusTopic(),
			SetTopicPrefix:  cfg.SetTopicPrefix(),
			StatusOnline:    cfg.Status.Online,
			StatusOffline:   cfg.Status.Offline,
			PayloadOn:       cfg.Status.PayloadOn,
			PayloadOff:      cfg.Status.PayloadOff,
		}, stg, bus)
		defer ha.Stop()
	}

	mon.Start()
	defer mon.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := connect(ctx, broker); err != nil {
		logger.Fatal().AnErr("error", err).Msg("failed to connect to broker")
	}

	<-ctx.Done()
	broker.Disconnect(disconnectGrace)
	logger.Info().Msg("Exiting...")
}

// connect retries until the broker accepts the session or the context ends.
// With exit_on_fail set the first failure is returned to the caller instead.
func connect(ctx context.Context, broker *transport.Client) error {
	for {
		err := broker.Connect()
		if err == nil {
			return nil
		}
		if cfg.MQTT.ExitOnFail {
			return err
		}

		logger.Warn().
			AnErr("error", err).
			Dur("retry_in", connectRetryDelay).
			Msg("Unable to connect to the broker")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(connectRetryDelay):
		}
	}
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
