// Package transport owns the broker session. It forwards bus publish
// requests to the broker and surfaces the session lifecycle and inbound
// messages back onto the bus.
package transport

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"codeberg.org/mutker/reactorctl/internal/errors"
	"codeberg.org/mutker/reactorctl/internal/events"
	"codeberg.org/mutker/reactorctl/internal/logger"
)

// Config describes the broker connection. StatusTopic and StatusOffline form
// the last-will message so the availability flips to offline even on an
// unclean death.
type Config struct {
	Broker        string
	Port          int
	Username      string
	Password      string
	ClientID      string
	Transport     string // "tcp" or "websockets"
	KeepAlive     time.Duration
	StatusTopic   string
	StatusOffline string
}

type Client struct {
	cfg    Config
	bus    *events.Bus
	client mqtt.Client
}

// New configures the client and wires it to the bus. No connection is made
// until Connect.
func New(cfg Config, bus *events.Bus) *Client {
	c := &Client{cfg: cfg, bus: bus}

	logger.Info().
		Str("broker", cfg.Broker).
		Int("port", cfg.Port).
		Msg("Configuring broker connection")

	opts := mqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetKeepAlive(cfg.KeepAlive).
		SetAutoReconnect(true).
		SetWill(cfg.StatusTopic, cfg.StatusOffline, 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost).
		SetDefaultPublishHandler(c.onMessage)

	c.client = mqtt.NewClient(opts)

	bus.Subscribe(events.Publish, c.onPublishRequest)

	return c
}

// Connect establishes the broker session. The caller decides whether a
// failure is fatal.
func (c *Client) Connect() error {
	logger.Debug().
		Str("broker", c.cfg.Broker).
		Int("port", c.cfg.Port).
		Msg("Initiating connection to broker")

	token := c.client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrap(errors.ErrConnectBroker, err)
	}

	return nil
}

// Disconnect flushes in-flight messages within the grace period and closes
// the session.
func (c *Client) Disconnect(grace time.Duration) {
	c.client.Disconnect(uint(grace.Milliseconds()))
	logger.Info().Msg("Disconnected from broker")
}

// Subscribe registers interest in a topic. Messages arrive on the bus as
// message events.
func (c *Client) Subscribe(topic string) error {
	token := c.client.Subscribe(topic, 1, nil)
	token.Wait()
	if err := token.Error(); err != nil {
		return errors.Wrap(errors.ErrSubscribe, err)
	}

	logger.Debug().Str("topic", topic).Msg("Subscribed")
	return nil
}

func (c *Client) onConnect(mqtt.Client) {
	logger.Info().Msg("Connected to broker")
	c.bus.Publish(events.Connected)
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	logger.Warn().AnErr("error", err).Msg("Lost connection to broker")
	c.bus.Publish(events.Disconnected, err)
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	logger.Debug().
		Str("topic", msg.Topic()).
		Str("payload", string(msg.Payload())).
		Msg("Message received")
	c.bus.Publish(events.Message, msg.Topic(), msg.Payload())
}

// onPublishRequest consumes bus publish events: (topic string, payload
// []byte, retain bool).
func (c *Client) onPublishRequest(args ...any) {
	if len(args) != 3 {
		logger.Error().Int("args", len(args)).Msg("Malformed publish request")
		return
	}
	topic, ok1 := args[0].(string)
	payload, ok2 := args[1].([]byte)
	retain, ok3 := args[2].(bool)
	if !ok1 || !ok2 || !ok3 {
		logger.Error().Msg("Malformed publish request")
		return
	}

	logger.Debug().
		Str("topic", topic).
		Str("payload", string(payload)).
		Msg("Publishing")

	token := c.client.Publish(topic, 1, retain, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			logger.Error().
				Str("topic", topic).
				AnErr("error", err).
				Msg("Failed to publish message")
		}
	}()
}

func brokerURL(cfg Config) string {
	scheme := "tcp"
	if cfg.Transport == "websockets" {
		scheme = "ws"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker, cfg.Port)
}
