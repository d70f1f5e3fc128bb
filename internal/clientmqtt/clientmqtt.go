// Package clientmqtt publishes delivered commands to an MQTT broker, one
// topic per entity, for setups that front their devices with MQTT instead
// of Home Assistant.
package clientmqtt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"artnet2ha/internal/command"
	"artnet2ha/internal/config"
	"artnet2ha/internal/logger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ClientMQTT is the MQTT sink. Reconnects are paho's business; while the
// broker is unreachable Deliver fails fast with ErrNotConnected.
type ClientMQTT struct {
	logger logger.Logger
	cfg    config.MQTTConf
	client mqtt.Client
	opts   *mqtt.ClientOptions
}

// NewClient builds the sink for the configured broker.
func NewClient(log logger.Logger, cfg config.MQTTConf) *ClientMQTT {
	return &ClientMQTT{
		logger: log,
		cfg:    cfg,
	}
}

// Start connects to the broker and waits for the connection to come up or
// ctx to die.
func (c *ClientMQTT) Start(ctx context.Context) error {
	if c.logger.GetLevel() == "debug" {
		mqtt.ERROR = log.New(os.Stdout, "[ERROR] ", 0)
		mqtt.CRITICAL = log.New(os.Stdout, "[CRIT] ", 0)
		mqtt.WARN = log.New(os.Stdout, "[WARN]  ", 0)
	}

	c.opts = mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%s", c.cfg.Schema, c.cfg.Host, c.cfg.Port)).
		SetUsername(c.cfg.User).
		SetPassword(c.cfg.Password).
		SetOnConnectHandler(c.connectHandler).
		SetConnectionLostHandler(c.connectLostHandler).
		SetClientID(c.cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)

	c.client = mqtt.NewClient(c.opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return token.Error()
		}
	case <-ctx.Done():
		return errors.New("context canceled")
	}

	c.logger.With(logger.Fields{"module": "mqtt"}).Infof("Status: %v", c.client.IsConnected())
	return nil
}

// Stop disconnects from the broker.
func (c *ClientMQTT) Stop() error {
	if c.client != nil && c.client.IsConnected() {
		c.client.Disconnect(500)
	}
	return nil
}

// Connected reports whether the broker connection is up.
func (c *ClientMQTT) Connected() bool {
	return c.client != nil && c.client.IsConnected()
}

// Deliver publishes the command as JSON to <prefix>/<entityID>/set and waits
// for the broker to take it.
func (c *ClientMQTT) Deliver(ctx context.Context, entityID string, cmd command.Command) error {
	if !c.Connected() {
		return command.ErrNotConnected
	}

	payload, err := payloadFor(cmd)
	if err != nil {
		return fmt.Errorf("mqtt: encode command: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/set", c.cfg.TopicPrefix, entityID)
	token := c.client.Publish(topic, c.cfg.Qos, false, payload)
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("mqtt: publish %s: %w", topic, token.Error())
		}
	case <-time.After(c.cfg.PublishTimeout.Duration()):
		return fmt.Errorf("mqtt: publish %s: timeout", topic)
	case <-ctx.Done():
		return ctx.Err()
	}

	c.logger.With(logger.Fields{"module": "mqtt", "entity": entityID}).Debugf("published %s", cmd)
	return nil
}

func (c *ClientMQTT) connectHandler(_ mqtt.Client) {
	c.logger.With(logger.Fields{"module": "mqtt"}).Info("client connected to server")
}

func (c *ClientMQTT) connectLostHandler(_ mqtt.Client, err error) {
	c.logger.With(logger.Fields{"module": "mqtt"}).Errorf("server connect lost: %v\n", err)
}
