// Package mqttclient mirrors job events to an MQTT broker.
package mqttclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/snarg/scriptsync/internal/events"
	"github.com/snarg/scriptsync/internal/metrics"
)

const publishTimeout = 5 * time.Second

type Client struct {
	conn        mqtt.Client
	topicPrefix string
	connected   atomic.Bool
	log         zerolog.Logger
}

type Options struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Log         zerolog.Logger
}

// Connect dials the broker. A retained "online" message is published to
// <prefix>/status and the broker publishes "offline" there if we vanish.
func Connect(opts Options) (*Client, error) {
	c := &Client{
		topicPrefix: strings.TrimSuffix(opts.TopicPrefix, "/"),
		log:         opts.Log,
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetWill(c.statusTopic(), "offline", 1, true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	c.conn = mqtt.NewClient(clientOpts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) statusTopic() string {
	return c.topicPrefix + "/status"
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("prefix", c.topicPrefix).Msg("mqtt connected")
	client.Publish(c.statusTopic(), 1, true, "online")
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("mqtt connection lost, will auto-reconnect")
}

// Publish sends payload at QoS 1 and waits for the broker to acknowledge.
func (c *Client) Publish(topic string, payload []byte) error {
	token := c.conn.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timed out", topic)
	}
	return token.Error()
}

// TopicPrefix returns the configured prefix without a trailing slash.
func (c *Client) TopicPrefix() string { return c.topicPrefix }

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting mqtt client")
	if c.conn.IsConnected() {
		c.conn.Publish(c.statusTopic(), 1, true, "offline").WaitTimeout(time.Second)
	}
	c.conn.Disconnect(1000)
}

// Publisher is the part of Client that Mirror needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// EventTopic returns <prefix>/jobs/<job id>/<event type>.
func EventTopic(prefix string, e events.Event) string {
	return fmt.Sprintf("%s/jobs/%s/%s", strings.TrimSuffix(prefix, "/"), e.JobID, e.Type)
}

// Mirror forwards every bus event to pub until ctx is cancelled. Publish
// failures are logged and counted; they never stop the mirror.
func Mirror(ctx context.Context, bus *events.Bus, pub Publisher, prefix string, log zerolog.Logger) {
	ch, cancel := bus.Subscribe(events.Filter{})
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			topic := EventTopic(prefix, e)
			if err := pub.Publish(topic, payload); err != nil {
				metrics.MQTTPublishedTotal.WithLabelValues("error").Inc()
				log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
				continue
			}
			metrics.MQTTPublishedTotal.WithLabelValues("ok").Inc()
		}
	}
}
