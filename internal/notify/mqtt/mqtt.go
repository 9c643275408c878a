// Package mqtt implements notify.Notifier on an MQTT broker.
//
// Events are published as JSON under <topic_prefix>/<level>, so consumers can
// subscribe to "argus/events/alarm" alone or "argus/events/#" for everything.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/argushq/argus/internal/config"
	"github.com/argushq/argus/internal/notify"
	"github.com/argushq/argus/internal/store"
)

const (
	connectTimeout = 10 * time.Second
	publishQoS     = 1
)

// Notifier publishes store.LogEntry values to an MQTT broker.
type Notifier struct {
	client      pahomqtt.Client
	topicPrefix string

	closeOnce sync.Once
}

var _ notify.Notifier = (*Notifier)(nil)

// New connects to the broker described by cfg.
func New(cfg config.MQTTConfig) (*Notifier, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	cli := pahomqtt.NewClient(opts)
	token := cli.Connect()
	if ok := token.WaitTimeout(connectTimeout); !ok {
		return nil, fmt.Errorf("mqtt: connect to %q timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %q: %w", cfg.BrokerURL, err)
	}

	return &Notifier{client: cli, topicPrefix: cfg.TopicPrefix}, nil
}

// Notify implements notify.Notifier.
func (n *Notifier) Notify(ctx context.Context, entry store.LogEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("mqtt: marshal event: %w", err)
	}

	topic := n.topicPrefix + "/" + string(entry.Level)
	token := n.client.Publish(topic, publishQoS, false, payload)

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: publish to %q: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements notify.Notifier.
func (n *Notifier) Close() error {
	n.closeOnce.Do(func() {
		if n.client.IsConnected() {
			n.client.Disconnect(250)
		}
	})
	return nil
}
