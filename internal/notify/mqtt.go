package notify

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

const (
	mqttConnectTimeout    = 30 * time.Second
	mqttPublishTimeout    = 10 * time.Second
	mqttDisconnectQuiesce = 250 // milliseconds
)

// Publisher sends one message to one topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// MQTTPublisher publishes events to an MQTT broker.
type MQTTPublisher struct {
	mu       sync.Mutex
	settings conf.MQTTSettings
	client   mqtt.Client
}

// NewMQTTPublisher validates the broker URL. Call Connect before publishing.
func NewMQTTPublisher(settings conf.MQTTSettings) (*MQTTPublisher, error) {
	u, err := url.Parse(settings.Broker)
	if err != nil || u.Host == "" {
		return nil, errors.Newf("invalid mqtt broker url %q", settings.Broker).
			Component("notify").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if settings.ClientID == "" {
		settings.ClientID = "threatlink"
	}
	return &MQTTPublisher{settings: settings}, nil
}

// Connect dials the broker. The paho client reconnects on its own after a
// successful first connection.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.settings.Broker)
	opts.SetClientID(p.settings.ClientID)
	opts.SetUsername(p.settings.Username)
	opts.SetPassword(p.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		GetLogger().Info("connected to mqtt broker", logger.String("broker", p.settings.Broker))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		GetLogger().Warn("mqtt connection lost", logger.String("broker", p.settings.Broker), logger.Error(err))
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	if err := waitToken(ctx, token, mqttConnectTimeout); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("broker", p.settings.Broker).
			Build()
	}
	return nil
}

// Publish sends payload with QoS 1.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return errors.Newf("not connected to mqtt broker").
			Component("notify").
			Category(errors.CategoryNetwork).
			Context("topic", topic).
			Build()
	}

	token := client.Publish(topic, 1, p.settings.Retain, payload)
	if err := waitToken(ctx, token, mqttPublishTimeout); err != nil {
		return errors.New(err).
			Component("notify").
			Category(errors.CategoryNotification).
			Context("topic", topic).
			Build()
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(mqttDisconnectQuiesce)
	}
}

// Topic joins the configured prefix and an event type.
func (p *MQTTPublisher) Topic(t EventType) string {
	return topic(p.settings.TopicPrefix, t)
}

func topic(prefix string, t EventType) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return string(t)
	}
	return prefix + "/" + string(t)
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.NewStd("mqtt operation timed out")
	}
}
