package mqtt

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/drawee/drawee-go/internal/conf"
	"github.com/drawee/drawee-go/internal/datastore"
	"github.com/drawee/drawee-go/internal/errors"
	"github.com/drawee/drawee-go/internal/logger"
	"github.com/drawee/drawee-go/internal/observability/metrics"
)

// ClassificationsSubtopic is appended to the base topic for classification events
const ClassificationsSubtopic = "classifications"

// Publisher sends classification events.
type Publisher struct {
	client   Client
	topic    string
	retain   bool
	instance string
}

// NewPublisher creates a publisher from settings. It does not connect.
func NewPublisher(settings *conf.Settings, m *metrics.MQTTMetrics) *Publisher {
	clientID := settings.MQTT.ClientID
	if clientID == "" {
		clientID = settings.Main.Name
	}
	c := NewClient(Config{
		Broker:   settings.MQTT.Broker,
		ClientID: clientID,
		Username: settings.MQTT.Username,
		Password: settings.MQTT.Password,
	}, m)
	return NewPublisherWithClient(c, settings.MQTT.Topic, settings.MQTT.Retain, settings.Main.Name)
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(c Client, baseTopic string, retain bool, instance string) *Publisher {
	return &Publisher{
		client:   c,
		topic:    classificationTopic(baseTopic),
		retain:   retain,
		instance: instance,
	}
}

func classificationTopic(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		return ClassificationsSubtopic
	}
	return base + "/" + ClassificationsSubtopic
}

// Topic returns the topic classification events are published to
func (p *Publisher) Topic() string {
	return p.topic
}

// Connect connects the underlying client.
func (p *Publisher) Connect(ctx context.Context) error {
	return p.client.Connect(ctx)
}

// PublishClassification publishes the event for r.
func (p *Publisher) PublishClassification(ctx context.Context, r *datastore.Result, imageURL string) error {
	payload, err := json.Marshal(NewClassificationEvent(r, imageURL, p.instance))
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("operation", "marshal-event").
			Build()
	}

	if !p.client.IsConnected() {
		// Connect rate limits itself after a failure
		if err := p.client.Connect(ctx); err != nil {
			return err
		}
	}

	if err := p.client.Publish(ctx, p.topic, payload, p.retain); err != nil {
		return err
	}

	GetLogger().Debug("classification event published",
		logger.String("topic", p.topic),
		logger.String("result_id", r.ID))
	return nil
}

// Close disconnects the underlying client.
func (p *Publisher) Close() {
	p.client.Disconnect()
}
