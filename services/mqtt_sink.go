package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chairlink/config"
	"chairlink/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const mqttPublishTimeout = 5 * time.Second

// mqttPublisher is the part of mqtt.Client the sink uses
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// discoveryDevice is the device block of a discovery config
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// discoveryConfig is a Home Assistant MQTT discovery payload
type discoveryConfig struct {
	Tilde           string          `json:"~"`
	Name            string          `json:"name"`
	UniqueID        string          `json:"unique_id"`
	StateTopic      string          `json:"state_topic"`
	AttributesTopic string          `json:"json_attributes_topic"`
	DeviceClass     string          `json:"device_class,omitempty"`
	PayloadOn       string          `json:"payload_on,omitempty"`
	PayloadOff      string          `json:"payload_off,omitempty"`
	Icon            string          `json:"icon,omitempty"`
	Device          discoveryDevice `json:"device"`
}

// MQTTSink announces entities through MQTT discovery and publishes their state
// as retained messages.
type MQTTSink struct {
	client          mqttPublisher
	discoveryPrefix string
	baseTopic       string
	logger          *zap.Logger
	disconnect      func()
}

// NewMQTTSink connects to the broker configured in cfg
func NewMQTTSink(cfg *config.Config, logger *zap.Logger) (*MQTTSink, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.MQTTBroker)
	opts.SetClientID(fmt.Sprintf("chairlink-%s", uuid.NewString()[:8]))
	opts.SetUsername(cfg.MQTTUser)
	opts.SetPassword(cfg.MQTTPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", cfg.MQTTBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	sink := newMQTTSink(client, cfg.MQTTDiscoveryPrefix, cfg.MQTTBaseTopic, logger)
	sink.disconnect = func() { client.Disconnect(250) }
	return sink, nil
}

func newMQTTSink(client mqttPublisher, discoveryPrefix, baseTopic string, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		client:          client,
		discoveryPrefix: discoveryPrefix,
		baseTopic:       baseTopic,
		logger:          logger,
	}
}

// RegisterEntities publishes a retained discovery config and the initial state
// of every entity.
func (m *MQTTSink) RegisterEntities(ctx context.Context, entities []models.Entity) error {
	for _, ent := range entities {
		payload, err := json.Marshal(m.discoveryConfig(ent))
		if err != nil {
			return fmt.Errorf("failed to marshal discovery config for %s: %w", ent.UniqueID(), err)
		}
		if err := m.publish(ctx, m.configTopic(ent), payload); err != nil {
			return err
		}
		if err := m.NotifyStateChanged(ctx, ent); err != nil {
			return err
		}

		m.logger.Debug("Entity announced over MQTT",
			zap.String("unique_id", ent.UniqueID()),
			zap.String("topic", m.configTopic(ent)))
	}
	return nil
}

// NotifyStateChanged publishes state and attributes of ent
func (m *MQTTSink) NotifyStateChanged(ctx context.Context, ent models.Entity) error {
	attrs, err := json.Marshal(ent.Attributes())
	if err != nil {
		return fmt.Errorf("failed to marshal attributes for %s: %w", ent.UniqueID(), err)
	}
	if err := m.publish(ctx, m.entityTopic(ent)+"/state", []byte(ent.State())); err != nil {
		return err
	}
	return m.publish(ctx, m.entityTopic(ent)+"/attributes", attrs)
}

func (m *MQTTSink) publish(ctx context.Context, topic string, payload []byte) error {
	token := m.client.Publish(topic, 1, true, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(mqttPublishTimeout):
		return fmt.Errorf("timeout publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTTSink) discoveryConfig(ent models.Entity) discoveryConfig {
	dev := ent.Device()
	cfg := discoveryConfig{
		Tilde:           m.entityTopic(ent),
		Name:            ent.Name(),
		UniqueID:        ent.UniqueID(),
		StateTopic:      "~/state",
		AttributesTopic: "~/attributes",
		Device: discoveryDevice{
			Identifiers:  []string{dev.UniqueID},
			Name:         dev.Name,
			Manufacturer: dev.Manufacturer,
			Model:        dev.Model,
			SWVersion:    dev.Version,
		},
	}

	switch ent.Kind() {
	case models.KindBinarySensor:
		cfg.PayloadOn, cfg.PayloadOff = "on", "off"
		if dc, ok := ent.Attributes()["device_class"].(string); ok {
			cfg.DeviceClass = dc
		}
	case models.KindCalendar:
		// no MQTT calendar platform; exposed as an in-progress flag with event attributes
		cfg.PayloadOn, cfg.PayloadOff = "on", "off"
		cfg.Icon = "mdi:calendar-clock"
	}
	return cfg
}

// discoveryComponent maps an entity kind to the MQTT discovery component
func discoveryComponent(kind models.EntityKind) string {
	switch kind {
	case models.KindBinarySensor, models.KindCalendar:
		return "binary_sensor"
	default:
		return "sensor"
	}
}

func (m *MQTTSink) configTopic(ent models.Entity) string {
	return fmt.Sprintf("%s/%s/%s/%s/config",
		m.discoveryPrefix,
		discoveryComponent(ent.Kind()),
		StorageSafeKey(ent.Device().UniqueID),
		StorageSafeKey(ent.UniqueID()))
}

func (m *MQTTSink) entityTopic(ent models.Entity) string {
	return fmt.Sprintf("%s/%s/%s",
		m.baseTopic,
		StorageSafeKey(ent.Device().UniqueID),
		StorageSafeKey(ent.UniqueID()))
}

func (m *MQTTSink) Close() error {
	if m.disconnect != nil {
		m.disconnect()
	}
	m.logger.Info("MQTT sink closed")
	return nil
}
