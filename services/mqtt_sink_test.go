package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"chairlink/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// doneToken is an already completed mqtt.Token
type doneToken struct {
	err error
}

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type publishedMessage struct {
	topic    string
	qos      byte
	retained bool
	payload  string
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []publishedMessage
	err      error
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, publishedMessage{topic, qos, retained, string(payload.([]byte))})
	return doneToken{err: p.err}
}

func (p *fakePublisher) byTopic() map[string]publishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]publishedMessage, len(p.messages))
	for _, m := range p.messages {
		out[m.topic] = m
	}
	return out
}

var _ mqtt.Token = doneToken{}

func TestMQTTSinkRegistersMeasurement(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "homeassistant", "chairlink", zap.NewNop())
	ent := models.NewMeasurementEntity("temperature", models.StringValue("72"), testDevice())

	require.NoError(t, sink.RegisterEntities(context.Background(), []models.Entity{ent}))

	msgs := pub.byTopic()
	require.Len(t, msgs, 3)

	cfgMsg, ok := msgs["homeassistant/sensor/test_chair/test_chair_temperature/config"]
	require.True(t, ok)
	assert.True(t, cfgMsg.retained)
	assert.Equal(t, byte(1), cfgMsg.qos)

	var cfg discoveryConfig
	require.NoError(t, json.Unmarshal([]byte(cfgMsg.payload), &cfg))
	assert.Equal(t, "chairlink/test_chair/test_chair_temperature", cfg.Tilde)
	assert.Equal(t, "Test Chair Temperature", cfg.Name)
	assert.Equal(t, "test_chair_temperature", cfg.UniqueID)
	assert.Equal(t, "~/state", cfg.StateTopic)
	assert.Equal(t, []string{"test_chair"}, cfg.Device.Identifiers)
	assert.Equal(t, "KaVo", cfg.Device.Manufacturer)
	assert.Empty(t, cfg.PayloadOn)

	assert.Equal(t, "72", msgs["chairlink/test_chair/test_chair_temperature/state"].payload)
	assert.JSONEq(t, `{"field":"temperature"}`, msgs["chairlink/test_chair/test_chair_temperature/attributes"].payload)
}

func TestMQTTSinkDiscoveryByKind(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "homeassistant", "chairlink", zap.NewNop())
	device := testDevice()
	conn := models.NewConnectivityEntity(device)
	conn.Connected = true
	cal := NewCalendarEntity(NewEventStore("k", nil, zap.NewNop(), nil), device)

	require.NoError(t, sink.RegisterEntities(context.Background(), []models.Entity{conn, cal}))
	msgs := pub.byTopic()

	var connCfg discoveryConfig
	require.NoError(t, json.Unmarshal([]byte(msgs["homeassistant/binary_sensor/test_chair/test_chair_server_connection/config"].payload), &connCfg))
	assert.Equal(t, "connectivity", connCfg.DeviceClass)
	assert.Equal(t, "on", connCfg.PayloadOn)
	assert.Equal(t, "on", msgs["chairlink/test_chair/test_chair_server_connection/state"].payload)

	var calCfg discoveryConfig
	require.NoError(t, json.Unmarshal([]byte(msgs["homeassistant/binary_sensor/test_chair/test_chair_hygiene_plan/config"].payload), &calCfg))
	assert.Equal(t, "mdi:calendar-clock", calCfg.Icon)
	assert.Equal(t, "Hygiene Plan: Test Chair", calCfg.Name)
	assert.Equal(t, "off", msgs["chairlink/test_chair/test_chair_hygiene_plan/state"].payload)
	assert.JSONEq(t, `{}`, msgs["chairlink/test_chair/test_chair_hygiene_plan/attributes"].payload)
}

func TestMQTTSinkNotifyPublishesStateOnly(t *testing.T) {
	pub := &fakePublisher{}
	sink := newMQTTSink(pub, "homeassistant", "chairlink", zap.NewNop())
	ent := models.NewMeasurementEntity("pressure", models.NumberValue("2.5"), testDevice())

	require.NoError(t, sink.NotifyStateChanged(context.Background(), ent))

	msgs := pub.byTopic()
	assert.Len(t, msgs, 2)
	assert.Equal(t, "2.5", msgs["chairlink/test_chair/test_chair_pressure/state"].payload)
}

func TestMQTTSinkPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	sink := newMQTTSink(pub, "homeassistant", "chairlink", zap.NewNop())
	ent := models.NewMeasurementEntity("temperature", models.StringValue("72"), testDevice())

	err := sink.RegisterEntities(context.Background(), []models.Entity{ent})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "homeassistant/sensor/test_chair/test_chair_temperature/config")
}
