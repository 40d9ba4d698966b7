package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"chairlink/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type amqpMessage struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeAMQP struct {
	published []amqpMessage
	err       error
}

func (f *fakeAMQP) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, amqpMessage{exchange, key, msg})
	return nil
}

func newTestRabbitMQSink(pub amqpPublisher) *RabbitMQSink {
	return &RabbitMQSink{exchange: "chairlink.entities", logger: zap.NewNop(), publisher: pub}
}

func TestRabbitMQSinkPublishesEntityEvents(t *testing.T) {
	pub := &fakeAMQP{}
	sink := newTestRabbitMQSink(pub)
	ctx := context.Background()
	ent := models.NewMeasurementEntity("temperature", models.StringValue("72"), testDevice())

	require.NoError(t, sink.RegisterEntities(ctx, []models.Entity{ent}))
	ent.Value = models.StringValue("75")
	require.NoError(t, sink.NotifyStateChanged(ctx, ent))

	require.Len(t, pub.published, 2)
	assert.Equal(t, "chairlink.entities", pub.published[0].exchange)
	assert.Equal(t, "test_chair.sensor.registered", pub.published[0].key)
	assert.Equal(t, "test_chair.sensor.state_changed", pub.published[1].key)

	msg := pub.published[1].msg
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	assert.NotEqual(t, pub.published[0].msg.MessageId, msg.MessageId)

	var ev EntityEvent
	require.NoError(t, json.Unmarshal(msg.Body, &ev))
	assert.Equal(t, EntityStateChanged, ev.Type)
	assert.Equal(t, "test_chair_temperature", ev.UniqueID)
	assert.Equal(t, "75", ev.State)
	assert.Equal(t, models.KindSensor, ev.Kind)
	assert.Equal(t, "test_chair", ev.Device.UniqueID)
}

func TestRabbitMQSinkUnavailable(t *testing.T) {
	sink := newTestRabbitMQSink(nil)
	ent := models.NewConnectivityEntity(testDevice())

	err := sink.NotifyStateChanged(context.Background(), ent)
	assert.ErrorIs(t, err, errRabbitMQUnavailable)
}

func TestRabbitMQSinkPublishFailure(t *testing.T) {
	sink := newTestRabbitMQSink(&fakeAMQP{err: errors.New("channel closed")})
	ent := models.NewConnectivityEntity(testDevice())

	err := sink.RegisterEntities(context.Background(), []models.Entity{ent})
	assert.ErrorContains(t, err, "channel closed")
}
