package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"chairlink/config"
	"chairlink/models"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Entity event types published to the exchange
const (
	EntityRegistered   = "registered"
	EntityStateChanged = "state_changed"
)

var errRabbitMQUnavailable = errors.New("rabbitmq channel unavailable")

// amqpPublisher is the part of *amqp.Channel the sink publishes through
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// EntityEvent is the JSON body of every published message
type EntityEvent struct {
	Type       string                `json:"type"`
	UniqueID   string                `json:"unique_id"`
	Name       string                `json:"name"`
	Kind       models.EntityKind     `json:"kind"`
	State      string                `json:"state"`
	Attributes map[string]any        `json:"attributes"`
	Device     models.DeviceIdentity `json:"device"`
	Timestamp  time.Time             `json:"timestamp"`
}

// RabbitMQSink publishes entity registrations and state changes to a topic
// exchange. Routing keys are <device>.<kind>.<event type>.
type RabbitMQSink struct {
	url      string
	exchange string
	logger   *zap.Logger

	mu        sync.Mutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	publisher amqpPublisher
	isClosing bool
}

// NewRabbitMQSink creates a new RabbitMQ sink and connects it
func NewRabbitMQSink(cfg *config.Config, logger *zap.Logger) (*RabbitMQSink, error) {
	sink := &RabbitMQSink{
		url:      cfg.RabbitMQURL,
		exchange: cfg.RabbitMQExchange,
		logger:   logger,
	}

	if err := sink.connect(); err != nil {
		return nil, err
	}

	return sink, nil
}

// connect establishes connection to RabbitMQ and declares the exchange
func (r *RabbitMQSink) connect() error {
	var conn *amqp.Connection
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("exchange", r.exchange))

	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(r.url)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		r.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	r.logger.Info("Exchange declared", zap.String("exchange", r.exchange))

	r.mu.Lock()
	r.conn = conn
	r.channel = ch
	r.publisher = ch
	r.mu.Unlock()

	go r.handleReconnect(conn)

	return nil
}

// handleReconnect reconnects when conn is lost unexpectedly
func (r *RabbitMQSink) handleReconnect(conn *amqp.Connection) {
	closeErr := <-conn.NotifyClose(make(chan *amqp.Error, 1))

	r.mu.Lock()
	closing := r.isClosing
	r.publisher = nil
	r.mu.Unlock()

	if closing {
		r.logger.Info("RabbitMQ connection closed gracefully")
		return
	}

	r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

	for {
		r.mu.Lock()
		closing = r.isClosing
		r.mu.Unlock()
		if closing {
			return
		}

		r.logger.Info("Attempting to reconnect to RabbitMQ...")
		err := r.connect()
		if err == nil {
			r.logger.Info("Successfully reconnected to RabbitMQ")
			return
		}

		r.logger.Error("Failed to reconnect", zap.Error(err))
		time.Sleep(5 * time.Second)
	}
}

func (r *RabbitMQSink) RegisterEntities(ctx context.Context, entities []models.Entity) error {
	for _, ent := range entities {
		if err := r.publish(ctx, EntityRegistered, ent); err != nil {
			return err
		}
	}
	return nil
}

func (r *RabbitMQSink) NotifyStateChanged(ctx context.Context, ent models.Entity) error {
	return r.publish(ctx, EntityStateChanged, ent)
}

func (r *RabbitMQSink) publish(ctx context.Context, eventType string, ent models.Entity) error {
	r.mu.Lock()
	pub := r.publisher
	r.mu.Unlock()
	if pub == nil {
		return errRabbitMQUnavailable
	}

	now := time.Now()
	body, err := json.Marshal(EntityEvent{
		Type:       eventType,
		UniqueID:   ent.UniqueID(),
		Name:       ent.Name(),
		Kind:       ent.Kind(),
		State:      ent.State(),
		Attributes: ent.Attributes(),
		Device:     ent.Device(),
		Timestamp:  now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entity event: %w", err)
	}

	key := routingKey(ent, eventType)
	err = pub.PublishWithContext(ctx,
		r.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    now,
			MessageId:    uuid.NewString(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	r.logger.Debug("Published entity event to RabbitMQ",
		zap.String("unique_id", ent.UniqueID()),
		zap.String("routing_key", key))
	return nil
}

func routingKey(ent models.Entity, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", StorageSafeKey(ent.Device().UniqueID), ent.Kind(), eventType)
}

// Close gracefully closes RabbitMQ connection
func (r *RabbitMQSink) Close() error {
	r.mu.Lock()
	r.isClosing = true
	ch, conn := r.channel, r.conn
	r.mu.Unlock()

	r.logger.Info("Closing RabbitMQ connection")

	if ch != nil {
		if err := ch.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
