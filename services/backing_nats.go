package services

import (
	"context"
	"errors"
	"fmt"

	"chairlink/models"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"
)

// NATSBacking stores calendars in a JetStream key-value bucket
type NATSBacking struct {
	nc     *nats.Conn
	kv     jetstream.KeyValue
	logger *zap.Logger
}

func NewNATSBacking(ctx context.Context, natsURL, bucket string, logger *zap.Logger) (*NATSBacking, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("chairlink"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	kv, err := js.KeyValue(ctx, bucket)
	if errors.Is(err, jetstream.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      bucket,
			Description: "chairlink hygiene calendars",
			History:     1,
		})
	}
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to open KV bucket %s: %w", bucket, err)
	}

	logger.Info("NATS calendar bucket ready", zap.String("bucket", bucket))

	return &NATSBacking{nc: nc, kv: kv, logger: logger}, nil
}

func (n *NATSBacking) Load(ctx context.Context, key string) ([]models.EventRecord, error) {
	entry, err := n.kv.Get(ctx, StorageSafeKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return decodeDocument(entry.Value())
}

func (n *NATSBacking) Save(ctx context.Context, key string, records []models.EventRecord) error {
	b, err := encodeDocument(key, records)
	if err != nil {
		return err
	}
	if _, err := n.kv.Put(ctx, StorageSafeKey(key), b); err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

func (n *NATSBacking) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}
