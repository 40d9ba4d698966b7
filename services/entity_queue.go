package services

import (
	"context"
	"fmt"
	"sync"

	"chairlink/models"

	"go.uber.org/zap"
)

// EntityQueue holds entities waiting to be registered with one sink. Entries
// leave the queue only after a successful registration.
type EntityQueue struct {
	logger  *zap.Logger
	metrics *Metrics

	mu         sync.Mutex
	pending    []models.Entity
	registered map[string]bool

	drainMu sync.Mutex
}

// NewEntityQueue creates a new entity queue
func NewEntityQueue(logger *zap.Logger, metrics *Metrics) *EntityQueue {
	return &EntityQueue{
		logger:     logger,
		metrics:    metrics,
		registered: make(map[string]bool),
	}
}

// Enqueue adds entities that are neither registered nor already pending
func (q *EntityQueue) Enqueue(entities ...models.Entity) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ent := range entities {
		uid := ent.UniqueID()
		if q.registered[uid] || q.isPending(uid) {
			continue
		}
		q.pending = append(q.pending, ent)

		q.logger.Debug("Entity queued for registration",
			zap.String("unique_id", uid),
			zap.String("kind", string(ent.Kind())),
			zap.Int("queue_size", len(q.pending)))
	}
}

func (q *EntityQueue) isPending(uid string) bool {
	for _, ent := range q.pending {
		if ent.UniqueID() == uid {
			return true
		}
	}
	return false
}

// Drain makes one attempt to register every pending entity with sink in a
// single batch. It never sleeps; on failure the batch stays queued.
func (q *EntityQueue) Drain(ctx context.Context, sink EntitySink) error {
	if sink == nil {
		return nil
	}

	q.drainMu.Lock()
	defer q.drainMu.Unlock()

	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return nil
	}
	batch := make([]models.Entity, len(q.pending))
	copy(batch, q.pending)
	q.mu.Unlock()

	if err := sink.RegisterEntities(ctx, batch); err != nil {
		return fmt.Errorf("failed to register %d entities: %w", len(batch), err)
	}

	q.mu.Lock()
	done := make(map[string]bool, len(batch))
	for _, ent := range batch {
		done[ent.UniqueID()] = true
		q.registered[ent.UniqueID()] = true
	}
	kept := q.pending[:0]
	for _, ent := range q.pending {
		if !done[ent.UniqueID()] {
			kept = append(kept, ent)
		}
	}
	q.pending = kept
	q.mu.Unlock()

	q.metrics.addEntitiesRegistered(len(batch))
	q.logger.Info("Registered entities", zap.Int("batch_size", len(batch)))
	return nil
}

// IsRegistered reports whether uid was accepted by the sink
func (q *EntityQueue) IsRegistered(uid string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.registered[uid]
}

// Pending returns the number of entities waiting for registration
func (q *EntityQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
