package services

import (
	"context"

	"chairlink/models"
)

// EntitySink is a downstream host platform that entities are announced to.
// The engine tracks registration per sink, so one sink being down does not
// hold back the others.
type EntitySink interface {
	// RegisterEntities announces new entities along with their current state
	RegisterEntities(ctx context.Context, entities []models.Entity) error
	// NotifyStateChanged publishes the current state of a registered entity
	NotifyStateChanged(ctx context.Context, entity models.Entity) error
}
