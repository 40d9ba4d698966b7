package services

import (
	"chairlink/models"

	"go.uber.org/zap"
)

// MeasurementReconciler owns the live measurement set of one connection, keyed
// by field name. Entities are created on first sight and never removed.
type MeasurementReconciler struct {
	device models.DeviceIdentity
	logger *zap.Logger
	live   map[string]*models.MeasurementEntity
	order  []string
}

func NewMeasurementReconciler(device models.DeviceIdentity, logger *zap.Logger) *MeasurementReconciler {
	return &MeasurementReconciler{
		device: device,
		logger: logger,
		live:   make(map[string]*models.MeasurementEntity),
	}
}

// Reconcile returns the entities created by this message and the existing
// entities whose value was updated, both in field order.
func (r *MeasurementReconciler) Reconcile(fields []models.Field) (created, updated []*models.MeasurementEntity) {
	for _, f := range fields {
		if ent, ok := r.live[f.Name]; ok {
			ent.Value = f.Value
			updated = append(updated, ent)
			continue
		}

		ent := models.NewMeasurementEntity(f.Name, f.Value, r.device)
		r.live[f.Name] = ent
		r.order = append(r.order, f.Name)
		created = append(created, ent)

		r.logger.Info("New measurement entity",
			zap.String("field", f.Name),
			zap.String("unique_id", ent.UniqueID()),
			zap.String("value", f.Value.String()))
	}
	return created, updated
}

// Get returns the live entity for a field
func (r *MeasurementReconciler) Get(field string) (*models.MeasurementEntity, bool) {
	ent, ok := r.live[field]
	return ent, ok
}

// Entities returns the live set in first-seen order
func (r *MeasurementReconciler) Entities() []*models.MeasurementEntity {
	out := make([]*models.MeasurementEntity, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.live[name])
	}
	return out
}
