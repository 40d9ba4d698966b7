package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chairlink/models"

	"go.uber.org/zap"
)

const (
	hygieneEventDuration = 3 * time.Minute
	hygieneLocation      = "Dental Chair Room"
)

// Calendar operations, also used as the metrics label
const (
	CalendarCreate = "create"
	CalendarUpdate = "update"
	CalendarDelete = "delete"
)

// timestamps carrying an explicit offset
var offsetLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05-0700",
	"2006-01-02T15:04:05-07",
	"2006-01-02 15:04:05-07",
}

// naive timestamps, read in the device timezone
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// CalendarChange is one mutation applied to the event store
type CalendarChange struct {
	Op  string
	UID string
}

// CalendarReconciler diffs calendar fields against the event store. A field's
// event exists exactly while its last value was non-empty and parseable.
type CalendarReconciler struct {
	store   *EventStore
	prefix  string
	loc     *time.Location
	logger  *zap.Logger
	metrics *Metrics
}

func NewCalendarReconciler(store *EventStore, prefix string, loc *time.Location, logger *zap.Logger, metrics *Metrics) *CalendarReconciler {
	if loc == nil {
		loc = time.Local
	}
	return &CalendarReconciler{
		store:   store,
		prefix:  prefix,
		loc:     loc,
		logger:  logger,
		metrics: metrics,
	}
}

// Reconcile applies every calendar field in order. A bad field is skipped and
// reported; the remaining fields are still processed. Persistence failures are
// logged and do not stop reconciliation.
func (r *CalendarReconciler) Reconcile(ctx context.Context, fields []models.Field) ([]CalendarChange, []error) {
	var changes []CalendarChange
	var errs []error

	for _, f := range fields {
		change, err := r.reconcileField(ctx, f)
		if change != nil {
			changes = append(changes, *change)
			r.metrics.incCalendarOp(change.Op)
		}
		if err == nil {
			continue
		}

		var perr *PersistenceError
		if errors.As(err, &perr) {
			r.logger.Error("Calendar change not persisted",
				zap.String("uid", f.Name),
				zap.Error(err))
		} else {
			r.metrics.incDecodeErrors()
			r.logger.Warn("Skipping calendar field",
				zap.String("field", f.Name),
				zap.String("value", f.Value.String()),
				zap.Error(err))
		}
		errs = append(errs, err)
	}

	return changes, errs
}

func (r *CalendarReconciler) reconcileField(ctx context.Context, f models.Field) (*CalendarChange, error) {
	if f.Value.IsEmpty() {
		removed, err := r.store.Delete(ctx, f.Name)
		if !removed {
			return nil, nil
		}
		r.logger.Info("Hygiene event deleted", zap.String("uid", f.Name))
		return &CalendarChange{Op: CalendarDelete, UID: f.Name}, err
	}

	if f.Value.Kind != models.ValueString {
		return nil, &DecodeError{Field: f.Name, Err: fmt.Errorf("expected a timestamp string, got %q", f.Value.String())}
	}

	start, err := ParseHygieneTime(f.Value.String(), r.loc)
	if err != nil {
		return nil, &DecodeError{Field: f.Name, Err: err}
	}

	next, err := r.eventFor(f.Name, start)
	if err != nil {
		return nil, &DecodeError{Field: f.Name, Err: err}
	}

	existing, found := r.store.Find(f.Name)
	if found && existing.Equal(next) {
		return nil, nil
	}

	op := CalendarCreate
	if found {
		op = CalendarUpdate
	}

	err = r.store.Upsert(ctx, next)
	r.logger.Info("Hygiene event "+op+"d",
		zap.String("uid", next.UID),
		zap.String("summary", next.Summary),
		zap.Time("start", next.Start),
		zap.Time("end", next.End))

	return &CalendarChange{Op: op, UID: next.UID}, err
}

// eventFor derives the full event for a calendar field starting at start
func (r *CalendarReconciler) eventFor(field string, start time.Time) (models.CalendarEvent, error) {
	return models.NewCalendarEvent(
		field,
		HygieneSummary(field, r.prefix),
		start,
		start.Add(hygieneEventDuration),
		fmt.Sprintf("Hygiene Event: %s", field),
		hygieneLocation,
	)
}

// HygieneSummary turns "CAL_flush_a" into "Flush A"
func HygieneSummary(field, prefix string) string {
	name := strings.TrimPrefix(field, prefix)
	return models.TitleCase(strings.ReplaceAll(name, "_", " "))
}

// ParseHygieneTime accepts RFC 3339 style timestamps with or without an offset.
// Timestamps without an offset are read in loc. The result is expressed in loc.
func ParseHygieneTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.In(loc), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
