package services

import (
	"context"
	"testing"
	"time"

	"chairlink/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var est = time.FixedZone("EST", -5*60*60)

func newTestReconciler(t *testing.T, loc *time.Location) (*CalendarReconciler, *EventStore, *memBacking, *Metrics) {
	t.Helper()
	backing := newMemBacking()
	metrics := NewMetrics(prometheus.NewRegistry())
	store := NewEventStore("test_calendar", backing, zap.NewNop(), metrics)
	return NewCalendarReconciler(store, "CAL_", loc, zap.NewNop(), metrics), store, backing, metrics
}

func calField(name, value string) models.Field {
	return models.Field{Name: name, Value: models.StringValue(value)}
}

func TestCalendarReconcileCreatesEvent(t *testing.T) {
	r, store, backing, metrics := newTestReconciler(t, est)

	changes, errs := r.Reconcile(context.Background(), []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	require.Empty(t, errs)
	assert.Equal(t, []CalendarChange{{Op: CalendarCreate, UID: "CAL_flush_a"}}, changes)

	ev, ok := store.Find("CAL_flush_a")
	require.True(t, ok)
	assert.Equal(t, "CAL_flush_a", ev.UID)
	assert.Equal(t, "Flush A", ev.Summary)
	assert.Equal(t, "2024-01-01T09:00:00-05:00", ev.Start.Format(time.RFC3339))
	assert.Equal(t, "2024-01-01T09:03:00-05:00", ev.End.Format(time.RFC3339))
	assert.Equal(t, "Hygiene Event: CAL_flush_a", ev.Description)
	assert.Equal(t, "Dental Chair Room", ev.Location)

	assert.Equal(t, 1, backing.saveCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calendarOps.WithLabelValues(CalendarCreate)))
}

func TestCalendarReconcileEmptyValueDeletes(t *testing.T) {
	r, store, backing, _ := newTestReconciler(t, est)
	ctx := context.Background()

	r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	require.Equal(t, 1, store.Len())

	changes, errs := r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "")})
	require.Empty(t, errs)
	assert.Equal(t, []CalendarChange{{Op: CalendarDelete, UID: "CAL_flush_a"}}, changes)

	_, ok := store.Find("CAL_flush_a")
	assert.False(t, ok)
	assert.Equal(t, 2, backing.saveCount())
}

func TestCalendarReconcileNullValueDeletes(t *testing.T) {
	r, store, _, _ := newTestReconciler(t, est)
	ctx := context.Background()

	r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	r.Reconcile(ctx, []models.Field{{Name: "CAL_flush_a", Value: models.NullValue()}})

	assert.Equal(t, 0, store.Len())
}

func TestCalendarReconcileEmptyWithoutEventIsNoop(t *testing.T) {
	r, store, backing, _ := newTestReconciler(t, est)

	changes, errs := r.Reconcile(context.Background(), []models.Field{calField("CAL_flush_a", "")})

	assert.Empty(t, changes)
	assert.Empty(t, errs)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, backing.saveCount())
}

func TestCalendarReconcileUnchangedValueDoesNotPersist(t *testing.T) {
	r, _, backing, _ := newTestReconciler(t, est)
	ctx := context.Background()
	field := calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")

	r.Reconcile(ctx, []models.Field{field})
	changes, _ := r.Reconcile(ctx, []models.Field{field})

	assert.Empty(t, changes)
	assert.Equal(t, 1, backing.saveCount())
}

func TestCalendarReconcileSameInstantDifferentOffsetIsNoop(t *testing.T) {
	r, _, backing, _ := newTestReconciler(t, est)
	ctx := context.Background()

	r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	changes, _ := r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T14:00:00Z")})

	assert.Empty(t, changes)
	assert.Equal(t, 1, backing.saveCount())
}

func TestCalendarReconcileChangedStartUpdates(t *testing.T) {
	r, store, _, _ := newTestReconciler(t, est)
	ctx := context.Background()

	r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	changes, errs := r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T11:30:00-05:00")})
	require.Empty(t, errs)
	assert.Equal(t, []CalendarChange{{Op: CalendarUpdate, UID: "CAL_flush_a"}}, changes)

	require.Equal(t, 1, store.Len())
	ev, _ := store.Find("CAL_flush_a")
	assert.Equal(t, "2024-01-01T11:30:00-05:00", ev.Start.Format(time.RFC3339))
	assert.Equal(t, "2024-01-01T11:33:00-05:00", ev.End.Format(time.RFC3339))
}

func TestCalendarReconcileBadFieldDoesNotStopOthers(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	backing := newMemBacking()
	metrics := NewMetrics(prometheus.NewRegistry())
	store := NewEventStore("test_calendar", backing, zap.NewNop(), metrics)
	r := NewCalendarReconciler(store, "CAL_", est, zap.New(core), metrics)

	changes, errs := r.Reconcile(context.Background(), []models.Field{
		calField("CAL_flush_a", "not a time"),
		{Name: "CAL_rinse", Value: models.NumberValue("42")},
		calField("CAL_flush_b", "2024-01-01T10:00:00-05:00"),
	})

	require.Len(t, errs, 2)
	var derr *DecodeError
	require.ErrorAs(t, errs[0], &derr)
	assert.Equal(t, "CAL_flush_a", derr.Field)

	assert.Equal(t, []CalendarChange{{Op: CalendarCreate, UID: "CAL_flush_b"}}, changes)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.decodeErrors))
	assert.Equal(t, 2, logs.FilterMessage("Skipping calendar field").Len())
}

func TestCalendarReconcileUnparseableKeepsPreviousEvent(t *testing.T) {
	r, store, _, _ := newTestReconciler(t, est)
	ctx := context.Background()

	r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})
	_, errs := r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", "garbage")})

	require.Len(t, errs, 1)
	ev, ok := store.Find("CAL_flush_a")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T09:00:00-05:00", ev.Start.Format(time.RFC3339))
}

func TestCalendarReconcilePersistenceFailureKeepsMemory(t *testing.T) {
	r, store, backing, metrics := newTestReconciler(t, est)
	backing.setFailSave(true)

	changes, errs := r.Reconcile(context.Background(), []models.Field{calField("CAL_flush_a", "2024-01-01T09:00:00-05:00")})

	require.Len(t, errs, 1)
	var perr *PersistenceError
	require.ErrorAs(t, errs[0], &perr)
	assert.Len(t, changes, 1)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.persistenceErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.decodeErrors))

	// the next successful save carries the full list
	backing.setFailSave(false)
	r.Reconcile(context.Background(), []models.Field{calField("CAL_flush_b", "2024-01-01T10:00:00-05:00")})

	records, err := backing.Load(context.Background(), "test_calendar")
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestCalendarPresenceLaw(t *testing.T) {
	r, store, _, _ := newTestReconciler(t, time.UTC)
	ctx := context.Background()

	sequence := []string{"2024-03-01T08:00:00Z", "", "", "bad", "2024-03-01T09:00:00Z", "2024-03-01T09:00:00Z", "bad", ""}
	present := false
	for i, value := range sequence {
		r.Reconcile(ctx, []models.Field{calField("CAL_flush_a", value)})

		switch {
		case value == "":
			present = false
		case value != "bad":
			present = true
		}
		_, ok := store.Find("CAL_flush_a")
		assert.Equal(t, present, ok, "step %d value %q", i, value)
	}
}

func TestHygieneSummary(t *testing.T) {
	tests := map[string]string{
		"CAL_flush_a":        "Flush A",
		"CAL_disinfection":   "Disinfection",
		"CAL_suction_CLEAN":  "Suction Clean",
		"CAL_water_line_2nd": "Water Line 2Nd",
	}
	for field, want := range tests {
		assert.Equal(t, want, HygieneSummary(field, "CAL_"), field)
	}
}

func TestParseHygieneTime(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	tests := []struct {
		value string
		want  string
	}{
		{"2024-01-01T09:00:00-05:00", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01 09:00:00-05:00", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01T14:00:00Z", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01T14:00:00.500Z", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01T09:00:00-0500", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01 09:00:00-0500", "2024-01-01T15:00:00+01:00"},
		{"2024-01-01T09:00:00.250+0530", "2024-01-01T04:30:00+01:00"},
		{"2024-01-01T09:00:00+05", "2024-01-01T05:00:00+01:00"},
		{"2024-01-01 09:00:00-05", "2024-01-01T15:00:00+01:00"},
		{"2024-07-01T09:00:00", "2024-07-01T09:00:00+02:00"},
		{"2024-07-01 09:00", "2024-07-01T09:00:00+02:00"},
		{" 2024-07-01T09:00 ", "2024-07-01T09:00:00+02:00"},
	}
	for _, tt := range tests {
		got, err := ParseHygieneTime(tt.value, berlin)
		require.NoError(t, err, tt.value)
		assert.Equal(t, tt.want, got.Format(time.RFC3339), tt.value)
	}

	for _, bad := range []string{"", "tomorrow", "2024-13-01T09:00:00Z", "09:00"} {
		_, err := ParseHygieneTime(bad, berlin)
		assert.Error(t, err, bad)
	}
}
