package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chairlink/config"
	"chairlink/models"

	"go.uber.org/zap"
)

// MessageHandler consumes one device frame at a time
type MessageHandler interface {
	HandleMessage(ctx context.Context, raw []byte)
}

// ConnectivityListener is told about every connect and disconnect
type ConnectivityListener interface {
	SetConnected(ctx context.Context, connected bool)
}

// DeviceFromConfig builds the immutable device identity
func DeviceFromConfig(cfg *config.Config) models.DeviceIdentity {
	return models.DeviceIdentity{
		Name:         cfg.DeviceName,
		Manufacturer: cfg.DeviceManufacturer,
		Model:        cfg.DeviceModel,
		Version:      cfg.DeviceVersion,
		UniqueID:     cfg.DeviceUniqueID,
	}
}

// maxCalendarWait bounds how long Run sleeps when no hygiene event is scheduled
const maxCalendarWait = time.Hour

// sinkTarget tracks registration separately for every attached sink
type sinkTarget struct {
	sink  EntitySink
	queue *EntityQueue
	// last calendar state this sink saw
	calState string
}

// Engine is the per-device context: it decodes frames, runs both reconcilers
// and forwards entity changes to the sinks. Calls are serialized. Sink calls
// made from the read path are single attempts; Run retries with backoff.
type Engine struct {
	device       models.DeviceIdentity
	codec        *Codec
	calendar     *CalendarReconciler
	measurements *MeasurementReconciler
	store        *EventStore
	calEntity    *CalendarEntity
	logger       *zap.Logger
	metrics      *Metrics

	maxRetries   int
	retryBackoff time.Duration
	wake         chan struct{}

	mu           sync.Mutex
	targets      []*sinkTarget
	known        []models.Entity
	connectivity *models.ConnectivityEntity
}

// NewEngine creates a new engine around store
func NewEngine(cfg *config.Config, store *EventStore, logger *zap.Logger, metrics *Metrics) (*Engine, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	device := DeviceFromConfig(cfg)
	return &Engine{
		device:       device,
		codec:        NewCodec(cfg.CalendarPrefix),
		calendar:     NewCalendarReconciler(store, cfg.CalendarPrefix, loc, logger, metrics),
		measurements: NewMeasurementReconciler(device, logger),
		store:        store,
		calEntity:    NewCalendarEntity(store, device),
		logger:       logger,
		metrics:      metrics,
		maxRetries:   3,
		retryBackoff: time.Second,
		wake:         make(chan struct{}, 1),
	}, nil
}

// Start loads persisted events and queues the calendar entity. A failed load
// leaves the calendar empty and is not returned.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Load(ctx); err != nil {
		e.logger.Error("Failed to load hygiene calendar, starting empty", zap.Error(err))
	} else {
		e.logger.Info("Hygiene calendar loaded", zap.Int("events", e.store.Len()))
	}

	e.track(ctx, e.calEntity)
}

// AttachSink adds downstream sinks. Each one is offered every entity known so far.
func (e *Engine) AttachSink(ctx context.Context, sinks ...EntitySink) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sink := range sinks {
		t := &sinkTarget{
			sink:  sink,
			queue: NewEntityQueue(e.logger.With(zap.String("sink", fmt.Sprintf("%T", sink))), e.metrics),
		}
		t.queue.Enqueue(e.known...)
		e.targets = append(e.targets, t)
	}
	if e.drainAll(ctx) {
		e.signal()
	}
}

// HandleMessage decodes one frame and reconciles its fields. Bad frames are dropped.
func (e *Engine) HandleMessage(ctx context.Context, raw []byte) {
	snap, err := e.codec.Decode(raw)
	if err != nil {
		e.metrics.incDecodeErrors()
		var derr *DecodeError
		if errors.As(err, &derr) {
			e.logger.Warn("Dropping undecodable message",
				zap.String("payload", derr.Payload),
				zap.Error(derr.Err))
		}
		return
	}
	if len(snap.Skipped) > 0 {
		e.logger.Debug("Ignoring non-scalar fields", zap.Strings("fields", snap.Skipped))
	}

	calFields, measFields := e.codec.Classify(snap)

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(calFields) > 0 {
		changes, _ := e.calendar.Reconcile(ctx, calFields)
		if len(changes) > 0 {
			e.notify(ctx, e.calEntity)
			// the next event boundary may have moved
			e.signal()
		}
	}

	created, updated := e.measurements.Reconcile(measFields)
	if len(created) > 0 {
		batch := make([]models.Entity, 0, len(created))
		for _, ent := range created {
			batch = append(batch, ent)
		}
		e.track(ctx, batch...)
	}
	for _, ent := range updated {
		e.notify(ctx, ent)
	}
}

// SetConnected creates the connectivity entity on the first connect and flips
// its state afterwards.
func (e *Engine) SetConnected(ctx context.Context, connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connectivity == nil {
		if !connected {
			return
		}
		e.connectivity = models.NewConnectivityEntity(e.device)
		e.connectivity.Connected = true
		e.track(ctx, e.connectivity)
		return
	}

	if e.connectivity.Connected == connected {
		return
	}
	e.connectivity.Connected = connected
	e.notify(ctx, e.connectivity)
}

// Run retries pending registrations and publishes calendar state changes as
// events start and end, until ctx is done.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	calTimer := time.NewTimer(e.untilCalendarChange())
	defer calTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.retryPending(ctx)
		case <-e.wake:
			e.retryPending(ctx)
		case <-calTimer.C:
		}

		e.refreshCalendar(ctx)
		calTimer.Reset(e.untilCalendarChange())
	}
}

// retryPending drains with backoff. e.mu is held for each attempt only, never
// across the sleeps, so the read path keeps flowing while a sink is down.
func (e *Engine) retryPending(ctx context.Context) {
	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		e.mu.Lock()
		pending := e.drainAll(ctx)
		e.mu.Unlock()

		if !pending || attempt == e.maxRetries {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * e.retryBackoff):
		}
	}
}

// refreshCalendar republishes the calendar entity to every sink whose last
// seen state differs from the current one.
func (e *Engine) refreshCalendar(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.calEntity.State()
	for _, t := range e.targets {
		if t.calState != state && t.queue.IsRegistered(e.calEntity.UniqueID()) {
			e.notifyTarget(ctx, t, e.calEntity)
		}
	}
}

// untilCalendarChange is the time left until the current event ends or the next one starts
func (e *Engine) untilCalendarChange() time.Duration {
	now := e.calEntity.now()
	ev, ok := e.store.Current(now)
	if !ok {
		return maxCalendarWait
	}

	next := ev.Start
	if !ev.Start.After(now) {
		next = ev.End
	}
	d := next.Sub(now)
	if d <= 0 {
		return time.Millisecond
	}
	if d > maxCalendarWait {
		return maxCalendarWait
	}
	return d
}

// signal wakes Run without blocking
func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// track must be called with e.mu held. It records new entities and offers
// them to every sink once; failures are left to Run.
func (e *Engine) track(ctx context.Context, entities ...models.Entity) {
	e.known = append(e.known, entities...)
	for _, t := range e.targets {
		t.queue.Enqueue(entities...)
	}
	if e.drainAll(ctx) {
		e.signal()
	}
}

// drainAll must be called with e.mu held. It makes one registration attempt
// per sink and reports whether anything is still pending.
func (e *Engine) drainAll(ctx context.Context) bool {
	pending := false
	for _, t := range e.targets {
		if err := t.queue.Drain(ctx, t.sink); err != nil {
			pending = true
			e.logger.Warn("Entity registration deferred",
				zap.String("sink", fmt.Sprintf("%T", t.sink)),
				zap.Int("pending", t.queue.Pending()),
				zap.Error(err))
			continue
		}
		// registration carries the calendar state of that moment
		if t.calState == "" && t.queue.IsRegistered(e.calEntity.UniqueID()) {
			t.calState = e.calEntity.State()
		}
	}
	return pending
}

// notify must be called with e.mu held. Sinks that have not accepted the
// entity yet are skipped; their registration carries the current state.
func (e *Engine) notify(ctx context.Context, ent models.Entity) {
	for _, t := range e.targets {
		if t.queue.IsRegistered(ent.UniqueID()) {
			e.notifyTarget(ctx, t, ent)
		}
	}
}

func (e *Engine) notifyTarget(ctx context.Context, t *sinkTarget, ent models.Entity) {
	state := ent.State()
	if err := t.sink.NotifyStateChanged(ctx, ent); err != nil {
		e.logger.Warn("Failed to publish entity state",
			zap.String("sink", fmt.Sprintf("%T", t.sink)),
			zap.String("unique_id", ent.UniqueID()),
			zap.Error(err))
		return
	}
	if ent.UniqueID() == e.calEntity.UniqueID() {
		t.calState = state
	}
}

// Calendar returns the calendar entity
func (e *Engine) Calendar() *CalendarEntity {
	return e.calEntity
}

// Connectivity reports whether the connectivity entity exists and its state
func (e *Engine) Connectivity() (exists, connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connectivity == nil {
		return false, false
	}
	return true, e.connectivity.Connected
}

// Measurement returns a copy of the live measurement for field
func (e *Engine) Measurement(field string) (models.MeasurementEntity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.measurements.Get(field)
	if !ok {
		return models.MeasurementEntity{}, false
	}
	return *ent, true
}

// MeasurementCount returns the size of the live measurement set
func (e *Engine) MeasurementCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.measurements.Entities())
}

// Pending returns the number of registrations still waiting, summed over sinks
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, t := range e.targets {
		n += t.queue.Pending()
	}
	return n
}
