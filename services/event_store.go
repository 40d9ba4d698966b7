package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"chairlink/models"

	"go.uber.org/zap"
)

// EventStore is the in-memory hygiene calendar mirrored to an EventBacking on
// every mutation. Memory stays authoritative when a save fails; the next
// successful save writes the full list again.
type EventStore struct {
	key     string
	backing EventBacking
	logger  *zap.Logger
	metrics *Metrics

	mu     sync.RWMutex
	events []models.CalendarEvent

	// serializes saves so a stale list never overwrites a newer one
	saveMu sync.Mutex
}

// NewEventStore creates a store for key. A nil backing keeps events in memory only.
func NewEventStore(key string, backing EventBacking, logger *zap.Logger, metrics *Metrics) *EventStore {
	return &EventStore{
		key:     key,
		backing: backing,
		logger:  logger,
		metrics: metrics,
	}
}

// Load replaces the in-memory set with what the backing holds. On failure the
// store starts empty and the PersistenceError is returned for logging only.
func (s *EventStore) Load(ctx context.Context) error {
	if s.backing == nil {
		return nil
	}

	records, err := s.backing.Load(ctx, s.key)
	if err != nil {
		s.metrics.incPersistenceErrors()
		s.mu.Lock()
		s.events = nil
		s.mu.Unlock()
		return &PersistenceError{Op: "load", Key: s.key, Err: err}
	}

	events := make([]models.CalendarEvent, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		ev, err := rec.Event()
		if err != nil {
			s.logger.Warn("Skipping invalid persisted calendar event",
				zap.String("key", s.key),
				zap.String("uid", rec.UID),
				zap.Error(err))
			continue
		}
		if seen[ev.UID] {
			s.logger.Warn("Skipping duplicate persisted calendar event",
				zap.String("key", s.key),
				zap.String("uid", ev.UID))
			continue
		}
		seen[ev.UID] = true
		events = append(events, ev)
	}

	s.mu.Lock()
	s.events = events
	s.mu.Unlock()

	s.logger.Debug("Loaded persisted calendar events",
		zap.String("key", s.key),
		zap.Int("count", len(events)))
	return nil
}

// Upsert inserts ev or replaces the event with the same uid, then persists
func (s *EventStore) Upsert(ctx context.Context, ev models.CalendarEvent) error {
	s.mu.Lock()
	replaced := false
	for i := range s.events {
		if s.events[i].UID == ev.UID {
			s.events[i] = ev
			replaced = true
			break
		}
	}
	if !replaced {
		s.events = append(s.events, ev)
	}
	s.mu.Unlock()

	return s.persist(ctx, "upsert")
}

// Delete removes the event with uid. It reports whether an event was removed and
// only persists when one was.
func (s *EventStore) Delete(ctx context.Context, uid string) (bool, error) {
	s.mu.Lock()
	removed := false
	kept := s.events[:0]
	for _, ev := range s.events {
		if ev.UID == uid {
			removed = true
			continue
		}
		kept = append(kept, ev)
	}
	s.events = kept
	s.mu.Unlock()

	if !removed {
		return false, nil
	}
	return true, s.persist(ctx, "delete")
}

func (s *EventStore) Find(uid string) (models.CalendarEvent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events {
		if ev.UID == uid {
			return ev, true
		}
	}
	return models.CalendarEvent{}, false
}

// Query returns events whose [start, end) intersects [from, to), by start ascending
func (s *EventStore) Query(from, to time.Time) []models.CalendarEvent {
	s.mu.RLock()
	var out []models.CalendarEvent
	for _, ev := range s.events {
		if ev.Overlaps(from, to) {
			out = append(out, ev)
		}
	}
	s.mu.RUnlock()

	sortByStart(out)
	return out
}

// Current returns the event in progress at now, else the next one to start.
// The earliest start wins when several qualify.
func (s *EventStore) Current(now time.Time) (models.CalendarEvent, bool) {
	s.mu.RLock()
	var pending []models.CalendarEvent
	for _, ev := range s.events {
		if ev.End.After(now) {
			pending = append(pending, ev)
		}
	}
	s.mu.RUnlock()

	if len(pending) == 0 {
		return models.CalendarEvent{}, false
	}
	sortByStart(pending)
	return pending[0], true
}

// Events returns a copy of all events by start ascending
func (s *EventStore) Events() []models.CalendarEvent {
	s.mu.RLock()
	out := make([]models.CalendarEvent, len(s.events))
	copy(out, s.events)
	s.mu.RUnlock()

	sortByStart(out)
	return out
}

func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *EventStore) records() []models.EventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]models.EventRecord, 0, len(s.events))
	for _, ev := range s.events {
		records = append(records, ev.Record())
	}
	return records
}

func (s *EventStore) persist(ctx context.Context, op string) error {
	if s.backing == nil {
		return nil
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// snapshot taken under saveMu so the last writer always saves the latest list
	records := s.records()
	if err := s.backing.Save(ctx, s.key, records); err != nil {
		s.metrics.incPersistenceErrors()
		return &PersistenceError{Op: op, Key: s.key, Err: err}
	}
	return nil
}

func sortByStart(events []models.CalendarEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Start.Equal(events[j].Start) {
			return events[i].UID < events[j].UID
		}
		return events[i].Start.Before(events[j].Start)
	})
}
