package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chairlink/config"
	"chairlink/models"
)

var errBackingDown = errors.New("backing down")

func testConfig() *config.Config {
	return &config.Config{
		ChairHost:          "127.0.0.1",
		ChairPort:          8765,
		ChairPath:          "/",
		RetryDelay:         20 * time.Millisecond,
		HandshakeTimeout:   time.Second,
		DeviceName:         "Test Chair",
		DeviceManufacturer: "KaVo",
		DeviceModel:        "SmartChair-X",
		DeviceVersion:      "1.0",
		DeviceUniqueID:     "test_chair",
		DeviceTimezone:     "UTC",
		CalendarPrefix:     "CAL_",
		OfflineAlertAfter:  time.Minute,
	}
}

func testDevice() models.DeviceIdentity {
	return DeviceFromConfig(testConfig())
}

// memBacking is an in-memory EventBacking that can be told to fail
type memBacking struct {
	mu       sync.Mutex
	docs     map[string][]byte
	failLoad bool
	failSave bool
	saves    int
}

func newMemBacking() *memBacking {
	return &memBacking{docs: make(map[string][]byte)}
}

func (m *memBacking) Load(_ context.Context, key string) ([]models.EventRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad {
		return nil, errBackingDown
	}
	return decodeDocument(m.docs[key])
}

func (m *memBacking) Save(_ context.Context, key string, records []models.EventRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errBackingDown
	}
	b, err := encodeDocument(key, records)
	if err != nil {
		return err
	}
	m.docs[key] = b
	m.saves++
	return nil
}

func (m *memBacking) setFailSave(fail bool) {
	m.mu.Lock()
	m.failSave = fail
	m.mu.Unlock()
}

func (m *memBacking) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// recordingSink captures registrations and notifications
type recordingSink struct {
	mu            sync.Mutex
	registered    [][]string
	notifications []string
	states        map[string]string
	failRegister  int
	attempts      int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{states: make(map[string]string)}
}

func (s *recordingSink) RegisterEntities(_ context.Context, entities []models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failRegister > 0 {
		s.failRegister--
		return errors.New("sink unavailable")
	}
	batch := make([]string, 0, len(entities))
	for _, ent := range entities {
		batch = append(batch, ent.UniqueID())
		s.states[ent.UniqueID()] = ent.State()
	}
	s.registered = append(s.registered, batch)
	return nil
}

func (s *recordingSink) NotifyStateChanged(_ context.Context, ent models.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, ent.UniqueID())
	s.states[ent.UniqueID()] = ent.State()
	return nil
}

func (s *recordingSink) setFailRegister(n int) {
	s.mu.Lock()
	s.failRegister = n
	s.mu.Unlock()
}

func (s *recordingSink) registerAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *recordingSink) batches() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]string, len(s.registered))
	copy(out, s.registered)
	return out
}

func (s *recordingSink) allRegistered() []string {
	var out []string
	for _, b := range s.batches() {
		out = append(out, b...)
	}
	return out
}

func (s *recordingSink) notified() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notifications))
	copy(out, s.notifications)
	return out
}

func (s *recordingSink) state(uid string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[uid]
}

// testClock is a manually advanced clock safe for concurrent reads
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(now time.Time) *testClock {
	return &testClock{now: now}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}
