package services

import (
	"fmt"
	"time"

	"chairlink/models"
)

const calendarTimeLayout = "2006-01-02 15:04:05"

// CalendarEntity exposes the hygiene event store as a host platform calendar
type CalendarEntity struct {
	store  *EventStore
	device models.DeviceIdentity
	now    func() time.Time
}

func NewCalendarEntity(store *EventStore, device models.DeviceIdentity) *CalendarEntity {
	return &CalendarEntity{store: store, device: device, now: time.Now}
}

func (c *CalendarEntity) UniqueID() string {
	return fmt.Sprintf("%s_hygiene_plan", c.device.UniqueID)
}

func (c *CalendarEntity) Name() string {
	return fmt.Sprintf("Hygiene Plan: %s", c.device.Name)
}

func (c *CalendarEntity) Kind() models.EntityKind { return models.KindCalendar }

func (c *CalendarEntity) Device() models.DeviceIdentity { return c.device }

// Event returns the event in progress, else the next upcoming one
func (c *CalendarEntity) Event() (models.CalendarEvent, bool) {
	return c.store.Current(c.now())
}

// State is "on" while an event is in progress
func (c *CalendarEntity) State() string {
	now := c.now()
	ev, ok := c.store.Current(now)
	if ok && !ev.Start.After(now) && ev.End.After(now) {
		return "on"
	}
	return "off"
}

func (c *CalendarEntity) Attributes() map[string]any {
	ev, ok := c.Event()
	if !ok {
		return map[string]any{}
	}
	return map[string]any{
		"message":     ev.Summary,
		"all_day":     false,
		"start_time":  ev.Start.Format(calendarTimeLayout),
		"end_time":    ev.End.Format(calendarTimeLayout),
		"location":    ev.Location,
		"description": ev.Description,
	}
}

// Events returns the events overlapping [from, to) by start ascending
func (c *CalendarEntity) Events(from, to time.Time) []models.CalendarEvent {
	return c.store.Query(from, to)
}
