package models

import (
	"fmt"
	"time"
)

// CalendarEvent is one hygiene occurrence. Build it with NewCalendarEvent.
type CalendarEvent struct {
	UID         string
	Summary     string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
}

// NewCalendarEvent validates and returns a fully initialized event
func NewCalendarEvent(uid, summary string, start, end time.Time, description, location string) (CalendarEvent, error) {
	if uid == "" {
		return CalendarEvent{}, fmt.Errorf("calendar event uid is empty")
	}
	if start.IsZero() || end.IsZero() {
		return CalendarEvent{}, fmt.Errorf("calendar event %s has no start or end", uid)
	}
	if end.Before(start) {
		return CalendarEvent{}, fmt.Errorf("calendar event %s ends before it starts", uid)
	}
	return CalendarEvent{
		UID:         uid,
		Summary:     summary,
		Start:       start,
		End:         end,
		Description: description,
		Location:    location,
	}, nil
}

// Equal compares every attribute, treating times as instants
func (e CalendarEvent) Equal(o CalendarEvent) bool {
	return e.UID == o.UID &&
		e.Summary == o.Summary &&
		e.Start.Equal(o.Start) &&
		e.End.Equal(o.End) &&
		e.Description == o.Description &&
		e.Location == o.Location
}

// Overlaps reports whether [Start, End) intersects [from, to)
func (e CalendarEvent) Overlaps(from, to time.Time) bool {
	return e.End.After(from) && e.Start.Before(to)
}

// EventRecord is the persisted form of a CalendarEvent
type EventRecord struct {
	Summary     string `json:"summary"`
	Start       string `json:"start"`
	End         string `json:"end"`
	Description string `json:"description"`
	Location    string `json:"location"`
	UID         string `json:"uid"`
}

func (e CalendarEvent) Record() EventRecord {
	return EventRecord{
		Summary:     e.Summary,
		Start:       e.Start.Format(time.RFC3339Nano),
		End:         e.End.Format(time.RFC3339Nano),
		Description: e.Description,
		Location:    e.Location,
		UID:         e.UID,
	}
}

// Event parses a record back into a validated CalendarEvent
func (r EventRecord) Event() (CalendarEvent, error) {
	start, err := time.Parse(time.RFC3339Nano, r.Start)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("record %s start: %w", r.UID, err)
	}
	end, err := time.Parse(time.RFC3339Nano, r.End)
	if err != nil {
		return CalendarEvent{}, fmt.Errorf("record %s end: %w", r.UID, err)
	}
	return NewCalendarEvent(r.UID, r.Summary, start, end, r.Description, r.Location)
}
