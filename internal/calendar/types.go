// Package calendar wraps the Google Calendar API for event management and
// free/busy lookups.
package calendar

import (
	"sort"
	"time"

	"github.com/gmsas95/chronosage/internal/scheduler"
)

// Event is a calendar event as the assistant sees it
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day,omitempty"`
	HTMLLink    string    `json:"html_link,omitempty"`
}

// Duration returns the event length
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EventInput describes an event to create
type EventInput struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// EventUpdate holds the fields to change. Nil fields keep their value.
type EventUpdate struct {
	Summary *string
	Start   *time.Time
	End     *time.Time
}

// AttendeeBusy is one attendee's free/busy answer. Errors carries the
// per-calendar reasons Google reported (e.g. "notFound"); Busy is still
// whatever the API returned alongside them.
type AttendeeBusy struct {
	Busy   []scheduler.BusyInterval `json:"busy"`
	Errors []string                 `json:"errors,omitempty"`
}

// Flatten merges every attendee's busy intervals into one list. Attendees
// are visited in name order so the result is deterministic.
func Flatten(byAttendee map[string]AttendeeBusy) []scheduler.BusyInterval {
	names := make([]string, 0, len(byAttendee))
	total := 0
	for name, ab := range byAttendee {
		names = append(names, name)
		total += len(ab.Busy)
	}
	sort.Strings(names)

	out := make([]scheduler.BusyInterval, 0, total)
	for _, name := range names {
		out = append(out, byAttendee[name].Busy...)
	}
	return out
}
