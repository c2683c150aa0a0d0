// Package scheduler finds free meeting slots inside working hours.
package scheduler

import (
	"fmt"
	"time"
)

// DefaultConfidence is the score given to every slot by the default scorer.
const DefaultConfidence = 0.9

// DefaultMaxSuggestions caps the aggregated suggestions across a date range.
const DefaultMaxSuggestions = 5

// BusyInterval is a half-open [Start, End) range during which someone is committed.
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WorkDayWindow is the part of a single day eligible for scheduling.
type WorkDayWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FreeSlot is a suggested meeting slot.
type FreeSlot struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Confidence float64   `json:"confidence"`
}

// WorkingHours holds the daily scheduling bounds as whole hours.
type WorkingHours struct {
	StartHour int `json:"start_hour" mapstructure:"start_hour" yaml:"start_hour"`
	EndHour   int `json:"end_hour" mapstructure:"end_hour" yaml:"end_hour"`
}

// DefaultWorkingHours returns 9am to 5pm.
func DefaultWorkingHours() WorkingHours {
	return WorkingHours{StartHour: 9, EndHour: 17}
}

// Validate checks 0 <= start < end <= 23.
func (h WorkingHours) Validate() error {
	if h.StartHour < 0 || h.StartHour > 23 {
		return fmt.Errorf("working hours: start hour %d out of range 0-23", h.StartHour)
	}
	if h.EndHour < 0 || h.EndHour > 23 {
		return fmt.Errorf("working hours: end hour %d out of range 0-23", h.EndHour)
	}
	if h.StartHour >= h.EndHour {
		return fmt.Errorf("working hours: start hour %d must be before end hour %d", h.StartHour, h.EndHour)
	}
	return nil
}

// Window returns the working-hour window for the calendar date of day,
// evaluated in loc.
func (h WorkingHours) Window(day time.Time, loc *time.Location) WorkDayWindow {
	y, m, d := day.In(loc).Date()
	return WorkDayWindow{
		Start: time.Date(y, m, d, h.StartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, h.EndHour, 0, 0, 0, loc),
	}
}

// Valid reports whether the window is non-empty.
func (w WorkDayWindow) Valid() bool {
	return w.Start.Before(w.End)
}

// Length returns the window length, or zero when it is empty or inverted.
func (w WorkDayWindow) Length() time.Duration {
	if !w.Valid() {
		return 0
	}
	return w.End.Sub(w.Start)
}

// Duration returns the slot length.
func (s FreeSlot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// Overlaps reports whether the slot intersects the busy interval.
func (s FreeSlot) Overlaps(b BusyInterval) bool {
	return s.Start.Before(b.End) && b.Start.Before(s.End)
}
