// Package ical renders events as iCalendar (RFC 5545) files.
package ical

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const ProductID = "-//ChronoSage//EN"

// Event is everything an exported VEVENT can carry
type Event struct {
	UID             string
	Summary         string
	Description     string
	Location        string
	Organizer       string
	Category        string
	Start           time.Time
	End             time.Time
	ReminderMinutes int
}

// Marshal returns the calendar file for e. stamp becomes DTSTAMP.
func Marshal(e Event, stamp time.Time) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, e, stamp); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes a VCALENDAR holding one VEVENT, plus a display alarm when
// ReminderMinutes is positive.
func Encode(w io.Writer, e Event, stamp time.Time) error {
	if strings.TrimSpace(e.Summary) == "" {
		return fmt.Errorf("ical: event summary is required")
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("ical: event must end after it starts")
	}

	cal := goical.NewCalendar()
	cal.Props.SetText(goical.PropVersion, "2.0")
	cal.Props.SetText(goical.PropProductID, ProductID)

	uid := e.UID
	if uid == "" {
		uid = uuid.NewString() + "@chronosage"
	}

	event := goical.NewEvent()
	event.Props.SetText(goical.PropUID, uid)
	event.Props.SetDateTime(goical.PropDateTimeStamp, stamp.UTC())
	event.Props.SetDateTime(goical.PropDateTimeStart, e.Start.UTC())
	event.Props.SetDateTime(goical.PropDateTimeEnd, e.End.UTC())
	event.Props.SetText(goical.PropSummary, e.Summary)

	if e.Description != "" {
		event.Props.SetText(goical.PropDescription, e.Description)
	}
	if e.Location != "" {
		event.Props.SetText(goical.PropLocation, e.Location)
	}
	if e.Organizer != "" {
		organizer := goical.NewProp(goical.PropOrganizer)
		organizer.Value = e.Organizer
		if !strings.HasPrefix(strings.ToLower(e.Organizer), "mailto:") {
			organizer.Value = "mailto:" + e.Organizer
		}
		event.Props.Set(organizer)
	}
	if e.Category != "" {
		event.Props.SetText(goical.PropCategories, e.Category)
	}

	if e.ReminderMinutes > 0 {
		alarm := goical.NewComponent(goical.CompAlarm)
		alarm.Props.SetText(goical.PropAction, "DISPLAY")
		alarm.Props.SetText(goical.PropDescription, "Reminder: "+e.Summary)
		trigger := goical.NewProp(goical.PropTrigger)
		trigger.Value = fmt.Sprintf("-PT%dM", e.ReminderMinutes)
		alarm.Props.Set(trigger)
		event.Children = append(event.Children, alarm)
	}

	cal.Children = append(cal.Children, event.Component)

	if err := goical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("ical: encode: %w", err)
	}
	return nil
}
