package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/interpreter"
	"github.com/gmsas95/chronosage/internal/store"
)

// Chooser picks the event to edit among the matches of a request. It is
// called even for a single match so that it can refuse it.
type Chooser func(ctx context.Context, matches []calendar.Event) (calendar.Event, error)

// AmbiguousError is returned when several events match and no chooser can
// decide between them.
type AmbiguousError struct {
	Matches []calendar.Event
}

func (e *AmbiguousError) Error() string {
	titles := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		titles = append(titles, m.Summary)
	}
	return fmt.Sprintf("%d events match: %s", len(e.Matches), strings.Join(titles, ", "))
}

// ChooseByID selects the match with the given ID. An empty id accepts a
// single match and defers several back to the caller with an
// *AmbiguousError.
func ChooseByID(id string) Chooser {
	return func(_ context.Context, matches []calendar.Event) (calendar.Event, error) {
		if id == "" {
			if len(matches) == 1 {
				return matches[0], nil
			}
			return calendar.Event{}, &AmbiguousError{Matches: matches}
		}
		for _, m := range matches {
			if m.ID == id {
				return m, nil
			}
		}
		return calendar.Event{}, errors.WrapAs(errors.ErrEventNotFound, fmt.Errorf("event %s is not among the matches", id))
	}
}

// EditResult describes a completed edit
type EditResult struct {
	Action  string                   `json:"action"`
	Event   calendar.Event           `json:"event"`
	Details *interpreter.EditDetails `json:"details"`
}

// Cancelled reports whether the event was deleted
func (r *EditResult) Cancelled() bool {
	return r.Action == interpreter.ActionCancel
}

// Edit interprets an edit request, finds the event it refers to and applies
// the change. A nil chooser takes a single match as is and turns several
// into an *AmbiguousError.
func (m *Manager) Edit(ctx context.Context, input string, choose Chooser) (*EditResult, error) {
	d, err := m.interp.ParseEdit(ctx, input)
	if err != nil {
		m.logger.Warn("could not interpret edit request", zap.String("input", input), zap.Error(err))
		return nil, err
	}

	matches, err := m.cal.FindMatching(ctx, d.SearchTerms, MaxMatches)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, errors.WrapAs(errors.ErrEventNotFound, fmt.Errorf("nothing matches %q", d.SearchTerms))
	}

	target := matches[0]
	switch {
	case choose != nil:
		if target, err = choose(ctx, matches); err != nil {
			return nil, err
		}
	case len(matches) > 1:
		return nil, &AmbiguousError{Matches: matches}
	}

	if d.Action == interpreter.ActionCancel {
		if err := m.cal.DeleteEvent(ctx, target.ID); err != nil {
			m.logger.Error("failed to cancel event", zap.String("id", target.ID), zap.Error(err))
			return nil, err
		}
		m.record(ctx, store.ActionCancel, &target, input)
		return &EditResult{Action: d.Action, Event: target, Details: d}, nil
	}

	update := calendar.EventUpdate{Summary: d.NewTitle}
	if d.ChangesTime() {
		start, end, err := m.moved(target, d)
		if err != nil {
			return nil, err
		}
		update.Start, update.End = &start, &end
	}

	updated, err := m.cal.UpdateEvent(ctx, target.ID, update)
	if err != nil {
		m.logger.Error("failed to update event", zap.String("id", target.ID), zap.Error(err))
		return nil, err
	}
	m.record(ctx, store.ActionUpdate, updated, input)
	return &EditResult{Action: d.Action, Event: *updated, Details: d}, nil
}

// moved computes the new span. Unset parts keep the event's current local
// date, clock time and length.
func (m *Manager) moved(ev calendar.Event, d *interpreter.EditDetails) (time.Time, time.Time, error) {
	local := ev.Start.In(m.loc)
	y, mo, day := local.Date()
	h, min := local.Hour(), local.Minute()

	if d.NewDate != nil {
		t, err := time.Parse(interpreter.DateLayout, *d.NewDate)
		if err != nil {
			return time.Time{}, time.Time{}, errors.WrapAs(errors.ErrInvalidDateTime, err)
		}
		y, mo, day = t.Date()
	}
	if d.NewTime != nil {
		t, err := time.Parse(interpreter.TimeLayout, *d.NewTime)
		if err != nil {
			return time.Time{}, time.Time{}, errors.WrapAs(errors.ErrInvalidDateTime, err)
		}
		h, min = t.Hour(), t.Minute()
	}

	length := ev.Duration()
	if d.NewDuration != nil {
		length = time.Duration(*d.NewDuration) * time.Minute
	}

	start := time.Date(y, mo, day, h, min, 0, 0, m.loc)
	return start, start.Add(length), nil
}
