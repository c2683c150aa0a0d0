package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/scheduler"
	"github.com/gmsas95/chronosage/internal/store"
)

// SuggestRequest asks for meeting slots shared by a set of attendees
type SuggestRequest struct {
	Attendees []string
	// StartDate and EndDate are calendar days, both inclusive.
	StartDate time.Time
	EndDate   time.Time
	// Duration defaults to the configured meeting length when zero.
	Duration time.Duration
	// Ranked orders the returned slots by confidence instead of time.
	// The cap still keeps the earliest slots.
	Ranked bool
}

// SuggestMeetingTimes returns free slots during working hours on which every
// attendee and the primary calendar are free, earliest first unless
// req.Ranked is set.
func (m *Manager) SuggestMeetingTimes(ctx context.Context, req SuggestRequest) ([]scheduler.FreeSlot, error) {
	duration := req.Duration
	if duration == 0 {
		duration = m.defaultDuration
	}
	if duration < 0 {
		return nil, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("duration must be positive"))
	}

	first := dayStart(req.StartDate, m.loc)
	last := dayStart(req.EndDate, m.loc)
	if last.Before(first) {
		return nil, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("end date %s is before start date %s",
			last.Format("2006-01-02"), first.Format("2006-01-02")))
	}
	if horizon := dayStart(m.now(), m.loc).AddDate(0, 0, m.maxDaysAhead); last.After(horizon) {
		return nil, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("end date %s is more than %d days ahead",
			last.Format("2006-01-02"), m.maxDaysAhead))
	}

	attendees := m.withPrimary(req.Attendees)
	byAttendee, err := m.cal.FreeBusy(ctx, attendees, first, last.AddDate(0, 0, 1))
	if err != nil {
		m.logger.Error("free/busy lookup failed", zap.Strings("attendees", attendees), zap.Error(err))
		return nil, err
	}

	slots := m.finder.Suggest(calendar.Flatten(byAttendee), first, last, duration, m.now())
	if req.Ranked {
		slots = scheduler.RankByConfidence(slots)
	}
	m.metrics.RecordSuggestions(len(slots))

	m.logger.Info("meeting times suggested",
		zap.Strings("attendees", attendees),
		zap.Int("slots", len(slots)),
		zap.Duration("duration", duration))

	if m.activity != nil {
		a := &store.Activity{
			Action:    store.ActionSuggest,
			Attendees: strings.Join(attendees, ", "),
		}
		if len(slots) > 0 {
			start, end := slots[0].Start, slots[0].End
			a.Start, a.End = &start, &end
		}
		if err := m.activity.RecordActivity(ctx, a); err != nil {
			m.logger.Warn("failed to record activity", zap.String("action", a.Action), zap.Error(err))
		}
	}
	return slots, nil
}

func (m *Manager) withPrimary(attendees []string) []string {
	out := make([]string, 0, len(attendees)+1)
	seen := make(map[string]bool, len(attendees)+1)
	for _, a := range append([]string{m.primary}, attendees...) {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}

func dayStart(t time.Time, loc *time.Location) time.Time {
	y, mo, d := t.In(loc).Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, loc)
}
