// Package assistant ties request interpretation, the calendar and the slot
// finder together into the operations users ask for.
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
	"github.com/gmsas95/chronosage/internal/metrics"
	"github.com/gmsas95/chronosage/internal/scheduler"
	"github.com/gmsas95/chronosage/internal/store"
)

// MaxMatches bounds how many candidate events an edit request considers.
const MaxMatches = 5

// UpcomingLayout renders event start times in listings.
const UpcomingLayout = "03:04 PM on January 02, 2006"

// startLayouts are tried in order against "date time".
var startLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 3:04 PM",
	"2006-01-02 03:04 PM",
	"2006-01-02 3:04PM",
}

// Calendar is the subset of the calendar service the assistant drives.
// *calendar.Service satisfies it.
type Calendar interface {
	CreateEvent(ctx context.Context, in calendar.EventInput) (*calendar.Event, error)
	ListUpcoming(ctx context.Context, max int) ([]calendar.Event, error)
	FindMatching(ctx context.Context, terms string, max int) ([]calendar.Event, error)
	UpdateEvent(ctx context.Context, id string, u calendar.EventUpdate) (*calendar.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	FreeBusy(ctx context.Context, attendees []string, min, max time.Time) (map[string]calendar.AttendeeBusy, error)
}

// Interpreter turns free text into event data. *interpreter.Interpreter
// satisfies it.
type Interpreter interface {
	ParseCreate(ctx context.Context, input string) (*interpreter.EventDetails, error)
	ParseEdit(ctx context.Context, input string) (*interpreter.EditDetails, error)
}

// ActivityLog records what the assistant changed. *store.Store satisfies it.
type ActivityLog interface {
	RecordActivity(ctx context.Context, a *store.Activity) error
}

// Options configures a Manager
type Options struct {
	Calendar    Calendar
	Interpreter Interpreter
	Finder      *scheduler.Finder
	Activity    ActivityLog
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Location    *time.Location

	// PrimaryCalendar is always consulted for free/busy.
	PrimaryCalendar string
	MaxEvents       int
	DefaultDuration time.Duration
	// MaxDaysAhead bounds how far ahead suggestions may be requested.
	MaxDaysAhead    int
	Now             func() time.Time
}

// Manager is the calendar assistant
type Manager struct {
	cal      Calendar
	interp   Interpreter
	finder   *scheduler.Finder
	activity ActivityLog
	metrics  *metrics.Metrics
	logger   *zap.Logger
	loc      *time.Location

	primary         string
	maxEvents       int
	defaultDuration time.Duration
	maxDaysAhead    int
	now             func() time.Time
}

// New creates a Manager
func New(opts Options) *Manager {
	m := &Manager{
		cal:             opts.Calendar,
		interp:          opts.Interpreter,
		finder:          opts.Finder,
		activity:        opts.Activity,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		loc:             opts.Location,
		primary:         opts.PrimaryCalendar,
		maxEvents:       opts.MaxEvents,
		defaultDuration: opts.DefaultDuration,
		maxDaysAhead:    opts.MaxDaysAhead,
		now:             opts.Now,
	}
	if m.loc == nil {
		m.loc = time.Local
	}
	if m.finder == nil {
		m.finder = scheduler.NewFinder(scheduler.DefaultWorkingHours(), m.loc)
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.primary == "" {
		m.primary = "primary"
	}
	if m.maxEvents <= 0 {
		m.maxEvents = 10
	}
	if m.defaultDuration <= 0 {
		m.defaultDuration = 30 * time.Minute
	}
	if m.maxDaysAhead <= 0 {
		m.maxDaysAhead = 30
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Location returns the zone requests are interpreted in
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Now returns the current time in the configured zone
func (m *Manager) Now() time.Time {
	return m.now().In(m.loc)
}

// Interpret extracts event details from a natural-language request
func (m *Manager) Interpret(ctx context.Context, input string) (*interpreter.EventDetails, error) {
	d, err := m.interp.ParseCreate(ctx, input)
	if err != nil {
		m.logger.Warn("could not interpret request", zap.String("input", input), zap.Error(err))
		return nil, err
	}
	return d, nil
}

// Schedule interprets input and creates the event. Email addresses in the
// text are invited; names mentioned without an address are only noted in
// the activity log.
func (m *Manager) Schedule(ctx context.Context, input string) (*calendar.Event, error) {
	d, err := m.Interpret(ctx, input)
	if err != nil {
		return nil, err
	}
	emails := interpreter.ExtractEmails(input)
	people := append(interpreter.ExtractAttendees(input), emails...)
	return m.addToCalendar(ctx, d, input, emails, people)
}

// AddToCalendar creates an event from already interpreted details
func (m *Manager) AddToCalendar(ctx context.Context, d *interpreter.EventDetails, attendees ...string) (*calendar.Event, error) {
	return m.addToCalendar(ctx, d, "", attendees, attendees)
}

// addToCalendar invites attendees and records people as the participants.
func (m *Manager) addToCalendar(ctx context.Context, d *interpreter.EventDetails, request string, attendees, people []string) (*calendar.Event, error) {
	start, end, err := m.EventTimes(d)
	if err != nil {
		return nil, err
	}

	ev, err := m.cal.CreateEvent(ctx, calendar.EventInput{
		Summary:     d.Title,
		Description: d.Description,
		Start:       start,
		End:         end,
		Attendees:   attendees,
	})
	if err != nil {
		m.logger.Error("failed to create event", zap.String("title", d.Title), zap.Error(err))
		return nil, err
	}

	m.record(ctx, store.ActionCreate, ev, request, people...)
	return ev, nil
}

// EventTimes resolves the start and end of d in the assistant's zone
func (m *Manager) EventTimes(d *interpreter.EventDetails) (time.Time, time.Time, error) {
	if d == nil {
		return time.Time{}, time.Time{}, errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("no event details"))
	}
	if d.Duration <= 0 {
		return time.Time{}, time.Time{}, errors.WrapAs(errors.ErrInvalidArguments, fmt.Errorf("duration must be positive, got %d", d.Duration))
	}
	start, err := ParseStart(d.Date, d.Time, m.loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(d.Duration) * time.Minute), nil
}

// ParseStart reads date and clock strings as a wall time in loc
func ParseStart(date, clock string, loc *time.Location) (time.Time, error) {
	value := strings.TrimSpace(date) + " " + strings.TrimSpace(clock)
	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.WrapAs(errors.ErrInvalidDateTime, fmt.Errorf("unrecognised date/time %q", value))
}

// Upcoming lists the next events as "<summary> at 03:04 PM on January 02, 2006"
func (m *Manager) Upcoming(ctx context.Context) ([]string, error) {
	events, err := m.UpcomingEvents(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, m.FormatEvent(e))
	}
	return out, nil
}

// UpcomingEvents returns the next events in start order
func (m *Manager) UpcomingEvents(ctx context.Context) ([]calendar.Event, error) {
	events, err := m.cal.ListUpcoming(ctx, m.maxEvents)
	if err != nil {
		m.logger.Error("failed to list upcoming events", zap.Error(err))
		return nil, err
	}
	return events, nil
}

// FormatEvent renders one listing line
func (m *Manager) FormatEvent(e calendar.Event) string {
	return fmt.Sprintf("%s at %s", e.Summary, e.Start.In(m.loc).Format(UpcomingLayout))
}

func (m *Manager) record(ctx context.Context, action string, ev *calendar.Event, request string, people ...string) {
	if m.activity == nil {
		return
	}
	a := &store.Activity{
		Action:    action,
		Request:   request,
		Attendees: strings.Join(people, ", "),
	}
	if ev != nil {
		start, end := ev.Start, ev.End
		a.EventID = ev.ID
		a.Summary = ev.Summary
		a.Start = &start
		a.End = &end
		a.Link = ev.HTMLLink
	}
	if err := m.activity.RecordActivity(ctx, a); err != nil {
		m.logger.Warn("failed to record activity", zap.String("action", action), zap.Error(err))
	}
}
