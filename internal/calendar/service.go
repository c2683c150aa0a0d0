package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/metrics"
	"github.com/gmsas95/chronosage/internal/scheduler"
)

// BusyCache stores serialized free/busy answers. *store.Store satisfies it.
type BusyCache interface {
	CacheBusy(key string, value []byte, ttl time.Duration) error
	CachedBusy(key string) ([]byte, bool, error)
	InvalidateBusy() error
}

// Options configures a Service
type Options struct {
	CalendarID string
	Location   *time.Location
	LookAhead  time.Duration
	Cache      BusyCache
	CacheTTL   time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
	Now        func() time.Time
}

// Service talks to one Google calendar
type Service struct {
	api        *gcal.Service
	calendarID string
	loc        *time.Location
	lookAhead  time.Duration
	cache      BusyCache
	cacheTTL   time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Service. clientOpts carry authentication, typically
// option.WithTokenSource.
func New(ctx context.Context, opts Options, clientOpts ...option.ClientOption) (*Service, error) {
	api, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrCalendarUnavailable, err)
	}

	s := &Service{
		api:        api,
		calendarID: opts.CalendarID,
		loc:        opts.Location,
		lookAhead:  opts.LookAhead,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if s.calendarID == "" {
		s.calendarID = "primary"
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.lookAhead <= 0 {
		s.lookAhead = 30 * 24 * time.Hour
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Location returns the zone events are created in
func (s *Service) Location() *time.Location {
	return s.loc
}

// CreateEvent inserts an event with default reminders
func (s *Service) CreateEvent(ctx context.Context, in EventInput) (*Event, error) {
	ev := &gcal.Event{
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       s.dateTime(in.Start),
		End:         s.dateTime(in.End),
		Reminders:   &gcal.EventReminders{UseDefault: true},
	}
	for _, a := range in.Attendees {
		if strings.Contains(a, "@") {
			ev.Attendees = append(ev.Attendees, &gcal.EventAttendee{Email: a})
		}
	}

	created, err := s.api.Events.Insert(s.calendarID, ev).Context(ctx).Do()
	s.metrics.RecordCalendarCall("insert", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrEventCreate, err)
	}
	s.invalidate()

	s.logger.Info("event created",
		zap.String("id", created.Id),
		zap.String("summary", created.Summary),
		zap.Time("start", in.Start))
	return s.toEvent(created)
}

// ListUpcoming returns up to max single events starting within the
// look-ahead window, ordered by start time.
func (s *Service) ListUpcoming(ctx context.Context, max int) ([]Event, error) {
	now := s.now()
	resp, err := s.api.Events.List(s.calendarID).
		TimeMin(now.Format(time.RFC3339)).
		TimeMax(now.Add(s.lookAhead).Format(time.RFC3339)).
		MaxResults(int64(max)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	s.metrics.RecordCalendarCall("list", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrCalendarUnavailable, err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		e, err := s.toEvent(item)
		if err != nil {
			s.logger.Warn("skipping event with unreadable times", zap.String("id", item.Id), zap.Error(err))
			continue
		}
		events = append(events, *e)
	}
	return events, nil
}

// FindMatching returns up to max upcoming events whose summary or
// description matches terms, case-insensitively. terms is a regular
// expression; when it does not compile it is matched literally.
func (s *Service) FindMatching(ctx context.Context, terms string, max int) ([]Event, error) {
	re, err := regexp.Compile("(?i)" + terms)
	if err != nil {
		re = regexp.MustCompile("(?i)" + regexp.QuoteMeta(terms))
	}

	candidates, err := s.ListUpcoming(ctx, max*2)
	if err != nil {
		return nil, err
	}

	var out []Event
	for _, e := range candidates {
		if re.MatchString(e.Summary) || re.MatchString(e.Description) {
			out = append(out, e)
			if len(out) == max {
				break
			}
		}
	}
	return out, nil
}

// GetEvent fetches one event
func (s *Service) GetEvent(ctx context.Context, id string) (*Event, error) {
	ev, err := s.api.Events.Get(s.calendarID, id).Context(ctx).Do()
	s.metrics.RecordCalendarCall("get", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrEventNotFound, err)
	}
	return s.toEvent(ev)
}

// UpdateEvent applies u to the stored event and writes it back whole, so
// fields the assistant does not model survive.
func (s *Service) UpdateEvent(ctx context.Context, id string, u EventUpdate) (*Event, error) {
	ev, err := s.api.Events.Get(s.calendarID, id).Context(ctx).Do()
	s.metrics.RecordCalendarCall("get", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrEventNotFound, err)
	}

	if u.Summary != nil {
		ev.Summary = *u.Summary
	}
	if u.Start != nil {
		ev.Start = s.dateTime(*u.Start)
	}
	if u.End != nil {
		ev.End = s.dateTime(*u.End)
	}

	updated, err := s.api.Events.Update(s.calendarID, id, ev).Context(ctx).Do()
	s.metrics.RecordCalendarCall("update", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrEventUpdate, err)
	}
	s.invalidate()
	return s.toEvent(updated)
}

// DeleteEvent removes an event
func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	err := s.api.Events.Delete(s.calendarID, id).Context(ctx).Do()
	s.metrics.RecordCalendarCall("delete", err)
	if err != nil {
		return errors.WrapAs(errors.ErrEventUpdate, err)
	}
	s.invalidate()
	return nil
}

// FreeBusy asks Google for the busy periods of each attendee calendar
// between min and max. Per-calendar errors are logged and returned with the
// attendee's answer; only a failed request is an error.
func (s *Service) FreeBusy(ctx context.Context, attendees []string, min, max time.Time) (map[string]AttendeeBusy, error) {
	key := busyKey(attendees, min, max)
	if cached, ok := s.cachedBusy(key); ok {
		return cached, nil
	}

	req := &gcal.FreeBusyRequest{
		TimeMin:  min.Format(time.RFC3339),
		TimeMax:  max.Format(time.RFC3339),
		TimeZone: s.loc.String(),
	}
	for _, a := range attendees {
		req.Items = append(req.Items, &gcal.FreeBusyRequestItem{Id: a})
	}

	resp, err := s.api.Freebusy.Query(req).Context(ctx).Do()
	s.metrics.RecordCalendarCall("freebusy", err)
	if err != nil {
		return nil, errors.WrapAs(errors.ErrFreeBusy, err)
	}

	out := make(map[string]AttendeeBusy, len(resp.Calendars))
	for name, cal := range resp.Calendars {
		var ab AttendeeBusy
		for _, e := range cal.Errors {
			ab.Errors = append(ab.Errors, e.Reason)
		}
		if len(ab.Errors) > 0 {
			s.logger.Warn("free/busy error for attendee",
				zap.String("attendee", name),
				zap.Strings("reasons", ab.Errors))
		}
		for _, p := range cal.Busy {
			start, err1 := time.Parse(time.RFC3339, p.Start)
			end, err2 := time.Parse(time.RFC3339, p.End)
			if err1 != nil || err2 != nil {
				s.logger.Warn("unreadable busy period",
					zap.String("attendee", name),
					zap.String("start", p.Start),
					zap.String("end", p.End))
				continue
			}
			ab.Busy = append(ab.Busy, scheduler.BusyInterval{Start: start, End: end})
		}
		out[name] = ab
	}

	s.storeBusy(key, out)
	return out, nil
}

func (s *Service) cachedBusy(key string) (map[string]AttendeeBusy, bool) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return nil, false
	}
	raw, ok, err := s.cache.CachedBusy(key)
	if err != nil {
		s.logger.Warn("free/busy cache read failed", zap.Error(err))
	}
	s.metrics.RecordCacheLookup(ok)
	if !ok {
		return nil, false
	}
	var out map[string]AttendeeBusy
	if err := json.Unmarshal(raw, &out); err != nil {
		s.logger.Warn("discarding corrupt free/busy cache entry", zap.Error(err))
		return nil, false
	}
	return out, true
}

func (s *Service) storeBusy(key string, v map[string]AttendeeBusy) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := s.cache.CacheBusy(key, raw, s.cacheTTL); err != nil {
		s.logger.Warn("free/busy cache write failed", zap.Error(err))
	}
}

func (s *Service) invalidate() {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateBusy(); err != nil {
		s.logger.Warn("free/busy cache invalidation failed", zap.Error(err))
	}
}

func busyKey(attendees []string, min, max time.Time) string {
	sorted := append([]string(nil), attendees...)
	sort.Strings(sorted)
	return fmt.Sprintf("%s|%d|%d", strings.Join(sorted, ","), min.Unix(), max.Unix())
}

func (s *Service) dateTime(t time.Time) *gcal.EventDateTime {
	return &gcal.EventDateTime{
		DateTime: t.In(s.loc).Format(time.RFC3339),
		TimeZone: s.loc.String(),
	}
}

func (s *Service) toEvent(ev *gcal.Event) (*Event, error) {
	start, allDay, err := s.parseDateTime(ev.Start)
	if err != nil {
		return nil, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	end, _, err := s.parseDateTime(ev.End)
	if err != nil {
		return nil, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return &Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
		HTMLLink:    ev.HtmlLink,
	}, nil
}

func (s *Service) parseDateTime(dt *gcal.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing time")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t.In(s.loc), false, err
	}
	t, err := time.ParseInLocation("2006-01-02", dt.Date, s.loc)
	return t, true, err
}
