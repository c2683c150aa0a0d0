// Package calendartest provides an in-memory Google Calendar API server for
// tests.
package calendartest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// Server implements the subset of Calendar v3 the assistant uses: event
// insert/list/get/update/delete and freeBusy.
type Server struct {
	*httptest.Server

	mu     sync.Mutex
	events map[string]*gcal.Event
	busy   map[string]*gcal.FreeBusyCalendar
	nextID int

	freeBusyCalls int
	lastFreeBusy  *gcal.FreeBusyRequest
	failInsert    bool
}

func New() *Server {
	s := &Server{
		events: make(map[string]*gcal.Event),
		busy:   make(map[string]*gcal.FreeBusyCalendar),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /calendars/{cal}/events", s.list)
	mux.HandleFunc("POST /calendars/{cal}/events", s.insert)
	mux.HandleFunc("GET /calendars/{cal}/events/{id}", s.get)
	mux.HandleFunc("PUT /calendars/{cal}/events/{id}", s.update)
	mux.HandleFunc("DELETE /calendars/{cal}/events/{id}", s.delete)
	mux.HandleFunc("POST /freeBusy", s.freeBusy)

	s.Server = httptest.NewServer(mux)
	return s
}

// ClientOptions points a calendar client at the fake
func (s *Server) ClientOptions() []option.ClientOption {
	return []option.ClientOption{
		option.WithEndpoint(s.URL + "/"),
		option.WithHTTPClient(s.Client()),
	}
}

// AddEvent stores an event directly and returns its ID
func (s *Server) AddEvent(summary, description string, start, end time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev := &gcal.Event{
		Summary:     summary,
		Description: description,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	s.store(ev)
	return ev.Id
}

// Event returns a stored event, or nil
func (s *Server) Event(id string) *gcal.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[id]
}

// FreeBusyCalls counts freeBusy queries served so far
func (s *Server) FreeBusyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.freeBusyCalls
}

// LastFreeBusy returns the most recent freeBusy request body
func (s *Server) LastFreeBusy() *gcal.FreeBusyRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFreeBusy
}

// FailInserts makes event inserts return 500 while set
func (s *Server) FailInserts(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failInsert = fail
}

// Len returns the number of stored events
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// SetBusy sets the busy periods freeBusy reports for a calendar. reasons
// become per-calendar errors.
func (s *Server) SetBusy(calendar string, periods [][2]time.Time, reasons ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fb := &gcal.FreeBusyCalendar{}
	for _, p := range periods {
		fb.Busy = append(fb.Busy, &gcal.TimePeriod{
			Start: p[0].Format(time.RFC3339),
			End:   p[1].Format(time.RFC3339),
		})
	}
	for _, r := range reasons {
		fb.Errors = append(fb.Errors, &gcal.Error{Domain: "global", Reason: r})
	}
	s.busy[calendar] = fb
}

func (s *Server) store(ev *gcal.Event) {
	if ev.Id == "" {
		s.nextID++
		ev.Id = fmt.Sprintf("evt%03d", s.nextID)
	}
	ev.HtmlLink = "https://calendar.example.com/event?eid=" + ev.Id
	s.events[ev.Id] = ev
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var min, max time.Time
	if v := q.Get("timeMin"); v != "" {
		min, _ = time.Parse(time.RFC3339, v)
	}
	if v := q.Get("timeMax"); v != "" {
		max, _ = time.Parse(time.RFC3339, v)
	}
	limit, _ := strconv.Atoi(q.Get("maxResults"))

	s.mu.Lock()
	var items []*gcal.Event
	for _, ev := range s.events {
		start, _ := time.Parse(time.RFC3339, ev.Start.DateTime)
		if !min.IsZero() && start.Before(min) {
			continue
		}
		if !max.IsZero() && !start.Before(max) {
			continue
		}
		items = append(items, ev)
	}
	s.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		a, _ := time.Parse(time.RFC3339, items[i].Start.DateTime)
		b, _ := time.Parse(time.RFC3339, items[j].Start.DateTime)
		if a.Equal(b) {
			return items[i].Id < items[j].Id
		}
		return a.Before(b)
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	writeJSON(w, &gcal.Events{Kind: "calendar#events", Items: items})
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	fail := s.failInsert
	s.mu.Unlock()
	if fail {
		http.Error(w, `{"error":{"code":500,"message":"backend error"}}`, http.StatusInternalServerError)
		return
	}
	var ev gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	ev.Id = ""
	s.store(&ev)
	s.mu.Unlock()
	writeJSON(w, &ev)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ev, ok := s.events[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, ev)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var ev gcal.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		notFound(w)
		return
	}
	ev.Id = id
	s.store(&ev)
	writeJSON(w, &ev)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[id]; !ok {
		notFound(w)
		return
	}
	delete(s.events, id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) freeBusy(w http.ResponseWriter, r *http.Request) {
	var req gcal.FreeBusyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeBusyCalls++
	s.lastFreeBusy = &req

	resp := &gcal.FreeBusyResponse{
		Kind:      "calendar#freeBusy",
		TimeMin:   req.TimeMin,
		TimeMax:   req.TimeMax,
		Calendars: make(map[string]gcal.FreeBusyCalendar),
	}
	for _, item := range req.Items {
		if fb, ok := s.busy[item.Id]; ok {
			resp.Calendars[item.Id] = *fb
		} else {
			resp.Calendars[item.Id] = gcal.FreeBusyCalendar{}
		}
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"error":{"code":404,"message":"Not Found"}}`))
}
