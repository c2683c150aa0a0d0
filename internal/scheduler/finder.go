package scheduler

import (
	"sort"
	"time"
)

// LeadPolicy returns the earliest start a meeting may have, given now.
type LeadPolicy func(now time.Time) time.Time

// NextWholeHour moves now to the start of the following hour, in now's
// location. 10:00 and 10:59 both become 11:00.
func NextWholeHour(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, now.Hour(), 0, 0, 0, now.Location()).Add(time.Hour)
}

// NoLead allows meetings to start immediately.
func NoLead(now time.Time) time.Time {
	return now
}

// TrimPast drops the part of the window that lies before now.
func TrimPast(w WorkDayWindow, now time.Time) WorkDayWindow {
	if now.After(w.Start) {
		w.Start = now
	}
	return w
}

// ApplyLeadTime moves the window start to lead(now) when that is later.
func ApplyLeadTime(w WorkDayWindow, now time.Time, lead LeadPolicy) WorkDayWindow {
	if lead == nil {
		return w
	}
	if earliest := lead(now); earliest.After(w.Start) {
		w.Start = earliest
	}
	return w
}

// FindFreeSlots returns the chronological slots of exactly minDuration that
// start each gap of at least minDuration inside window, scored with the
// default constant confidence.
func FindFreeSlots(busy []BusyInterval, window WorkDayWindow, minDuration time.Duration) []FreeSlot {
	return findInWindow(busy, window, minDuration, ConstantScorer(DefaultConfidence))
}

func findInWindow(busy []BusyInterval, window WorkDayWindow, minDuration time.Duration, score Scorer) []FreeSlot {
	if minDuration <= 0 || !window.Valid() {
		return nil
	}

	clipped := clip(busy, window)
	sort.SliceStable(clipped, func(i, j int) bool {
		return clipped[i].Start.Before(clipped[j].Start)
	})

	var slots []FreeSlot
	emit := func(start, gapEnd time.Time) {
		gap := gapEnd.Sub(start)
		if gap < minDuration {
			return
		}
		slots = append(slots, FreeSlot{
			Start:      start,
			End:        start.Add(minDuration),
			Confidence: clamp01(score(gap, sinceMidnight(start), start.Weekday())),
		})
	}

	cursor := window.Start
	for _, b := range clipped {
		if cursor.Before(b.Start) {
			emit(cursor, b.Start)
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if cursor.Before(window.End) {
		emit(cursor, window.End)
	}

	return slots
}

// clip returns a fresh slice of the intervals overlapping w, cut to w.
func clip(busy []BusyInterval, w WorkDayWindow) []BusyInterval {
	out := make([]BusyInterval, 0, len(busy))
	for _, b := range busy {
		if !b.Start.Before(w.End) || !b.End.After(w.Start) {
			continue
		}
		if b.Start.Before(w.Start) {
			b.Start = w.Start
		}
		if b.End.After(w.End) {
			b.End = w.End
		}
		out = append(out, b)
	}
	return out
}

// Finder aggregates free slots over a range of days.
type Finder struct {
	Hours          WorkingHours
	Location       *time.Location
	MaxSuggestions int
	Scorer         Scorer
	Lead           LeadPolicy
	SkipWeekends   bool
}

// NewFinder returns a finder with the reference behaviour: weekends skipped,
// constant 0.9 confidence, next-whole-hour lead time and at most five
// suggestions.
func NewFinder(hours WorkingHours, loc *time.Location) *Finder {
	if loc == nil {
		loc = time.Local
	}
	return &Finder{
		Hours:          hours,
		Location:       loc,
		MaxSuggestions: DefaultMaxSuggestions,
		Scorer:         ConstantScorer(DefaultConfidence),
		Lead:           NextWholeHour,
		SkipWeekends:   true,
	}
}

// Find runs the per-day search with the finder's scorer.
func (f *Finder) Find(busy []BusyInterval, window WorkDayWindow, minDuration time.Duration) []FreeSlot {
	return findInWindow(busy, window, minDuration, f.scorer())
}

// DayWindow returns the adjusted working window for day, or false when
// nothing of it is schedulable relative to now.
func (f *Finder) DayWindow(day, now time.Time) (WorkDayWindow, bool) {
	now = now.In(f.loc())
	w := f.Hours.Window(day, f.loc())
	w = TrimPast(w, now)
	w = ApplyLeadTime(w, now, f.Lead)
	return w, w.Valid()
}

// Suggest walks every date from startDate to endDate inclusive and collects
// free slots in chronological order. Earlier days win when the result is
// truncated to MaxSuggestions.
func (f *Finder) Suggest(busy []BusyInterval, startDate, endDate time.Time, minDuration time.Duration, now time.Time) []FreeSlot {
	if minDuration <= 0 {
		return nil
	}

	loc := f.loc()
	day := midnight(startDate, loc)
	last := midnight(endDate, loc)

	// One shared copy; per-day clipping allocates its own slices.
	own := make([]BusyInterval, len(busy))
	copy(own, busy)

	var out []FreeSlot
	for !day.After(last) {
		if f.SkipWeekends && isWeekend(day) {
			day = day.AddDate(0, 0, 1)
			continue
		}
		if w, ok := f.DayWindow(day, now); ok {
			out = append(out, f.Find(own, w, minDuration)...)
		}
		if f.MaxSuggestions > 0 && len(out) >= f.MaxSuggestions {
			break
		}
		day = day.AddDate(0, 0, 1)
	}

	if f.MaxSuggestions > 0 && len(out) > f.MaxSuggestions {
		out = out[:f.MaxSuggestions]
	}
	return out
}

func (f *Finder) loc() *time.Location {
	if f.Location == nil {
		return time.Local
	}
	return f.Location
}

func (f *Finder) scorer() Scorer {
	if f.Scorer == nil {
		return ConstantScorer(DefaultConfidence)
	}
	return f.Scorer
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
