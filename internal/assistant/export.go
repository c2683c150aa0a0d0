package assistant

import (
	"context"

	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/ical"
	"github.com/gmsas95/chronosage/internal/interpreter"
	"github.com/gmsas95/chronosage/internal/store"
)

// ExportOptions are the iCalendar fields an interpreted event does not carry
type ExportOptions struct {
	Location        string `json:"location,omitempty"`
	Organizer       string `json:"organizer,omitempty"`
	Category        string `json:"category,omitempty"`
	ReminderMinutes int    `json:"reminder_minutes,omitempty"`
}

// ExportICal renders d as a standalone .ics file
func (m *Manager) ExportICal(ctx context.Context, d *interpreter.EventDetails, opts ExportOptions) ([]byte, error) {
	start, end, err := m.EventTimes(d)
	if err != nil {
		return nil, err
	}

	data, err := ical.Marshal(ical.Event{
		Summary:         d.Title,
		Description:     d.Description,
		Location:        opts.Location,
		Organizer:       opts.Organizer,
		Category:        opts.Category,
		Start:           start,
		End:             end,
		ReminderMinutes: opts.ReminderMinutes,
	}, m.now())
	if err != nil {
		m.logger.Warn("ical export failed", zap.String("title", d.Title), zap.Error(err))
		return nil, errors.WrapAs(errors.ErrInvalidArguments, err)
	}

	m.record(ctx, store.ActionExport, &calendar.Event{Summary: d.Title, Start: start, End: end}, "")
	return data, nil
}
