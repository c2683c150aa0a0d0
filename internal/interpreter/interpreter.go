// Package interpreter turns free-form calendar requests into structured
// event data through a forced LLM function call.
package interpreter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/llm"
	"github.com/gmsas95/chronosage/internal/security"
)

const (
	CreateFunctionName = "create_calendar_event"
	EditFunctionName   = "edit_calendar_event"

	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Edit actions.
const (
	ActionReschedule = "reschedule"
	ActionModify     = "modify"
	ActionCancel     = "cancel"
)

// EventDetails is a new event as understood from the user's request
type EventDetails struct {
	Title       string `json:"title"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Duration    int    `json:"duration"`
	Description string `json:"description,omitempty"`
}

// EditDetails describes a change to an existing event. Nil fields are left
// unchanged.
type EditDetails struct {
	SearchTerms string  `json:"search_terms"`
	Action      string  `json:"action"`
	NewDate     *string `json:"new_date,omitempty"`
	NewTime     *string `json:"new_time,omitempty"`
	NewDuration *int    `json:"new_duration,omitempty"`
	NewTitle    *string `json:"new_title,omitempty"`
}

// Completer forces a single function call and returns its arguments.
// *llm.Client satisfies it.
type Completer interface {
	CallFunction(ctx context.Context, systemPrompt, userMessage string, fn llm.ToolFunction) (json.RawMessage, error)
}

type Interpreter struct {
	llm   Completer
	loc   *time.Location
	now   func() time.Time
	guard *security.RequestValidator
}

// New returns an interpreter that resolves relative dates in loc. now may be
// nil to use the wall clock.
func New(c Completer, loc *time.Location, now func() time.Time) *Interpreter {
	if loc == nil {
		loc = time.Local
	}
	if now == nil {
		now = time.Now
	}
	return &Interpreter{llm: c, loc: loc, now: now, guard: security.NewRequestValidator()}
}

func (i *Interpreter) today() string {
	return i.now().In(i.loc).Format(DateLayout)
}

// ParseCreate interprets a request to create an event
func (i *Interpreter) ParseCreate(ctx context.Context, input string) (*EventDetails, error) {
	input = strings.TrimSpace(input)
	if err := i.guard.Check(input); err != nil {
		return nil, err
	}

	system := fmt.Sprintf("You are a calendar assistant for the %s time zone. "+
		"Convert user requests into structured event details. "+
		"Dates use YYYY-MM-DD and times use 24-hour HH:MM. The current date is %s.",
		i.loc.String(), i.today())

	args, err := i.llm.CallFunction(ctx, system, "Convert this request into a calendar event: "+input, CreateEventFunction())
	if err != nil {
		return nil, err
	}
	return DecodeCreate(args)
}

// ParseEdit interprets a request to change or cancel an event
func (i *Interpreter) ParseEdit(ctx context.Context, input string) (*EditDetails, error) {
	input = strings.TrimSpace(input)
	if err := i.guard.Check(input); err != nil {
		return nil, err
	}

	system := fmt.Sprintf("You are a calendar editing assistant for the %s time zone. "+
		"Convert user edit requests into structured modifications. "+
		"Identify the event by its title or key terms and specify the changes needed. "+
		"Dates use YYYY-MM-DD and times use 24-hour HH:MM. The current date is %s.",
		i.loc.String(), i.today())

	args, err := i.llm.CallFunction(ctx, system, "Process this calendar edit request: "+input, EditEventFunction())
	if err != nil {
		return nil, err
	}
	return DecodeEdit(args)
}

// DecodeCreate validates create_calendar_event arguments
func DecodeCreate(args json.RawMessage) (*EventDetails, error) {
	var d EventDetails
	if err := json.Unmarshal(args, &d); err != nil {
		return nil, errors.WrapAs(errors.ErrInvalidArguments, err)
	}
	d.Title = strings.TrimSpace(d.Title)
	d.Date = strings.TrimSpace(d.Date)
	d.Time = strings.TrimSpace(d.Time)

	switch {
	case d.Title == "":
		return nil, missing("title")
	case d.Date == "":
		return nil, missing("date")
	case d.Time == "":
		return nil, missing("time")
	case d.Duration <= 0:
		return nil, errors.WrapAs(errors.ErrInvalidArguments, fmt.Errorf("duration must be positive, got %d", d.Duration))
	}
	if _, err := time.Parse(DateLayout, d.Date); err != nil {
		return nil, errors.WrapAs(errors.ErrInvalidDateTime, err)
	}
	return &d, nil
}

// DecodeEdit validates edit_calendar_event arguments
func DecodeEdit(args json.RawMessage) (*EditDetails, error) {
	var d EditDetails
	if err := json.Unmarshal(args, &d); err != nil {
		return nil, errors.WrapAs(errors.ErrInvalidArguments, err)
	}
	d.SearchTerms = strings.TrimSpace(d.SearchTerms)

	if d.SearchTerms == "" {
		return nil, missing("search_terms")
	}
	switch d.Action {
	case ActionReschedule, ActionModify, ActionCancel:
	case "":
		return nil, missing("action")
	default:
		return nil, errors.WrapAs(errors.ErrInvalidAction, fmt.Errorf("action %q", d.Action))
	}

	d.NewDate = blankToNil(d.NewDate)
	d.NewTime = blankToNil(d.NewTime)
	d.NewTitle = blankToNil(d.NewTitle)

	if d.NewDate != nil {
		if _, err := time.Parse(DateLayout, *d.NewDate); err != nil {
			return nil, errors.WrapAs(errors.ErrInvalidDateTime, err)
		}
	}
	if d.NewTime != nil {
		if _, err := time.Parse(TimeLayout, *d.NewTime); err != nil {
			return nil, errors.WrapAs(errors.ErrInvalidDateTime, err)
		}
	}
	if d.NewDuration != nil && *d.NewDuration <= 0 {
		return nil, errors.WrapAs(errors.ErrInvalidArguments, fmt.Errorf("new_duration must be positive, got %d", *d.NewDuration))
	}
	return &d, nil
}

// ChangesTime reports whether the edit moves or resizes the event
func (d *EditDetails) ChangesTime() bool {
	return d.NewDate != nil || d.NewTime != nil || d.NewDuration != nil
}

func missing(field string) error {
	return errors.WrapAs(errors.ErrMissingField, fmt.Errorf("%s", field))
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// CreateEventFunction is the schema the model fills in for new events
func CreateEventFunction() llm.ToolFunction {
	return llm.ToolFunction{
		Name:        CreateFunctionName,
		Description: "Create a calendar event from a natural-language request",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"title": {
					Type:        jsonschema.String,
					Description: "Short title of the event",
				},
				"date": {
					Type:        jsonschema.String,
					Description: "Event date as YYYY-MM-DD",
				},
				"time": {
					Type:        jsonschema.String,
					Description: "Start time as HH:MM (24-hour)",
				},
				"duration": {
					Type:        jsonschema.Integer,
					Description: "Duration in minutes",
				},
				"description": {
					Type:        jsonschema.String,
					Description: "Optional notes for the event",
				},
			},
			Required: []string{"title", "date", "time", "duration"},
		},
	}
}

// EditEventFunction is the schema the model fills in for edits
func EditEventFunction() llm.ToolFunction {
	return llm.ToolFunction{
		Name:        EditFunctionName,
		Description: "Change or cancel an existing calendar event",
		Parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"search_terms": {
					Type:        jsonschema.String,
					Description: "Keywords to identify the event",
				},
				"new_date": {
					Type:        jsonschema.String,
					Description: "New date as YYYY-MM-DD if changing",
				},
				"new_time": {
					Type:        jsonschema.String,
					Description: "New start time as HH:MM if changing",
				},
				"new_duration": {
					Type:        jsonschema.Integer,
					Description: "New duration in minutes if changing",
				},
				"new_title": {
					Type:        jsonschema.String,
					Description: "New title if changing",
				},
				"action": {
					Type:        jsonschema.String,
					Enum:        []string{ActionReschedule, ActionModify, ActionCancel},
					Description: "Type of edit action",
				},
			},
			Required: []string{"search_terms", "action"},
		},
	}
}
