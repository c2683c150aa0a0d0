package api

import (
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/assistant"
	"github.com/gmsas95/chronosage/internal/calendar"
	"github.com/gmsas95/chronosage/internal/errors"
	"github.com/gmsas95/chronosage/internal/interpreter"
)

const tokenLifetime = 7 * 24 * time.Hour

func (s *Server) handleHealth(c *fiber.Ctx) error {
	status := "healthy"
	code := fiber.StatusOK
	if s.store != nil {
		if err := s.store.Ping(c.UserContext()); err != nil {
			s.logger.Warn("store ping failed", zap.Error(err))
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
	}
	return c.Status(code).JSON(fiber.Map{
		"status":    status,
		"version":   s.version,
		"uptime":    s.metrics.Uptime().Round(time.Second).String(),
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleLogin(c *fiber.Ctx) error {
	var req struct {
		Password string `json:"password"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	want := s.config.Security.AdminPassword
	if want != "" && subtle.ConstantTimeCompare([]byte(req.Password), []byte(want)) != 1 {
		s.logger.Warn("failed login", zap.String("ip", c.IP()))
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid password"})
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"iat": now.Unix(),
		"exp": now.Add(tokenLifetime).Unix(),
	})

	tokenString, err := token.SignedString([]byte(s.config.Security.JWTSecret))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to generate token"})
	}

	return c.JSON(fiber.Map{"token": tokenString, "expires_at": now.Add(tokenLifetime).Unix()})
}

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInterpret(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	details, err := s.assistant.Interpret(c.UserContext(), req.Text)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(details)
}

type createRequest struct {
	Text      string                    `json:"text"`
	Event     *interpreter.EventDetails `json:"event"`
	Attendees []string                  `json:"attendees"`
}

// handleCreateEvent schedules either free text or already interpreted
// details, e.g. the output of /events/interpret after the user confirmed it.
func (s *Server) handleCreateEvent(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}

	var (
		ev  *calendar.Event
		err error
	)
	switch {
	case req.Event != nil:
		ev, err = s.assistant.AddToCalendar(c.UserContext(), req.Event, req.Attendees...)
	case strings.TrimSpace(req.Text) != "":
		ev, err = s.assistant.Schedule(c.UserContext(), req.Text)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text or event is required"})
	}
	if err != nil {
		return s.fail(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"event":   ev,
		"message": "Event created: " + s.assistant.FormatEvent(*ev),
	})
}

type editRequest struct {
	Text    string `json:"text"`
	EventID string `json:"event_id"`
}

func (s *Server) handleEditEvent(c *fiber.Ctx) error {
	var req editRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	res, err := s.assistant.Edit(c.UserContext(), req.Text, assistant.ChooseByID(req.EventID))
	if err != nil {
		return s.fail(c, err)
	}

	msg := "Event updated: " + s.assistant.FormatEvent(res.Event)
	if res.Cancelled() {
		msg = "Event cancelled: " + res.Event.Summary
	}
	return c.JSON(fiber.Map{"result": res, "message": msg})
}

type upcomingEvent struct {
	calendar.Event
	Display string `json:"display"`
}

func (s *Server) handleUpcoming(c *fiber.Ctx) error {
	events, err := s.assistant.UpcomingEvents(c.UserContext())
	if err != nil {
		return s.fail(c, err)
	}

	out := make([]upcomingEvent, 0, len(events))
	for _, e := range events {
		out = append(out, upcomingEvent{Event: e, Display: s.assistant.FormatEvent(e)})
	}
	return c.JSON(fiber.Map{"events": out})
}

type icalRequest struct {
	Event *interpreter.EventDetails `json:"event"`
	assistant.ExportOptions
}

func (s *Server) handleExportICal(c *fiber.Ctx) error {
	var req icalRequest
	if err := c.BodyParser(&req); err != nil || req.Event == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "event is required"})
	}

	data, err := s.assistant.ExportICal(c.UserContext(), req.Event, req.ExportOptions)
	if err != nil {
		return s.fail(c, err)
	}

	c.Set(fiber.HeaderContentType, "text/calendar; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", icsFilename(req.Event.Title)))
	return c.Send(data)
}

type suggestRequest struct {
	Attendees []string `json:"attendees"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	Duration  int      `json:"duration"`
	Ranked    bool     `json:"ranked"`
}

func (s *Server) handleSuggest(c *fiber.Ctx) error {
	var req suggestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if req.Duration < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "duration must be positive"})
	}

	loc := s.assistant.Location()
	start := s.assistant.Now()
	if req.StartDate != "" {
		t, err := time.ParseInLocation(interpreter.DateLayout, req.StartDate, loc)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "start_date must be YYYY-MM-DD"})
		}
		start = t
	}
	end := start
	if req.EndDate != "" {
		t, err := time.ParseInLocation(interpreter.DateLayout, req.EndDate, loc)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "end_date must be YYYY-MM-DD"})
		}
		end = t
	}

	slots, err := s.assistant.SuggestMeetingTimes(c.UserContext(), assistant.SuggestRequest{
		Attendees: req.Attendees,
		StartDate: start,
		EndDate:   end,
		Duration:  time.Duration(req.Duration) * time.Minute,
		Ranked:    req.Ranked,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{"slots": slots})
}

func (s *Server) handleListActivity(c *fiber.Ctx) error {
	if s.store == nil {
		return s.fail(c, errors.ErrNotFound)
	}
	items, err := s.store.ListActivity(c.UserContext(), c.QueryInt("limit", 50))
	if err != nil {
		return s.fail(c, errors.WrapAs(errors.ErrInternal, err))
	}
	return c.JSON(items)
}

func icsFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		case r == ' ' || r == '_':
			return '-'
		}
		return -1
	}, title)
	if name == "" {
		name = "event"
	}
	return name + ".ics"
}
