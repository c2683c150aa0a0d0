package api

import (
	stderrors "errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/gmsas95/chronosage/internal/assistant"
	"github.com/gmsas95/chronosage/internal/errors"
)

// statusFor maps an error code to the HTTP status returned with it
func statusFor(err error) int {
	var amb *assistant.AmbiguousError
	if stderrors.As(err, &amb) {
		return fiber.StatusConflict
	}

	code := errors.GetCode(err)
	switch code {
	case errors.ErrEventNotFound.Code, errors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case errors.ErrBadRequest.Code:
		return fiber.StatusBadRequest
	case errors.ErrRateLimited.Code:
		return fiber.StatusTooManyRequests
	case errors.ErrUnauthorized.Code:
		return fiber.StatusUnauthorized
	case errors.ErrForbidden.Code:
		return fiber.StatusForbidden
	case errors.ErrTokenMissing.Code, errors.ErrProviderNotConfigured.Code:
		return fiber.StatusServiceUnavailable
	}

	switch {
	case strings.HasPrefix(code, "PARSE_"):
		return fiber.StatusUnprocessableEntity
	case strings.HasPrefix(code, "LLM_"), strings.HasPrefix(code, "CAL_"):
		return fiber.StatusBadGateway
	}
	return fiber.StatusInternalServerError
}

// fail logs err and answers with the user-safe message
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	body := fiber.Map{"error": errors.UserMessage(err)}

	var amb *assistant.AmbiguousError
	if stderrors.As(err, &amb) {
		body["error"] = "Several events match. Pick one with event_id."
		body["matches"] = amb.Matches
	} else if errors.IsAppError(err) {
		body["code"] = errors.GetCode(err)
	}

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(body)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if fe, ok := err.(*fiber.Error); ok {
		code = fe.Code
	}
	msg := errors.GenericUserMessage
	if fe, ok := err.(*fiber.Error); ok && code < fiber.StatusInternalServerError {
		msg = strings.ToLower(fe.Message)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
