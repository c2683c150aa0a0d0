// Package security screens user requests before they are sent to the model.
package security

import (
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/gmsas95/chronosage/internal/errors"
)

var (
	ErrEmptyRequest      = stderrors.New("request is empty")
	ErrRequestTooLarge   = stderrors.New("request exceeds maximum size")
	ErrNullByteDetected  = stderrors.New("null byte detected in request")
	ErrControlCharacters = stderrors.New("control characters in request")
	ErrRepetitiveContent = stderrors.New("excessive repetition detected")
	ErrPromptInjection   = stderrors.New("potential prompt injection detected")
)

// injectionPatterns target attempts to replace the function-calling
// instructions. Phrases like "act as" are left alone since they turn up in
// ordinary event titles.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?|directives?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?(previous|above)\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)(override|bypass)\s+(all\s+)?(your\s+)?(rules?|restrictions?|filters?|instructions?)`),
	regexp.MustCompile(`(?i)system:\s*you\s+must`),
	regexp.MustCompile(`<\|.*\|>`),
	regexp.MustCompile(`(?is)\[system\].*\[/system\]`),
	regexp.MustCompile(`(?i)###\s*(instruction|system)`),
}

// RequestValidator checks natural-language calendar requests
type RequestValidator struct {
	MaxSize       int
	MaxRepetition int
	// DetectInjection rejects requests that try to rewrite the system prompt
	DetectInjection bool
}

// NewRequestValidator returns the limits used for interactive requests
func NewRequestValidator() *RequestValidator {
	return &RequestValidator{
		MaxSize:         2048,
		MaxRepetition:   50,
		DetectInjection: true,
	}
}

// Validate returns nil for an acceptable request
func (v *RequestValidator) Validate(input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return ErrEmptyRequest
	}
	if v.MaxSize > 0 && len(input) > v.MaxSize {
		return ErrRequestTooLarge
	}
	if strings.IndexByte(input, 0) >= 0 {
		return ErrNullByteDetected
	}
	if !utf8.ValidString(input) {
		return ErrControlCharacters
	}
	for _, r := range input {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return ErrControlCharacters
		}
	}
	if v.MaxRepetition > 0 && hasExcessiveRepetition(input, v.MaxRepetition) {
		return ErrRepetitiveContent
	}
	if v.DetectInjection && DetectPromptInjection(input) {
		return ErrPromptInjection
	}
	return nil
}

// Check is Validate with the result wrapped as a bad request
func (v *RequestValidator) Check(input string) error {
	if err := v.Validate(input); err != nil {
		return errors.WrapAs(errors.ErrBadRequest, fmt.Errorf("rejected request: %w", err))
	}
	return nil
}

// DetectPromptInjection reports whether input matches a known injection
// phrasing
func DetectPromptInjection(input string) bool {
	for _, re := range injectionPatterns {
		if re.MatchString(input) {
			return true
		}
	}
	return false
}

func hasExcessiveRepetition(input string, maxRun int) bool {
	if len(input) <= maxRun {
		return false
	}
	var prev rune
	run := 0
	for i, r := range input {
		if i > 0 && r == prev {
			run++
			if run > maxRun {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}
