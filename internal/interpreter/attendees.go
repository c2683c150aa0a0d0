package interpreter

import (
	"regexp"
	"strings"
)

// Capitalised names of one to three words following "with", "@" or "invite".
var attendeePatterns = []*regexp.Regexp{
	regexp.MustCompile(`with\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`),
	regexp.MustCompile(`@\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`),
	regexp.MustCompile(`invite\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+){0,2})`),
}

// ExtractAttendees returns the names mentioned in text, each once, in the
// order the patterns first find them.
func ExtractAttendees(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, re := range attendeePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := strings.TrimSpace(m[1])
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// ExtractEmails returns the email addresses in text, each once, lowercased.
func ExtractEmails(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range emailPattern.FindAllString(text, -1) {
		addr := strings.ToLower(m)
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}
