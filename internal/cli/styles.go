package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gmsas95/chronosage/internal/scheduler"
	"github.com/gmsas95/chronosage/internal/store"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true)

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	slotStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			PaddingLeft(2)
)

const slotLayout = "Mon Jan 02  15:04"

func printTitle(w io.Writer, title string) {
	fmt.Fprintln(w, titleStyle.Render(title))
}

func printSuccess(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, successStyle.Render("✓ "+fmt.Sprintf(format, args...)))
}

func printError(w io.Writer, msg string) {
	fmt.Fprintln(w, errorStyle.Render("Error: "+msg))
}

// renderSlots lists suggestions one per line with their confidence
func renderSlots(w io.Writer, slots []scheduler.FreeSlot) {
	if len(slots) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No free slots found in that range."))
		return
	}
	for i, s := range slots {
		line := fmt.Sprintf("%d. %s - %s  (%.0f%%)", i+1, s.Start.Format(slotLayout), s.End.Format("15:04"), s.Confidence*100)
		fmt.Fprintln(w, slotStyle.Render(line))
	}
}

func renderActivity(w io.Writer, items []store.Activity) {
	if len(items) == 0 {
		fmt.Fprintln(w, dimStyle.Render("No activity recorded yet."))
		return
	}
	for _, a := range items {
		when := a.CreatedAt.Local().Format("2006-01-02 15:04")
		line := fmt.Sprintf("%s  %-8s %s", when, a.Action, a.Summary)
		if a.Start != nil {
			line += dimStyle.Render(" @ " + a.Start.Local().Format("Jan 02 15:04"))
		}
		if a.Attendees != "" {
			line += dimStyle.Render(" with " + a.Attendees)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
}
