package ticketlist

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	idStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8890a0"))

	subjectStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#e4e4ec")).
			Bold(true)

	commentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c0c4d0"))

	requesterStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#505868")).
			Italic(true)

	starStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c8a84c"))

	respondedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ade80"))

	priorityStyles = map[string]lipgloss.Style{
		"urgent": lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
		"high":   lipgloss.NewStyle().Foreground(lipgloss.Color("#f97316")),
		"normal": lipgloss.NewStyle().Foreground(lipgloss.Color("#c0c4d0")),
		"low":    lipgloss.NewStyle().Foreground(lipgloss.Color("#505868")),
	}
)

// Render draws the list for a terminal.
func Render(l List) string {
	if l.Hidden {
		return ""
	}
	if len(l.Rows) == 0 {
		return commentStyle.Render(EmptyMessage) + "\n"
	}

	var b strings.Builder
	for _, r := range l.Rows {
		star := " "
		if r.Starred {
			star = starStyle.Render("★")
		}
		responded := " "
		if r.RespondedToday {
			responded = respondedStyle.Render("✓")
		}
		priority := r.Priority
		if style, ok := priorityStyles[priority]; ok {
			priority = style.Render(priority)
		}

		fmt.Fprintf(&b, "%s %s %s %s %s\n", star, responded, idStyle.Render(fmt.Sprintf("#%d", r.ID)), subjectStyle.Render(r.Subject), priority)
		fmt.Fprintf(&b, "    %s\n", commentStyle.Render(r.Comment))
		if r.Requester != "" {
			fmt.Fprintf(&b, "    %s\n", requesterStyle.Render(r.Requester))
		}
	}
	return b.String()
}
