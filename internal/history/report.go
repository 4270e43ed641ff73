package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

// Theme centralizes styling for terminal reports.
type Theme struct {
	OK      lipgloss.Style
	Failed  lipgloss.Style
	Skipped lipgloss.Style
	Header  lipgloss.Style
	Dim     lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Skipped: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#61AFEF")),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// StatusStyle returns the style for a status string.
func (t Theme) StatusStyle(status string) lipgloss.Style {
	switch Status(status) {
	case StatusSucceeded:
		return t.OK
	case StatusFailed:
		return t.Failed
	default:
		return t.Skipped
	}
}

// RenderList renders a run table relative to now.
func RenderList(theme Theme, runs []*Run, now time.Time) string {
	if len(runs) == 0 {
		return theme.Dim.Render("no runs recorded") + "\n"
	}

	var out strings.Builder
	fmt.Fprintln(&out, theme.Header.Render(fmt.Sprintf("%-36s  %-12s  %-26s  %-9s  %4s  %s",
		"ID", "KIND", "TARGET", "STATUS", "EXIT", "STARTED")))
	for _, r := range runs {
		status := theme.StatusStyle(string(r.Status)).Render(fmt.Sprintf("%-9s", r.Status))
		fmt.Fprintf(&out, "%-36s  %-12s  %-26s  %s  %4d  %s\n",
			r.ID, r.Kind, orDash(r.Target), status, r.ExitCode,
			humanize.RelTime(r.StartedAt, now, "ago", "from now"))
	}
	return out.String()
}

// RenderRun renders a single run with its steps.
func RenderRun(theme Theme, r *Run) string {
	var out strings.Builder
	fmt.Fprintln(&out, theme.Header.Render("Run Report"))
	fmt.Fprintf(&out, "Run ID      : %s\n", r.ID)
	fmt.Fprintf(&out, "Kind        : %s\n", r.Kind)
	fmt.Fprintf(&out, "Target      : %s\n", orDash(r.Target))
	if r.Class != "" {
		fmt.Fprintf(&out, "Class       : %s\n", r.Class)
	}
	if r.Branch != "" || r.Event != "" {
		fmt.Fprintf(&out, "Branch      : %s (%s)\n", orDash(r.Branch), orDash(r.Event))
	}
	fmt.Fprintf(&out, "Status      : %s\n", theme.StatusStyle(string(r.Status)).Render(string(r.Status)))
	fmt.Fprintf(&out, "Exit code   : %d\n", r.ExitCode)
	fmt.Fprintf(&out, "Started     : %s\n", r.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&out, "Duration    : %s\n", r.Duration().Round(time.Millisecond))
	fmt.Fprintln(&out)

	if len(r.Steps) == 0 {
		fmt.Fprintln(&out, theme.Dim.Render("(no steps executed)"))
		return out.String()
	}

	for _, st := range r.Steps {
		status := string(StatusSucceeded)
		if st.ExitCode != 0 || st.TimedOut {
			status = string(StatusFailed)
		}
		fmt.Fprintf(&out, "[%d] %s %s\n", st.Seq, st.Name, theme.StatusStyle(status).Render(status))
		fmt.Fprintf(&out, "    argv     : %s\n", strings.Join(st.Argv, " "))
		fmt.Fprintf(&out, "    exit     : %d\n", st.ExitCode)
		if st.TimedOut {
			fmt.Fprintf(&out, "    timed out: yes\n")
		}
		fmt.Fprintf(&out, "    duration : %s\n", st.Duration)
		if st.Stderr != "" {
			fmt.Fprintf(&out, "    stderr   : %s captured\n", humanize.Bytes(uint64(len(st.Stderr))))
			for _, line := range lastLines(st.Stderr, 5) {
				fmt.Fprintf(&out, "      %s\n", theme.Dim.Render(line))
			}
		}
	}
	return out.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func lastLines(s string, n int) []string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}
