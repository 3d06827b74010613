package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deixis/droidship/internal/report"
)

const columnWidthStage = 16

var (
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	stageStyle = lipgloss.NewStyle().Width(columnWidthStage)
	faintStyle = lipgloss.NewStyle().Faint(true)
	titleStyle = lipgloss.NewStyle().Bold(true)
)

func statusLabel(status string) string {
	switch status {
	case report.StatusPassed:
		return passStyle.Render("ok")
	case report.StatusFailed:
		return failStyle.Render("FAIL")
	default:
		return skipStyle.Render("-")
	}
}

// renderRun formats a run report for a terminal.
func renderRun(rr *report.RunResult) string {
	var b strings.Builder

	if rr.Succeeded {
		b.WriteString(passStyle.Render("ok"))
	} else {
		b.WriteString(failStyle.Render("FAIL"))
	}
	fmt.Fprintf(&b, "  %s %s", rr.Kind, faintStyle.Render(rr.ID))
	if rr.Serial != "" {
		fmt.Fprintf(&b, "  device %s", rr.Serial)
	}
	if rr.Profile != "" {
		fmt.Fprintf(&b, "  apk %s", rr.Profile)
	}
	b.WriteString("\n\n")

	for _, s := range rr.Stages {
		fmt.Fprintf(&b, "  %s %s", stageStyle.Render(s.Name), statusLabel(s.Status))
		if s.Detail != "" && s.Status != report.StatusFailed {
			fmt.Fprintf(&b, "  %s", faintStyle.Render(s.Detail))
		}
		if s.Duration > 0 {
			fmt.Fprintf(&b, "  %s", faintStyle.Render(s.Duration.Round(100*time.Millisecond).String()))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if used := rr.ElevationUsed(); len(used) > 0 {
		b.WriteString(titleStyle.Render("Elevation") + "\n")
		for _, action := range slices.Sorted(maps.Keys(used)) {
			fmt.Fprintf(&b, "  %s: %s\n", action, used[action])
		}
		b.WriteString("\n")
	}

	if rr.Diagnostics != nil {
		b.WriteString(titleStyle.Render("Diagnostics") + "\n")
		for _, line := range rr.Diagnostics.Summary() {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	if !rr.Succeeded {
		b.WriteString(failStyle.Render(fmt.Sprintf("%s error (exit %d)", rr.ErrorKind, rr.ExitCode)) + "\n")
		for _, line := range strings.Split(strings.TrimRight(rr.Error, "\n"), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}

// renderRunList formats stored run summaries, most recent first.
func renderRunList(runs []report.Summary) string {
	if len(runs) == 0 {
		return "No runs recorded yet.\n"
	}
	var b strings.Builder
	for _, r := range runs {
		status := passStyle.Render("ok  ")
		if !r.Succeeded {
			status = failStyle.Render("FAIL")
		}
		fmt.Fprintf(&b, "%s  %-9s %s  %s", r.ID, r.Kind, r.Started.Format("2006-01-02 15:04:05"), status)
		if r.Error != "" {
			first, _, _ := strings.Cut(r.Error, "\n")
			fmt.Fprintf(&b, "  %s", faintStyle.Render(first))
		}
		b.WriteString("\n")
	}
	return b.String()
}
