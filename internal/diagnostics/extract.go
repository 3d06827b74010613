package diagnostics

import (
	"slices"
	"strings"

	"github.com/deixis/droidship/internal/adb"
)

// DrawState returns the last `dumpsys activity activities` line that
// mentions pkg and carries a reportedDrawn= field, or "".
func DrawState(output, pkg string) string {
	return last(adb.LinesContaining(output, pkg, "reportedDrawn="))
}

// SplashWindow returns the last `dumpsys window windows` line naming a
// splash screen window of pkg, or "". A splash window that outlives the
// launch means the app never drew its first frame.
func SplashWindow(output, pkg string) string {
	return last(adb.LinesContaining(output, "Splash Screen", pkg))
}

// Trail is how far the app's bootstrap got, judged from the breadcrumb
// lines it logs.
type Trail struct {
	Last    string   `json:"last,omitempty"` // last tagged line seen
	Reached []string `json:"reached,omitempty"`
	Missing []string `json:"missing,omitempty"`
}

// Complete reports whether every expected breadcrumb was seen.
func (t Trail) Complete() bool {
	return t.Last != "" && len(t.Missing) == 0
}

// Summary renders the trail as human-readable lines.
func (t Trail) Summary() []string {
	if t.Last == "" {
		return []string{"No bootstrap breadcrumbs were found in filtered logcat output."}
	}
	out := []string{"Last bootstrap breadcrumb: " + t.Last}
	if len(t.Missing) > 0 {
		out = append(out, "Missing expected breadcrumbs: "+strings.Join(t.Missing, ", "))
	} else {
		out = append(out, "Reached all expected bootstrap breadcrumbs.")
	}
	return out
}

// FollowBreadcrumbs finds the lines of logcat containing tag and checks
// which of the expected messages appear among them. With no tagged
// lines at all, nothing is reported as missing: the log may simply not
// have been captured.
func FollowBreadcrumbs(logcat, tag string, expected []string) Trail {
	lines := adb.LinesContaining(logcat, tag)
	if len(lines) == 0 {
		return Trail{}
	}
	t := Trail{Last: lines[len(lines)-1]}
	for _, msg := range expected {
		seen := slices.ContainsFunc(lines, func(l string) bool { return strings.Contains(l, msg) })
		if seen {
			t.Reached = append(t.Reached, msg)
		} else {
			t.Missing = append(t.Missing, msg)
		}
	}
	return t
}

func last(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
