package notifier

import (
	"fmt"
	"html"
	"strings"

	"reportd/internal/eventbus"
	"reportd/internal/job"
)

// tailLimit bounds the stderr excerpt included in an alert.
const tailLimit = 800

// FormatOutcome renders a finished run as an HTML Telegram message.
func FormatOutcome(host string, ev eventbus.JobFinished) string {
	out := ev.Outcome
	var b strings.Builder

	icon := "✅"
	if !out.OK() {
		icon = "❌"
	}
	fmt.Fprintf(&b, "%s <b>report job %s</b>", icon, html.EscapeString(strings.ToUpper(string(out.Status))))
	if host != "" {
		fmt.Fprintf(&b, " on <code>%s</code>", html.EscapeString(host))
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "slot: <b>%s</b>", html.EscapeString(out.Slot))
	if ev.Trigger != "" && ev.Trigger != "scheduled" {
		fmt.Fprintf(&b, " (%s)", html.EscapeString(ev.Trigger))
	}
	b.WriteString("\n")
	if !out.StartedAt.IsZero() {
		fmt.Fprintf(&b, "started: %s\n", out.StartedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(&b, "took: %.1fs\n", out.Duration.Seconds())

	switch out.Status {
	case job.StatusOK:
	case job.StatusFailed:
		fmt.Fprintf(&b, "exit code: <b>%d</b>\n", out.ExitCode)
	default:
		if out.Err != nil {
			fmt.Fprintf(&b, "error: %s\n", html.EscapeString(out.Err.Error()))
		}
	}

	if !out.OK() {
		if tail := lastBytes(strings.TrimSpace(out.Stderr), tailLimit); tail != "" {
			fmt.Fprintf(&b, "<pre>%s</pre>", html.EscapeString(tail))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// lastBytes keeps the end of s, cut at a line start when one is near.
func lastBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	if i := strings.IndexByte(s, '\n'); i >= 0 && i < n/4 {
		s = s[i+1:]
	}
	return "…" + strings.ToValidUTF8(s, "")
}
