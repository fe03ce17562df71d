package output

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/M0Rf30/cosmic-ext-quake-terminal/internal/models"
	"github.com/olekukonko/tablewriter"
)

// PrintStatus prints the daemon state followed by the toplevel table
func PrintStatus(st *models.Status) {
	FprintStatus(os.Stdout, st)
}

// FprintStatus writes the status tables to w
func FprintStatus(w io.Writer, st *models.Status) {
	table := tablewriter.NewWriter(w)
	table.Header("Field", "Value")

	connected := "no"
	if st.Connected {
		connected = "yes"
	}

	table.Append("State", st.State)
	table.Append("Backend", orDash(st.Backend))
	table.Append("Connected", connected)
	table.Append("Terminal", orDash(st.Terminal))
	table.Append("Marker", orDash(st.Marker))
	table.Append("PID", formatPID(st.PID))
	table.Append("Uptime", formatUptime(st.SpawnedAt, time.Now()))
	table.Append("Window", orDash(st.Handle))
	table.Append("Title", truncate(orDash(st.Title), 40))
	table.Render()

	if len(st.Toplevels) > 0 {
		fmt.Fprintln(w)
		FprintToplevels(w, st.Toplevels)
	}
}

// FprintToplevels writes one row per compositor window, marking the tracked one
func FprintToplevels(w io.Writer, toplevels []models.Toplevel) {
	table := tablewriter.NewWriter(w)
	table.Header("", "Handle", "App ID", "Title", "Minimized", "Focused")

	for _, tl := range toplevels {
		tracked := ""
		if tl.Tracked {
			tracked = "*"
		}
		table.Append(
			tracked,
			truncate(tl.Handle, 24),
			truncate(tl.AppID, 30),
			truncate(tl.Title, 40),
			check(tl.Minimized),
			check(tl.Activated),
		)
	}

	table.Render()
}

func check(b bool) string {
	if b {
		return "✓"
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatPID(pid int) string {
	if pid == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", pid)
}

func formatUptime(since *time.Time, now time.Time) string {
	if since == nil {
		return "-"
	}
	return now.Sub(*since).Truncate(time.Second).String()
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
