package monitor

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
)

// FormatPercentage formats a ratio (0-1) as a percentage.
func FormatPercentage(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

// FormatDuration formats d as "Xh Ym", "Xm Ys" or "Xs".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	hours := secs / 3600
	minutes := (secs % 3600) / 60
	seconds := secs % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// FormatCounts renders the outcome counters of a task, e.g. "7/10 done (1 failed)".
func FormatCounts(t orchestrator.Task) string {
	if t.Total == 0 {
		return "discovering products"
	}
	s := fmt.Sprintf("%d/%d done", t.Done(), t.Total)
	if t.Failed > 0 {
		s += fmt.Sprintf(" (%d failed)", t.Failed)
	}
	return s
}

// Elapsed is how long the task has run, or ran if it finished.
func Elapsed(t orchestrator.Task, now time.Time) time.Duration {
	if t.CreatedAt.IsZero() {
		return 0
	}
	if t.FinishedAt != nil {
		return t.FinishedAt.Sub(t.CreatedAt)
	}
	return now.Sub(t.CreatedAt)
}
