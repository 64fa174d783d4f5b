// Package monitor renders a live terminal view of one bulk audit task.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/lmaudit/internal/orchestrator"
	"github.com/fyrsmithlabs/lmaudit/internal/rules"
)

const (
	sparklineWidth  = 40
	sparklineHeight = 3
	fetchTimeout    = 5 * time.Second
	shownErrors     = 3
)

// TaskSource fetches task snapshots.
type TaskSource interface {
	Task(ctx context.Context, id string) (orchestrator.Task, error)
}

// Model is the Bubble Tea model of the task watch view.
type Model struct {
	source     TaskSource
	taskID     string
	interval   time.Duration
	task       orchestrator.Task
	loaded     bool
	lastUpdate time.Time
	err        error
	quitting   bool
	now        func() time.Time

	bar progress.Model
}

var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).MarginTop(1)
	footerKeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51")).Bold(true)
	sparklineStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("51"))
)

// NewModel creates a view that polls taskID every interval.
func NewModel(source TaskSource, taskID string, interval time.Duration) Model {
	if interval <= 0 {
		interval = time.Second
	}
	return Model{
		source:   source,
		taskID:   taskID,
		interval: interval,
		now:      time.Now,
		bar: progress.New(
			progress.WithGradient("#00ffff", "#00ff00"),
			progress.WithWidth(40),
		),
	}
}

// Task returns the last snapshot received.
func (m Model) Task() orchestrator.Task {
	return m.task
}

// Err returns the last fetch error, if the most recent fetch failed.
func (m Model) Err() error {
	return m.err
}

type tickMsg time.Time
type taskMsg orchestrator.Task
type errMsg struct{ err error }

// Init fetches the first snapshot and starts polling.
func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(m.interval), fetchTask(m.source, m.taskID))
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchTask(source TaskSource, id string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		task, err := source.Task(ctx, id)
		if err != nil {
			return errMsg{err}
		}
		return taskMsg(task)
	}
}

// Update handles key presses, poll ticks and fetch results. The program
// quits once the task reaches a terminal state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchTask(m.source, m.taskID)
		}

	case tickMsg:
		if m.loaded && m.task.State.Terminal() {
			return m, nil
		}
		return m, tea.Batch(tick(m.interval), fetchTask(m.source, m.taskID))

	case taskMsg:
		m.task = orchestrator.Task(msg)
		m.loaded = true
		m.lastUpdate = m.now()
		m.err = nil
		if m.task.State.Terminal() {
			return m, tea.Quit
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		return m, nil
	}
	return m, nil
}

// View renders the task. The final frame stays on screen after quitting
// because of a finished task; a user quit clears it.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(" lmaudit task " + m.taskID + " "))
	b.WriteString("\n")

	if m.err != nil && !m.loaded {
		b.WriteString("\n" + errorStyle.Render("✗ Cannot fetch task") + "\n")
		b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n")
		b.WriteString(m.footer())
		return containerStyle.Render(b.String())
	}
	if !m.loaded {
		b.WriteString("\n" + dimStyle.Render("waiting for first update...") + "\n")
		b.WriteString(m.footer())
		return containerStyle.Render(b.String())
	}

	t := m.task
	b.WriteString(stateBadge(t) + "   " +
		dimStyle.Render("Elapsed:") + " " + valueStyle.Render(FormatDuration(Elapsed(t, m.now()))) + "   " +
		dimStyle.Render(m.lastUpdate.Format("15:04:05")) + "\n")
	if t.Category != "" {
		b.WriteString(labelStyle.Render("  Category: ") + valueStyle.Render(t.Category))
		if t.Marketplace != "" {
			b.WriteString(labelStyle.Render("  Marketplace: ") + valueStyle.Render(t.Marketplace))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n" + sectionStyle.Render("┃ Progress") + "\n")
	b.WriteString("  " + m.bar.ViewAs(t.Progress()) + "\n")
	b.WriteString(labelStyle.Render("  Products: ") + valueStyle.Render(FormatCounts(t)) + "\n")

	scores := Scores(t)
	b.WriteString("\n" + sectionStyle.Render("┃ Compliance scores") + "\n")
	b.WriteString("  " + scoreSparkline(scores) + "\n")
	if len(scores) > 0 {
		compliant, moderate, high := bands(t)
		b.WriteString(labelStyle.Render("  Average: ") + valueStyle.Render(fmt.Sprintf("%.1f", average(scores))) +
			"   " + healthyStyle.Render(fmt.Sprintf("%d compliant", compliant)) +
			"  " + warningStyle.Render(fmt.Sprintf("%d moderate", moderate)) +
			"  " + errorStyle.Render(fmt.Sprintf("%d high risk", high)) + "\n")
	}

	if len(t.Errors) > 0 || t.Error != "" {
		b.WriteString("\n" + sectionStyle.Render("┃ Errors") + "\n")
		if t.Error != "" {
			b.WriteString("  " + errorStyle.Render(t.Error) + "\n")
		}
		start := len(t.Errors) - shownErrors
		if start < 0 {
			start = 0
		}
		for _, e := range t.Errors[start:] {
			b.WriteString("  " + dimStyle.Render(e) + "\n")
		}
	}
	if m.err != nil {
		b.WriteString("\n" + warningStyle.Render("⚠ last refresh failed: ") + dimStyle.Render(m.err.Error()) + "\n")
	}

	b.WriteString(m.footer())
	return containerStyle.Render(b.String())
}

func (m Model) footer() string {
	return "\n" + footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("every %v", m.interval))
}

func stateBadge(t orchestrator.Task) string {
	switch {
	case t.State == orchestrator.StateFailed:
		return errorStyle.Render("✗ FAILED")
	case t.State == orchestrator.StateCompleted && t.Cancelled:
		return warningStyle.Render("■ CANCELLED")
	case t.State == orchestrator.StateCompleted:
		return healthyStyle.Render("✓ COMPLETED")
	case t.State == orchestrator.StateRunning:
		return valueStyle.Render("▶ RUNNING")
	}
	return dimStyle.Render("… PENDING")
}

// Scores lists the compliance scores of a task's results in completion order.
func Scores(t orchestrator.Task) []float64 {
	out := make([]float64, 0, len(t.Results))
	for _, r := range t.Results {
		if r != nil {
			out = append(out, float64(r.ComplianceScore))
		}
	}
	return out
}

func bands(t orchestrator.Task) (compliant, moderate, high int) {
	for _, r := range t.Results {
		if r == nil {
			continue
		}
		switch r.RiskLevel {
		case rules.Compliant:
			compliant++
		case rules.ModerateRisk:
			moderate++
		case rules.HighRisk:
			high++
		}
	}
	return compliant, moderate, high
}

func average(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var sum float64
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

// scoreSparkline draws the most recent scores, one column each.
func scoreSparkline(scores []float64) string {
	if len(scores) == 0 {
		return dimStyle.Render("no results yet")
	}
	spark := sparkline.New(sparklineWidth, sparklineHeight)
	if len(scores) > sparklineWidth {
		scores = scores[len(scores)-sparklineWidth:]
	}
	for _, v := range scores {
		spark.Push(v)
	}
	spark.Draw()
	return sparklineStyle.Render(spark.View())
}
