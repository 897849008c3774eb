// Package ui is the read-only status dashboard: a single bubbletea
// screen that polls the daemon's state snapshot and recent decision
// log and renders them, generalizing the teacher's many-page live
// collector dashboard down to the one domain this system has an
// Overview page for.
package ui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/telemetry"
)

// kv is one rendered key-value row in a status box.
type kv struct {
	Key string
	Val string
}

// pollInterval mirrors the daemon's own tick cadence closely enough
// that the dashboard never looks stale without hammering the state file.
const pollInterval = 2 * time.Second

type tickMsg time.Time

type pollMsg struct {
	snap    model.StateSnapshot
	recent  []model.DecisionRecord
	err     error
}

// Model is the dashboard's bubbletea state: the last successfully
// polled snapshot plus whatever error (if any) the most recent poll
// produced, so a daemon restart or a transient read failure degrades
// to a status line instead of blanking the screen.
type Model struct {
	statePath string
	reader    telemetry.TelemetryReader

	snap       model.StateSnapshot
	recent     []model.DecisionRecord
	lastErr    error
	lastPolled time.Time
	width      int
	height     int
}

// New constructs a dashboard Model polling statePath for the state
// snapshot and reader for recent decisions.
func New(statePath string, reader telemetry.TelemetryReader) Model {
	return Model{statePath: statePath, reader: reader}
}

func tick() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) poll() tea.Msg {
	snap, err := telemetry.ReadStateSnapshot(m.statePath)
	if err != nil {
		return pollMsg{err: err}
	}
	var recent []model.DecisionRecord
	if m.reader != nil {
		recent, _ = m.reader.Recent(10)
	}
	return pollMsg{snap: snap, recent: recent}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tickMsg:
		return m, tea.Batch(m.poll, tick())
	case pollMsg:
		m.lastPolled = time.Now()
		if msg.err != nil {
			m.lastErr = msg.err
			return m, nil
		}
		m.lastErr = nil
		m.snap = msg.snap
		m.recent = msg.recent
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("sbh — storage ballast helper"))
	b.WriteString("\n\n")

	if m.lastErr != nil {
		b.WriteString(warnStyle.Render(fmt.Sprintf("no state snapshot yet: %v", m.lastErr)))
		b.WriteString("\n\n")
		b.WriteString(helpStyle.Render("q: quit"))
		return b.String()
	}

	modeStyle := okStyle
	switch m.snap.Mode {
	case model.ModeFallbackSafe:
		modeStyle = critStyle
	case model.ModeCanary:
		modeStyle = warnStyle
	}

	details := []kv{
		{Key: "mode", Val: modeStyle.Render(string(m.snap.Mode))},
		{Key: "worst mount", Val: valueStyle.Render(m.snap.WorstMount)},
		{Key: "free %", Val: valueStyle.Render(fmtPct(m.snap.FreePct))},
		{Key: "pressure level", Val: valueStyle.Render(m.snap.Level.String())},
		{Key: "urgency", Val: valueStyle.Render(fmt.Sprintf("%.2f", m.snap.Urgency))},
		{Key: "seconds to exhaustion", Val: valueStyle.Render(fmt.Sprintf("%.0f", m.snap.SecondsToExhaustion))},
		{Key: "guard status", Val: guardStyle(m.snap.GuardStatus).Render(string(m.snap.GuardStatus))},
		{Key: "approved deletes (total)", Val: valueStyle.Render(fmt.Sprintf("%d", m.snap.ApprovedDeletesTotal))},
	}
	if m.snap.FallbackReason != nil {
		details = append(details, kv{Key: "fallback reason", Val: critStyle.Render(string(*m.snap.FallbackReason))})
	}

	innerW := pageInnerW(m.width)
	if innerW <= 0 {
		innerW = 60
	}
	b.WriteString(renderKVBox(details, innerW))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("recent decisions"))
	b.WriteString("\n")
	if len(m.recent) == 0 {
		b.WriteString(dimStyle.Render("  (none recorded yet)\n"))
	}
	for _, rec := range m.recent {
		line := fmt.Sprintf("  #%-6d %-8s %-40s score=%.2f",
			rec.DecisionID, rec.Action.Effective, truncate(rec.Path, 40), rec.TotalScore)
		b.WriteString(valueStyle.Render(line))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(helpStyle.Render(fmt.Sprintf("last polled %s ago · q: quit", time.Since(m.lastPolled).Round(time.Second))))
	return b.String()
}

func guardStyle(s model.GuardStatus) lipgloss.Style {
	switch s {
	case model.GuardPass:
		return okStyle
	case model.GuardFail:
		return critStyle
	default:
		return dimStyle
	}
}
