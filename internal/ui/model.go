// ABOUTME: Bubbletea model for the visualizer TUI
// ABOUTME: Now-playing card, history panel, spectrum view and debug panel
package ui

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Resonate-Protocol/resonate-vis/pkg/analysis"
	"github.com/Resonate-Protocol/resonate-vis/pkg/history"
	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
)

const (
	historyRows     = 8
	minVisualRows   = 4
	maxVisualRows   = 16
	minVisualCols   = 16
	cardChromeLines = 14
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sectionStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
	faintStyle   = lipgloss.NewStyle().Faint(true)
	badgeStyle   = lipgloss.NewStyle().Padding(0, 1).Foreground(lipgloss.Color("0"))
)

// StatusMsg reports connection state and counters
type StatusMsg struct {
	State      protocol.State
	Server     string
	Visualizer string
	Stats      *DebugStats
}

// TrackMsg carries a track-change notification
type TrackMsg struct {
	Track analysis.Track
}

// HistoryMsg carries a refreshed play history
type HistoryMsg struct {
	Entries []history.Entry
}

// FrameMsg carries a frame presented by the text surface
type FrameMsg struct {
	View string
}

// DebugStats are the counters shown in the debug panel
type DebugStats struct {
	Frames       uint64
	Malformed    uint64
	TrackChanges uint64
	Reconnects   int
	Rendered     uint64
	RenderErrors uint64
	AssetsActive int
	AssetsStale  int
	AssetsQueued int
}

// Model represents the TUI state
type Model struct {
	// Connection
	state  protocol.State
	server string

	// Now playing
	track      *analysis.Track
	visualizer string
	frame      string

	// History
	history     []history.Entry
	showHistory bool

	// Debug
	stats     DebugStats
	showDebug bool

	// Dimensions
	width  int
	height int
	size   *viewSize

	controls *Controls
}

// viewSize is shared with the render loop, which reads it every frame
type viewSize struct {
	cols atomic.Int32
	rows atomic.Int32
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeVisual()
	case StatusMsg:
		m.applyStatus(msg)
	case TrackMsg:
		t := msg.Track
		m.track = &t
	case HistoryMsg:
		m.history = msg.Entries
	case FrameMsg:
		m.frame = msg.View
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderTrack())
	b.WriteString("\n")
	b.WriteString(m.renderVisual())

	if m.showHistory {
		b.WriteString("\n")
		b.WriteString(m.renderHistory())
	}
	if m.showDebug {
		b.WriteString("\n")
		b.WriteString(m.renderDebug())
	}

	b.WriteString("\n")
	b.WriteString(faintStyle.Render("v:Visualizer  h:History  d:Debug  r:Reconnect  q:Quit"))
	return b.String()
}

// renderHeader renders the title and connection indicator
func (m Model) renderHeader() string {
	icon := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("●")
	switch m.state {
	case protocol.Connected:
		icon = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("●")
	case protocol.Connecting:
		icon = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("●")
	}

	status := m.state.String()
	if m.server != "" {
		status += " " + m.server
	}
	return titleStyle.Render("Resonate Visualizer") + "  " + icon + " " + valueStyle.Render(status)
}

// renderTrack renders the now-playing card
func (m Model) renderTrack() string {
	if m.track == nil {
		return valueStyle.Render("Waiting for a track...") + "\n"
	}

	t := m.track
	width := m.width - 12
	if width < 10 {
		width = 10
	}

	var b strings.Builder
	field := func(label, value string) {
		if value == "" {
			return
		}
		b.WriteString(headerStyle.Render(fmt.Sprintf("%-8s", label)))
		b.WriteString(valueStyle.Render(truncate(value, width)))
		b.WriteString("\n")
	}

	field("Track:", t.Title)
	field("Artist:", t.Artist)
	field("Album:", t.Album)
	field("Genres:", strings.Join(t.Genres, ", "))

	b.WriteString(sourceBadge(t.Source))
	if c, ok := t.Accent(); ok {
		swatch := lipgloss.NewStyle().Background(lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)))
		b.WriteString(" ")
		b.WriteString(swatch.Render("    "))
	}
	if t.Video != nil && t.Video.Title != "" {
		b.WriteString(" ")
		b.WriteString(faintStyle.Render("▶ " + truncate(t.Video.Title, width/2)))
	}
	b.WriteString("\n")
	return b.String()
}

// renderVisual renders the latest text-surface frame
func (m Model) renderVisual() string {
	title := "Visualizer"
	if m.visualizer != "" {
		title += ": " + m.visualizer
	}

	var b strings.Builder
	b.WriteString(sectionStyle.Render(title))
	b.WriteString("\n")
	if m.frame == "" {
		b.WriteString(faintStyle.Render("  (no frames)"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(m.frame)
	b.WriteString("\n")
	return b.String()
}

// renderHistory renders the most recent plays
func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(sectionStyle.Render(fmt.Sprintf("History (%d)", len(m.history))))
	b.WriteString("\n")

	if len(m.history) == 0 {
		b.WriteString(faintStyle.Render("  No plays yet"))
		b.WriteString("\n")
		return b.String()
	}

	for i, e := range m.history {
		if i == historyRows {
			break
		}
		when := ""
		if !e.Timestamp.IsZero() {
			when = e.Timestamp.Local().Format(time.Kitchen)
		}
		b.WriteString(fmt.Sprintf("  %-8s ", when))
		b.WriteString(valueStyle.Render(truncate(e.Artist+" - "+e.Title, m.width-14)))
		b.WriteString("\n")
	}
	return b.String()
}

// renderDebug renders internal counters
func (m Model) renderDebug() string {
	s := m.stats
	return sectionStyle.Render("Debug") + "\n" + valueStyle.Render(fmt.Sprintf(
		"  Frames: %d  Malformed: %d  Track changes: %d  Pending reconnects: %d\n"+
			"  Rendered: %d  Render errors: %d\n"+
			"  Assets active: %d  stale: %d  loading: %d\n",
		s.Frames, s.Malformed, s.TrackChanges, s.Reconnects,
		s.Rendered, s.RenderErrors,
		s.AssetsActive, s.AssetsStale, s.AssetsQueued))
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.controls.send(ActionQuit)
		return m, tea.Quit
	case "v":
		m.controls.send(ActionNextVisualizer)
	case "r":
		m.controls.send(ActionReconnect)
	case "h":
		m.showHistory = !m.showHistory
		m.resizeVisual()
	case "d":
		m.showDebug = !m.showDebug
		m.resizeVisual()
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.state = msg.State
	if msg.Server != "" {
		m.server = msg.Server
	}
	if msg.Visualizer != "" {
		m.visualizer = msg.Visualizer
	}
	if msg.Stats != nil {
		m.stats = *msg.Stats
	}
}

// resizeVisual derives the spectrum panel size from the window
func (m *Model) resizeVisual() {
	if m.size == nil {
		return
	}

	cols := m.width - 2
	if cols < minVisualCols {
		cols = minVisualCols
	}

	rows := m.height - cardChromeLines
	if m.showHistory {
		rows -= historyRows + 2
	}
	if m.showDebug {
		rows -= 5
	}
	if rows < minVisualRows {
		rows = minVisualRows
	}
	if rows > maxVisualRows {
		rows = maxVisualRows
	}

	m.size.cols.Store(int32(cols))
	m.size.rows.Store(int32(rows))
}

func sourceBadge(s analysis.DetectionSource) string {
	label, color := "unknown", "8"
	switch s {
	case analysis.SourceDOMScrape:
		label, color = "tab", "12"
	case analysis.SourceMediaSession:
		label, color = "media session", "13"
	case analysis.SourceFingerprint:
		label, color = "fingerprint", "14"
	}
	return badgeStyle.Background(lipgloss.Color(color)).Render(label)
}

func truncate(s string, length int) string {
	r := []rune(s)
	if length < 4 || len(r) <= length {
		return s
	}
	return string(r[:length-3]) + "..."
}
