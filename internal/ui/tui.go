// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and relays key actions to the app
package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-vis/pkg/protocol"
)

// Action is a user request raised from the keyboard
type Action int

const (
	ActionNextVisualizer Action = iota
	ActionReconnect
	ActionQuit
)

// Controls carries key actions out of the TUI
type Controls struct {
	Actions chan Action
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{Actions: make(chan Action, 10)}
}

func (c *Controls) send(a Action) {
	if c == nil {
		return
	}
	select {
	case c.Actions <- a:
	default:
		// Don't block the UI if nobody is listening
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		state:    protocol.Disconnected,
		controls: controls,
		size:     &viewSize{},
	}
}

// TUI runs the bubbletea program
type TUI struct {
	program *tea.Program
	size    *viewSize
}

// New creates the TUI; Run blocks until the user quits
func New(controls *Controls) *TUI {
	m := NewModel(controls)
	m.size.cols.Store(minVisualCols * 4)
	m.size.rows.Store(minVisualRows * 2)
	return &TUI{
		program: tea.NewProgram(m, tea.WithAltScreen()),
		size:    m.size,
	}
}

// Run starts the TUI and blocks until it exits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Send delivers a message to the model
func (t *TUI) Send(msg tea.Msg) {
	t.program.Send(msg)
}

// VisualSize returns the cell size of the spectrum panel
func (t *TUI) VisualSize() (cols, rows int) {
	return int(t.size.cols.Load()), int(t.size.rows.Load())
}

// Stop quits the program
func (t *TUI) Stop() {
	t.program.Quit()
}
