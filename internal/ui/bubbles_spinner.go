package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// SpinnerFrames defines the animation frames for Bubble Tea programs,
// matching the standalone CLI spinner's look.
var SpinnerFrames = spinner.Spinner{
	Frames: []string{"◐", "◓", "◑", "◒"},
	FPS:    time.Second / 10,
}

// SpinnerComponentState represents the state of an embedded spinner.
type SpinnerComponentState int

const (
	SpinnerComponentPending SpinnerComponentState = iota
	SpinnerComponentInProgress
	SpinnerComponentSuccess
	SpinnerComponentFailed
)

// SpinnerComponent is a Bubble Tea model for embedding spinners in TUI
// programs. Unlike the standalone Spinner it is composed into larger
// models rather than writing to the terminal itself.
type SpinnerComponent struct {
	spinner spinner.Model
	Label   string
	State   SpinnerComponentState
}

// NewSpinnerComponent creates a spinner component with the given label.
func NewSpinnerComponent(label string) SpinnerComponent {
	sp := spinner.New()
	sp.Spinner = SpinnerFrames
	sp.Style = lipgloss.NewStyle().Foreground(ColorSecondary)

	return SpinnerComponent{
		spinner: sp,
		Label:   label,
		State:   SpinnerComponentPending,
	}
}

// Init returns the initial tick command.
func (s SpinnerComponent) Init() tea.Cmd {
	return s.spinner.Tick
}

// Update handles spinner animation messages.
func (s SpinnerComponent) Update(msg tea.Msg) (SpinnerComponent, tea.Cmd) {
	if s.State != SpinnerComponentInProgress {
		return s, nil
	}
	if tickMsg, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		s.spinner, cmd = s.spinner.Update(tickMsg)
		return s, cmd
	}
	return s, nil
}

// spinnerDoneMsg carries the result of the work RunSpinner animates over.
type spinnerDoneMsg struct{ err error }

// spinnerProgram drives one SpinnerComponent over a single unit of work.
type spinnerProgram struct {
	comp SpinnerComponent
	work func() error
	err  error
}

func (m spinnerProgram) Init() tea.Cmd {
	return tea.Batch(m.comp.Init(), func() tea.Msg { return spinnerDoneMsg{m.work()} })
}

func (m spinnerProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if done, ok := msg.(spinnerDoneMsg); ok {
		m.err = done.err
		if done.err != nil {
			m.comp.State = SpinnerComponentFailed
		} else {
			m.comp.State = SpinnerComponentSuccess
		}
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.comp, cmd = m.comp.Update(msg)
	return m, cmd
}

func (m spinnerProgram) View() string { return m.comp.View() + "\n" }

// RunSpinner animates a spinner while work runs, leaving the final
// success or failure line on screen, and returns work's error. If the
// terminal program can't start, work still runs, just without the
// animation.
func RunSpinner(label string, work func() error) error {
	var (
		once sync.Once
		werr error
	)
	runWork := func() error {
		once.Do(func() { werr = work() })
		return werr
	}

	comp := NewSpinnerComponent(label)
	comp.State = SpinnerComponentInProgress
	final, err := tea.NewProgram(spinnerProgram{comp: comp, work: runWork}).Run()
	if err != nil {
		return runWork()
	}
	return final.(spinnerProgram).err
}

// View renders the spinner in its current state.
func (s SpinnerComponent) View() string {
	switch s.State {
	case SpinnerComponentInProgress:
		return fmt.Sprintf("%s %s", s.spinner.View(), s.Label)
	case SpinnerComponentSuccess:
		return fmt.Sprintf("%s %s", SuccessStyle().Render(SymbolComplete), s.Label)
	case SpinnerComponentFailed:
		return fmt.Sprintf("%s %s", ErrorStyle().Render(SymbolFail), s.Label)
	default:
		return fmt.Sprintf("%s %s", MutedStyle().Render(SymbolPending), s.Label)
	}
}
