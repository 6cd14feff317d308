package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

const (
	progressPadding  = 2
	progressMaxWidth = 80
)

var errorCountStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

// TotalMsg grows the number of expected runs.
type TotalMsg struct{ N int }

// AdvanceMsg marks runs as finished.
type AdvanceMsg struct{ N int }

// FailedMsg records a run that could not be loaded.
type FailedMsg struct{}

// DoneMsg ends the progress display.
type DoneMsg struct{}

// ProgressModel renders a progress bar for run loading. The total may grow
// while runs are loading; completed work is never reset.
type ProgressModel struct {
	title     string
	total     int
	completed int
	errors    int
	width     int
	done      bool

	bar    progress.Model
	danger progress.Model
}

// NewProgressModel creates a progress model with the given title.
func NewProgressModel(title string) ProgressModel {
	return ProgressModel{
		title:  title,
		bar:    progress.New(progress.WithDefaultGradient()),
		danger: progress.New(progress.WithGradient("#FF7CCB", "#FF0000")),
	}
}

// Fraction returns completed/total, or 0 before any total is known.
func (m ProgressModel) Fraction() float64 {
	if m.total == 0 {
		return 0
	}
	return float64(m.completed) / float64(m.total)
}

func (m ProgressModel) Init() tea.Cmd {
	return nil
}

func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		w := min(msg.Width-progressPadding*2, progressMaxWidth)
		m.bar.Width = w
		m.danger.Width = w
	case TotalMsg:
		m.total += msg.N
	case AdvanceMsg:
		m.completed += msg.N
	case FailedMsg:
		m.errors++
	case DoneMsg:
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m ProgressModel) View() string {
	pad := strings.Repeat(" ", progressPadding)
	bar := m.bar
	if m.errors > 0 {
		bar = m.danger
	}

	var b strings.Builder
	b.WriteString(pad + titleStyle.Render(m.title) + "\n\n")
	b.WriteString(pad + bar.ViewAs(m.Fraction()) + "\n")

	status := fmt.Sprintf("%d/%d runs", m.completed, m.total)
	if m.errors > 0 {
		status += " " + errorCountStyle.Render(fmt.Sprintf("%d failed", m.errors))
	}
	b.WriteString(pad + status + "\n")
	if m.done {
		b.WriteString("\n")
	}
	return b.String()
}

// ProgressSink shows load progress in the terminal. It implements
// progress.Sink.
type ProgressSink struct {
	prog *tea.Program
	done chan struct{}
}

// NewProgressSink starts a progress display writing to out.
func NewProgressSink(title string, out io.Writer) *ProgressSink {
	p := tea.NewProgram(NewProgressModel(title), tea.WithOutput(out), tea.WithInput(nil))
	s := &ProgressSink{prog: p, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		p.Run()
	}()
	return s
}

func (s *ProgressSink) IncrementTotal(n int) { s.prog.Send(TotalMsg{N: n}) }
func (s *ProgressSink) Advance(n int)        { s.prog.Send(AdvanceMsg{N: n}) }
func (s *ProgressSink) MarkError()           { s.prog.Send(FailedMsg{}) }

// Close stops the display and waits for the final frame to be drawn.
func (s *ProgressSink) Close() {
	s.prog.Send(DoneMsg{})
	<-s.done
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
