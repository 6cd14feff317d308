package tui

import (
	"bytes"
	"os"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clarabennett2626/runpilot/internal/progress"
)

var _ progress.Sink = (*ProgressSink)(nil)

func send(m ProgressModel, msgs ...tea.Msg) ProgressModel {
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(ProgressModel)
	}
	return m
}

func TestProgressModel_TotalGrowsWithoutReset(t *testing.T) {
	m := NewProgressModel("loading")
	m = send(m, TotalMsg{N: 2}, AdvanceMsg{N: 1}, TotalMsg{N: 2}, AdvanceMsg{N: 1})

	if m.total != 4 || m.completed != 2 {
		t.Errorf("total=%d completed=%d, want 4 and 2", m.total, m.completed)
	}
	if f := m.Fraction(); f != 0.5 {
		t.Errorf("Fraction() = %v, want 0.5", f)
	}
}

func TestProgressModel_FractionBeforeTotal(t *testing.T) {
	if f := NewProgressModel("x").Fraction(); f != 0 {
		t.Errorf("Fraction() = %v, want 0", f)
	}
}

func TestProgressModel_ErrorState(t *testing.T) {
	m := send(NewProgressModel("loading"), TotalMsg{N: 3}, FailedMsg{}, AdvanceMsg{N: 1})
	v := m.View()
	if !strings.Contains(v, "1 failed") {
		t.Errorf("View() should report failures: %q", v)
	}
	if !strings.Contains(v, "1/3 runs") {
		t.Errorf("View() should report counts: %q", v)
	}
}

func TestProgressModel_DoneQuits(t *testing.T) {
	m := NewProgressModel("loading")
	updated, cmd := m.Update(DoneMsg{})
	if !updated.(ProgressModel).done {
		t.Error("expected done after DoneMsg")
	}
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestProgressModel_WindowResize(t *testing.T) {
	m := send(NewProgressModel("loading"), tea.WindowSizeMsg{Width: 200, Height: 40})
	if m.bar.Width != progressMaxWidth {
		t.Errorf("bar width = %d, want %d", m.bar.Width, progressMaxWidth)
	}
	m = send(m, tea.WindowSizeMsg{Width: 40, Height: 40})
	if m.bar.Width != 36 {
		t.Errorf("bar width = %d, want 36", m.bar.Width)
	}
}

func TestProgressSink_Close(t *testing.T) {
	var out bytes.Buffer
	s := NewProgressSink("loading", &out)
	s.IncrementTotal(2)
	s.Advance(1)
	s.MarkError()
	s.Advance(1)
	s.Close()

	if !strings.Contains(out.String(), "2/2 runs") {
		t.Errorf("final frame should show completion, got %q", out.String())
	}
}

func TestIsTerminal_File(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if IsTerminal(f) {
		t.Error("regular file should not be a terminal")
	}
}
