package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)

	statusKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Background(lipgloss.Color("#333333")).
			Bold(true).
			Padding(0, 1)

	statusErrStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("#333333")).
			Padding(0, 1)
)

// ContentMsg replaces the table shown by the viewer, e.g. after a reload.
// Lines are as produced by Renderer: header, rule, then one line per row.
type ContentMsg struct {
	Lines []string
}

// ErrMsg shows a load error in the status bar until the next reload.
type ErrMsg struct {
	Err error
}

// headerLines is the number of rendered lines pinned above the rows.
const headerLines = 2

// chrome is the title bar, the blank line under it and the status bar.
const chrome = 3

// hStep is how many columns a horizontal scroll moves.
const hStep = 8

type keyMap struct {
	Quit, Down, Up, PageDown, PageUp, HalfDown, HalfUp, Top, Bottom, Left, Right key.Binding
}

var keys = keyMap{
	Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Down:     key.NewBinding(key.WithKeys("j", "down")),
	Up:       key.NewBinding(key.WithKeys("k", "up")),
	PageDown: key.NewBinding(key.WithKeys("pgdown", "f", "ctrl+f", " ")),
	PageUp:   key.NewBinding(key.WithKeys("pgup", "b", "ctrl+b")),
	HalfDown: key.NewBinding(key.WithKeys("d", "ctrl+d")),
	HalfUp:   key.NewBinding(key.WithKeys("u", "ctrl+u")),
	Top:      key.NewBinding(key.WithKeys("g", "home")),
	Bottom:   key.NewBinding(key.WithKeys("G", "end")),
	Left:     key.NewBinding(key.WithKeys("h", "left")),
	Right:    key.NewBinding(key.WithKeys("l", "right")),
}

// Model is a scrollable table viewer. The header stays pinned while rows
// scroll; wide tables scroll sideways. In follow mode the newest rows stay
// in view as reloads grow the table.
type Model struct {
	width  int
	height int
	ready  bool

	runName string
	header  []string
	rows    []string

	top     int // first visible row
	left    int // first visible column
	follow  bool
	reloads int
	err     error
}

// NewModel returns an empty viewer in follow mode.
func NewModel() Model {
	return Model{follow: true}
}

// NewModelWithContent returns a viewer over lines for the named run,
// positioned at the first row.
func NewModelWithContent(runName string, lines []string) Model {
	m := Model{runName: runName}
	m.setLines(lines)
	return m
}

func (m *Model) setLines(lines []string) {
	n := min(headerLines, len(lines))
	m.header = lines[:n]
	m.rows = lines[n:]
}

// bodyHeight is the number of rows that fit under the pinned header.
func (m Model) bodyHeight() int {
	return max(m.height-chrome-len(m.header), 1)
}

func (m Model) lastTop() int {
	return max(len(m.rows)-m.bodyHeight(), 0)
}

func (m *Model) scrollTo(top int) {
	m.top = min(max(top, 0), m.lastTop())
	m.follow = m.top == m.lastTop()
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		page := m.bodyHeight()
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Down):
			m.scrollTo(m.top + 1)
		case key.Matches(msg, keys.Up):
			m.scrollTo(m.top - 1)
		case key.Matches(msg, keys.PageDown):
			m.scrollTo(m.top + page)
		case key.Matches(msg, keys.PageUp):
			m.scrollTo(m.top - page)
		case key.Matches(msg, keys.HalfDown):
			m.scrollTo(m.top + page/2)
		case key.Matches(msg, keys.HalfUp):
			m.scrollTo(m.top - page/2)
		case key.Matches(msg, keys.Top):
			m.scrollTo(0)
		case key.Matches(msg, keys.Bottom):
			m.scrollTo(m.lastTop())
		case key.Matches(msg, keys.Left):
			m.left = max(m.left-hStep, 0)
		case key.Matches(msg, keys.Right):
			m.left = min(m.left+hStep, max(m.tableWidth()-m.width, 0))
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.ready = true
		m.settle()

	case ContentMsg:
		m.setLines(msg.Lines)
		m.reloads++
		m.err = nil
		m.settle()

	case ErrMsg:
		m.err = msg.Err
	}
	return m, nil
}

// settle keeps the row position valid after the table or window changed.
func (m *Model) settle() {
	if m.follow {
		m.top = m.lastTop()
		return
	}
	m.top = min(m.top, m.lastTop())
}

func (m Model) tableWidth() int {
	w := 0
	for _, l := range m.header {
		w = max(w, ansi.StringWidth(l))
	}
	return w
}

// clip cuts the visible horizontal window out of a rendered line.
func (m Model) clip(line string) string {
	if m.width <= 0 {
		return line
	}
	return ansi.Cut(line, m.left, m.left+m.width)
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("runpilot"))
	b.WriteString("\n\n")

	for _, l := range m.header {
		b.WriteString(m.clip(l))
		b.WriteByte('\n')
	}

	body := m.bodyHeight()
	if len(m.rows) == 0 {
		b.WriteString("  No rows yet. Waiting for data...\n")
		body--
	}
	end := min(m.top+body, len(m.rows))
	for i := m.top; i < end; i++ {
		b.WriteString(m.clip(m.rows[i]))
		b.WriteByte('\n')
	}
	for i := max(end-m.top, 0); i < body; i++ {
		b.WriteByte('\n')
	}

	b.WriteString(m.statusBar())
	return b.String()
}

func (m Model) statusBar() string {
	run := m.runName
	if run == "" {
		run = "-"
	}
	first, last := 0, 0
	if len(m.rows) > 0 {
		first = m.top + 1
		last = min(m.top+m.bodyHeight(), len(m.rows))
	}
	pos := "follow"
	if !m.follow {
		pos = fmt.Sprintf("%d%%", m.top*100/max(m.lastTop(), 1))
	}

	left := statusKeyStyle.Render("Rows:") + statusBarStyle.Render(fmt.Sprintf(" %d-%d of %d ", first, last, len(m.rows))) +
		statusKeyStyle.Render("Run:") + statusBarStyle.Render(" "+run+" ")
	if m.reloads > 0 {
		left += statusKeyStyle.Render("Reloads:") + statusBarStyle.Render(fmt.Sprintf(" %d ", m.reloads))
	}
	if m.err != nil {
		left += statusErrStyle.Render(m.err.Error())
	}
	right := statusKeyStyle.Render("Pos:") + statusBarStyle.Render(" "+pos+" ")

	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right), 0)
	return statusBarStyle.Render(left + strings.Repeat(" ", gap) + right)
}

// ListenForContent forwards rendered tables and errors to prog until both
// channels are closed. Use it to drive the viewer from a reload loop.
func ListenForContent(content <-chan []string, errs <-chan error, prog *tea.Program) {
	go func() {
		for lines := range content {
			prog.Send(ContentMsg{Lines: lines})
		}
	}()
	go func() {
		for err := range errs {
			prog.Send(ErrMsg{Err: err})
		}
	}()
}
