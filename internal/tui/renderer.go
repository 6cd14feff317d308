// Package tui provides terminal UI components for runpilot.
package tui

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/table"
)

// Theme represents terminal color theme.
type Theme int

const (
	ThemeDark Theme = iota
	ThemeLight
)

// WrapMode controls how long lines are handled.
type WrapMode int

const (
	WrapTruncate WrapMode = iota
	WrapWrap
)

// RenderConfig holds rendering configuration.
type RenderConfig struct {
	Theme         Theme
	WrapMode      WrapMode
	TerminalWidth int
	// Precision is the number of significant digits for floats.
	Precision int
	// Plain disables styling, for piping and tests.
	Plain bool
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() RenderConfig {
	return RenderConfig{
		Theme:         ThemeDark,
		WrapMode:      WrapTruncate,
		TerminalWidth: 120,
		Precision:     6,
	}
}

// Renderer renders runs and tables as aligned terminal output.
type Renderer struct {
	config RenderConfig
	styles themeStyles
}

type themeStyles struct {
	header    lipgloss.Style
	index     lipgloss.Style
	number    lipgloss.Style
	text      lipgloss.Style
	null      lipgloss.Style
	path      lipgloss.Style
	separator lipgloss.Style
}

func darkStyles() themeStyles {
	return themeStyles{
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("117")).Bold(true), // light blue
		index:     lipgloss.NewStyle().Foreground(lipgloss.Color("243")),            // dim gray
		number:    lipgloss.NewStyle().Foreground(lipgloss.Color("255")),            // white
		text:      lipgloss.NewStyle().Foreground(lipgloss.Color("252")),            // light gray
		null:      lipgloss.NewStyle().Foreground(lipgloss.Color("240")),            // dark gray
		path:      lipgloss.NewStyle().Foreground(lipgloss.Color("39")),             // blue
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),            // dark gray
	}
}

func lightStyles() themeStyles {
	return themeStyles{
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("25")).Bold(true),
		index:     lipgloss.NewStyle().Foreground(lipgloss.Color("242")),
		number:    lipgloss.NewStyle().Foreground(lipgloss.Color("0")),
		text:      lipgloss.NewStyle().Foreground(lipgloss.Color("237")),
		null:      lipgloss.NewStyle().Foreground(lipgloss.Color("249")),
		path:      lipgloss.NewStyle().Foreground(lipgloss.Color("27")),
		separator: lipgloss.NewStyle().Foreground(lipgloss.Color("249")),
	}
}

// NewRenderer creates a new Renderer with the given config.
func NewRenderer(config RenderConfig) *Renderer {
	if config.TerminalWidth <= 0 {
		config.TerminalWidth = 120
	}
	if config.Precision <= 0 {
		config.Precision = 6
	}
	var styles themeStyles
	switch {
	case config.Plain:
		styles = themeStyles{}
	case config.Theme == ThemeLight:
		styles = lightStyles()
	default:
		styles = darkStyles()
	}
	return &Renderer{config: config, styles: styles}
}

// ansiRegex matches ANSI escape sequences.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape codes from a string.
func StripANSI(s string) string {
	return ansiRegex.ReplaceAllString(s, "")
}

type cell struct {
	text  string
	style lipgloss.Style
	right bool
}

// RenderRuns renders one summary row per run: path, reader, rows, columns
// and the last step of indexed tables.
func (r *Renderer) RenderRuns(runs run.RunList) []string {
	header := []string{"path", "reader", "rows", "columns", "last step"}
	rows := make([][]cell, 0, len(runs))
	for _, rn := range runs {
		last := cell{text: "-", style: r.styles.null, right: true}
		if t := rn.Table; t.Indexed && len(t.Index) > 0 {
			last = r.number(strconv.FormatInt(t.Index[len(t.Index)-1], 10))
		}
		rows = append(rows, []cell{
			{text: rn.Path, style: r.styles.path},
			{text: rn.Reader, style: r.styles.text},
			r.number(strconv.Itoa(rn.Table.Len())),
			r.number(strconv.Itoa(len(rn.Table.Columns))),
			last,
		})
	}
	return r.grid(header, rows)
}

// RenderTable renders every row of t. Indexed tables get a leading step
// column.
func (r *Renderer) RenderTable(t *table.Table) []string {
	var header []string
	if t.Indexed {
		header = append(header, "step")
	}
	header = append(header, t.ColumnNames()...)

	rows := make([][]cell, t.Len())
	for i := range rows {
		row := make([]cell, 0, len(header))
		if t.Indexed {
			row = append(row, cell{text: strconv.FormatInt(t.Index[i], 10), style: r.styles.index, right: true})
		}
		for _, c := range t.Columns {
			row = append(row, r.value(c.Values[i]))
		}
		rows[i] = row
	}
	return r.grid(header, rows)
}

func (r *Renderer) number(s string) cell {
	return cell{text: s, style: r.styles.number, right: true}
}

func (r *Renderer) value(v table.Value) cell {
	switch v.Kind {
	case table.KindNull:
		return cell{text: "NaN", style: r.styles.null, right: true}
	case table.KindFloat:
		return r.number(strconv.FormatFloat(v.Float, 'g', r.config.Precision, 64))
	case table.KindInt, table.KindBool:
		return r.number(v.String())
	default:
		return cell{text: v.Str, style: r.styles.text}
	}
}

// grid aligns cells into columns separated by " │ " with a ruled header.
func (r *Renderer) grid(header []string, rows [][]cell) []string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, c := range row {
			widths[i] = max(widths[i], lipgloss.Width(c.text))
		}
	}

	sep := r.styles.separator.Render(" │ ")
	lines := make([]string, 0, len(rows)+2)

	parts := make([]string, len(header))
	rules := make([]string, len(header))
	for i, h := range header {
		parts[i] = r.styles.header.Render(pad(h, widths[i], false))
		rules[i] = strings.Repeat("─", widths[i])
	}
	lines = append(lines, r.applyWrap(strings.Join(parts, sep)))
	lines = append(lines, r.applyWrap(r.styles.separator.Render(strings.Join(rules, "─┼─"))))

	for _, row := range rows {
		for i, c := range row {
			parts[i] = c.style.Render(pad(c.text, widths[i], c.right))
		}
		lines = append(lines, r.applyWrap(strings.Join(parts[:len(row)], sep)))
	}
	return lines
}

func pad(s string, width int, right bool) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	if right {
		return strings.Repeat(" ", gap) + s
	}
	return s + strings.Repeat(" ", gap)
}

func (r *Renderer) applyWrap(line string) string {
	if r.config.WrapMode == WrapTruncate && r.config.TerminalWidth > 0 {
		// Measure without ANSI codes, truncate the raw string.
		if lipgloss.Width(StripANSI(line)) > r.config.TerminalWidth {
			return truncateToWidth(line, r.config.TerminalWidth-1) + "…"
		}
	}
	return line
}

// truncateToWidth truncates a string with ANSI codes to fit a visible width.
func truncateToWidth(s string, width int) string {
	visible := 0
	inEscape := false
	var b strings.Builder
	for _, c := range s {
		if c == '\x1b' {
			inEscape = true
			b.WriteRune(c)
			continue
		}
		if inEscape {
			b.WriteRune(c)
			if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') {
				inEscape = false
			}
			continue
		}
		if visible >= width {
			break
		}
		b.WriteRune(c)
		visible++
	}
	return b.String()
}

// Summary returns a one-line count of loaded runs.
func Summary(loaded, total int) string {
	return fmt.Sprintf("%d of %d runs loaded", loaded, total)
}
