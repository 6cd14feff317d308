package tui

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/table"
)

func plainRenderer(opts ...func(*RenderConfig)) *Renderer {
	cfg := DefaultConfig()
	cfg.Plain = true
	cfg.TerminalWidth = 200 // wide enough to avoid truncation
	for _, o := range opts {
		o(&cfg)
	}
	return NewRenderer(cfg)
}

func lossTable() *table.Table {
	return &table.Table{
		Indexed: true,
		Index:   []int64{1, 2, 10},
		Columns: []*table.Column{
			{Name: "acc", Kind: table.KindFloat, Values: []table.Value{table.Null(), table.Float(0.5), table.Float(0.75)}},
			{Name: "loss", Kind: table.KindFloat, Values: []table.Value{table.Float(1.25), table.Float(0.5), table.Float(0.125)}},
		},
	}
}

func TestRenderTable_Indexed(t *testing.T) {
	lines := plainRenderer().RenderTable(lossTable())
	if len(lines) != 5 {
		t.Fatalf("got %d lines, want header + rule + 3 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "step │ acc") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "┼") {
		t.Errorf("rule line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "NaN") || !strings.Contains(lines[2], "1.25") {
		t.Errorf("first row = %q", lines[2])
	}
	if !strings.HasPrefix(lines[4], "  10 │") {
		t.Errorf("steps should be right aligned: %q", lines[4])
	}
}

func TestRenderTable_ColumnsAligned(t *testing.T) {
	lines := plainRenderer().RenderTable(lossTable())
	want := strings.Index(lines[0], "│")
	for _, l := range lines[2:] {
		if got := strings.Index(l, "│"); got != want {
			t.Errorf("separator at %d, want %d in %q", got, want, l)
		}
	}
}

func TestRenderTable_Unindexed(t *testing.T) {
	tbl := table.New()
	tbl.AddColumn(&table.Column{Name: "name", Kind: table.KindString, Values: []table.Value{table.String("a")}})
	lines := plainRenderer().RenderTable(tbl)
	if strings.Contains(lines[0], "step") {
		t.Errorf("unindexed table should have no step column: %q", lines[0])
	}
}

func TestRenderRuns(t *testing.T) {
	csv := table.New()
	csv.AddColumn(&table.Column{Name: "x", Kind: table.KindInt, Values: []table.Value{table.Int(1), table.Int(2)}})
	runs := run.RunList{
		{Path: "runs/a", Reader: "tfevents", Table: lossTable()},
		{Path: "runs/b", Reader: "csv", Table: csv},
	}
	lines := plainRenderer().RenderRuns(runs)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
	for _, want := range []string{"runs/a", "tfevents", "3", "10"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("expected %q in %q", want, lines[2])
		}
	}
	if !strings.HasSuffix(lines[3], "-") {
		t.Errorf("unindexed run should have no last step: %q", lines[3])
	}
}

func TestStripANSI(t *testing.T) {
	input := "\x1b[31mERROR\x1b[0m something failed"
	got := StripANSI(input)
	if got != "ERROR something failed" {
		t.Errorf("StripANSI=%q, want %q", got, "ERROR something failed")
	}
}

func TestTruncation(t *testing.T) {
	r := plainRenderer(func(c *RenderConfig) {
		c.TerminalWidth = 30
		c.WrapMode = WrapTruncate
	})
	runs := run.RunList{{Path: strings.Repeat("very/long/path/", 5), Reader: "csv", Table: table.New()}}
	for _, l := range r.RenderRuns(runs) {
		plain := StripANSI(l)
		if n := len([]rune(plain)); n > 30 {
			t.Errorf("expected truncated output <=30 runes, got %d: %q", n, plain)
		}
	}
	last := r.RenderRuns(runs)[2]
	if !strings.HasSuffix(last, "…") {
		t.Error("truncated output should end with ellipsis")
	}
}

func TestWrapMode(t *testing.T) {
	r := plainRenderer(func(c *RenderConfig) {
		c.TerminalWidth = 30
		c.WrapMode = WrapWrap
	})
	runs := run.RunList{{Path: strings.Repeat("very/long/path/", 5), Reader: "csv", Table: table.New()}}
	for _, l := range r.RenderRuns(runs) {
		if strings.HasSuffix(l, "…") {
			t.Error("wrap mode should not truncate")
		}
	}
}

func TestThemes(t *testing.T) {
	for _, theme := range []Theme{ThemeDark, ThemeLight} {
		r := NewRenderer(RenderConfig{Theme: theme, TerminalWidth: 200})
		lines := r.RenderTable(lossTable())
		if !strings.Contains(StripANSI(lines[0]), "loss") {
			t.Errorf("theme %d: expected loss in header %q", theme, lines[0])
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TerminalWidth != 120 {
		t.Errorf("default width=%d, want 120", cfg.TerminalWidth)
	}
	if cfg.Theme != ThemeDark {
		t.Error("default theme should be dark")
	}
	if cfg.Plain {
		t.Error("default should be styled")
	}
}

func TestWriteJSON_Plain(t *testing.T) {
	tbl := lossTable()
	tbl.Columns[1].Values[2] = table.Float(math.NaN())

	var buf bytes.Buffer
	if err := WriteJSON(&buf, tbl, false); err != nil {
		t.Fatal(err)
	}

	var rows []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	if rows[0]["acc"] != nil || rows[0]["step"] != float64(1) {
		t.Errorf("row 0 = %v", rows[0])
	}
	if rows[2]["loss"] != nil {
		t.Errorf("NaN should encode as null, got %v", rows[2]["loss"])
	}
	if !strings.HasPrefix(strings.SplitN(buf.String(), "\n", 3)[1], `  {"step": 1, "acc"`) {
		t.Errorf("keys should keep column order: %q", buf.String())
	}
}

func TestWriteJSON_Color(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteJSON(&buf, lossTable(), true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Error("highlighted output should contain ANSI escapes")
	}
	if !strings.Contains(StripANSI(buf.String()), `"loss"`) {
		t.Error("highlighted output should keep content")
	}
}
