package reader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clarabennett2626/runpilot/internal/table"
)

// CSVFileNames are the file names probed inside a run directory, in order.
var CSVFileNames = []string{"progress.csv", "log.csv"}

// naTokens are cell values read as missing.
var naTokens = map[string]bool{
	"": true, "#N/A": true, "#N/A N/A": true, "#NA": true, "-1.#IND": true,
	"-1.#QNAN": true, "-NaN": true, "-nan": true, "1.#IND": true, "1.#QNAN": true,
	"<NA>": true, "N/A": true, "NA": true, "NULL": true, "NaN": true,
	"None": true, "n/a": true, "nan": true, "null": true,
}

// CSVReader reads a comma separated log with a header row.
type CSVReader struct {
	source string
	file   string
	opts   Options
}

// CSVContext holds the table of the last read. CSV logs are re-read in
// full each time, so the context is never pending.
type CSVContext struct {
	Data *table.Table
}

func (c *CSVContext) Pending() bool { return false }

// NewCSVReader locates the CSV log for source: progress.csv or log.csv
// inside a directory, or source itself when it is a regular file.
func NewCSVReader(source string, opts Options) (Reader, error) {
	for _, name := range CSVFileNames {
		p := filepath.Join(source, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return &CSVReader{source: source, file: p, opts: opts}, nil
		}
	}

	info, err := os.Stat(source)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, source)
	case err != nil:
		return nil, fmt.Errorf("csv: %w", err)
	case info.IsDir():
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, filepath.Join(source, "*.csv"))
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	f.Close()
	return &CSVReader{source: source, file: source, opts: opts}, nil
}

func (r *CSVReader) Name() string   { return "csv" }
func (r *CSVReader) Source() string { return r.source }

// File returns the CSV file the reader parses.
func (r *CSVReader) File() string { return r.file }

func (r *CSVReader) String() string {
	return fmt.Sprintf("CSVReader(%s)", r.file)
}

func (r *CSVReader) NewContext() Context {
	return &CSVContext{}
}

// Read parses the whole file, ignoring any previous state in c.
func (r *CSVReader) Read(c Context) (Context, error) {
	if _, ok := c.(*CSVContext); !ok {
		return nil, fmt.Errorf("csv: unexpected context %T", c)
	}
	r.opts.diag().Log("msg", "reading", "reader", r.Name(), "file", r.file)

	f, err := os.Open(r.file)
	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}
	defer f.Close()

	t, err := parseCSV(f)
	if err != nil {
		return nil, fmt.Errorf("csv %s: %w", r.file, err)
	}
	return &CSVContext{Data: t}, nil
}

// Result returns the parsed table, zero-filled when FillNA is set.
func (r *CSVReader) Result(c Context) (*table.Table, error) {
	ctx, ok := c.(*CSVContext)
	if !ok {
		return nil, fmt.Errorf("csv: unexpected context %T", c)
	}
	if ctx.Data == nil {
		return table.New(), nil
	}
	if r.opts.FillNA {
		return ctx.Data.FillNA(), nil
	}
	return ctx.Data, nil
}

// parseCSV reads a header row and data rows and infers one kind per column.
// Rows shorter than the header are padded with missing cells; longer rows
// are an error.
func parseCSV(rd io.Reader) (*table.Table, error) {
	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: no columns to parse", ErrEmptyData)
	}
	if err != nil {
		return nil, err
	}
	names := dedupeHeader(header)

	cells := make([][]string, len(names))
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) > len(names) {
			return nil, fmt.Errorf("line %d: expected %d fields, saw %d", line, len(names), len(rec))
		}
		for i := range names {
			v := ""
			if i < len(rec) {
				v = rec[i]
			}
			cells[i] = append(cells[i], v)
		}
	}

	t := table.New()
	for i, name := range names {
		if err := t.AddColumn(inferColumn(name, cells[i])); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// dedupeHeader renames repeated column names to name.1, name.2 and so on.
func dedupeHeader(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]bool, len(header))
	counts := make(map[string]int, len(header))
	for i, h := range header {
		name := h
		for used[name] {
			counts[h]++
			name = h + "." + strconv.Itoa(counts[h])
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// inferColumn picks the narrowest kind that every present cell parses as:
// int, then float, then bool, falling back to string.
func inferColumn(name string, raw []string) *table.Column {
	present := 0
	isInt, isFloat, isBool := true, true, true
	for _, s := range raw {
		if naTokens[s] {
			continue
		}
		present++
		s = strings.TrimSpace(s)
		if isInt {
			if _, err := strconv.ParseInt(s, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if _, ok := parseBool(s); !ok {
				isBool = false
			}
		}
	}

	kind := table.KindString
	switch {
	case present == 0:
		kind = table.KindFloat
	case isInt:
		kind = table.KindInt
	case isFloat:
		kind = table.KindFloat
	case isBool:
		kind = table.KindBool
	}

	vals := make([]table.Value, len(raw))
	for i, s := range raw {
		if naTokens[s] {
			continue
		}
		t := strings.TrimSpace(s)
		switch kind {
		case table.KindInt:
			n, _ := strconv.ParseInt(t, 10, 64)
			vals[i] = table.Int(n)
		case table.KindFloat:
			f, _ := strconv.ParseFloat(t, 64)
			vals[i] = table.Float(f)
		case table.KindBool:
			b, _ := parseBool(t)
			vals[i] = table.Bool(b)
		default:
			vals[i] = table.String(s)
		}
	}
	return &table.Column{Name: name, Kind: kind, Values: vals}
}

func parseBool(s string) (bool, bool) {
	switch s {
	case "true", "True", "TRUE":
		return true, true
	case "false", "False", "FALSE":
		return false, true
	}
	return false, false
}
