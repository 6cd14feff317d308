// Package export writes loaded runs in long format, one row per
// (run, row, tag) cell, as Parquet or CSV.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"iter"
	"strconv"

	"github.com/parquet-go/parquet-go"

	"github.com/clarabennett2626/runpilot/internal/run"
	"github.com/clarabennett2626/runpilot/internal/table"
)

// Format is an export file format.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatCSV     Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatParquet, FormatCSV:
		return Format(s), nil
	}
	return "", fmt.Errorf("unknown export format %q (want parquet or csv)", s)
}

// Row is one non-missing cell of a run. Step is set for step-indexed
// tables; numeric cells fill Value and string cells fill Text.
type Row struct {
	Path  string   `parquet:"path,dict"`
	Step  *int64   `parquet:"step,optional"`
	Row   int64    `parquet:"row"`
	Tag   string   `parquet:"tag,dict"`
	Value *float64 `parquet:"value,optional"`
	Text  *string  `parquet:"text,optional"`
}

// Rows yields the long-format rows of every run in order.
func Rows(l run.RunList) iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for _, r := range l {
			t := r.Table
			for i := 0; i < t.Len(); i++ {
				var step *int64
				if t.Indexed {
					s := t.Index[i]
					step = &s
				}
				for _, c := range t.Columns {
					row, ok := cellRow(r.Path, step, int64(i), c.Name, c.Values[i])
					if !ok {
						continue
					}
					if !yield(row) {
						return
					}
				}
			}
		}
	}
}

func cellRow(path string, step *int64, i int64, tag string, v table.Value) (Row, bool) {
	row := Row{Path: path, Step: step, Row: i, Tag: tag}
	switch v.Kind {
	case table.KindNull:
		return Row{}, false
	case table.KindString:
		s := v.Str
		row.Text = &s
	default:
		f, _ := v.AsFloat()
		row.Value = &f
	}
	return row, true
}

// Write exports l to w in format f and returns the number of rows written.
func Write(w io.Writer, l run.RunList, f Format) (int, error) {
	switch f {
	case FormatParquet:
		return WriteParquet(w, l)
	case FormatCSV:
		return WriteCSV(w, l)
	}
	return 0, fmt.Errorf("unknown export format %q", f)
}

const batchSize = 1024

// WriteParquet writes l as a Parquet file.
func WriteParquet(w io.Writer, l run.RunList) (int, error) {
	pw := parquet.NewGenericWriter[Row](w)
	batch := make([]Row, 0, batchSize)
	total := 0
	flush := func() error {
		n, err := pw.Write(batch)
		total += n
		batch = batch[:0]
		return err
	}
	for row := range Rows(l) {
		batch = append(batch, row)
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return total, fmt.Errorf("writing parquet rows: %w", err)
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return total, fmt.Errorf("writing parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return total, fmt.Errorf("closing parquet writer: %w", err)
	}
	return total, nil
}

// WriteCSV writes l as CSV with a header row. Missing steps are empty.
func WriteCSV(w io.Writer, l run.RunList) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"path", "step", "row", "tag", "value"}); err != nil {
		return 0, err
	}
	total := 0
	for row := range Rows(l) {
		step := ""
		if row.Step != nil {
			step = strconv.FormatInt(*row.Step, 10)
		}
		val := ""
		switch {
		case row.Value != nil:
			val = strconv.FormatFloat(*row.Value, 'g', -1, 64)
		case row.Text != nil:
			val = *row.Text
		}
		if err := cw.Write([]string{row.Path, step, strconv.FormatInt(row.Row, 10), row.Tag, val}); err != nil {
			return total, err
		}
		total++
	}
	cw.Flush()
	return total, cw.Error()
}
