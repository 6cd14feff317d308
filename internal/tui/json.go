package tui

import (
	"bytes"
	"encoding/json"
	"io"
	"math"

	"github.com/alecthomas/chroma/v2/quick"

	"github.com/clarabennett2626/runpilot/internal/table"
)

const syntaxTheme = "monokai"

// WriteJSON writes the rows of t as a JSON array with one object per line.
// Keys keep column order; indexed tables lead with "step". Missing and
// non-finite cells are null. With color set the output is syntax
// highlighted for the terminal.
func WriteJSON(w io.Writer, t *table.Table, color bool) error {
	var buf bytes.Buffer
	if err := encodeRows(&buf, t); err != nil {
		return err
	}
	if !color {
		_, err := w.Write(buf.Bytes())
		return err
	}
	if err := quick.Highlight(w, buf.String(), "json", "terminal16m", syntaxTheme); err != nil {
		// Fall back to plain output rather than failing the command.
		_, err = w.Write(buf.Bytes())
		return err
	}
	return nil
}

func encodeRows(buf *bytes.Buffer, t *table.Table) error {
	buf.WriteString("[\n")
	for i := 0; i < t.Len(); i++ {
		buf.WriteString("  {")
		first := true
		field := func(key string, v any) error {
			if !first {
				buf.WriteString(", ")
			}
			first = false
			k, err := json.Marshal(key)
			if err != nil {
				return err
			}
			val, err := json.Marshal(v)
			if err != nil {
				return err
			}
			buf.Write(k)
			buf.WriteString(": ")
			buf.Write(val)
			return nil
		}
		if t.Indexed {
			if err := field("step", t.Index[i]); err != nil {
				return err
			}
		}
		for _, c := range t.Columns {
			if err := field(c.Name, jsonValue(c.Values[i])); err != nil {
				return err
			}
		}
		buf.WriteString("}")
		if i < t.Len()-1 {
			buf.WriteString(",")
		}
		buf.WriteString("\n")
	}
	buf.WriteString("]\n")
	return nil
}

func jsonValue(v table.Value) any {
	if v.Kind == table.KindFloat && (math.IsNaN(v.Float) || math.IsInf(v.Float, 0)) {
		return nil
	}
	return v.Interface()
}
