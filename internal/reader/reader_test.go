package reader

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/clarabennett2626/runpilot/internal/table"
	"github.com/clarabennett2626/runpilot/internal/tfevents"
)

const eventFile = "events.out.tfevents.1700000000.host"

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func appendFile(t *testing.T, path string, b []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.Write(b)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func records(events ...*tfevents.Event) []byte {
	var b []byte
	for _, e := range events {
		b = append(b, tfevents.EncodeRecord(e.Marshal())...)
	}
	return b
}

func scalar(step int64, tag string, v float32) *tfevents.Event {
	return tfevents.ScalarEvent(step, map[string]float32{tag: v})
}

func f32(v float32) table.Value {
	return table.Float(float64(v))
}

// --- CSV ---

func TestCSVReader_FilePriority(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "log.csv"), "a\n1\n")
	writeFile(t, filepath.Join(dir, "progress.csv"), "b\n2\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "progress.csv"), r.(*CSVReader).File())

	require.NoError(t, os.Remove(filepath.Join(dir, "progress.csv")))
	r, err = NewCSVReader(dir, Options{})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "log.csv"), r.(*CSVReader).File())
}

func TestCSVReader_DirectFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.csv")
	writeFile(t, path, "x\n1\n")

	r, err := NewCSVReader(path, Options{})
	require.NoError(t, err)
	require.Equal(t, path, r.Source())
}

func TestCSVReader_NotFound(t *testing.T) {
	tests := []struct {
		name   string
		source func(t *testing.T) string
	}{
		{"empty dir", func(t *testing.T) string { return t.TempDir() }},
		{"missing path", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVReader(tt.source(t), Options{})
			require.ErrorIs(t, err, ErrSourceNotFound)
		})
	}
}

func TestCSVReader_TypeInference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"),
		"step,loss,done,name,empty\n"+
			"1,0.5,true,a,\n"+
			"2,,false,b,\n"+
			"3,0.25,True,c,\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)

	require.False(t, tbl.Indexed)
	require.Equal(t, 3, tbl.Len())
	require.Equal(t, []string{"step", "loss", "done", "name", "empty"}, tbl.ColumnNames())

	kinds := map[string]table.Kind{}
	for _, c := range tbl.Columns {
		kinds[c.Name] = c.Kind
	}
	require.Equal(t, table.KindInt, kinds["step"])
	require.Equal(t, table.KindFloat, kinds["loss"])
	require.Equal(t, table.KindBool, kinds["done"])
	require.Equal(t, table.KindString, kinds["name"])
	require.Equal(t, table.KindFloat, kinds["empty"])

	loss, _ := tbl.Column("loss")
	require.Equal(t, []table.Value{table.Float(0.5), table.Null(), table.Float(0.25)}, loss.Values)
}

func TestCSVReader_FillNA(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "loss,n\n0.5,\n,3\n")

	r, err := NewCSVReader(dir, Options{FillNA: true})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)

	loss, _ := tbl.Column("loss")
	require.Equal(t, []table.Value{table.Float(0.5), table.Float(0)}, loss.Values)
	n, _ := tbl.Column("n")
	require.Equal(t, []table.Value{table.Int(0), table.Int(3)}, n.Values)
}

func TestCSVReader_DuplicateHeaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "a,a,b,a\n1,2,3,4\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "a.1", "b", "a.2"}, tbl.ColumnNames())
}

func TestCSVReader_HeaderOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "a,b\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)
	require.True(t, tbl.Empty())
	require.Equal(t, []string{"a", "b"}, tbl.ColumnNames())
}

func TestCSVReader_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"too many fields", "a,b\n1,2,3\n"},
		{"bad quote", "a,b\n\"1,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, "progress.csv"), tt.content)
			r, err := NewCSVReader(dir, Options{})
			require.NoError(t, err)
			_, err = Drive(r)
			require.Error(t, err)
		})
	}
}

func TestCSVReader_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	_, err = Drive(r)
	require.ErrorIs(t, err, ErrEmptyData)
}

func TestCSVReader_ShortRowPadded(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "a,b\n1\n2,3\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)
	b, _ := tbl.Column("b")
	require.Equal(t, []table.Value{table.Null(), table.Int(3)}, b.Values)
}

func TestCSVReader_RepeatedReadsIdentical(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "step,loss\n1,0.5\n2,0.4\n")

	r, err := NewCSVReader(dir, Options{})
	require.NoError(t, err)

	c := r.NewContext()
	once, err := r.Read(c)
	require.NoError(t, err)
	require.False(t, once.Pending())
	twice, err := r.Read(once)
	require.NoError(t, err)

	a, err := r.Result(once)
	require.NoError(t, err)
	b, err := r.Result(twice)
	require.NoError(t, err)
	require.True(t, a.Equal(b))
	require.Equal(t, 2, b.Len())
}

// --- event files ---

func TestEventReader_NotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "a\n1\n")
	_, err := NewEventReader(dir, Options{})
	require.ErrorIs(t, err, ErrSourceNotFound)

	_, err = NewEventReader(filepath.Join(dir, "progress.csv"), Options{})
	require.ErrorIs(t, err, ErrSourceNotFound)
}

func TestEventReader_ReadsScalars(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, eventFile), records(
		&tfevents.Event{FileVersion: "brain.Event:2"},
		tfevents.ScalarEvent(1, map[string]float32{"z_metric": 1, "a_metric": 0.5}),
		tfevents.TensorScalarEvent(2, map[string]float64{"z_metric": 2}),
	))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)

	require.True(t, tbl.Indexed)
	require.Equal(t, []int64{1, 2}, tbl.Index)
	require.Equal(t, []string{"a_metric", "z_metric"}, tbl.ColumnNames())

	v, ok := tbl.Cell("z_metric", 2)
	require.True(t, ok)
	require.Equal(t, table.Float(2), v)
	v, _ = tbl.Cell("a_metric", 2)
	require.True(t, v.IsNull())
}

func TestEventReader_SplitReadEqualsFullRead(t *testing.T) {
	events := []*tfevents.Event{
		scalar(0, "loss", 1),
		scalar(1, "loss", 0.5),
		tfevents.ScalarEvent(1, map[string]float32{"acc": 0.25}),
		scalar(2, "loss", 0.25),
		scalar(3, "acc", 0.75),
	}

	full := t.TempDir()
	appendFile(t, filepath.Join(full, eventFile), records(events...))
	rf, err := NewEventReader(full, Options{})
	require.NoError(t, err)
	want, err := Drive(rf)
	require.NoError(t, err)

	for split := 1; split < len(events); split++ {
		dir := t.TempDir()
		path := filepath.Join(dir, eventFile)
		appendFile(t, path, records(events[:split]...))

		r, err := NewEventReader(dir, Options{})
		require.NoError(t, err)
		c, err := r.Read(r.NewContext())
		require.NoError(t, err)
		require.Equal(t, split, c.(*EventContext).LastReadRows)

		appendFile(t, path, records(events[split:]...))
		c, err = r.Read(c)
		require.NoError(t, err)
		require.Equal(t, len(events)-split, c.(*EventContext).LastReadRows)

		got, err := r.Result(c)
		require.NoError(t, err)
		require.True(t, want.Equal(got), "split=%d", split)
	}
}

func TestEventReader_BatchRecords(t *testing.T) {
	dir := t.TempDir()
	var events []*tfevents.Event
	for i := int64(0); i < 7; i++ {
		events = append(events, scalar(i, "loss", float32(i)))
	}
	appendFile(t, filepath.Join(dir, eventFile), records(events[:4]...))
	appendFile(t, filepath.Join(dir, "events.out.tfevents.1700000001.host"), records(events[4:]...))

	unbounded, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	want, err := Drive(unbounded)
	require.NoError(t, err)

	r, err := NewEventReader(dir, Options{BatchRecords: 3})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)
	require.True(t, c.Pending())
	require.Equal(t, 3, c.(*EventContext).LastReadRows)

	got, err := Drive(r)
	require.NoError(t, err)
	require.True(t, want.Equal(got))
	require.Equal(t, 7, got.Len())
}

func TestEventReader_MergeNewWinsOldSurvives(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	appendFile(t, path, records(scalar(4, "loss", 1.25), scalar(5, "loss", 0.875)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	appendFile(t, path, records(scalar(5, "loss", 0.75), scalar(6, "loss", 0.5)))
	c, err = r.Read(c)
	require.NoError(t, err)

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{4, 5, 6}, tbl.Index)
	loss, _ := tbl.Column("loss")
	require.Equal(t, []table.Value{f32(1.25), f32(0.75), f32(0.5)}, loss.Values)
}

func TestEventReader_IncompleteTailResumes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	second := records(scalar(2, "loss", 0.5))
	appendFile(t, path, records(scalar(1, "loss", 1)))
	appendFile(t, path, second[:len(second)-3])

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)
	ec := c.(*EventContext)
	require.Equal(t, int64(1), ec.Consumed[path])
	require.Equal(t, 0, ec.DecodeErrors)
	require.False(t, ec.Pending())

	appendFile(t, path, second[len(second)-3:])
	c, err = r.Read(c)
	require.NoError(t, err)
	require.Equal(t, int64(2), c.(*EventContext).Consumed[path])

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, tbl.Index)
}

func TestEventReader_CorruptRecordSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	bad := records(scalar(2, "loss", 0.5))
	bad[len(bad)-1] ^= 0xff
	appendFile(t, path, records(scalar(1, "loss", 1)))
	appendFile(t, path, bad)
	appendFile(t, path, tfevents.EncodeRecord([]byte{0xff, 0xff, 0xff}))
	appendFile(t, path, records(scalar(3, "loss", 0.25)))

	var buf bytes.Buffer
	r, err := NewEventReader(dir, Options{Logger: log.NewLogfmtLogger(&buf)})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	ec := c.(*EventContext)
	require.Equal(t, int64(4), ec.Consumed[path])
	require.Equal(t, 2, ec.DecodeErrors)
	require.Contains(t, buf.String(), "skipping event record")
	require.Contains(t, buf.String(), "record 1")

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 3}, tbl.Index)
}

func TestEventReader_LengthChecksumStopsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	bad := records(scalar(2, "loss", 0.5))
	bad[8] ^= 0x01
	appendFile(t, path, records(scalar(1, "loss", 1)))
	appendFile(t, path, bad)
	appendFile(t, path, records(scalar(3, "loss", 0.25)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	ec := c.(*EventContext)
	require.Equal(t, int64(1), ec.Consumed[path])
	require.Equal(t, 1, ec.DecodeErrors)
}

func TestEventReader_TruncatedFileReread(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	appendFile(t, path, records(scalar(1, "loss", 1), scalar(2, "loss", 0.5), scalar(3, "loss", 0.25)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, records(scalar(1, "loss", 2)), 0o644))
	c, err = r.Read(c)
	require.NoError(t, err)
	require.Equal(t, int64(1), c.(*EventContext).Consumed[path])

	tbl, err := r.Result(c)
	require.NoError(t, err)
	loss, _ := tbl.Column("loss")
	require.Equal(t, []table.Value{f32(2), f32(0.5), f32(0.25)}, loss.Values)
}

func TestEventReader_TruncatedToEmptyThenRegrown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	appendFile(t, path, records(scalar(1, "loss", 1), scalar(2, "loss", 0.5)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 0))
	c, err = r.Read(c)
	require.NoError(t, err)
	require.Equal(t, int64(0), c.(*EventContext).Offsets[path])
	require.Equal(t, int64(0), c.(*EventContext).Consumed[path])

	appendFile(t, path, records(scalar(10, "loss", 0.25), scalar(11, "loss", 0.125), scalar(12, "loss", 0.0625)))
	c, err = r.Read(c)
	require.NoError(t, err)

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 10, 11, 12}, tbl.Index)
	require.Equal(t, 0, c.(*EventContext).DecodeErrors)
}

func TestEventReader_TruncatedToPartialRecordThenRegrown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	appendFile(t, path, records(scalar(1, "loss", 1), scalar(2, "loss", 0.5), scalar(3, "loss", 0.25)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	rec := records(scalar(10, "loss", 0.125), scalar(11, "loss", 0.0625))
	require.NoError(t, os.WriteFile(path, rec[:5], 0o644))
	c, err = r.Read(c)
	require.NoError(t, err)
	require.Equal(t, int64(0), c.(*EventContext).Offsets[path])

	require.NoError(t, os.WriteFile(path, rec, 0o644))
	c, err = r.Read(c)
	require.NoError(t, err)
	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3, 10, 11}, tbl.Index)
}

func TestEventReader_UnreadableFileSkipped(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "events.out.tfevents.1700000000.a")
	bad := filepath.Join(dir, "events.out.tfevents.1700000001.b")
	later := filepath.Join(dir, "events.out.tfevents.1700000002.c")
	appendFile(t, good, records(scalar(1, "loss", 1), scalar(2, "loss", 0.5)))
	appendFile(t, later, records(scalar(3, "loss", 0.25)))
	// A symlink to a directory passes the listing but cannot be mapped.
	require.NoError(t, os.Symlink(t.TempDir(), bad))

	var logs bytes.Buffer
	r, err := NewEventReader(dir, Options{Logger: log.NewLogfmtLogger(&logs)})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)
	require.Contains(t, logs.String(), `msg="skipping unreadable event file"`)

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, tbl.Index)

	require.NoError(t, os.Remove(bad))
	c, err = r.Read(c)
	require.NoError(t, err)
	tbl, err = r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2, 3}, tbl.Index)
	loss, _ := tbl.Column("loss")
	require.Equal(t, []table.Value{f32(1), f32(0.5), f32(0.25)}, loss.Values)
}

func TestEventReader_FillNAKeepsNulls(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, eventFile), records(scalar(1, "loss", 1), scalar(2, "eval", 0.5)))

	r, err := NewEventReader(dir, Options{FillNA: true})
	require.NoError(t, err)
	tbl, err := Drive(r)
	require.NoError(t, err)

	eval, ok := tbl.Column("eval")
	require.True(t, ok)
	require.True(t, eval.Values[0].IsNull())
	loss, _ := tbl.Column("loss")
	require.True(t, loss.Values[1].IsNull())
}

func TestEventReader_NewFilePickedUp(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, eventFile), records(scalar(1, "loss", 1)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(r.NewContext())
	require.NoError(t, err)

	appendFile(t, filepath.Join(dir, "events.out.tfevents.1700000099.host"), records(scalar(2, "acc", 0.5)))
	c, err = r.Read(c)
	require.NoError(t, err)

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []string{"acc", "loss"}, tbl.ColumnNames())
	require.Equal(t, []int64{1, 2}, tbl.Index)
}

func TestEventReader_ResumeWithoutOffsets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, eventFile)
	appendFile(t, path, records(scalar(1, "loss", 1), scalar(2, "loss", 0.5)))

	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	c, err := r.Read(&EventContext{Consumed: map[string]int64{path: 1}})
	require.NoError(t, err)
	require.Equal(t, 1, c.(*EventContext).LastReadRows)

	tbl, err := r.Result(c)
	require.NoError(t, err)
	require.Equal(t, []int64{2}, tbl.Index)
}

func TestEventReader_UnexpectedContext(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, eventFile), records(scalar(1, "loss", 1)))
	r, err := NewEventReader(dir, Options{})
	require.NoError(t, err)
	_, err = r.Read(&CSVContext{})
	require.Error(t, err)
}

// --- resolver ---

func TestResolve_CSVBeforeEvents(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.csv"), "a\n1\n")
	appendFile(t, filepath.Join(dir, eventFile), records(scalar(1, "loss", 1)))

	r, err := Resolve(dir, Options{})
	require.NoError(t, err)
	require.Equal(t, "csv", r.Name())
	require.IsType(t, &CSVReader{}, r)
}

func TestResolve_Events(t *testing.T) {
	dir := t.TempDir()
	appendFile(t, filepath.Join(dir, eventFile), records(scalar(1, "loss", 1)))

	r, err := Resolve(dir, Options{})
	require.NoError(t, err)
	require.IsType(t, &EventReader{}, r)
}

func TestResolve_NoReader(t *testing.T) {
	dir := t.TempDir()
	_, err := Resolve(dir, Options{})
	require.ErrorIs(t, err, ErrNoReaderFound)
	require.Contains(t, err.Error(), dir)
}

type stubReader struct{ source string }

func (s *stubReader) Name() string        { return "stub" }
func (s *stubReader) Source() string      { return s.source }
func (s *stubReader) NewContext() Context { return &CSVContext{} }
func (s *stubReader) Read(c Context) (Context, error) {
	return &CSVContext{Data: table.New()}, nil
}
func (s *stubReader) Result(c Context) (*table.Table, error) { return table.New(), nil }

func TestRegister_AppendsAfterBuiltins(t *testing.T) {
	registryMu.Lock()
	saved := append([]registration(nil), registry...)
	registryMu.Unlock()
	t.Cleanup(func() {
		registryMu.Lock()
		registry = saved
		registryMu.Unlock()
	})

	Register("stub", func(source string, opts Options) (Reader, error) {
		return &stubReader{source: source}, nil
	})
	require.Equal(t, []string{"csv", "tfevents", "stub"}, Readers())

	r, err := Resolve(t.TempDir(), Options{})
	require.NoError(t, err)
	require.Equal(t, "stub", r.Name())
}
