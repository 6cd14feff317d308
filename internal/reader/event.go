package reader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-kit/log/level"
	"golang.org/x/exp/mmap"

	"github.com/clarabennett2626/runpilot/internal/table"
	"github.com/clarabennett2626/runpilot/internal/tfevents"
)

// EventFilePattern matches TensorFlow event files inside a run directory.
const EventFilePattern = "*events.out.tfevents.*"

// EventReader reads the scalar summaries of every event file in a
// directory. Reads are incremental: each Read resumes after the records
// consumed by the previous one, so calling it again on a growing log only
// decodes the appended records.
type EventReader struct {
	dir  string
	opts Options
}

// EventContext is the resumable state of an EventReader.
type EventContext struct {
	// Consumed counts the records consumed per file, including records
	// skipped because they could not be decoded.
	Consumed map[string]int64
	// Offsets is the byte offset after the last consumed record per file.
	Offsets map[string]int64
	// Data holds every scalar read so far.
	Data *table.Table
	// LastReadRows is the number of records consumed by the last Read.
	LastReadRows int
	// DecodeErrors counts skipped records over the life of the context.
	DecodeErrors int
	// More is set when the last Read stopped at its batch limit.
	More bool
}

func (c *EventContext) Pending() bool { return c.More }

// NewEventReader returns a reader for dir, which must contain at least one
// event file.
func NewEventReader(dir string, opts Options) (Reader, error) {
	files, err := eventFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, filepath.Join(dir, EventFilePattern))
	}
	return &EventReader{dir: dir, opts: opts}, nil
}

// eventFiles lists the event files in dir in lexicographic order.
func eventFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
	case err != nil:
		return nil, fmt.Errorf("tfevents: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tfevents: %w", err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(EventFilePattern, e.Name()); ok {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func (r *EventReader) Name() string   { return "tfevents" }
func (r *EventReader) Source() string { return r.dir }

func (r *EventReader) String() string {
	return fmt.Sprintf("EventReader(%s)", r.dir)
}

func (r *EventReader) NewContext() Context {
	return &EventContext{
		Consumed: make(map[string]int64),
		Offsets:  make(map[string]int64),
		Data:     table.NewIndexed(),
	}
}

// Read consumes the records appended to the event files since the last
// Read. The file list is refreshed on every call so files created after
// construction are picked up. A record that is only partly written stops
// its file without being consumed; the next Read retries it. A file that
// cannot be opened is logged and skipped; the others are still read.
func (r *EventReader) Read(c Context) (Context, error) {
	ctx, ok := c.(*EventContext)
	if !ok {
		return nil, fmt.Errorf("tfevents: unexpected context %T", c)
	}
	if ctx.Consumed == nil {
		ctx.Consumed = make(map[string]int64)
	}
	if ctx.Offsets == nil {
		ctx.Offsets = make(map[string]int64)
	}

	files, err := eventFiles(r.dir)
	if err != nil {
		return nil, err
	}

	ctx.LastReadRows = 0
	ctx.More = false
	staging := table.NewStaging()
	for _, file := range files {
		limit := 0
		if r.opts.BatchRecords > 0 {
			limit = r.opts.BatchRecords - ctx.LastReadRows
			if limit <= 0 {
				ctx.More = true
				break
			}
		}
		n, full, err := r.readFile(file, ctx, staging, limit)
		ctx.LastReadRows += n
		if err != nil {
			// Records read before the failure stay consumed and staged; the
			// file is retried from there on the next Read.
			level.Warn(r.opts.logger()).Log("msg", "skipping unreadable event file", "file", file, "err", err)
			continue
		}
		if full {
			ctx.More = true
			break
		}
	}

	r.opts.Metrics.RecordsRead(ctx.LastReadRows)
	ctx.Data = table.Merge(staging.Table(), ctx.Data)
	return ctx, nil
}

// readFile consumes up to limit records (unbounded when limit is 0) from
// file into staging. It reports the records consumed and whether the
// limit was reached.
func (r *EventReader) readFile(file string, ctx *EventContext, staging *table.Staging, limit int) (int, bool, error) {
	m, err := mmap.Open(file)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("tfevents: %w", err)
	}
	defer m.Close()

	size := int64(m.Len())
	off := ctx.Offsets[file]
	if off > size {
		level.Warn(r.opts.logger()).Log("msg", "event file shrank, reading it again", "file", file, "offset", off, "size", size)
		off = 0
		ctx.Offsets[file] = 0
		ctx.Consumed[file] = 0
	}
	if off == 0 && ctx.Consumed[file] > 0 {
		// A context restored without offsets: walk past consumed records.
		if off, err = skipRecords(m, size, ctx.Consumed[file]); err != nil {
			return 0, false, err
		}
	}
	if off == size {
		return 0, false, nil
	}
	r.opts.diag().Log("msg", "reading", "reader", r.Name(), "file", file, "offset", off)

	n := 0
	for limit == 0 || n < limit {
		data, next, err := tfevents.ReadRecord(m, size, off)
		switch {
		case errors.Is(err, tfevents.ErrIncomplete):
			return n, false, nil
		case errors.Is(err, tfevents.ErrLengthChecksum):
			r.decodeError(ctx, file, err)
			return n, false, nil
		case errors.Is(err, tfevents.ErrDataChecksum):
			r.decodeError(ctx, file, err)
		case err != nil:
			return n, false, fmt.Errorf("tfevents %s: %w", file, err)
		default:
			if err := stageEvent(staging, data); err != nil {
				r.decodeError(ctx, file, err)
			}
		}
		off = next
		n++
		ctx.Consumed[file]++
		ctx.Offsets[file] = off
	}
	return n, true, nil
}

func (r *EventReader) decodeError(ctx *EventContext, file string, err error) {
	ctx.DecodeErrors++
	r.opts.Metrics.DecodeError()
	derr := &DecodeError{File: file, Record: ctx.Consumed[file], Err: err}
	level.Warn(r.opts.logger()).Log("msg", "skipping event record", "err", derr)
}

// stageEvent decodes one serialized Event and stages its scalars.
func stageEvent(staging *table.Staging, data []byte) error {
	ev, err := tfevents.UnmarshalEvent(data)
	if err != nil {
		return err
	}
	if ev.Summary == nil {
		return nil
	}
	for _, v := range ev.Summary.Values {
		if s, ok := v.Scalar(); ok {
			staging.Put(v.Tag, ev.Step, table.Float(s))
		}
	}
	return nil
}

// skipRecords returns the offset after the first n records of a file.
func skipRecords(m *mmap.ReaderAt, size, n int64) (int64, error) {
	var off int64
	for i := int64(0); i < n; i++ {
		_, next, err := tfevents.ReadRecord(m, size, off)
		if err != nil && !errors.Is(err, tfevents.ErrDataChecksum) {
			if errors.Is(err, tfevents.ErrIncomplete) || errors.Is(err, tfevents.ErrLengthChecksum) {
				return off, nil
			}
			return 0, err
		}
		off = next
	}
	return off, nil
}

// Result returns every scalar read so far with columns sorted by tag.
// Rows are indexed by step. Missing cells stay null even with FillNA set:
// tags logged every N steps are sparse by nature.
func (r *EventReader) Result(c Context) (*table.Table, error) {
	ctx, ok := c.(*EventContext)
	if !ok {
		return nil, fmt.Errorf("tfevents: unexpected context %T", c)
	}
	if ctx.Data == nil {
		return table.NewIndexed(), nil
	}
	return ctx.Data.SortColumns(), nil
}
