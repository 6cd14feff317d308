// Package run loads a single experiment log directory into a Run.
package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/clarabennett2626/runpilot/internal/metrics"
	"github.com/clarabennett2626/runpilot/internal/reader"
	"github.com/clarabennett2626/runpilot/internal/table"
)

// ErrPostProcess means a post-process hook returned a malformed run. It is
// the only error that aborts a batch.
var ErrPostProcess = errors.New("post-process hook returned an invalid run")

// Run is the table loaded from one log source.
type Run struct {
	Path string
	// Reader is the name of the reader that produced Table.
	Reader string
	Table  *table.Table
}

func (r *Run) String() string {
	return fmt.Sprintf("Run(%s, rows=%d, columns=%d)", r.Path, r.Table.Len(), len(r.Table.ColumnNames()))
}

// RunList is an ordered list of runs.
type RunList []*Run

// Paths returns the path of every run in order.
func (l RunList) Paths() []string {
	out := make([]string, len(l))
	for i, r := range l {
		out[i] = r.Path
	}
	return out
}

// Get returns the run loaded from path.
func (l RunList) Get(path string) (*Run, bool) {
	for _, r := range l {
		if r.Path == path {
			return r, true
		}
	}
	return nil, false
}

// PostProcessFunc transforms a freshly loaded run. It must return a run
// with a path and a table.
type PostProcessFunc func(*Run) *Run

// Options configures loading of one run.
type Options struct {
	Logger  log.Logger
	Verbose bool
	FillNA  bool
	// BatchRecords bounds event records per read; see reader.Options.
	BatchRecords int
	PostProcess  PostProcessFunc
	Metrics      *metrics.Metrics
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

// ReaderOptions returns the options passed to readers.
func (o Options) ReaderOptions() reader.Options {
	return reader.Options{
		Logger:       o.Logger,
		Verbose:      o.Verbose,
		FillNA:       o.FillNA,
		BatchRecords: o.BatchRecords,
		Metrics:      o.Metrics,
	}
}

// Read resolves a reader for source and reads it to completion. It
// returns data errors as-is and does not apply the post-process hook.
func Read(source string, opts Options) (*Run, error) {
	r, err := reader.Resolve(source, opts.ReaderOptions())
	if err != nil {
		return nil, err
	}
	t, err := reader.Drive(r)
	if err != nil {
		return nil, err
	}
	return FromTable(source, r.Name(), t)
}

// FromTable wraps a reader result into a Run, rejecting tables without
// rows.
func FromTable(source, readerName string, t *table.Table) (*Run, error) {
	if t.Empty() {
		return nil, fmt.Errorf("%w: %s", reader.ErrEmptyData, source)
	}
	return &Run{Path: source, Reader: readerName, Table: t}, nil
}

// LoadOne loads the run at source. Sources that cannot be read are logged
// and skipped by returning a nil run and nil error. The only error
// returned wraps ErrPostProcess.
func LoadOne(source string, opts Options) (*Run, error) {
	start := time.Now()
	r, err := Read(source, opts)
	if err != nil {
		Skip(source, err, opts)
		return nil, nil
	}
	opts.Metrics.RunLoaded(time.Since(start))
	return PostProcess(r, opts.PostProcess)
}

// Skip logs and counts a source that could not be loaded.
func Skip(source string, err error, opts Options) {
	level.Warn(opts.logger()).Log("msg", "skipping run", "path", source, "err", err)
	opts.Metrics.RunSkipped(skipReason(err))
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, reader.ErrNoReaderFound):
		return metrics.ReasonNoReader
	case errors.Is(err, reader.ErrEmptyData):
		return metrics.ReasonEmpty
	default:
		return metrics.ReasonReadError
	}
}

// PostProcess applies fn to r and validates its result. A nil fn returns r
// unchanged.
func PostProcess(r *Run, fn PostProcessFunc) (*Run, error) {
	if fn == nil {
		return r, nil
	}
	path := r.Path
	out := fn(r)
	if err := validate(out); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func validate(r *Run) error {
	switch {
	case r == nil:
		return fmt.Errorf("%w: nil run", ErrPostProcess)
	case r.Table == nil:
		return fmt.Errorf("%w: nil table", ErrPostProcess)
	case r.Path == "":
		return fmt.Errorf("%w: empty path", ErrPostProcess)
	}
	return nil
}

// IsDataError reports whether err is a per-source problem that should skip
// the source rather than abort the batch.
func IsDataError(err error) bool {
	return err != nil && !errors.Is(err, ErrPostProcess)
}
