// Package reader turns an experiment log source into a table.
//
// A Reader is constructed for one source and driven through an explicit
// context: NewContext returns empty state, each Read advances it, and
// Result normalizes the accumulated table. Contexts are plain data, so a
// caller may hand one to another goroutine between reads or keep it around
// and call Read again later to pick up data appended since.
package reader

import (
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/clarabennett2626/runpilot/internal/metrics"
	"github.com/clarabennett2626/runpilot/internal/table"
)

// Context is the resumable state of one reader. Implementations hold no
// file handles or locks.
type Context interface {
	// Pending reports whether the last Read stopped early because of its
	// work budget, so another Read may return more data right away.
	Pending() bool
}

// Reader reads one log source.
type Reader interface {
	// Name identifies the log format, e.g. "csv".
	Name() string
	// Source returns the path the reader was constructed for.
	Source() string
	// NewContext returns an empty context. It performs no I/O.
	NewContext() Context
	// Read performs incremental work on c and returns the updated context.
	// It never blocks waiting for data that is not there yet.
	Read(c Context) (Context, error)
	// Result returns the table accumulated in c. It performs no I/O.
	Result(c Context) (*table.Table, error)
}

// Options configures readers.
type Options struct {
	Logger log.Logger
	// Verbose logs which files are read at info level instead of debug.
	Verbose bool
	// FillNA replaces missing cells with zero in CSV results.
	FillNA bool
	// BatchRecords bounds the number of event records consumed per Read.
	// Zero means unbounded.
	BatchRecords int
	Metrics      *metrics.Metrics
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.NewNopLogger()
	}
	return o.Logger
}

// diag returns the logger used for per-file diagnostics.
func (o Options) diag() log.Logger {
	if o.Verbose {
		return level.Info(o.logger())
	}
	return level.Debug(o.logger())
}

// Drive reads r to completion from a fresh context: Read is called until
// the context is no longer pending, then Result.
func Drive(r Reader) (*table.Table, error) {
	c := r.NewContext()
	for {
		var err error
		c, err = r.Read(c)
		if err != nil {
			return nil, err
		}
		if !c.Pending() {
			break
		}
	}
	return r.Result(c)
}
