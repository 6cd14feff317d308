package loader

import (
	"encoding/gob"
	"io"

	"github.com/spf13/pflag"

	"github.com/clarabennett2626/runpilot/internal/run"
)

// BindWorkerFlags registers the flags produced by WorkerArgs on fs.
func BindWorkerFlags(fs *pflag.FlagSet, opts *run.Options) {
	fs.BoolVar(&opts.Verbose, "verbose", false, "log files read at info level")
	fs.BoolVar(&opts.FillNA, "fillna", false, "replace missing cells with zero")
	fs.IntVar(&opts.BatchRecords, "batch-records", 0, "event records per read (0 = unbounded)")
}

// ServeWorker reads source and writes the result for a ProcessExecutor to
// w. Data errors are part of the result; the returned error is only about
// writing it.
func ServeWorker(w io.Writer, source string, opts run.Options) error {
	var res workerResult
	r, err := run.Read(source, opts)
	if err != nil {
		res.Kind = kindOf(err)
		res.Err = err.Error()
	} else {
		res.Run = r
	}
	return gob.NewEncoder(w).Encode(res)
}
