package reader

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceNotFound means the source does not have the layout a reader
	// expects. The resolver moves on to the next reader.
	ErrSourceNotFound = errors.New("log source not found")
	// ErrNoReaderFound means no registered reader accepted the source.
	ErrNoReaderFound = errors.New("no reader found")
	// ErrEmptyData means the source holds no rows.
	ErrEmptyData = errors.New("empty data")
)

// DecodeError describes one event record that could not be decoded. The
// record is skipped and reading continues.
type DecodeError struct {
	File   string
	Record int64
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: record %d: %v", e.File, e.Record, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
