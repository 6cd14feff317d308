// Package logging builds the go-kit loggers used across runpilot.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Format is a log line encoding.
type Format string

const (
	FormatLogfmt Format = "logfmt"
	FormatJSON   Format = "json"
)

// ParseLevel maps a level name to a filter option. Unknown names mean info.
func ParseLevel(s string) level.Option {
	switch strings.ToLower(s) {
	case "debug":
		return level.AllowDebug()
	case "warn", "warning":
		return level.AllowWarn()
	case "error":
		return level.AllowError()
	case "none", "off":
		return level.AllowNone()
	default:
		return level.AllowInfo()
	}
}

// New returns a timestamped logger writing format to w, filtered at lvl.
func New(w io.Writer, format string, lvl string) (log.Logger, error) {
	var logger log.Logger
	sw := log.NewSyncWriter(w)
	switch Format(strings.ToLower(format)) {
	case FormatLogfmt, "":
		logger = log.NewLogfmtLogger(sw)
	case FormatJSON:
		logger = log.NewJSONLogger(sw)
	default:
		return nil, fmt.Errorf("unknown log format %q (want logfmt or json)", format)
	}
	logger = level.NewFilter(logger, ParseLevel(lvl))
	return log.With(logger, "ts", log.DefaultTimestampUTC), nil
}
