package source

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// IsPipe reports whether stdin appears to be a pipe (not a terminal).
func IsPipe() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) == 0
}

// ReadPatterns reads one glob pattern per line from r, so run lists can be
// piped in:
//
//	find ~/runs -name progress.csv -printf '%h\n' | runpilot load -
//
// Blank lines and lines starting with '#' are ignored.
func ReadPatterns(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	// Support very long paths (up to 1 MB).
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var patterns []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stdin read error: %w", err)
	}
	return patterns, nil
}
