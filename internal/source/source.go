// Package source finds the run directories named by glob patterns, reads
// pattern lists from standard input and watches run directories for new
// log data.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Expand returns the paths matching a glob pattern in lexicographic order.
// Matches may be directories or files. A leading "~/" is expanded to the
// home directory. A pattern without matches yields an empty slice and no
// error.
func Expand(pattern string) ([]string, error) {
	p, err := expandHome(pattern)
	if err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(p)
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", pattern, err)
	}

	seen := make(map[string]struct{}, len(matches))
	result := make([]string, 0, len(matches))
	for _, m := range matches {
		m = filepath.Clean(m)
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		result = append(result, m)
	}
	sort.Strings(result)
	return result, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expanding %q: %w", p, err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
