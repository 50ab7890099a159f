package classify

import (
	"path/filepath"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// Blocklist is the set of deny patterns fetched from the mirror. A pattern
// blocks a file when it appears anywhere in the file name, so a single entry
// like "20230115" or ".sas." can hold back a whole day or station.
type Blocklist struct {
	patterns []string
}

// NewBlocklist returns a blocklist over the given patterns.
func NewBlocklist(patterns []string) Blocklist {
	return Blocklist{patterns: patterns}
}

// LoadBlocklist reads every .txt fragment in dir, one pattern per line. Blank
// lines and lines starting with "#" are skipped. A missing directory is an
// empty blocklist.
func LoadBlocklist(dir string) (Blocklist, error) {
	paths, err := afero.Glob(fs, filepath.Join(dir, "*.txt"))
	if err != nil {
		return Blocklist{}, errors.WithContext(err, "list blocklist fragments")
	}
	sort.Strings(paths)

	var patterns []string
	for _, path := range paths {
		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			return Blocklist{}, errors.WithContext(err, "read blocklist fragment")
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			patterns = append(patterns, line)
		}
	}

	log.Infof("Loaded %d blocklist patterns from %d fragments", len(patterns), len(paths))
	return NewBlocklist(patterns), nil
}

// Match returns the first pattern contained in name.
func (b Blocklist) Match(name string) (string, bool) {
	for _, pattern := range b.patterns {
		if strings.Contains(name, pattern) {
			return pattern, true
		}
	}
	return "", false
}

// Len returns the number of patterns.
func (b Blocklist) Len() int {
	return len(b.patterns)
}
