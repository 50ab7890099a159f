// Package ledger maintains the permanent record of data-defect files, kept on
// the mirror as one append-only text file. Each line is
//
//	"<hexsha1>  <filename> | <reason>\n"
//
// The ledger answers "has this exact file already been recorded as bad",
// keyed by both hash and name, so that re-staging a known-bad file never
// produces a duplicate entry.
package ledger

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Record is one data-defect entry.
type Record struct {
	Hash   string
	Name   string
	Reason string
}

// Line renders the record in the fixed ledger format.
func (r Record) Line() string {
	return fmt.Sprintf("%s  %s | %s", r.Hash, r.Name, r.Reason)
}

// Ledger is the in-memory form of the failure ledger. Existing lines are kept
// verbatim; the file is historical record, never rewritten, only appended to.
type Ledger struct {
	lines []string
	added int
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Parse reads a ledger. Lines are kept as-is; an old entry that doesn't match
// today's format is still a valid historical record.
func Parse(r io.Reader) (*Ledger, error) {
	l := New()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		l.lines = append(l.lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithContext(err, "read ledger")
	}
	return l, nil
}

// Contains reports whether any existing line mentions both the hash and the
// name. Matching on both keeps distinct defects of the same name (different
// contents) separately recorded.
func (l *Ledger) Contains(hash, name string) bool {
	for _, line := range l.lines {
		if strings.Contains(line, hash) && strings.Contains(line, name) {
			return true
		}
	}
	return false
}

// Append records a defect. It returns false without modifying the ledger if
// the (hash, name) pair is already recorded.
func (l *Ledger) Append(r Record) bool {
	if l.Contains(r.Hash, r.Name) {
		return false
	}
	l.lines = append(l.lines, r.Line())
	l.added++
	return true
}

// Added returns how many records this session appended. When zero, the ledger
// doesn't need republishing.
func (l *Ledger) Added() int {
	return l.added
}

// Len returns the total number of lines.
func (l *Ledger) Len() int {
	return len(l.lines)
}

// Encode writes the ledger, historical lines first, in append order.
func (l *Ledger) Encode(w io.Writer) error {
	for _, line := range l.lines {
		if _, err := fmt.Fprintf(w, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}
