// Package manifest owns the hierarchical integrity manifests kept on the
// mirror: one hash manifest per (dataType, YYYYMM) group, plus a master
// manifest summarizing the digest of every group manifest.
//
// The line formats are byte contracts shared with external hash-verification
// tooling and must not drift:
//
//	group manifest: "<hexsha1>  <filename>\n"
//	master:         "<hexsha1>  <relative manifest path>\n"
//
// (two spaces, matching sha1sum output).
package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// Entry is one (contentHash, filename) record in a group manifest.
type Entry struct {
	Hash string
	Name string
}

// Manifest is the ordered set of entries for one group. Filenames are unique
// within a manifest; the first recorded hash for a name is authoritative.
type Manifest struct {
	DataType string
	Group    string

	entries []Entry
	byName  map[string]string
}

// New returns an empty manifest for the group.
func New(dataType, group string) *Manifest {
	return &Manifest{
		DataType: dataType,
		Group:    group,
		byName:   map[string]string{},
	}
}

// Parse reads a group manifest. A malformed line is an error: manifests are
// machine-written, so damage means the mirror copy can't be trusted.
func Parse(dataType, group string, r io.Reader) (*Manifest, error) {
	m := New(dataType, group)

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}

		fields := strings.SplitN(line, "  ", 2)
		if len(fields) != 2 || fields[0] == "" || fields[1] == "" {
			return nil, errors.New(fmt.Sprintf(
				"malformed manifest line %d: %q", lineNum, line))
		}
		if !m.Append(Entry{Hash: fields[0], Name: strings.TrimSpace(fields[1])}) {
			return nil, errors.New(fmt.Sprintf(
				"duplicate filename %q at manifest line %d", fields[1], lineNum))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithContext(err, "read manifest")
	}
	return m, nil
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns the entries in recorded order.
func (m *Manifest) Entries() []Entry {
	return append([]Entry{}, m.entries...)
}

// HashFor returns the recorded hash for a filename.
func (m *Manifest) HashFor(name string) (string, bool) {
	hash, ok := m.byName[name]
	return hash, ok
}

// Append records an entry. It returns false, without modifying the manifest,
// if the filename is already recorded: the existing hash stays authoritative.
func (m *Manifest) Append(e Entry) bool {
	if _, ok := m.byName[e.Name]; ok {
		return false
	}
	m.entries = append(m.entries, e)
	m.byName[e.Name] = e.Hash
	return true
}

// Encode writes the manifest in the fixed line format.
func (m *Manifest) Encode(w io.Writer) error {
	for _, e := range m.entries {
		if _, err := fmt.Fprintf(w, "%s  %s\n", e.Hash, e.Name); err != nil {
			return err
		}
	}
	return nil
}

// VerifyOutcome is the result of reconciling one local file against a
// manifest.
type VerifyOutcome int

const (
	// EntryAbsent means the filename isn't recorded: the file hasn't been
	// archived yet and remains eligible.
	EntryAbsent VerifyOutcome = iota

	// EntryMatch means the filename is recorded with the same hash: the
	// file is already on the mirror and the local copy can be deleted.
	EntryMatch

	// EntryMismatch means the filename is recorded with a different hash:
	// the local file must be quarantined for an operator to look at.
	EntryMismatch
)

// Verify reconciles a (filename, hash) pair against the manifest.
func (m *Manifest) Verify(name, hash string) VerifyOutcome {
	recorded, ok := m.byName[name]
	switch {
	case !ok:
		return EntryAbsent
	case recorded == hash:
		return EntryMatch
	default:
		return EntryMismatch
	}
}
