package manifest

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// Master maps each group manifest's mirror-relative path to the digest of its
// contents. It is rebuilt as a whole on every update rather than diffed;
// every manifest it references must exist on the mirror.
type Master struct {
	order   []string
	digests map[string]string
}

// NewMaster returns an empty master manifest.
func NewMaster() *Master {
	return &Master{digests: map[string]string{}}
}

// ParseMaster reads a master manifest.
func ParseMaster(r io.Reader) (*Master, error) {
	m := NewMaster()

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
				"malformed master manifest line %d: %q", lineNum, line))
		}
		m.Set(strings.TrimSpace(fields[1]), fields[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithContext(err, "read master manifest")
	}
	return m, nil
}

// Set records or replaces the digest for a manifest path.
func (m *Master) Set(relPath, digest string) {
	if _, ok := m.digests[relPath]; !ok {
		m.order = append(m.order, relPath)
	}
	m.digests[relPath] = digest
}

// Digest returns the recorded digest for a manifest path.
func (m *Master) Digest(relPath string) (string, bool) {
	digest, ok := m.digests[relPath]
	return digest, ok
}

// Len returns the number of recorded manifests.
func (m *Master) Len() int {
	return len(m.order)
}

// Encode writes the master manifest in the fixed line format.
func (m *Master) Encode(w io.Writer) error {
	for _, relPath := range m.order {
		if _, err := fmt.Fprintf(w, "%s  %s\n", m.digests[relPath], relPath); err != nil {
			return err
		}
	}
	return nil
}
