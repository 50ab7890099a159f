// Package classify decides, file by file, what may leave the holding
// directory. Every staged file ends up in exactly one partition: blocked,
// already archived, hash mismatch, data defect, or eligible for transfer.
package classify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/filename"
	"github.com/superdarn-canada/gatekeeper/pkg/integrity"
	"github.com/superdarn-canada/gatekeeper/pkg/manifest"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// hashFile digests a staged file through the package filesystem. A var so
// tests can make a file vanish between the scan and the hash.
var hashFile = func(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return manifest.Digest(f)
}

// Classification is the gate decision for one staged file.
type Classification int

const (
	// Pending means the file hasn't been classified yet.
	Pending Classification = iota

	// Blocked means a blocklist pattern matched the file name.
	Blocked

	// AlreadyOnMirror means the manifest records this name with the same
	// hash. The local copy is redundant and can be deleted.
	AlreadyOnMirror

	// HashMismatch means the manifest records this name with a different
	// hash. The file is quarantined for an operator; the archived copy is
	// never overwritten.
	HashMismatch

	// IntegrityFailed means the file is a data defect: corrupt container,
	// empty, or structurally invalid.
	IntegrityFailed

	// Eligible means the file passed every gate and may be transferred.
	Eligible
)

func (c Classification) String() string {
	switch c {
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	case AlreadyOnMirror:
		return "already on mirror"
	case HashMismatch:
		return "hash mismatch"
	case IntegrityFailed:
		return "integrity failed"
	case Eligible:
		return "eligible"
	default:
		return "unknown"
	}
}

// Candidate is one staged file moving through classification.
type Candidate struct {
	// Name is the bare file name.
	Name string

	// Path is the file's location in the holding directory.
	Path string

	// Hash is the hex SHA-1 of the file contents.
	Hash string

	// Meta is the structured form of the file name.
	Meta filename.File

	Classification Classification

	// Reason explains a negative classification.
	Reason string
}

// Partition is the classified candidate set. Every candidate appears in
// exactly one slice.
type Partition struct {
	Blocked         []*Candidate
	AlreadyOnMirror []*Candidate
	HashMismatch    []*Candidate
	IntegrityFailed []*Candidate
	Eligible        []*Candidate
}

// Total returns the number of classified candidates.
func (p Partition) Total() int {
	return len(p.Blocked) + len(p.AlreadyOnMirror) + len(p.HashMismatch) +
		len(p.IntegrityFailed) + len(p.Eligible)
}

// Names returns the bare file names of the given candidates.
func Names(candidates []*Candidate) []string {
	var names []string
	for _, c := range candidates {
		names = append(names, c.Name)
	}
	return names
}

// ManifestSource fetches group manifests from the mirror.
type ManifestSource interface {
	Fetch(dataType, group string) (*manifest.Manifest, error)
}

// IntegrityChecker runs the data-defect checks on one staged file.
type IntegrityChecker interface {
	Verify(path string) integrity.Result
}

// Result is the outcome of a classification pass: the partition, plus every
// group manifest consulted or created, keyed by group. The caller appends
// transferred files to these and publishes them.
type Result struct {
	Partition Partition
	Manifests map[string]*manifest.Manifest
}

// Classifier runs the gate decisions for one data type.
type Classifier struct {
	holdingDir string
	dataType   string
	pattern    string
	blocklist  Blocklist
	manifests  ManifestSource
	verifier   IntegrityChecker
	clock      clockwork.Clock
}

// NewClassifier returns a Classifier scanning holdingDir for files matching
// pattern.
func NewClassifier(holdingDir, dataType, pattern string, blocklist Blocklist,
	manifests ManifestSource, verifier IntegrityChecker, clock clockwork.Clock) *Classifier {
	return &Classifier{
		holdingDir: holdingDir,
		dataType:   dataType,
		pattern:    pattern,
		blocklist:  blocklist,
		manifests:  manifests,
		verifier:   verifier,
		clock:      clock,
	}
}

// Scan lists the staged files matching the classifier's pattern, sorted by
// name. Sorting makes runs deterministic and keeps files in chronological
// order, since the names lead with the timestamp.
func (cl *Classifier) Scan() ([]*Candidate, error) {
	paths, err := afero.Glob(fs, filepath.Join(cl.holdingDir, cl.pattern))
	if err != nil {
		return nil, errors.WithContext(err, "scan holding dir")
	}
	sort.Strings(paths)

	var candidates []*Candidate
	for _, path := range paths {
		name := filepath.Base(path)
		meta, err := filename.Parse(name)
		if err != nil {
			log.WithField("file", name).WithError(err).Warn(
				"File matches the sync pattern but its name doesn't parse; skipping")
			continue
		}
		candidates = append(candidates, &Candidate{Name: name, Path: path, Meta: meta})
	}
	return candidates, nil
}

// Run classifies every staged file. A manifest missing for any group other
// than the current month is fatal: it means the mirror archive is incomplete
// or we are looking at the wrong root, and transferring anything on top of
// that would compound the damage.
func (cl *Classifier) Run() (*Result, error) {
	candidates, err := cl.Scan()
	if err != nil {
		return nil, err
	}
	log.Infof("Classifying %d staged files", len(candidates))

	result := &Result{Manifests: map[string]*manifest.Manifest{}}
	currentGroup := cl.clock.Now().UTC().Format("200601")

	for _, c := range candidates {
		if pattern, ok := cl.blocklist.Match(c.Name); ok {
			c.Classification = Blocked
			c.Reason = fmt.Sprintf("matched blocklist pattern %q", pattern)
			result.Partition.Blocked = append(result.Partition.Blocked, c)
			continue
		}

		c.Hash, err = hashFile(c.Path)
		if err != nil {
			if os.IsNotExist(err) {
				// Vanished between scan and hash. Not a data defect; drop it.
				log.WithField("file", c.Name).Warn(
					"Staged file disappeared before hashing; skipping")
				continue
			}
			return nil, errors.WithContext(err, fmt.Sprintf("hash %q", c.Name))
		}

		group := c.Meta.GroupKey()
		m, ok := result.Manifests[group]
		if !ok {
			m, err = cl.fetchManifest(group, currentGroup)
			if err != nil {
				return nil, err
			}
			result.Manifests[group] = m
		}

		switch m.Verify(c.Name, c.Hash) {
		case manifest.EntryMatch:
			c.Classification = AlreadyOnMirror
			result.Partition.AlreadyOnMirror = append(result.Partition.AlreadyOnMirror, c)
			continue
		case manifest.EntryMismatch:
			c.Classification = HashMismatch
			c.Reason = "hash does not match the archived copy"
			result.Partition.HashMismatch = append(result.Partition.HashMismatch, c)
			continue
		}

		verdict := cl.verifier.Verify(c.Path)
		switch {
		case verdict.State == integrity.Missing:
			// Vanished mid-run. Not a data defect; drop it.
			continue
		case !verdict.OK():
			c.Classification = IntegrityFailed
			c.Reason = verdict.Reason
			result.Partition.IntegrityFailed = append(result.Partition.IntegrityFailed, c)
			continue
		}

		c.Classification = Eligible
		result.Partition.Eligible = append(result.Partition.Eligible, c)
	}

	p := result.Partition
	log.Infof("Classified: %d blocked, %d already on mirror, %d hash mismatches, %d failed integrity, %d eligible",
		len(p.Blocked), len(p.AlreadyOnMirror), len(p.HashMismatch), len(p.IntegrityFailed), len(p.Eligible))
	return result, nil
}

func (cl *Classifier) fetchManifest(group, currentGroup string) (*manifest.Manifest, error) {
	m, err := cl.manifests.Fetch(cl.dataType, group)
	switch {
	case err == nil:
		return m, nil
	case errors.IsFileNotFound(err) && group == currentGroup:
		// The current month legitimately has no manifest until its first
		// file lands.
		log.WithField("group", group).Info("Starting a new manifest for the current month")
		return manifest.New(cl.dataType, group), nil
	case errors.IsFileNotFound(err):
		return nil, errors.MirrorInconsistency{
			Path:   fmt.Sprintf("manifest for group %s", group),
			Reason: "a past group has staged files but no manifest on the mirror",
		}
	default:
		return nil, err
	}
}
