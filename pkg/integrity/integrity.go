// Package integrity implements the data-defect checks a file must pass before
// it is allowed onto the mirror: the compressed container must decompress
// cleanly, the file must be big enough to hold at least one record, and the
// record structure must decode.
package integrity

import (
	"bytes"
	"compress/bzip2"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// minRecordSize is the smallest on-disk size that can possibly hold a record.
// A bzip2 stream compressed from no input is exactly 14 bytes, so anything at
// or below it is an empty capture.
const minRecordSize = 14

// Recorded failure reasons. These are ledger text and must stay stable.
const (
	ReasonContainerCorrupt = "Failed BZ2 integrity test"
	ReasonEmpty            = "File contains no records (empty)"
)

// State classifies a verified file.
type State int

const (
	// Valid means the file passed every check.
	Valid State = iota

	// Missing means the file vanished between scan and verification. Not a
	// data defect; the file is silently dropped from the run.
	Missing

	// ContainerCorrupt means the compressed container failed to decompress.
	ContainerCorrupt

	// Empty means the file is too small to hold a record.
	Empty

	// StructureInvalid means the record structure failed to decode.
	StructureInvalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Missing:
		return "missing"
	case ContainerCorrupt:
		return "container corrupt"
	case Empty:
		return "empty"
	case StructureInvalid:
		return "structure invalid"
	default:
		return "unknown"
	}
}

// Result is the outcome of verifying one file. Reason is the recorded failure
// text for defect states, empty otherwise.
type Result struct {
	State  State
	Reason string
}

// OK reports whether the file passed.
func (r Result) OK() bool {
	return r.State == Valid
}

// Validator decodes the decompressed contents of a file and reports whether
// the record structure is well formed. The error text becomes the recorded
// failure reason.
type Validator interface {
	Validate(data []byte) error
}

// Verifier runs the container, size, and structure checks in order, stopping
// at the first failure.
type Verifier struct {
	validator Validator
}

// NewVerifier returns a Verifier using the given structure validator.
func NewVerifier(validator Validator) *Verifier {
	return &Verifier{validator: validator}
}

// Verify checks the file at path.
func (v *Verifier) Verify(path string) Result {
	compressed, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("file", path).Warn("File disappeared before verification")
			return Result{State: Missing}
		}
		// Unreadable is indistinguishable from gone for our purposes.
		log.WithField("file", path).WithError(err).Warn("Could not read file for verification")
		return Result{State: Missing}
	}

	data, err := io.ReadAll(bzip2.NewReader(bytes.NewReader(compressed)))
	if err != nil {
		return Result{State: ContainerCorrupt, Reason: ReasonContainerCorrupt}
	}

	// The size floor applies to the file as stored, not the decompressed
	// contents. A tiny decompressed payload is a structure problem and gets
	// the validator's diagnosis instead.
	if len(compressed) <= minRecordSize {
		return Result{State: Empty, Reason: ReasonEmpty}
	}

	if err := v.validator.Validate(data); err != nil {
		return Result{State: StructureInvalid, Reason: normalizeReason(err.Error())}
	}
	return Result{State: Valid}
}

// normalizeReason collapses runs of whitespace so that multi-line decode
// errors stay on one ledger line.
func normalizeReason(reason string) string {
	return strings.Join(strings.Fields(reason), " ")
}
