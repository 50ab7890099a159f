package errors

import (
	"fmt"
)

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// IsFileNotFound reports whether err's chain contains a FileNotFound.
func IsFileNotFound(err error) bool {
	var notFound FileNotFound
	return As(err, &notFound)
}

// MirrorInconsistency represents a state on the mirror that the pipeline is
// not allowed to repair, such as a missing manifest for a past month. Runs
// abort when they hit one so that files are never promoted without an
// authoritative manifest.
type MirrorInconsistency struct {
	Path   string
	Reason string
}

func (err MirrorInconsistency) Error() string {
	return fmt.Sprintf("mirror inconsistency at %q: %s", err.Path, err.Reason)
}

func (err MirrorInconsistency) FriendlyMessage() string {
	return fmt.Sprintf("The mirror is in an inconsistent state and the sync "+
		"was aborted.\nPath: %s\nProblem: %s\n"+
		"No manifest updates were published past this point.", err.Path, err.Reason)
}
