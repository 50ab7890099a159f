package manifest

import (
	"crypto/sha1"
	"encoding/hex"
	"io"

	"github.com/spf13/afero"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Digest returns the hex SHA-1 digest of the reader's contents. SHA-1 is
// fixed by the manifest wire format, which stays compatible with sha1sum.
func Digest(r io.Reader) (string, error) {
	hasher := sha1.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashFile returns the hex SHA-1 digest of the file at the given path.
func HashFile(path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Digest(f)
}
