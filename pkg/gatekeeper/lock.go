package gatekeeper

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

const lockFileName = ".gatekeeper.lock"

// flock is the single-instance guard. Runs start from cron, and a slow
// transfer can overlap the next scheduled start; the second run must bail out
// rather than race the first over the same holding files.
type flock struct {
	path string
}

// acquireLock creates the lock file in dir, failing if it already exists.
func acquireLock(dir string) (*flock, error) {
	path := filepath.Join(dir, lockFileName)
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.NewFriendlyError(
				"Another sync appears to be running: the lock file %q exists.\n"+
					"If no other sync is running, remove the file and retry.", path)
		}
		return nil, errors.WithContext(err, "create lock file")
	}

	fmt.Fprintf(f, "pid %d at %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if err := f.Close(); err != nil {
		return nil, errors.WithContext(err, "write lock file")
	}
	return &flock{path: path}, nil
}

func (l *flock) release() {
	if err := fs.Remove(l.path); err != nil {
		log.WithError(err).Warn("Could not remove the lock file")
	}
}
