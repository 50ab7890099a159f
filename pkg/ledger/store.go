package ledger

import (
	"bytes"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
)

// Store moves the ledger between the mirror and the local working directory.
type Store struct {
	client     mirror.Client
	layout     mirror.Layout
	workingDir string
}

// NewStore returns a Store staging through workingDir.
func NewStore(client mirror.Client, layout mirror.Layout, workingDir string) *Store {
	return &Store{client: client, layout: layout, workingDir: workingDir}
}

func (s *Store) localPath() string {
	return filepath.Join(s.workingDir, "all_failed.txt")
}

// Fetch retrieves the ledger from the mirror. An absent ledger is empty; the
// file doesn't exist until the first defect is recorded.
func (s *Store) Fetch() (*Ledger, error) {
	remotePath := s.layout.LedgerPath()
	exists, err := s.client.Exists(remotePath)
	if err != nil {
		return nil, errors.WithContext(err, "check ledger existence")
	}
	if !exists {
		log.Info("No failure ledger on the mirror; starting empty")
		return New(), nil
	}

	id, err := s.client.Submit(mirror.Batch{
		Label: "get_failed_ledger",
		Items: []mirror.Item{{Source: remotePath, Destination: s.localPath()}},
	})
	if err != nil {
		return nil, errors.WithContext(err, "fetch ledger")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return nil, errors.WithContext(err, "fetch ledger")
	}

	f, err := fs.Open(s.localPath())
	if err != nil {
		return nil, errors.WithContext(err, "open fetched ledger")
	}
	defer f.Close()
	return Parse(f)
}

// Publish uploads the ledger back to the mirror. A ledger with no new records
// is left alone.
func (s *Store) Publish(l *Ledger) error {
	if l.Added() == 0 {
		return nil
	}

	var buf bytes.Buffer
	if err := l.Encode(&buf); err != nil {
		return errors.WithContext(err, "encode ledger")
	}
	if err := afero.WriteFile(fs, s.localPath(), buf.Bytes(), 0644); err != nil {
		return errors.WithContext(err, "stage ledger")
	}

	id, err := s.client.Submit(mirror.Batch{
		Label: "put_failed_ledger",
		Items: []mirror.Item{{Source: s.localPath(), Destination: s.layout.LedgerPath()}},
	})
	if err != nil {
		return errors.WithContext(err, "publish ledger")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return errors.WithContext(err, "publish ledger")
	}

	log.Infof("Published failure ledger with %d new records", l.Added())
	return nil
}
