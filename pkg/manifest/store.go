package manifest

import (
	"bytes"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
)

// Store moves manifests between the mirror and the local working directory.
// Manifests are staged as files in the working directory so that what gets
// uploaded is exactly what was encoded.
type Store struct {
	client     mirror.Client
	layout     mirror.Layout
	workingDir string
}

// NewStore returns a Store staging through workingDir.
func NewStore(client mirror.Client, layout mirror.Layout, workingDir string) *Store {
	return &Store{client: client, layout: layout, workingDir: workingDir}
}

func (s *Store) localPath(group string) string {
	return filepath.Join(s.workingDir, group+".hashes")
}

func (s *Store) localMasterPath() string {
	return filepath.Join(s.workingDir, "master.hashes")
}

// Fetch retrieves the group manifest from the mirror. An absent manifest is
// reported as errors.FileNotFound; deciding whether absence is tolerable (a
// new current-month group) or fatal (a past group) is the caller's policy. A
// present but unparseable manifest is a mirror inconsistency.
func (s *Store) Fetch(dataType, group string) (*Manifest, error) {
	remotePath := s.layout.ManifestPath(dataType, group)
	exists, err := s.client.Exists(remotePath)
	if err != nil {
		return nil, errors.WithContext(err, "check manifest existence")
	}
	if !exists {
		return nil, errors.FileNotFound{Path: remotePath}
	}

	localPath := s.localPath(group)
	id, err := s.client.Submit(mirror.Batch{
		Label: "get_hashes",
		Items: []mirror.Item{{Source: remotePath, Destination: localPath}},
	})
	if err != nil {
		return nil, errors.WithContext(err, "fetch manifest")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return nil, errors.WithContext(err, "fetch manifest")
	}

	f, err := fs.Open(localPath)
	if err != nil {
		return nil, errors.WithContext(err, "open fetched manifest")
	}
	defer f.Close()

	m, err := Parse(dataType, group, f)
	if err != nil {
		return nil, errors.MirrorInconsistency{Path: remotePath, Reason: err.Error()}
	}
	log.WithField("group", group).Infof("Fetched manifest with %d entries", m.Len())
	return m, nil
}

// Publish encodes the manifest to the working directory and uploads it to its
// mirror location, creating the group's data directory if needed.
func (s *Store) Publish(m *Manifest) error {
	var buf bytes.Buffer
	if err := m.Encode(&buf); err != nil {
		return errors.WithContext(err, "encode manifest")
	}

	localPath := s.localPath(m.Group)
	if err := afero.WriteFile(fs, localPath, buf.Bytes(), 0644); err != nil {
		return errors.WithContext(err, "stage manifest")
	}

	remotePath := s.layout.ManifestPath(m.DataType, m.Group)
	if err := s.client.Mkdir(filepath.Dir(remotePath)); err != nil {
		return errors.WithContext(err, "create group dir")
	}

	id, err := s.client.Submit(mirror.Batch{
		Label: "put_hashes",
		Items: []mirror.Item{{Source: localPath, Destination: remotePath}},
	})
	if err != nil {
		return errors.WithContext(err, "publish manifest")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return errors.WithContext(err, "publish manifest")
	}

	log.WithField("group", m.Group).Infof("Published manifest with %d entries", m.Len())
	return nil
}

// FetchMaster retrieves the master manifest. An absent master parses as
// empty: the master is always rebuilt in full, never diffed, so there is
// nothing to lose by starting from nothing.
func (s *Store) FetchMaster() (*Master, error) {
	remotePath := s.layout.MasterPath()
	exists, err := s.client.Exists(remotePath)
	if err != nil {
		return nil, errors.WithContext(err, "check master existence")
	}
	if !exists {
		log.Info("No master manifest on the mirror; starting empty")
		return NewMaster(), nil
	}

	localPath := s.localMasterPath()
	id, err := s.client.Submit(mirror.Batch{
		Label: "get_master_hashes",
		Items: []mirror.Item{{Source: remotePath, Destination: localPath}},
	})
	if err != nil {
		return nil, errors.WithContext(err, "fetch master manifest")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return nil, errors.WithContext(err, "fetch master manifest")
	}

	f, err := fs.Open(localPath)
	if err != nil {
		return nil, errors.WithContext(err, "open fetched master manifest")
	}
	defer f.Close()

	master, err := ParseMaster(f)
	if err != nil {
		return nil, errors.MirrorInconsistency{Path: remotePath, Reason: err.Error()}
	}
	return master, nil
}

// RebuildMaster recomputes the digest of every group manifest touched this
// run, folds them into the fetched master, and republishes the whole master
// manifest.
func (s *Store) RebuildMaster(touched []*Manifest) error {
	master, err := s.FetchMaster()
	if err != nil {
		return err
	}

	for _, m := range touched {
		digest, err := HashFile(s.localPath(m.Group))
		if err != nil {
			return errors.WithContext(err, fmt.Sprintf("digest manifest for %s", m.Group))
		}
		master.Set(s.layout.ManifestRelPath(m.DataType, m.Group), digest)
	}
	return s.publishMaster(master)
}

// RebuildMasterFromMirror rebuilds the master manifest from scratch out of
// every group manifest currently on the mirror. This is the recovery path for
// a lost or damaged master; the group manifests stay the source of truth. It
// returns the number of group manifests recorded.
func (s *Store) RebuildMasterFromMirror(dataType string) (int, error) {
	paths, err := s.client.List(path.Join(s.layout.Root, dataType))
	if err != nil {
		return 0, errors.WithContext(err, "list mirror manifests")
	}

	var items []mirror.Item
	var relPaths []string
	for _, p := range paths {
		if !strings.HasSuffix(p, ".hashes") {
			continue
		}
		items = append(items, mirror.Item{
			Source:      p,
			Destination: filepath.Join(s.workingDir, "rebuild", filepath.Base(p)),
		})
		relPaths = append(relPaths, strings.TrimPrefix(p, path.Clean(s.layout.Root)+"/"))
	}

	master := NewMaster()
	if len(items) > 0 {
		id, err := s.client.Submit(mirror.Batch{Label: "get_all_hashes", Items: items})
		if err != nil {
			return 0, errors.WithContext(err, "fetch mirror manifests")
		}
		if err := mirror.Await(s.client, id, len(items)); err != nil {
			return 0, errors.WithContext(err, "fetch mirror manifests")
		}

		for i, item := range items {
			digest, err := HashFile(item.Destination)
			if err != nil {
				return 0, errors.WithContext(err, fmt.Sprintf("digest %s", relPaths[i]))
			}
			master.Set(relPaths[i], digest)
		}
	}

	return master.Len(), s.publishMaster(master)
}

func (s *Store) publishMaster(master *Master) error {
	var buf bytes.Buffer
	if err := master.Encode(&buf); err != nil {
		return errors.WithContext(err, "encode master manifest")
	}
	localPath := s.localMasterPath()
	if err := afero.WriteFile(fs, localPath, buf.Bytes(), 0644); err != nil {
		return errors.WithContext(err, "stage master manifest")
	}

	id, err := s.client.Submit(mirror.Batch{
		Label: "put_master_hashes",
		Items: []mirror.Item{{Source: localPath, Destination: s.layout.MasterPath()}},
	})
	if err != nil {
		return errors.WithContext(err, "publish master manifest")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return errors.WithContext(err, "publish master manifest")
	}

	log.Infof("Rebuilt master manifest with %d entries", master.Len())
	return nil
}
