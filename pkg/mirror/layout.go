package mirror

import (
	"path"
)

// Layout computes the fixed directory structure of the mirror. Every remote
// path used by the pipeline goes through it so that the structure is defined
// in exactly one place.
//
//	<root>/<dataType>/<YYYY>/<MM>/<filename>
//	<root>/<dataType>/<YYYY>/<MM>/<YYYYMM>.hashes
//	<root>/.config/master.hashes
//	<root>/.config/all_failed.txt
//	<root>/.config/blocklist/*.txt
type Layout struct {
	// Root is the mirror root directory under which the data type
	// directories appear.
	Root string

	// FailedRoot is where data-defect files are uploaded for triage,
	// organized per station.
	FailedRoot string
}

// DataDir returns the directory that holds a group's data files. Only the
// group's YYYYMM prefix is consulted, so a full file name works too.
func (l Layout) DataDir(dataType, group string) string {
	return path.Join(l.Root, dataType, group[0:4], group[4:6])
}

// DataFile returns the destination path for a data file. The year and month
// are taken from the file name itself, matching the manifest group.
func (l Layout) DataFile(dataType, name string) string {
	return path.Join(l.DataDir(dataType, name), name)
}

// ManifestPath returns the path of the per-group manifest.
func (l Layout) ManifestPath(dataType, group string) string {
	return path.Join(l.DataDir(dataType, group), group+".hashes")
}

// ManifestRelPath returns the manifest path relative to the mirror root, the
// form recorded in the master manifest.
func (l Layout) ManifestRelPath(dataType, group string) string {
	return path.Join(dataType, group[0:4], group[4:6], group+".hashes")
}

// MasterPath returns the path of the master manifest.
func (l Layout) MasterPath() string {
	return path.Join(l.Root, ".config", "master.hashes")
}

// LedgerPath returns the path of the failure ledger.
func (l Layout) LedgerPath() string {
	return path.Join(l.Root, ".config", "all_failed.txt")
}

// BlocklistDir returns the directory holding the deny-list fragments.
func (l Layout) BlocklistDir() string {
	return path.Join(l.Root, ".config", "blocklist")
}

// FailedFile returns the upload destination for a data-defect file. Files
// whose names can't be parsed for a station go in the failed root itself.
func (l Layout) FailedFile(station, name string) string {
	if station == "" {
		return path.Join(l.FailedRoot, name)
	}
	return path.Join(l.FailedRoot, station, name)
}

// FailedDir returns the per-station failed directory.
func (l Layout) FailedDir(station string) string {
	if station == "" {
		return l.FailedRoot
	}
	return path.Join(l.FailedRoot, station)
}
