package mirror

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/filename"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Quarantine categories. Each maps to a subdirectory of the holding dir.
const (
	QuarantineBlocked = "blocked"
	QuarantineNomatch = "nomatch"
	QuarantineFailed  = "failed"
)

const (
	// baseTimeout is the fixed floor for waiting on a batch.
	baseTimeout = 60 * time.Second

	// perFileTimeout is the additional wait budget per file in a batch.
	// Bigger batches legitimately take longer; a global constant would
	// either starve large batches or stall small ones.
	perFileTimeout = 10 * time.Second

	// pollInterval is how often a waited-on task is polled.
	pollInterval = 15 * time.Second
)

// BatchTimeout returns the wait budget for a batch of n files.
func BatchTimeout(n int) time.Duration {
	return baseTimeout + time.Duration(n)*perFileTimeout
}

// Orchestrator executes the per-partition file movements of a run: uploads of
// eligible and failed files to the mirror, local quarantine moves, and
// landing confirmation.
type Orchestrator struct {
	client     Client
	layout     Layout
	holdingDir string
	clock      clockwork.Clock
}

// NewOrchestrator returns an Orchestrator operating on the given holding
// directory.
func NewOrchestrator(client Client, layout Layout, holdingDir string, clock clockwork.Clock) *Orchestrator {
	return &Orchestrator{
		client:     client,
		layout:     layout,
		holdingDir: holdingDir,
		clock:      clock,
	}
}

// Quarantine moves files into a dated subdirectory of the holding directory
// for the given category, creating directories as needed. It returns the
// subdirectory the files were moved to. Purely local; the mirror is never
// touched.
func (o *Orchestrator) Quarantine(category string, files []string) (string, error) {
	subdir := filepath.Join(o.holdingDir, category, o.clock.Now().Format("20060102"))
	if err := fs.MkdirAll(subdir, 0755); err != nil {
		return "", errors.WithContext(err, "create quarantine dir")
	}

	log.WithField("dir", subdir).Infof("Moving %s files to quarantine", category)
	for _, name := range files {
		src := filepath.Join(o.holdingDir, name)
		dst := filepath.Join(subdir, name)
		if err := fs.Rename(src, dst); err != nil {
			return "", errors.WithContext(err, fmt.Sprintf("quarantine %q", name))
		}
	}
	return subdir, nil
}

// UploadData submits a single batch moving the given holding-directory files
// to their data destinations on the mirror.
func (o *Orchestrator) UploadData(files []string, dataType string) (TaskID, error) {
	batch := Batch{Label: "sync_files_from_list"}
	for _, name := range files {
		batch.Items = append(batch.Items, Item{
			Source:      filepath.Join(o.holdingDir, name),
			Destination: o.layout.DataFile(dataType, name),
		})
	}
	return o.client.Submit(batch)
}

// UploadFailed submits a single batch copying data-defect files to the
// mirror's failed area, organized per station. Files whose names can't be
// parsed go to the failed root itself.
func (o *Orchestrator) UploadFailed(files []string) (TaskID, error) {
	batch := Batch{Label: "sync_failed_files_from_list"}
	for _, name := range files {
		station := ""
		if parsed, err := filename.Parse(name); err == nil {
			station = parsed.Station
		}
		if err := o.client.Mkdir(o.layout.FailedDir(station)); err != nil {
			return "", errors.WithContext(err, "create failed dir")
		}
		batch.Items = append(batch.Items, Item{
			Source:      filepath.Join(o.holdingDir, name),
			Destination: o.layout.FailedFile(station, name),
		})
	}
	return o.client.Submit(batch)
}

// Await waits for a task to reach a terminal state, with a timeout sized for
// n files. The first wait is bounded by the sized timeout; after that the
// caller keeps waiting on the same handle in base-timeout increments until
// the task is genuinely terminal. Once a batch is submitted there is no
// mid-batch cancellation.
func Await(client Client, id TaskID, n int) error {
	timeout := BatchTimeout(n)
	log.WithField("task", id).Infof("Waiting up to %s for transfer to complete", timeout)

	done, err := client.Wait(id, timeout, pollInterval)
	if err != nil {
		return errors.WithContext(err, "wait for transfer")
	}
	for !done {
		log.WithField("task", id).Info("Still waiting for transfer to complete...")
		done, err = client.Wait(id, baseTimeout, pollInterval)
		if err != nil {
			return errors.WithContext(err, "wait for transfer")
		}
	}
	return nil
}

// Await waits for the task to reach a terminal state, with a timeout sized
// for n files.
func (o *Orchestrator) Await(id TaskID, n int) error {
	return Await(o.client, id, n)
}

// Report describes what a finished upload task did to the submitted files.
type Report struct {
	// Transferred holds the file names the service reports as moved.
	Transferred []string

	// Skipped holds submitted names that don't appear in the transferred
	// list: the service found matching contents already at the
	// destination.
	Skipped []string
}

// Reconcile compares the submitted file list against the task's transfer
// list. The task must have succeeded; an unsuccessful terminal task leaves us
// unable to tell which files moved, which is fatal for the caller.
func (o *Orchestrator) Reconcile(id TaskID, submitted []string) (Report, error) {
	status, err := o.client.Status(id)
	if err != nil {
		return Report{}, errors.WithContext(err, "get task status")
	}
	if !status.Succeeded {
		return Report{}, errors.New(
			"transfer task finished unsuccessfully; cannot tell which files were transferred")
	}
	if status.FilesSkipped > 0 {
		log.WithField("task", id).Infof(
			"Transfer service skipped %d files already at their destination", status.FilesSkipped)
	}

	destinations, err := o.client.Transferred(id)
	if err != nil {
		return Report{}, errors.WithContext(err, "list successful transfers")
	}

	moved := map[string]bool{}
	for _, dst := range destinations {
		moved[filepath.Base(dst)] = true
	}

	var report Report
	for _, name := range submitted {
		if moved[name] {
			report.Transferred = append(report.Transferred, name)
		} else {
			report.Skipped = append(report.Skipped, name)
		}
	}
	return report, nil
}

// ConfirmLanding independently re-checks that each reportedly transferred
// file exists at its expected mirror path. The transfer service's success
// status has been observed to claim files that never appeared; anything that
// doesn't verify is left alone in the holding directory so the next run
// retries it.
func (o *Orchestrator) ConfirmLanding(files []string, dataType string) (landed, notLanded []string, err error) {
	for _, name := range files {
		exists, err := o.client.Exists(o.layout.DataFile(dataType, name))
		if err != nil {
			return nil, nil, errors.WithContext(err, fmt.Sprintf("confirm %q", name))
		}
		if exists {
			landed = append(landed, name)
		} else {
			log.WithField("file", name).Warn(
				"Transfer reported success but the file is not on the mirror. Leaving it in holding.")
			notLanded = append(notLanded, name)
		}
	}
	return landed, notLanded, nil
}

// RemoveLocal deletes holding-directory files that have been confirmed on the
// mirror.
func (o *Orchestrator) RemoveLocal(files []string) error {
	for _, name := range files {
		if err := fs.Remove(filepath.Join(o.holdingDir, name)); err != nil {
			return errors.WithContext(err, fmt.Sprintf("remove %q", name))
		}
	}
	return nil
}
