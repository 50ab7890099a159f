// Package mirror defines the transfer client the pipeline drives the remote
// archive through, and the orchestration on top of it: batch submission,
// bounded waits, quarantine moves, and landing confirmation.
//
// The client is assumed to be already authenticated. Credential acquisition
// is the caller's problem.
package mirror

import (
	"time"
)

// Item is one source to destination pair in a transfer batch.
type Item struct {
	Source      string
	Destination string
}

// Batch is a set of transfers submitted to the transfer service as a single
// task. Batching matters: one request per run phase, not one per file.
type Batch struct {
	// Label identifies the batch in the transfer service's task list.
	Label string

	Items []Item

	// Recursive transfers each source as a directory tree. Used to fetch
	// the blocklist directory.
	Recursive bool
}

// TaskID is the handle returned for a submitted batch.
type TaskID string

// TaskStatus reports the observed state of a task.
type TaskStatus struct {
	// Terminal is whether the task has finished, successfully or not.
	Terminal bool

	// Succeeded is whether the task finished successfully. Only meaningful
	// when Terminal is true. Note that a succeeded task is not proof that
	// every file exists at its destination; callers confirm landing
	// independently.
	Succeeded bool

	// FilesSkipped counts files the service skipped because the
	// destination already had matching contents.
	FilesSkipped int
}

// Client is the transfer-capable endpoint client the pipeline is handed.
// All remote interaction goes through it.
type Client interface {
	// Submit queues a batch for transfer and returns a handle for polling.
	Submit(batch Batch) (TaskID, error)

	// Wait blocks until the task reaches a terminal state or the timeout
	// elapses, polling at the given interval. It returns whether the task
	// is terminal; a false return is not an error, callers decide whether
	// to keep waiting on the same handle or abort.
	Wait(id TaskID, timeout, poll time.Duration) (bool, error)

	// Status reports the task's current state.
	Status(id TaskID) (TaskStatus, error)

	// Transferred lists the destination paths that were actually moved by
	// the task. Skipped files don't appear.
	Transferred(id TaskID) ([]string, error)

	// Exists reports whether a file or directory exists on the mirror.
	Exists(path string) (bool, error)

	// Mkdir creates a directory on the mirror. Creating a directory that
	// already exists is not an error.
	Mkdir(path string) error

	// List returns the paths of all files under dir on the mirror,
	// recursively. A dir that doesn't exist lists as empty.
	List(dir string) ([]string, error)

	// ActiveTransfers reports whether the transfer service has any
	// unfinished task targeting the mirror. A run refuses to start while
	// one is in flight.
	ActiveTransfers() (bool, error)
}
