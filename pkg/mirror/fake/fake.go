// Package fake provides an in-memory transfer client for tests. Batches are
// executed synchronously at submission time against an afero filesystem, with
// the task bookkeeping (terminal state, skip counts, transferred lists) that
// the orchestrator polls for.
package fake

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
)

type task struct {
	status      mirror.TaskStatus
	transferred []string
	// pendingWaits is how many Wait calls must happen before the task
	// reports terminal, to exercise still-waiting loops.
	pendingWaits int
}

// Client implements mirror.Client against a single afero filesystem that
// plays both the local and remote roles.
type Client struct {
	// FS is the filesystem transfers are executed on.
	FS afero.Fs

	// DropAfterReport lists destination base names that are reported as
	// transferred but silently removed afterwards, simulating the
	// observed "reported success without a corresponding object" failure.
	DropAfterReport map[string]bool

	// FailNextSubmit makes the next submitted task finish unsuccessfully.
	FailNextSubmit bool

	// SubmitErr, when set, is returned by the next Submit call.
	SubmitErr error

	// PendingWaits delays terminal status for newly submitted tasks by
	// that many Wait calls.
	PendingWaits int

	// Active simulates a pre-existing in-flight transfer to the mirror.
	Active bool

	mu     sync.Mutex
	tasks  map[mirror.TaskID]*task
	nextID int
}

// New returns a fake client over the given filesystem.
func New(fs afero.Fs) *Client {
	return &Client{FS: fs, tasks: map[mirror.TaskID]*task{}}
}

func (c *Client) Submit(batch mirror.Batch) (mirror.TaskID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubmitErr != nil {
		err := c.SubmitErr
		c.SubmitErr = nil
		return "", err
	}

	c.nextID++
	id := mirror.TaskID(fmt.Sprintf("task-%d", c.nextID))
	tk := &task{pendingWaits: c.PendingWaits}

	if c.FailNextSubmit {
		c.FailNextSubmit = false
		tk.status = mirror.TaskStatus{Terminal: true, Succeeded: false}
		c.tasks[id] = tk
		return id, nil
	}

	for _, item := range batch.Items {
		if batch.Recursive {
			if err := c.copyTree(item.Source, item.Destination, tk); err != nil {
				return "", err
			}
			continue
		}
		if err := c.copyFile(item.Source, item.Destination, tk); err != nil {
			return "", err
		}
	}

	tk.status.Terminal = true
	tk.status.Succeeded = true
	c.tasks[id] = tk
	return id, nil
}

func (c *Client) copyTree(src, dst string, tk *task) error {
	return afero.Walk(c.FS, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := p[len(src):]
		return c.copyFile(p, path.Join(dst, rel), tk)
	})
}

func (c *Client) copyFile(src, dst string, tk *task) error {
	contents, err := afero.ReadFile(c.FS, src)
	if err != nil {
		return err
	}

	// The real service skips files whose destination already matches.
	if existing, err := afero.ReadFile(c.FS, dst); err == nil && bytes.Equal(existing, contents) {
		tk.status.FilesSkipped++
		return nil
	}

	if err := c.FS.MkdirAll(path.Dir(dst), 0755); err != nil {
		return err
	}
	if err := afero.WriteFile(c.FS, dst, contents, 0644); err != nil {
		return err
	}
	tk.transferred = append(tk.transferred, dst)

	if c.DropAfterReport[path.Base(dst)] {
		if err := c.FS.Remove(dst); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) Wait(id mirror.TaskID, timeout, poll time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[id]
	if !ok {
		return false, fmt.Errorf("unknown task %q", id)
	}
	if tk.pendingWaits > 0 {
		tk.pendingWaits--
		return false, nil
	}
	return tk.status.Terminal, nil
}

func (c *Client) Status(id mirror.TaskID) (mirror.TaskStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[id]
	if !ok {
		return mirror.TaskStatus{}, fmt.Errorf("unknown task %q", id)
	}
	return tk.status, nil
}

func (c *Client) Transferred(id mirror.TaskID) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tk, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", id)
	}
	return append([]string{}, tk.transferred...), nil
}

func (c *Client) Exists(path string) (bool, error) {
	return afero.Exists(c.FS, path)
}

func (c *Client) Mkdir(path string) error {
	return c.FS.MkdirAll(path, 0755)
}

func (c *Client) List(dir string) ([]string, error) {
	exists, err := afero.DirExists(c.FS, dir)
	if err != nil || !exists {
		return nil, err
	}
	var paths []string
	err = afero.Walk(c.FS, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			paths = append(paths, p)
		}
		return nil
	})
	return paths, err
}

func (c *Client) ActiveTransfers() (bool, error) {
	return c.Active, nil
}
