package mirror_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/fake"
)

func newTestOrchestrator(t *testing.T) (*mirror.Orchestrator, *fake.Client, string, mirror.Layout) {
	root := t.TempDir()
	holding := filepath.Join(root, "holding")
	assert.NoError(t, os.MkdirAll(holding, 0755))

	layout := mirror.Layout{
		Root:       filepath.Join(root, "mirror"),
		FailedRoot: filepath.Join(root, "mirror", ".failed"),
	}
	client := fake.New(afero.NewOsFs())
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	return mirror.NewOrchestrator(client, layout, holding, clock), client, holding, layout
}

func stage(t *testing.T, holding, name, contents string) {
	assert.NoError(t, os.WriteFile(filepath.Join(holding, name), []byte(contents), 0644))
}

func TestBatchTimeout(t *testing.T) {
	assert.Equal(t, 60*time.Second, mirror.BatchTimeout(0))
	assert.Equal(t, 160*time.Second, mirror.BatchTimeout(10))
}

func TestQuarantine(t *testing.T) {
	orch, _, holding, _ := newTestOrchestrator(t)
	stage(t, holding, "a.rawacf.bz2", "a")
	stage(t, holding, "b.rawacf.bz2", "b")

	dir, err := orch.Quarantine(mirror.QuarantineBlocked, []string{"a.rawacf.bz2", "b.rawacf.bz2"})
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(holding, "blocked", "20240115"), dir)

	for _, name := range []string{"a.rawacf.bz2", "b.rawacf.bz2"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(holding, name))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestUploadDataAndReconcile(t *testing.T) {
	orch, _, holding, layout := newTestOrchestrator(t)
	stage(t, holding, "20240115.0400.00.sas.a.rawacf.bz2", "fresh")
	stage(t, holding, "20240115.0600.00.sas.a.rawacf.bz2", "already there")

	// The second file's contents already sit at the destination, so the
	// transfer service skips it.
	dst := layout.DataFile("raw", "20240115.0600.00.sas.a.rawacf.bz2")
	assert.NoError(t, os.MkdirAll(filepath.Dir(dst), 0755))
	assert.NoError(t, os.WriteFile(dst, []byte("already there"), 0644))

	names := []string{"20240115.0400.00.sas.a.rawacf.bz2", "20240115.0600.00.sas.a.rawacf.bz2"}
	id, err := orch.UploadData(names, "raw")
	assert.NoError(t, err)
	assert.NoError(t, orch.Await(id, len(names)))

	report, err := orch.Reconcile(id, names)
	assert.NoError(t, err)
	assert.Equal(t, []string{"20240115.0400.00.sas.a.rawacf.bz2"}, report.Transferred)
	assert.Equal(t, []string{"20240115.0600.00.sas.a.rawacf.bz2"}, report.Skipped)

	landed, notLanded, err := orch.ConfirmLanding(names, "raw")
	assert.NoError(t, err)
	assert.Equal(t, names, landed)
	assert.Empty(t, notLanded)

	assert.NoError(t, orch.RemoveLocal(landed))
	for _, name := range names {
		_, err := os.Stat(filepath.Join(holding, name))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestConfirmLandingCatchesPhantomTransfers(t *testing.T) {
	orch, client, holding, _ := newTestOrchestrator(t)
	stage(t, holding, "20240115.0400.00.sas.a.rawacf.bz2", "doomed")
	client.DropAfterReport = map[string]bool{"20240115.0400.00.sas.a.rawacf.bz2": true}

	names := []string{"20240115.0400.00.sas.a.rawacf.bz2"}
	id, err := orch.UploadData(names, "raw")
	assert.NoError(t, err)
	assert.NoError(t, orch.Await(id, 1))

	report, err := orch.Reconcile(id, names)
	assert.NoError(t, err)
	assert.Equal(t, names, report.Transferred)

	// The service reported success, but the file never appeared.
	landed, notLanded, err := orch.ConfirmLanding(report.Transferred, "raw")
	assert.NoError(t, err)
	assert.Empty(t, landed)
	assert.Equal(t, names, notLanded)
}

func TestUploadFailedPerStation(t *testing.T) {
	orch, _, holding, layout := newTestOrchestrator(t)
	stage(t, holding, "20240115.0400.00.sas.a.rawacf.bz2", "bad sas")
	stage(t, holding, "20240115.0400.00.pgr.a.rawacf.bz2", "bad pgr")

	names := []string{"20240115.0400.00.sas.a.rawacf.bz2", "20240115.0400.00.pgr.a.rawacf.bz2"}
	id, err := orch.UploadFailed(names)
	assert.NoError(t, err)
	assert.NoError(t, orch.Await(id, len(names)))

	contents, err := os.ReadFile(layout.FailedFile("sas", "20240115.0400.00.sas.a.rawacf.bz2"))
	assert.NoError(t, err)
	assert.Equal(t, "bad sas", string(contents))

	contents, err = os.ReadFile(layout.FailedFile("pgr", "20240115.0400.00.pgr.a.rawacf.bz2"))
	assert.NoError(t, err)
	assert.Equal(t, "bad pgr", string(contents))
}

func TestAwaitKeepsWaiting(t *testing.T) {
	orch, client, holding, _ := newTestOrchestrator(t)
	stage(t, holding, "20240115.0400.00.sas.a.rawacf.bz2", "slow")
	client.PendingWaits = 3

	id, err := orch.UploadData([]string{"20240115.0400.00.sas.a.rawacf.bz2"}, "raw")
	assert.NoError(t, err)

	// The task only reports terminal after several polls; Await must keep
	// going rather than give up after the first bounded wait.
	assert.NoError(t, orch.Await(id, 1))
}

func TestReconcileFailedTask(t *testing.T) {
	orch, client, holding, _ := newTestOrchestrator(t)
	stage(t, holding, "20240115.0400.00.sas.a.rawacf.bz2", "data")
	client.FailNextSubmit = true

	names := []string{"20240115.0400.00.sas.a.rawacf.bz2"}
	id, err := orch.UploadData(names, "raw")
	assert.NoError(t, err)
	assert.NoError(t, orch.Await(id, 1))

	_, err = orch.Reconcile(id, names)
	assert.Error(t, err)
}
