package gatekeeper

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/superdarn-canada/gatekeeper/pkg/config"
	"github.com/superdarn-canada/gatekeeper/pkg/manifest"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/fake"
	"github.com/superdarn-canada/gatekeeper/pkg/notify"
)

// bzip2 streams captured from known inputs. good decompresses to a well-formed
// 40 byte record; corrupt is the same stream with two bytes flipped.
const (
	goodBZ2    = "425a6839314159265359970e2fe60000077000600000800040200030cd34126826a4aa999c5dc914e142425c38bf98"
	corruptBZ2 = "425a6839314159265359970e2fe6000007700060000080ffbf200030cd34126826a4aa999c5dc914e142425c38bf98"
)

type recordingNotifier struct {
	subjects []string
	bodies   []string
}

func (n *recordingNotifier) Notify(subject, body string) error {
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

var _ notify.Notifier = &recordingNotifier{}

type harness struct {
	cfg      config.Config
	client   *fake.Client
	notifier *recordingNotifier
	session  *Session
}

// newHarness builds a Session over the real filesystem under t.TempDir, with
// the clock pinned to mid-January 2024 so 202401 is the current group.
func newHarness(t *testing.T) *harness {
	fs = afero.NewOsFs()
	root := t.TempDir()

	cfg := config.Config{
		HoldingDir:  filepath.Join(root, "holding"),
		WorkingDir:  filepath.Join(root, "working"),
		DataType:    "raw",
		SyncPattern: "*.rawacf.bz2",
		MirrorRoot:  filepath.Join(root, "mirror"),
		FailedRoot:  filepath.Join(root, "mirror", ".failed"),
	}
	assert.NoError(t, os.MkdirAll(cfg.HoldingDir, 0755))
	assert.NoError(t, os.MkdirAll(cfg.MirrorRoot, 0755))

	client := fake.New(afero.NewOsFs())
	notifier := &recordingNotifier{}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC))
	return &harness{
		cfg:      cfg,
		client:   client,
		notifier: notifier,
		session:  NewSession(cfg, client, notifier, clock),
	}
}

func (h *harness) stage(t *testing.T, name string, contents []byte) string {
	path := filepath.Join(h.cfg.HoldingDir, name)
	assert.NoError(t, os.WriteFile(path, contents, 0644))
	digest, err := manifest.Digest(strings.NewReader(string(contents)))
	assert.NoError(t, err)
	return digest
}

func (h *harness) mirrorWrite(t *testing.T, path string, contents string) {
	assert.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	assert.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func fromHex(t *testing.T, hexBytes string) []byte {
	contents, err := hex.DecodeString(hexBytes)
	assert.NoError(t, err)
	return contents
}

func readFile(t *testing.T, path string) string {
	contents, err := os.ReadFile(path)
	assert.NoError(t, err)
	return string(contents)
}

func TestRunFullPass(t *testing.T) {
	h := newHarness(t)
	layout := h.session.layout

	eligibleHash := h.stage(t, "20240115.0400.00.sas.a.rawacf.bz2", fromHex(t, goodBZ2))
	corruptHash := h.stage(t, "20240115.0600.00.sas.a.rawacf.bz2", fromHex(t, corruptBZ2))
	h.stage(t, "20240114.0000.00.blk.a.rawacf.bz2", []byte("held back"))
	sameHash := h.stage(t, "20240110.0000.00.sas.a.rawacf.bz2", []byte("identical"))
	h.stage(t, "20240111.0000.00.sas.a.rawacf.bz2", []byte("drifted"))

	h.mirrorWrite(t, filepath.Join(layout.BlocklistDir(), "stations.txt"), ".blk.\n")
	h.mirrorWrite(t, layout.ManifestPath("raw", "202401"),
		sameHash+"  20240110.0000.00.sas.a.rawacf.bz2\n"+
			"0000000000000000000000000000000000000000  20240111.0000.00.sas.a.rawacf.bz2\n")

	assert.NoError(t, h.session.Run())

	// The eligible file landed, was recorded, and is gone locally.
	assert.Equal(t, string(fromHex(t, goodBZ2)),
		readFile(t, layout.DataFile("raw", "20240115.0400.00.sas.a.rawacf.bz2")))
	_, err := os.Stat(filepath.Join(h.cfg.HoldingDir, "20240115.0400.00.sas.a.rawacf.bz2"))
	assert.True(t, os.IsNotExist(err))

	published := readFile(t, layout.ManifestPath("raw", "202401"))
	assert.Contains(t, published, eligibleHash+"  20240115.0400.00.sas.a.rawacf.bz2\n")

	// The master manifest records the republished group manifest.
	master := readFile(t, layout.MasterPath())
	groupDigest, err := manifest.HashFile(layout.ManifestPath("raw", "202401"))
	assert.NoError(t, err)
	assert.Equal(t, groupDigest+"  raw/2024/01/202401.hashes\n", master)

	// The defect was ledgered and uploaded for triage.
	ledger := readFile(t, layout.LedgerPath())
	assert.Equal(t,
		corruptHash+"  20240115.0600.00.sas.a.rawacf.bz2 | Failed BZ2 integrity test\n",
		ledger)
	assert.Equal(t, string(fromHex(t, corruptBZ2)),
		readFile(t, layout.FailedFile("sas", "20240115.0600.00.sas.a.rawacf.bz2")))

	// Quarantines are dated by the pinned clock.
	for quarantined, category := range map[string]string{
		"20240114.0000.00.blk.a.rawacf.bz2": "blocked",
		"20240115.0600.00.sas.a.rawacf.bz2": "failed",
		"20240111.0000.00.sas.a.rawacf.bz2": "nomatch",
	} {
		path := filepath.Join(h.cfg.HoldingDir, category, "20240115", quarantined)
		_, err := os.Stat(path)
		assert.NoError(t, err, "expected %s in the %s quarantine", quarantined, category)
	}

	// The redundant copy was simply deleted.
	_, err = os.Stat(filepath.Join(h.cfg.HoldingDir, "20240110.0000.00.sas.a.rawacf.bz2"))
	assert.True(t, os.IsNotExist(err))

	// The lock was released.
	_, err = os.Stat(filepath.Join(h.cfg.HoldingDir, lockFileName))
	assert.True(t, os.IsNotExist(err))

	// Quarantine notifications plus the final summary.
	assert.Len(t, h.notifier.subjects, 4)
	assert.Equal(t, "Sync complete: 1 transferred", h.notifier.subjects[3])
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	layout := h.session.layout

	h.stage(t, "20240115.0400.00.sas.a.rawacf.bz2", fromHex(t, goodBZ2))
	h.stage(t, "20240115.0600.00.sas.a.rawacf.bz2", fromHex(t, corruptBZ2))

	assert.NoError(t, h.session.Run())
	firstLedger := readFile(t, layout.LedgerPath())
	firstManifest := readFile(t, layout.ManifestPath("raw", "202401"))

	// A second pass over the now-empty holding dir changes nothing. The
	// quarantine subdirectories don't match the sync pattern's top level.
	assert.NoError(t, h.session.Run())
	assert.Equal(t, firstLedger, readFile(t, layout.LedgerPath()))
	assert.Equal(t, firstManifest, readFile(t, layout.ManifestPath("raw", "202401")))
	assert.Equal(t, "Sync complete: nothing staged",
		h.notifier.subjects[len(h.notifier.subjects)-1])
}

func TestRunRecordsRestagedDefectOnce(t *testing.T) {
	h := newHarness(t)
	layout := h.session.layout

	h.stage(t, "20240115.0600.00.sas.a.rawacf.bz2", fromHex(t, corruptBZ2))
	assert.NoError(t, h.session.Run())

	// The same bad file shows up in holding again.
	h.stage(t, "20240115.0600.00.sas.a.rawacf.bz2", fromHex(t, corruptBZ2))
	assert.NoError(t, h.session.Run())

	ledger := readFile(t, layout.LedgerPath())
	assert.Equal(t, 1, strings.Count(ledger, "20240115.0600.00.sas.a.rawacf.bz2"))
}

func TestRunRecordsSkippedFiles(t *testing.T) {
	h := newHarness(t)
	layout := h.session.layout

	// The file's contents already sit at the destination, but the manifest
	// doesn't record it. The transfer service will skip the upload; the
	// manifest entry must be written anyway.
	hash := h.stage(t, "20240115.0400.00.sas.a.rawacf.bz2", fromHex(t, goodBZ2))
	h.mirrorWrite(t, layout.DataFile("raw", "20240115.0400.00.sas.a.rawacf.bz2"),
		string(fromHex(t, goodBZ2)))

	assert.NoError(t, h.session.Run())

	published := readFile(t, layout.ManifestPath("raw", "202401"))
	assert.Contains(t, published, hash+"  20240115.0400.00.sas.a.rawacf.bz2\n")

	_, err := os.Stat(filepath.Join(h.cfg.HoldingDir, "20240115.0400.00.sas.a.rawacf.bz2"))
	assert.True(t, os.IsNotExist(err))

	assert.Equal(t, "Sync complete: 1 transferred",
		h.notifier.subjects[len(h.notifier.subjects)-1])
	assert.Contains(t, h.notifier.bodies[len(h.notifier.bodies)-1], "skipped")
}

func TestRunRefusesActiveTransfer(t *testing.T) {
	h := newHarness(t)
	h.client.Active = true

	err := h.session.Run()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "active transfer")

	// The lock must not be left behind.
	_, statErr := os.Stat(filepath.Join(h.cfg.HoldingDir, lockFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRefusesConcurrentRun(t *testing.T) {
	h := newHarness(t)
	assert.NoError(t, os.WriteFile(
		filepath.Join(h.cfg.HoldingDir, lockFileName), []byte("pid 1\n"), 0644))

	err := h.session.Run()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lock file")
}

func TestRunLeavesUnlandedFilesInHolding(t *testing.T) {
	h := newHarness(t)
	layout := h.session.layout

	h.stage(t, "20240115.0400.00.sas.a.rawacf.bz2", fromHex(t, goodBZ2))
	h.client.DropAfterReport = map[string]bool{"20240115.0400.00.sas.a.rawacf.bz2": true}

	assert.NoError(t, h.session.Run())

	// The transfer claimed success but the file never appeared, so it must
	// still be in holding and must not be in the manifest.
	_, err := os.Stat(filepath.Join(h.cfg.HoldingDir, "20240115.0400.00.sas.a.rawacf.bz2"))
	assert.NoError(t, err)

	exists, err := afero.Exists(afero.NewOsFs(), layout.ManifestPath("raw", "202401"))
	assert.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, "Sync complete: 0 transferred",
		h.notifier.subjects[len(h.notifier.subjects)-1])
}

func TestLock(t *testing.T) {
	// The real filesystem, because the lock depends on O_EXCL semantics.
	fs = afero.NewOsFs()
	dir := t.TempDir()

	lock, err := acquireLock(dir)
	assert.NoError(t, err)

	_, err = acquireLock(dir)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "lock file")

	lock.release()
	relock, err := acquireLock(dir)
	assert.NoError(t, err)
	relock.release()

	_, err = os.Stat(filepath.Join(dir, lockFileName))
	assert.True(t, os.IsNotExist(err))
}
