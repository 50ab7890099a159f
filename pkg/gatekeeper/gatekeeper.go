// Package gatekeeper ties the pipeline together: one Run stages, classifies,
// quarantines, transfers, and records a holding directory's files against the
// mirror archive.
package gatekeeper

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/classify"
	"github.com/superdarn-canada/gatekeeper/pkg/config"
	"github.com/superdarn-canada/gatekeeper/pkg/dmap"
	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/integrity"
	"github.com/superdarn-canada/gatekeeper/pkg/ledger"
	"github.com/superdarn-canada/gatekeeper/pkg/manifest"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
	"github.com/superdarn-canada/gatekeeper/pkg/notify"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// Session wires the pipeline components for one configured data type.
type Session struct {
	cfg      config.Config
	client   mirror.Client
	layout   mirror.Layout
	clock    clockwork.Clock
	notifier notify.Notifier

	manifests *manifest.Store
	ledger    *ledger.Store
	orch      *mirror.Orchestrator
	checker   classify.IntegrityChecker
}

// NewSession builds a Session from the config and transfer client.
func NewSession(cfg config.Config, client mirror.Client, notifier notify.Notifier,
	clock clockwork.Clock) *Session {
	layout := mirror.Layout{Root: cfg.MirrorRoot, FailedRoot: cfg.FailedRoot}
	return &Session{
		cfg:      cfg,
		client:   client,
		layout:   layout,
		clock:    clock,
		notifier: notifier,

		manifests: manifest.NewStore(client, layout, cfg.WorkingDir),
		ledger:    ledger.NewStore(client, layout, cfg.WorkingDir),
		orch:      mirror.NewOrchestrator(client, layout, cfg.HoldingDir, clock),
		checker:   integrity.NewVerifier(dmap.NewValidator()),
	}
}

// Run executes one full sync pass. It is safe to re-run after any failure:
// manifests are only appended to after files are confirmed on the mirror, so
// an interrupted run leaves files in holding to be retried, never records
// that didn't happen.
func (s *Session) Run() error {
	lock, err := acquireLock(s.cfg.HoldingDir)
	if err != nil {
		return err
	}
	defer lock.release()

	busy, err := s.client.ActiveTransfers()
	if err != nil {
		return errors.WithContext(err, "check active transfers")
	}
	if busy {
		return errors.NewFriendlyError(
			"The mirror already has an active transfer in flight. " +
				"Try again once it finishes.")
	}

	if err := fs.MkdirAll(s.cfg.WorkingDir, 0755); err != nil {
		return errors.WithContext(err, "create working dir")
	}

	blocklist, err := s.fetchBlocklist()
	if err != nil {
		return err
	}

	led, err := s.ledger.Fetch()
	if err != nil {
		return err
	}

	classifier := classify.NewClassifier(s.cfg.HoldingDir, s.cfg.DataType,
		s.cfg.SyncPattern, blocklist, s.manifests, s.checker, s.clock)
	result, err := classifier.Run()
	if err != nil {
		return err
	}
	p := result.Partition

	if err := s.removeRedundant(p.AlreadyOnMirror); err != nil {
		return err
	}
	if err := s.quarantineBlocked(p.Blocked); err != nil {
		return err
	}
	if err := s.handleDefects(p.IntegrityFailed, led); err != nil {
		return err
	}
	if err := s.quarantineMismatches(p.HashMismatch); err != nil {
		return err
	}

	if len(p.Eligible) == 0 {
		log.Info("Nothing eligible to transfer")
		s.notifySummary(p, nil, 0)
		return nil
	}

	landed, skipped, err := s.transfer(p.Eligible)
	if err != nil {
		return err
	}
	if err := s.record(result, landed); err != nil {
		return err
	}

	s.notifySummary(p, landed, skipped)
	return nil
}

// fetchBlocklist downloads the blocklist fragments from the mirror. A mirror
// without a blocklist directory blocks nothing.
func (s *Session) fetchBlocklist() (classify.Blocklist, error) {
	remoteDir := s.layout.BlocklistDir()
	exists, err := s.client.Exists(remoteDir)
	if err != nil {
		return classify.Blocklist{}, errors.WithContext(err, "check blocklist existence")
	}
	if !exists {
		return classify.NewBlocklist(nil), nil
	}

	localDir := filepath.Join(s.cfg.WorkingDir, "blocklist")
	id, err := s.client.Submit(mirror.Batch{
		Label:     "get_blocklist",
		Recursive: true,
		Items:     []mirror.Item{{Source: remoteDir, Destination: localDir}},
	})
	if err != nil {
		return classify.Blocklist{}, errors.WithContext(err, "fetch blocklist")
	}
	if err := mirror.Await(s.client, id, 1); err != nil {
		return classify.Blocklist{}, errors.WithContext(err, "fetch blocklist")
	}
	return classify.LoadBlocklist(localDir)
}

// removeRedundant deletes local copies of files the manifest already records
// with identical contents.
func (s *Session) removeRedundant(candidates []*classify.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	log.Infof("Deleting %d local files already archived on the mirror", len(candidates))
	return s.orch.RemoveLocal(classify.Names(candidates))
}

func (s *Session) quarantineBlocked(candidates []*classify.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	dir, err := s.orch.Quarantine(mirror.QuarantineBlocked, classify.Names(candidates))
	if err != nil {
		return err
	}
	s.notifyQuarantine("Blocked files held back", candidates, dir)
	return nil
}

// handleDefects records data-defect files in the failure ledger, uploads the
// defective bytes to the mirror's failed area for later analysis, and
// quarantines the local copies.
func (s *Session) handleDefects(candidates []*classify.Candidate, led *ledger.Ledger) error {
	if len(candidates) == 0 {
		return nil
	}

	for _, c := range candidates {
		if led.Append(ledger.Record{Hash: c.Hash, Name: c.Name, Reason: c.Reason}) {
			log.WithField("file", c.Name).Infof("Recorded defect: %s", c.Reason)
		}
	}
	if err := s.ledger.Publish(led); err != nil {
		return err
	}

	names := classify.Names(candidates)
	id, err := s.orch.UploadFailed(names)
	if err != nil {
		return errors.WithContext(err, "upload failed files")
	}
	if err := s.orch.Await(id, len(names)); err != nil {
		return errors.WithContext(err, "upload failed files")
	}

	dir, err := s.orch.Quarantine(mirror.QuarantineFailed, names)
	if err != nil {
		return err
	}
	s.notifyQuarantine("Files failed integrity checks", candidates, dir)
	return nil
}

func (s *Session) quarantineMismatches(candidates []*classify.Candidate) error {
	if len(candidates) == 0 {
		return nil
	}
	dir, err := s.orch.Quarantine(mirror.QuarantineNomatch, classify.Names(candidates))
	if err != nil {
		return err
	}
	s.notifyQuarantine("Files do not match their archived copies", candidates, dir)
	return nil
}

// transfer uploads the eligible files and returns the candidates confirmed on
// the mirror. Files the transfer service skipped because identical contents
// were already at the destination count as landed; files that didn't land
// stay in holding for the next run.
func (s *Session) transfer(eligible []*classify.Candidate) ([]*classify.Candidate, int, error) {
	names := classify.Names(eligible)
	log.Infof("Transferring %d files to the mirror", len(names))

	id, err := s.orch.UploadData(names, s.cfg.DataType)
	if err != nil {
		return nil, 0, errors.WithContext(err, "upload data files")
	}
	if err := s.orch.Await(id, len(names)); err != nil {
		return nil, 0, errors.WithContext(err, "upload data files")
	}

	report, err := s.orch.Reconcile(id, names)
	if err != nil {
		return nil, 0, err
	}
	if len(report.Skipped) > 0 {
		log.Infof("%d files were skipped: identical contents already at the destination",
			len(report.Skipped))
	}

	confirmed, _, err := s.orch.ConfirmLanding(
		append(report.Transferred, report.Skipped...), s.cfg.DataType)
	if err != nil {
		return nil, 0, err
	}
	if err := s.orch.RemoveLocal(confirmed); err != nil {
		return nil, 0, err
	}

	byName := map[string]*classify.Candidate{}
	for _, c := range eligible {
		byName[c.Name] = c
	}
	var landed []*classify.Candidate
	for _, name := range confirmed {
		landed = append(landed, byName[name])
	}
	return landed, len(report.Skipped), nil
}

// record appends the landed files to their group manifests, publishes every
// touched manifest, and rebuilds the master manifest.
func (s *Session) record(result *classify.Result, landed []*classify.Candidate) error {
	touched := map[string]*manifest.Manifest{}
	for _, c := range landed {
		m := result.Manifests[c.Meta.GroupKey()]
		m.Append(manifest.Entry{Hash: c.Hash, Name: c.Name})
		touched[m.Group] = m
	}

	groups := make([]string, 0, len(touched))
	for group := range touched {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	var manifests []*manifest.Manifest
	for _, group := range groups {
		m := touched[group]
		if err := s.manifests.Publish(m); err != nil {
			return err
		}
		manifests = append(manifests, m)
	}
	if len(manifests) == 0 {
		return nil
	}
	return s.manifests.RebuildMaster(manifests)
}

// notifyQuarantine tells the operators what was held back and where it went.
// Notification failures are logged, not fatal; the quarantine itself already
// happened.
func (s *Session) notifyQuarantine(subject string, candidates []*classify.Candidate, dir string) {
	var b strings.Builder
	fmt.Fprintf(&b, "%d files were moved to %s:\n\n", len(candidates), dir)
	for _, c := range candidates {
		if c.Reason != "" {
			fmt.Fprintf(&b, "  %s : %s\n", c.Name, c.Reason)
		} else {
			fmt.Fprintf(&b, "  %s\n", c.Name)
		}
	}
	if err := s.notifier.Notify(subject, b.String()); err != nil {
		log.WithError(err).Warn("Could not deliver quarantine notification")
	}
}

func (s *Session) notifySummary(p classify.Partition, landed []*classify.Candidate, skipped int) {
	var b strings.Builder
	fmt.Fprintf(&b, "Sync of %q finished.\n\n", s.cfg.HoldingDir)
	fmt.Fprintf(&b, "  transferred:        %d\n", len(landed))
	if skipped > 0 {
		fmt.Fprintf(&b, "  of which skipped (identical contents already at destination): %d\n", skipped)
	}
	fmt.Fprintf(&b, "  already on mirror:  %d\n", len(p.AlreadyOnMirror))
	fmt.Fprintf(&b, "  blocked:            %d\n", len(p.Blocked))
	fmt.Fprintf(&b, "  hash mismatches:    %d\n", len(p.HashMismatch))
	fmt.Fprintf(&b, "  integrity failures: %d\n", len(p.IntegrityFailed))

	subject := fmt.Sprintf("Sync complete: %d transferred", len(landed))
	if p.Total() == 0 {
		subject = "Sync complete: nothing staged"
	}
	if err := s.notifier.Notify(subject, b.String()); err != nil {
		log.WithError(err).Warn("Could not deliver summary notification")
	}
}
