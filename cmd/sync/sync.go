// Package sync implements the `gatekeeper sync` command: one full gatekeeping
// pass over the holding directory.
package sync

import (
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/superdarn-canada/gatekeeper/cmd/util"
	"github.com/superdarn-canada/gatekeeper/pkg/config"
	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/gatekeeper"
	"github.com/superdarn-canada/gatekeeper/pkg/logging"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/s3"
	"github.com/superdarn-canada/gatekeeper/pkg/notify"
)

// New creates a new `sync` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Classify the staged files and promote the safe ones to the mirror.",
		Long: "Classify every staged file in the holding directory, quarantine\n" +
			"anything blocked, corrupt, or conflicting, transfer the rest to the\n" +
			"mirror, and update the hash manifests.",
		Run: func(_ *cobra.Command, _ []string) {
			if err := run(configPath); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "",
		"path to the gatekeeper config file")
	return cmd
}

func run(configPath string) error {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return err
	}
	if err := logging.Setup(cfg.Log.Dir, cfg.Log.JSON, cfg.Log.Level); err != nil {
		return errors.WithContext(err, "set up logging")
	}

	client, err := s3.New(cfg.S3)
	if err != nil {
		return err
	}

	clock := clockwork.NewRealClock()
	notifier := buildNotifier(cfg, clock)

	session := gatekeeper.NewSession(cfg, client, notifier, clock)
	if err := session.Run(); err != nil {
		if notifyErr := notifier.Notify("Sync aborted",
			errors.GetPrintableMessage(err)); notifyErr != nil {
			log.WithError(notifyErr).Warn("Could not deliver abort notification")
		}
		return err
	}
	return nil
}

func buildNotifier(cfg config.Config, clock clockwork.Clock) notify.Notifier {
	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.Email != nil {
		notifiers = append(notifiers, notify.NewSMTPNotifier(*cfg.Email, clock))
	}
	return notifiers
}
