// Package rebuildmaster implements the `gatekeeper rebuild-master` command,
// which regenerates the master manifest from the group manifests on the
// mirror.
package rebuildmaster

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/superdarn-canada/gatekeeper/cmd/util"
	"github.com/superdarn-canada/gatekeeper/pkg/config"
	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/logging"
	"github.com/superdarn-canada/gatekeeper/pkg/manifest"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/s3"
)

// New creates a new `rebuild-master` command.
func New() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "rebuild-master",
		Short: "Regenerate the master manifest from the group manifests.",
		Long: "Walk the mirror for group manifests and rewrite the master\n" +
			"manifest from scratch. Use this to recover from a lost or\n" +
			"damaged master; the group manifests stay untouched.",
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

	layout := mirror.Layout{Root: cfg.MirrorRoot, FailedRoot: cfg.FailedRoot}
	store := manifest.NewStore(client, layout, cfg.WorkingDir)

	count, err := store.RebuildMasterFromMirror(cfg.DataType)
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt the master manifest from %d group manifests.\n", count)
	return nil
}
