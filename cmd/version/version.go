package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/superdarn-canada/gatekeeper/pkg/version"
)

// New creates a new `version` command.
func New() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version of gatekeeper.",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("gatekeeper version %s\n", version.Version)
		},
	}
}
