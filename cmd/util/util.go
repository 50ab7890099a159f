package util

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
)

// HandleFatalError prints the friendliest available form of err and exits
// non-zero. Cron captures stderr, so this is what lands in the operator's
// mailbox when a run dies before the notifier is wired up.
func HandleFatalError(err error) {
	log.WithError(err).Debug("Fatal error")
	fmt.Fprintln(os.Stderr, errors.GetPrintableMessage(err))
	os.Exit(1)
}

// HandlePanic is deferred in main so that a panic still exits with a clear
// message and a non-zero status.
func HandlePanic() {
	if r := recover(); r != nil {
		fmt.Fprintf(os.Stderr, "gatekeeper crashed: %v\n\n%s", r, debug.Stack())
		os.Exit(1)
	}
}
