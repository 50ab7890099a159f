// Package config loads the gatekeeper configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/superdarn-canada/gatekeeper/pkg/errors"
	"github.com/superdarn-canada/gatekeeper/pkg/mirror/s3"
	"github.com/superdarn-canada/gatekeeper/pkg/notify"
)

const (
	// DefaultPath is the default location of the config file.
	DefaultPath = "~/.gatekeeper.yaml"

	// SupportedVersion is the config file version this binary understands.
	SupportedVersion = "v1"
)

// parseConfigErrTemplate is a template for when we fail to parse yaml
// configuration files. This can happen for a multitude of reasons, including
// extraneous fields and incorrect field types. However, the yaml library
// constructs errors in a way that loses context, and so we can only pass the
// error message on.
const parseConfigErrTemplate = "Configuration file could not be parsed. " +
	"Please review %q.\n" +
	"Common pitfalls include:\n" +
	" - Using the wrong types for fields\n" +
	" - Having extra fields inside the config file\n\n" +
	"For reference, here is the error from the parser:\n" +
	"%s"

// Log configures the process logger.
type Log struct {
	// Dir is where rotating log files are kept. Empty disables file
	// logging.
	Dir string `json:"dir,omitempty"`

	// Level is the logrus level name, defaulting to info.
	Level string `json:"level,omitempty"`

	// JSON switches the log lines to JSON.
	JSON bool `json:"json,omitempty"`
}

// Config is the top-level gatekeeper configuration.
type Config struct {
	Version string `json:"version,omitempty"`

	// HoldingDir is the staging directory files wait in before promotion.
	HoldingDir string `json:"holdingDir"`

	// WorkingDir is scratch space for fetched manifests and ledgers.
	WorkingDir string `json:"workingDir"`

	// DataType names the record type being synced, e.g. "raw".
	DataType string `json:"dataType"`

	// SyncPattern is the glob staged files must match, e.g. "*.rawacf.bz2".
	SyncPattern string `json:"syncPattern"`

	// MirrorRoot is the archive root on the mirror.
	MirrorRoot string `json:"mirrorRoot"`

	// FailedRoot is where defect files are uploaded for triage. Defaults
	// to <MirrorRoot>/.failed.
	FailedRoot string `json:"failedRoot,omitempty"`

	Log Log `json:"log,omitempty"`

	// Email configures operator notifications. Without it, notifications
	// only go to the log.
	Email *notify.SMTPConfig `json:"email,omitempty"`

	// S3 configures the transfer backend.
	S3 s3.Config `json:"s3"`
}

func (c Config) getVersion() string {
	return c.Version
}

type configInterface interface {
	getVersion() string
}

type incompatibleVersionError struct {
	path, exp, actual string
}

func (err incompatibleVersionError) Error() string {
	return err.FriendlyMessage()
}

func (err incompatibleVersionError) FriendlyMessage() string {
	return fmt.Sprintf("The configuration file %q is incompatible "+
		"with this version of gatekeeper.\n"+
		"Expected version %q, but got %q.", err.path, err.exp, err.actual)
}

// homedirExpand will be overridden in mock tests.
var homedirExpand = homedir.Expand

// Parse loads and validates the config at path. An empty path means the
// default location.
func Parse(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: SupportedVersion}
	if err := parseConfig(path, &config, SupportedVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The gatekeeper config "+
				"file doesn't exist at %q. Create it before running a sync.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	for _, dir := range []*string{&config.HoldingDir, &config.WorkingDir, &config.Log.Dir} {
		if *dir, err = homedirExpand(*dir); err != nil {
			return Config{}, errors.WithContext(err, "expand path")
		}
	}

	if config.FailedRoot == "" {
		config.FailedRoot = filepath.Join(config.MirrorRoot, ".failed")
	}
	return config, config.validate(path)
}

func (c Config) validate(path string) error {
	required := map[string]string{
		"holdingDir":  c.HoldingDir,
		"workingDir":  c.WorkingDir,
		"dataType":    c.DataType,
		"syncPattern": c.SyncPattern,
		"mirrorRoot":  c.MirrorRoot,
		"s3.endpoint": c.S3.Endpoint,
		"s3.bucket":   c.S3.Bucket,
	}
	for field, value := range required {
		if value == "" {
			return errors.NewFriendlyError(
				"The configuration file %q is missing the required field %q.", path, field)
		}
	}
	return nil
}

func parseConfig(path string, config configInterface, expVersion string) error {
	configBytes, err := afero.ReadFile(fs, path)
	if err != nil {
		if isPathNotFoundError(err) {
			return errors.FileNotFound{Path: path}
		}
		return errors.WithContext(err, "read file")
	}

	err = yaml.Unmarshal(configBytes, config)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}

	if config.getVersion() != expVersion {
		return incompatibleVersionError{path, expVersion, config.getVersion()}
	}

	// Do a strict unmarshal to check for any extra fields. We do a non-strict
	// unmarshal first so that we can catch version errors before erroring on
	// extra fields.
	err = yaml.UnmarshalStrict(configBytes, config, yaml.DisallowUnknownFields)
	if err != nil {
		return errors.NewFriendlyError(parseConfigErrTemplate, path, err)
	}
	return nil
}

func isPathNotFoundError(err error) bool {
	return os.IsNotExist(err)
}
