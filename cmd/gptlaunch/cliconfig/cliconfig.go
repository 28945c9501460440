// Package cliconfig resolves the settings shared by every gptlaunch
// subcommand from the root command's persistent flags.
package cliconfig

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/ledger"
	"github.com/papercomputeco/gptlaunch/pkg/logger"
)

// Persistent flag names defined on the root command.
const (
	FlagConfig = "config"
	FlagDebug  = "debug"
)

// AddPersistentFlags registers the shared flags on the root command.
func AddPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringP(FlagConfig, "c", "", "Path to TOML launch configuration (default: built-in defaults)")
	root.PersistentFlags().Bool(FlagDebug, false, "Enable debug logging")
}

// ConfigPath returns the --config value. Subcommands run without a root
// command see an empty path.
func ConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag(FlagConfig); f != nil {
		return f.Value.String()
	}
	return ""
}

// Debug reports whether --debug is set.
func Debug(cmd *cobra.Command) bool {
	f := cmd.Flag(FlagDebug)
	return f != nil && f.Value.String() == "true"
}

// Logger builds the command's logger, writing to its stderr.
func Logger(cmd *cobra.Command) *zap.Logger {
	return logger.NewLoggerTo(cmd.ErrOrStderr(), Debug(cmd))
}

// LoadConfig loads the configuration file (or the defaults) and applies
// environment overrides. It does not validate, so callers can apply flag
// overrides first.
func LoadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(ConfigPath(cmd))
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("could not apply environment overrides: %w", err)
	}
	return cfg, nil
}

// ResolveLedgerPath picks the ledger file: the flag value when set,
// otherwise the configured one. Empty means no ledger.
func ResolveLedgerPath(flag string, cfg *config.Config) string {
	if flag != "" {
		return flag
	}
	if cfg != nil {
		return cfg.Ledger
	}
	return ""
}

// OpenLedger opens the SQLite ledger at path.
func OpenLedger(path string) (ledger.Storer, error) {
	s, err := ledger.NewSQLiteStorer(path)
	if err != nil {
		return nil, fmt.Errorf("could not open ledger: %w", err)
	}
	return s, nil
}

// OpenExistingLedger opens a ledger that must already exist. Unlike
// OpenLedger it never creates a file, so a mistyped path is an error.
func OpenExistingLedger(path string) (ledger.Storer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("could not open ledger %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("could not open ledger %s: is a directory", path)
	}
	return OpenLedger(path)
}
