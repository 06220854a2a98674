package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/forkharness/internal/harness"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the forkharness CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "forkharness",
		Short: "Isolated integration tests against a forked chain",
		Long: `Run declarative integration suites against an in-memory chain or a
local development node. Every test starts from the same checkpoint and
leaves no trace behind.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHandlesCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newLogger writes text logs to w, at debug level when verbose.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// EnvOptions override the environment section of a suite file.
type EnvOptions struct {
	Backend string
	RPCURL  string
	Dialect string
}

func (o *EnvOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.Backend, "backend", "", "override the suite backend (memory|rpc)")
	cmd.Flags().StringVar(&o.RPCURL, "rpc-url", "", "node URL; implies --backend rpc")
	cmd.Flags().StringVar(&o.Dialect, "dialect", "", "node dialect (hardhat|anvil)")
}

func (o *EnvOptions) apply(cfg *harness.EnvironmentConfig) {
	if o.RPCURL != "" {
		cfg.URL = o.RPCURL
		cfg.Backend = harness.BackendRPC
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if o.Dialect != "" {
		cfg.Dialect = o.Dialect
	}
}
