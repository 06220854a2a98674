package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/forkharness/internal/harness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	EnvOptions
	Filter string // suite filter (glob on the file name)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <suite.yaml|dir>...",
		Short: "Run test suites",
		Long: `Run one or more suite files. Directories are searched for .yaml and
.yml files. Every test runs from the suite checkpoint and is rolled back
afterwards.

Exit codes:
  0 - All tests passed
  1 - A test failed or a suite aborted
  2 - Command error (invalid paths, unreachable node, etc.)

Examples:
  forkharness run ./suites
  forkharness run ./suites/sale.yaml --rpc-url http://127.0.0.1:8545
  forkharness run ./suites --filter "sale-*" --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuites(opts, args, cmd)
		},
	}

	opts.EnvOptions.register(cmd)
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter suites by glob pattern")

	return cmd
}

func runSuites(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	files, err := findSuiteFiles(paths, opts.Filter)
	if err != nil {
		return commandError(formatter, ErrCodeLoad, "failed to find suites", err)
	}
	if len(files) == 0 {
		return commandError(formatter, ErrCodeLoad, "no suite files found", nil)
	}

	// Load everything first so a broken file fails before any test runs.
	suites := make([]*harness.Scenario, 0, len(files))
	for _, file := range files {
		sc, err := harness.LoadScenario(file)
		if err != nil {
			return commandError(formatter, ErrCodeLoad, "failed to load "+file, err)
		}
		opts.EnvOptions.apply(&sc.Environment)
		suites = append(suites, sc)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	reports := make([]*harness.Report, 0, len(suites))
	for _, sc := range suites {
		report, err := runSuite(ctx, sc, logger)
		if report == nil {
			return commandError(formatter, ErrCodeEnv, "suite "+sc.Name, err)
		}
		reports = append(reports, report)
	}

	sum := summarize(reports)
	if err := formatter.Report(sum); err != nil {
		return err
	}
	if !sum.Ok() {
		return NewExitError(ExitFailure, failureMessage(sum))
	}
	return nil
}

// runSuite opens the suite's environment and runs it. A nil report means
// the suite never started.
func runSuite(ctx context.Context, sc *harness.Scenario, logger *slog.Logger) (*harness.Report, error) {
	log := logger.With("suite", sc.Name, "backend", sc.Environment.Backend)
	log.Debug("opening environment")

	env, err := harness.OpenEnvironment(ctx, sc.Environment)
	if err != nil {
		return nil, fmt.Errorf("open environment: %w", err)
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			log.Error("error closing environment", "error", closeErr)
		}
	}()

	report, err := harness.RunScenario(ctx, sc, env, log)
	if err != nil {
		log.Warn("suite aborted", "error", err)
	}
	return report, err
}

// commandError reports err and exits with ExitCommandError.
func commandError(f *OutputFormatter, code, message string, err error) error {
	text := message
	if err != nil {
		text = fmt.Sprintf("%s: %v", message, err)
	}
	if outErr := f.Error(code, text, nil); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitCommandError, message, err)
}

// signalContext cancels on SIGINT or SIGTERM. Suites still restore their
// checkpoint after cancellation.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// findSuiteFiles expands directories into their YAML files, sorted by path.
// Explicit file arguments are never filtered.
func findSuiteFiles(paths []string, filter string) ([]string, error) {
	var files []string
	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := filepath.Ext(path)
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}
			if filter != "" {
				name := strings.TrimSuffix(filepath.Base(path), ext)
				matched, err := filepath.Match(filter, name)
				if err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
				if !matched {
					return nil
				}
			}
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}
