package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/forkharness/internal/harness"
)

// FileValidation is the outcome for one suite file.
type FileValidation struct {
	File     string   `json:"file"`
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// ValidationResult holds validation results of every file.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <suite.yaml|dir>...",
		Short: "Check suite files without running them",
		Long: `Check suite files against the scenario schema and verify that every
@handle and $actor reference is declared. No environment is opened.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	files, err := findSuiteFiles(paths, "")
	if err != nil {
		return commandError(formatter, ErrCodeLoad, "failed to find suites", err)
	}
	if len(files) == 0 {
		return commandError(formatter, ErrCodeLoad, "no suite files found", nil)
	}

	result := ValidationResult{Valid: true}
	for _, file := range files {
		fv := FileValidation{File: file, Valid: true}
		if _, err := harness.LoadScenario(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return commandError(formatter, ErrCodeLoad, "failed to load "+file, err)
			}
			fv.Valid = false
			fv.Problems = problems(err)
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeSchema, Message: "validation failed"}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		w := cmd.OutOrStdout()
		for _, fv := range result.Files {
			if fv.Valid {
				fmt.Fprintf(w, "✓ %s\n", fv.File)
				continue
			}
			fmt.Fprintf(w, "✗ %s\n", fv.File)
			for _, p := range fv.Problems {
				fmt.Fprintf(w, "    %s\n", p)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, "validation failed")
	}
	return nil
}

// problems splits schema errors into one entry per violation.
func problems(err error) []string {
	var serr *harness.SchemaError
	if errors.As(err, &serr) {
		return serr.Problems
	}
	return []string{err.Error()}
}
