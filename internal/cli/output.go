package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/forkharness/internal/harness"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // everything passed
	ExitFailure      = 1 // a test failed, a suite aborted or a file is invalid
	ExitCommandError = 2 // bad arguments, unreadable files, unreachable node
)

// Error codes reported in JSON output.
const (
	ErrCodeLoad       = "E_LOAD"
	ErrCodeSchema     = "E_SCHEMA"
	ErrCodeEnv        = "E_ENV"
	ErrCodeUnresolved = "E_UNRESOLVED"
	ErrCodeFailed     = "E_TEST_FAILED"
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError without an underlying error.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps err with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Plain errors (flag
// parsing, unknown commands) map to ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error part of a CLIResponse.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// OutputFormatter writes command results as text or JSON.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

// JSON reports whether output is JSON.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Respond encodes resp as indented JSON.
func (f *OutputFormatter) Respond(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

// Error writes an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.JSON() {
		return f.Respond(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// RunSummary is the data of a run response.
type RunSummary struct {
	Suites  []*harness.Report `json:"suites"`
	Passed  int               `json:"passed"`
	Failed  int               `json:"failed"`
	Skipped int               `json:"skipped"`
	Aborted int               `json:"aborted"`
}

func summarize(reports []*harness.Report) RunSummary {
	sum := RunSummary{Suites: reports}
	for _, r := range reports {
		sum.Passed += r.Passed
		sum.Failed += r.Failed
		sum.Skipped += len(r.Skipped)
		if r.Aborted != "" {
			sum.Aborted++
		}
	}
	return sum
}

// Ok reports whether every suite passed.
func (s RunSummary) Ok() bool {
	return s.Failed == 0 && s.Aborted == 0
}

// Report writes a run summary. Traces are printed in verbose text mode.
func (f *OutputFormatter) Report(sum RunSummary) error {
	if f.JSON() {
		resp := CLIResponse{Status: "ok", Data: sum}
		if !sum.Ok() {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeFailed, Message: failureMessage(sum)}
		}
		return f.Respond(resp)
	}

	w := f.Writer
	for _, r := range sum.Suites {
		fmt.Fprintf(w, "suite %s\n", r.Suite)
		for _, res := range r.Results {
			mark := "✓"
			if !res.Pass {
				mark = "✗"
			}
			fmt.Fprintf(w, "  %s %s\n", mark, res.Name)
			for _, msg := range res.Failures {
				fmt.Fprintf(w, "      %s\n", msg)
			}
			if f.Verbose {
				for _, ev := range res.Trace {
					fmt.Fprintf(w, "      %s\n", formatEvent(ev))
				}
			}
		}
		for _, name := range r.Skipped {
			fmt.Fprintf(w, "  - %s (skipped)\n", name)
		}
		if r.Aborted != "" {
			fmt.Fprintf(w, "  aborted: %s\n", r.Aborted)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Summary: %d passed, %d failed, %d skipped\n", sum.Passed, sum.Failed, sum.Skipped)
	if sum.Ok() {
		fmt.Fprintln(w, "✓ All tests passed")
	}
	return nil
}

func failureMessage(sum RunSummary) string {
	if sum.Aborted > 0 {
		return fmt.Sprintf("%d test(s) failed, %d suite(s) aborted", sum.Failed, sum.Aborted)
	}
	return fmt.Sprintf("%d test(s) failed", sum.Failed)
}

func formatEvent(ev harness.TraceEvent) string {
	s := fmt.Sprintf("#%d %s %s", ev.Seq, ev.Op, ev.Subject)
	if ev.Target != "" {
		s += " -> " + ev.Target
	}
	if ev.Amount != "" {
		s += " " + ev.Amount
	}
	return s + ": " + ev.Outcome
}
