package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/forkharness/internal/chain"
	"github.com/roach88/forkharness/internal/harness"
)

// HandlesOptions holds flags for the handles command.
type HandlesOptions struct {
	*RootOptions
	EnvOptions
}

// ResolvedHandle is one row of the handles output. Error is set when the
// name did not resolve.
type ResolvedHandle struct {
	Role    string `json:"role"`
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Error   string `json:"error,omitempty"`
}

// NewHandlesCommand creates the handles command.
func NewHandlesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HandlesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "handles <suite.yaml>",
		Short: "Resolve the contract handles of a suite",
		Long: `Open the suite's environment and resolve every handle to an address.
Exits with 1 when a name does not resolve.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandles(opts, args[0], cmd)
		},
	}

	opts.EnvOptions.register(cmd)

	return cmd
}

func runHandles(opts *HandlesOptions, file string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		return commandError(formatter, ErrCodeLoad, "failed to load "+file, err)
	}
	opts.EnvOptions.apply(&sc.Environment)

	ctx := cmd.Context()
	env, err := harness.OpenEnvironment(ctx, sc.Environment)
	if err != nil {
		return commandError(formatter, ErrCodeEnv, "open environment", err)
	}
	defer func() {
		if closeErr := env.Close(); closeErr != nil {
			newLogger(opts.RootOptions, cmd.ErrOrStderr()).Error("error closing environment", "error", closeErr)
		}
	}()

	rows, unresolved, err := resolveHandles(ctx, env, sc.Handles)
	if err != nil {
		return commandError(formatter, ErrCodeEnv, "resolve handles", err)
	}

	if formatter.JSON() {
		resp := CLIResponse{Status: "ok", Data: rows}
		if unresolved > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeUnresolved, Message: fmt.Sprintf("%d handle(s) unresolved", unresolved)}
		}
		if err := formatter.Respond(resp); err != nil {
			return err
		}
	} else {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, row := range rows {
			target := row.Address
			if row.Error != "" {
				target = "unresolved"
			}
			fmt.Fprintf(tw, "@%s\t%s\t%s\n", row.Role, row.Name, target)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if unresolved > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d handle(s) unresolved", unresolved))
	}
	return nil
}

// resolveHandles resolves every handle in role order. Unresolved names are
// reported per row; any other error stops the lookup.
func resolveHandles(ctx context.Context, env chain.Environment, handles map[string]string) ([]ResolvedHandle, int, error) {
	roles := make([]string, 0, len(handles))
	for role := range handles {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	rows := make([]ResolvedHandle, 0, len(roles))
	unresolved := 0
	for _, role := range roles {
		row := ResolvedHandle{Role: role, Name: handles[role]}
		addr, err := env.ResolveHandle(ctx, row.Name)
		var unresolvedErr *chain.UnresolvedNameError
		switch {
		case err == nil:
			row.Address = addr.Hex()
		case errors.As(err, &unresolvedErr):
			row.Error = err.Error()
			unresolved++
		default:
			return nil, 0, fmt.Errorf("%s: %w", row.Name, err)
		}
		rows = append(rows, row)
	}
	return rows, unresolved, nil
}
