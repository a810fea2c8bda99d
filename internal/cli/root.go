// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree bound to a.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "research",
		Short: "Ask a research backend questions from the terminal",
		Long: `research asks questions of a research backend and streams the answers.

When the server has authentication enabled, run "research login" first.
The token is kept in ~/.research/token and sent with every request.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configPath, "config", "c", "", "Config file (default ~/.research/config.toml)")
	pf.StringVarP(&a.flags.server, "server", "s", "", "Backend base URL")
	pf.BoolVarP(&a.flags.verbose, "verbose", "v", false, "Enable debug logging")
	pf.DurationVar(&a.flags.timeout, "timeout", 0, "Overall timeout per command (0 = none)")
	pf.StringVar(&a.flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while running")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: console or json")
	pf.BoolVar(&a.flags.noRender, "no-render", false, "Print answers as plain text")

	root.AddCommand(
		newStatusCommand(a),
		newLoginCommand(a),
		newLogoutCommand(a),
		newWhoamiCommand(a),
		newAskCommand(a),
		newDeepCommand(a),
		newSimilarCommand(a),
		newChatCommand(a),
		newReportCommand(a),
		newHistoryCommand(a),
		newTailCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Run executes args and returns the exit code.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	a := &App{}
	defer a.close()

	root := NewRootCommand(a)
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, FormatError(err))
		return ExitCode(err)
	}
	return ExitSuccess
}

// Execute runs the CLI against the process arguments and streams.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return Run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
}
