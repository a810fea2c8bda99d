// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-research/internal/session"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

// =============================================================================
// STATUS
// =============================================================================

func newStatusCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server authentication posture and session state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := a.session.Snapshot()
			w := out(cmd)

			token, _ := a.store.Get()

			fmt.Fprintln(w, TitleStyle.Render("research status"))
			fmt.Fprintln(w, FormatKeyValue("Server", a.cfg.Server.URL))
			fmt.Fprintln(w, FormatKeyValue("Auth", snap.Posture().String()))
			fmt.Fprintln(w, FormatKeyValue("Session", stateStyle(snap.State.String()).Render(snap.State.String())))
			if user := snap.Username(); user != "" {
				fmt.Fprintln(w, FormatKeyValue("User", user))
			}
			fmt.Fprintln(w, FormatKeyValue("Token", tokenstore.Fingerprint(token)))
			if fs, ok := a.store.(*tokenstore.FileStore); ok {
				fmt.Fprintln(w, FormatKeyValue("Token file", fs.Path()))
			}
			if at := a.session.CheckedAt(); !at.IsZero() {
				fmt.Fprintln(w, FormatKeyValue("Checked", at.Local().Format("2006-01-02 15:04:05")))
			}
			return nil
		},
	}
}

// =============================================================================
// LOGIN / LOGOUT
// =============================================================================

func newLoginCommand(a *App) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login [username]",
		Short: "Sign in and store the session token",
		Example: `  research login alice
  echo "$PASSWORD" | research login alice --password-stdin`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.session.Snapshot().State == session.StateDisabled {
				return &LoginError{Message: session.MsgAuthDisabled}
			}
			in := bufio.NewReader(cmd.InOrStdin())

			var username string
			if len(args) == 1 {
				username = args[0]
			} else {
				if !IsTTY() && !passwordStdin {
					return &UsageError{Message: "username required when stdin is not a terminal"}
				}
				fmt.Fprint(errOut(cmd), "Username: ")
				line, err := readLine(in)
				if err != nil {
					return err
				}
				username = line
			}

			var password string
			if passwordStdin {
				line, err := readLine(in)
				if err != nil {
					return err
				}
				password = line
			} else {
				p, err := readPassword("Password: ", errOut(cmd))
				if err != nil {
					return err
				}
				password = p
			}

			result := a.session.Login(cmd.Context(), username, password)
			if !result.Success {
				return &LoginError{Message: result.Error}
			}
			fmt.Fprintln(out(cmd), SuccessStyle.Render("Logged in as "+a.session.Snapshot().Username()))
			return nil
		},
	}
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "Read the password from stdin")
	return cmd
}

func newLogoutCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the stored token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			before := a.session.Snapshot()
			a.session.Logout(cmd.Context())
			if before.State == session.StateDisabled {
				fmt.Fprintln(out(cmd), DimStyle.Render("Authentication is disabled on this server; nothing to do."))
				return nil
			}
			fmt.Fprintln(out(cmd), "Logged out")
			return nil
		},
	}
}

func newWhoamiCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(out(cmd), a.session.Snapshot().Username())
			return nil
		},
	}
}

// readLine reads one line without its terminator. EOF after text is accepted.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", &UsageError{Message: "unexpected end of input"}
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
