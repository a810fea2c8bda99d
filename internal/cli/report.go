// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newReportCommand(a *App) *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Work with research reports",
	}
	report.AddCommand(&cobra.Command{
		Use:   "chat <id> [message]",
		Short: "Show a report's chat, or send it a message",
		Example: `  research report chat 4f1c2a
  research report chat 4f1c2a "Summarise the key findings"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if len(args) == 1 {
				data, err := a.reports.History(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(out(cmd), data)
			}
			data, err := a.reports.Send(cmd.Context(), id, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(out(cmd), data)
		},
	})
	return report
}

// printJSON writes data indented, or as-is when it is not valid JSON.
func printJSON(w io.Writer, data []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
