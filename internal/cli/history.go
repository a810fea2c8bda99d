// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-research/internal/export"
	"github.com/jeranaias/rigrun-research/internal/storage"
)

func newHistoryCommand(a *App) *cobra.Command {
	var (
		limit  int
		search string
	)

	list := func(cmd *cobra.Command, args []string) error {
		store, err := a.requireHistory()
		if err != nil {
			return err
		}
		var metas []storage.Meta
		if search != "" {
			metas, err = store.Search(cmd.Context(), search, limit)
		} else {
			metas, err = store.List(cmd.Context(), limit)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(out(cmd), storage.FormatList(metas))
		if len(metas) == 0 {
			fmt.Fprintln(out(cmd))
		}
		return nil
	}

	history := &cobra.Command{
		Use:   "history",
		Short: "List, show, export and delete saved answers",
		Args:  cobra.NoArgs,
		RunE:  list,
	}
	history.PersistentFlags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to list (0 = all)")
	history.PersistentFlags().StringVar(&search, "search", "", "Only entries whose question or answer contains this text")

	history.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List saved answers, most recent first",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:   "show <id|#>",
			Short: "Print a saved answer by ID or list position",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.requireHistory()
				if err != nil {
					return err
				}
				entry, err := lookupEntry(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				return a.printEntry(out(cmd), entry)
			},
		},
		&cobra.Command{
			Use:   "delete <id|#>",
			Short: "Delete a saved answer",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := a.requireHistory()
				if err != nil {
					return err
				}
				entry, err := lookupEntry(cmd.Context(), store, args[0])
				if err != nil {
					return err
				}
				if err := store.Delete(cmd.Context(), entry.ID); err != nil {
					return err
				}
				fmt.Fprintln(out(cmd), "Deleted "+entry.ID)
				return nil
			},
		},
		newHistoryExportCommand(a),
		newHistoryClearCommand(a),
	)
	return history
}

func newHistoryExportCommand(a *App) *cobra.Command {
	var (
		format     string
		outDir     string
		theme      string
		noMetadata bool
	)
	cmd := &cobra.Command{
		Use:   "export <id|#>",
		Short: "Export a saved answer to Markdown, JSON or HTML",
		Long: `Export a saved answer to a file in --out. Use --out - to write the
export to standard output instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := &export.Options{
				OutputDir:       outDir,
				IncludeMetadata: !noMetadata,
				Theme:           theme,
			}
			exporter, err := export.ForFormat(format, opts)
			if err != nil {
				return &UsageError{Message: err.Error()}
			}

			store, err := a.requireHistory()
			if err != nil {
				return err
			}
			entry, err := lookupEntry(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}

			if outDir == "-" {
				data, err := exporter.Export(entry)
				if err != nil {
					return err
				}
				_, err = out(cmd).Write(data)
				return err
			}
			path, err := export.ExportToFile(entry, exporter, opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "Exported to "+path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "md", "Export format ("+strings.Join(export.Formats, ", ")+")")
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Output directory, or - for stdout")
	cmd.Flags().StringVar(&theme, "theme", "dark", "HTML theme (dark, light)")
	cmd.Flags().BoolVar(&noMetadata, "no-metadata", false, "Omit mode, dates and stream statistics")
	return cmd
}

func newHistoryClearCommand(a *App) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &UsageError{Message: "refusing to clear history without --yes"}
			}
			store, err := a.requireHistory()
			if err != nil {
				return err
			}
			if err := store.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(out(cmd), "History cleared")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm")
	return cmd
}

// requireHistory opens the store or explains why it is unavailable.
func (a *App) requireHistory() (*storage.HistoryStore, error) {
	store, err := a.openHistory()
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &UsageError{Message: "history is disabled (history.enabled = false)"}
	}
	return store, nil
}

// lookupEntry resolves a full ID or a list position ("3" or "#3").
func lookupEntry(ctx context.Context, store *storage.HistoryStore, ref string) (*storage.Entry, error) {
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		return store.GetByIndex(ctx, n)
	}
	return store.Get(ctx, ref)
}

// printEntry writes entry as markdown, rendered on a terminal.
func (a *App) printEntry(w io.Writer, entry *storage.Entry) error {
	md := entry.Markdown()
	if a.shouldRender(w) {
		md = a.renderMarkdown(md)
	}
	_, err := io.WriteString(w, md)
	return err
}
