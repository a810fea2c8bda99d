// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/research"
	"github.com/jeranaias/rigrun-research/internal/storage"
)

// =============================================================================
// COMMANDS
// =============================================================================

// askOptions are shared by ask, deep and chat.
type askOptions struct {
	similar bool
	noSave  bool
}

func newAskCommand(a *App) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Long: `Fetches sources for the question, then streams the answer built from them.
The answer is saved to the local history unless --no-save is given.`,
		Example: `  research ask "How do tides work?"
  research ask --similar what causes auroras`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.answer(cmd.Context(), out(cmd), errOut(cmd), strings.Join(args, " "), storage.ModeAnswer, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.similar, "similar", false, "Also list related questions")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not save the answer to history")
	return cmd
}

func newDeepCommand(a *App) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "deep <question>",
		Short: "Stream a multi-step research answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.answer(cmd.Context(), out(cmd), errOut(cmd), strings.Join(args, " "), storage.ModeMultiStep, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.similar, "similar", false, "Also list related questions")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not save the answer to history")
	return cmd
}

func newSimilarCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "similar <question>",
		Short: "List questions related to a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			questions, err := a.research.SimilarQuestions(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			for _, q := range questions {
				fmt.Fprintln(out(cmd), q)
			}
			return nil
		},
	}
}

// =============================================================================
// ANSWER FLOW
// =============================================================================

// answer runs one question end to end: stream, related questions, history.
func (a *App) answer(ctx context.Context, w, ew io.Writer, question, mode string, opts askOptions) error {
	var (
		stream  *research.Stream
		sources research.SourceSet
		err     error
	)
	if mode == storage.ModeMultiStep {
		stream, err = a.research.MultiStep(ctx, question)
	} else {
		sources, err = a.research.Sources(ctx, question)
		if err != nil {
			return err
		}
		fmt.Fprintln(ew, DimStyle.Render(fmt.Sprintf("Found %d sources", len(sources))))
		stream, err = a.research.AnswerWithSources(ctx, question, sources)
	}
	if err != nil {
		return err
	}

	text, err := a.printStream(w, stream)
	stats := stream.Stats()
	if err != nil {
		return err
	}
	if a.flags.verbose {
		fmt.Fprintln(ew, DimStyle.Render(fmt.Sprintf("%d fragments in %s (first after %s, %d skipped)",
			stats.Fragments, stats.TotalTime.Round(time.Millisecond), stats.FirstFragment.Round(time.Millisecond), stats.Malformed)))
	}

	var similar []string
	if opts.similar {
		similar, err = a.research.SimilarQuestions(ctx, question)
		if err != nil {
			// Related questions are optional.
			a.logger.Warn("failed to fetch similar questions", zap.Error(err))
		} else if len(similar) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, TitleStyle.Render("Related questions"))
			for _, q := range similar {
				fmt.Fprintln(w, "  - "+q)
			}
		}
	}

	if opts.noSave {
		return nil
	}
	entry := &storage.Entry{
		Question:    question,
		Mode:        mode,
		Answer:      text,
		Similar:     similar,
		Username:    a.session.Snapshot().Username(),
		Fragments:   stats.Fragments,
		DurationMs:  stats.TotalTime.Milliseconds(),
		FirstTextMs: stats.FirstFragment.Milliseconds(),
	}
	if sources != nil {
		if raw, err := json.Marshal(sources); err == nil {
			entry.Sources = raw
		}
	}
	a.saveHistory(ctx, entry)
	return nil
}

// printStream writes the answer to w and returns its full text. Fragments
// are written as they arrive unless the answer is rendered as markdown,
// which needs the whole text first.
func (a *App) printStream(w io.Writer, stream *research.Stream) (string, error) {
	defer stream.Close()

	if a.shouldRender(w) {
		text, err := research.Collect(stream)
		if err != nil {
			return "", err
		}
		io.WriteString(w, a.renderMarkdown(text))
		return text, nil
	}

	var sb strings.Builder
	err := research.Each(stream, func(fragment string) error {
		sb.WriteString(fragment)
		_, werr := io.WriteString(w, fragment)
		return werr
	})
	if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
		io.WriteString(w, "\n")
	}
	if err != nil {
		return "", &research.StreamError{Partial: sb.String(), Err: err}
	}
	return sb.String(), nil
}

// saveHistory records entry. Failures are logged, never returned.
func (a *App) saveHistory(ctx context.Context, entry *storage.Entry) {
	store, err := a.openHistory()
	if err != nil {
		a.logger.Warn("failed to open history", zap.Error(err))
		return
	}
	if store == nil {
		return
	}
	if _, err := store.Save(ctx, entry); err != nil {
		a.logger.Warn("failed to save answer to history", zap.Error(err))
		return
	}
	a.logger.Debug("saved answer", zap.String("id", entry.ID))
}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// shouldRender reports whether answers written to w are rendered.
// Only terminals get markdown so piped output stays plain.
func (a *App) shouldRender(w io.Writer) bool {
	return a.cfg.UI.Render && isTerminalWriter(w)
}

// renderMarkdown renders content for the terminal, returning it unchanged
// if the renderer cannot be built.
func (a *App) renderMarkdown(content string) string {
	styleOpt := glamour.WithAutoStyle()
	if a.cfg.UI.Style != "auto" {
		styleOpt = glamour.WithStandardStyle(a.cfg.UI.Style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(GetTerminalWidth()-2))
	if err != nil {
		return content
	}
	rendered, err := r.Render(content)
	if err != nil {
		return content
	}
	return rendered
}
