// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/config"
	"github.com/jeranaias/rigrun-research/internal/guard"
	"github.com/jeranaias/rigrun-research/internal/storage"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

const chatHelp = `Commands:
  /deep <question>   Ask using the multi-step endpoint
  /similar           Toggle related questions after each answer
  /history           Show recent questions
  /whoami            Show the signed-in user
  /help              Show this help
  /quit              Exit (also Ctrl+D)`

func newChatCommand(a *App) *cobra.Command {
	var opts askOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Ask questions interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsTTY() {
				return &TTYRequiredError{Operation: "chat"}
			}
			in := newChatInput()
			defer in.Close()

			s := &chatSession{app: a, w: out(cmd), ew: errOut(cmd), opts: opts}
			s.watchToken(cmd.Context())
			fmt.Fprintln(s.w, TitleStyle.Render("research chat")+" "+DimStyle.Render("(/help for commands)"))
			return s.run(cmd.Context(), in)
		},
	}
	cmd.Flags().BoolVar(&opts.similar, "similar", false, "List related questions after each answer")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "Do not save answers to history")
	return cmd
}

// =============================================================================
// INPUT HISTORY
// =============================================================================

// lineReader is the prompt source for a chat session.
type lineReader interface {
	ReadInput(prompt string) (string, error)
}

// chatInput provides line editing and persistent input history.
// USABILITY: Arrow keys navigate previous questions.
type chatInput struct {
	line        *liner.State
	historyFile string
}

func newChatInput() *chatInput {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	c := &chatInput{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
	return c
}

// ReadInput reads a line, adding non-empty input to the history.
func (c *chatInput) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the terminal.
func (c *chatInput) Close() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			c.line.WriteHistory(f)
			f.Close()
		}
	}
	c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

type chatSession struct {
	app  *App
	w    io.Writer
	ew   io.Writer
	opts askOptions
	asks int

	// tokenChanged is set by the token file watcher and consumed by run,
	// so session checks never overlap a question in flight.
	tokenChanged atomic.Bool
}

// watchToken marks the session stale when another process logs in or out.
func (s *chatSession) watchToken(ctx context.Context) {
	fs, ok := s.app.store.(*tokenstore.FileStore)
	if !ok {
		return
	}
	if err := fs.Watch(ctx, func() { s.tokenChanged.Store(true) }); err != nil {
		s.app.logger.Warn("token watch unavailable", zap.Error(err))
	}
}

// resync re-runs the session check after the token file changed.
func (s *chatSession) resync(ctx context.Context) error {
	snap := s.app.session.Init(ctx)
	who := snap.Username()
	if who == "" {
		who = snap.State.String()
	}
	fmt.Fprintln(s.w, DimStyle.Render("Session refreshed ("+who+")"))
	if s.app.guard.Last().Kind == guard.Redirect {
		return ErrLoginRequired
	}
	return nil
}

// run reads lines until EOF, Ctrl+C or /quit.
func (s *chatSession) run(ctx context.Context, in lineReader) error {
	for {
		line, err := in.ReadInput(PromptStyle.Render("research> "))
		if err != nil {
			// EOF (Ctrl+D) and liner.ErrPromptAborted (Ctrl+C) both end the chat.
			fmt.Fprintln(s.w)
			s.summary()
			return nil
		}
		if s.tokenChanged.Swap(false) {
			if err := s.resync(ctx); err != nil {
				s.summary()
				return err
			}
		}
		cont, err := s.handleLine(ctx, line)
		if err != nil {
			fmt.Fprintln(s.ew, FormatError(err))
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		if !cont {
			s.summary()
			return nil
		}
	}
}

// handleLine processes one line of input. It returns false when the chat
// should end.
func (s *chatSession) handleLine(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return true, nil
	}
	if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		s.asks++
		return true, s.app.answer(ctx, s.w, s.ew, line, storage.ModeAnswer, s.opts)
	}

	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch strings.ToLower(name) {
	case "/quit", "/q", "/exit":
		return false, nil
	case "/help", "/h":
		fmt.Fprintln(s.w, chatHelp)
	case "/deep":
		if rest == "" {
			return true, &UsageError{Message: "usage: /deep <question>"}
		}
		s.asks++
		return true, s.app.answer(ctx, s.w, s.ew, rest, storage.ModeMultiStep, s.opts)
	case "/similar":
		s.opts.similar = !s.opts.similar
		state := "off"
		if s.opts.similar {
			state = "on"
		}
		fmt.Fprintln(s.w, DimStyle.Render("Related questions "+state))
	case "/history":
		store, err := s.app.openHistory()
		if err != nil {
			return true, err
		}
		if store == nil {
			fmt.Fprintln(s.w, DimStyle.Render("History is disabled."))
			return true, nil
		}
		metas, err := store.List(ctx, 10)
		if err != nil {
			return true, err
		}
		fmt.Fprint(s.w, storage.FormatList(metas))
		fmt.Fprintln(s.w)
	case "/whoami":
		fmt.Fprintln(s.w, s.app.session.Snapshot().Username())
	default:
		return true, &UsageError{Message: fmt.Sprintf("unknown command %s (try /help)", name)}
	}
	return true, nil
}

func (s *chatSession) summary() {
	if s.asks > 0 {
		fmt.Fprintln(s.w, DimStyle.Render(fmt.Sprintf("%d questions asked", s.asks)))
	}
}

var _ lineReader = (*chatInput)(nil)
