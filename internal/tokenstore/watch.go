// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package tokenstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// =============================================================================
// WATCH
// =============================================================================

// Watch calls onChange whenever the token file is created, rewritten or
// removed, until ctx is done. This is how a long-running process notices a
// login or logout made by another process sharing the same file.
//
// The parent directory is watched rather than the file itself because Set
// replaces the file by rename.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create token directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create token watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					s.logger.Debug("token file changed", zap.String("op", ev.Op.String()))
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("token watcher", zap.Error(err))
			}
		}
	}()
	return nil
}
