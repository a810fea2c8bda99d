// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTailCommand(a *App) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "tail <path>",
		Short: "Print messages from a websocket route",
		Long: `Connects to a websocket route on the server and prints each message.
The session token is sent as the "token" query parameter.`,
		Example: `  research tail /ws
  research tail /ws --count 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conn, err := a.gw.DialWebSocket(ctx, args[0])
			if err != nil {
				return err
			}
			defer conn.Close()

			done := make(chan struct{})
			defer close(done)
			go func() {
				select {
				case <-ctx.Done():
					conn.Close()
				case <-done:
				}
			}()

			for n := 0; count <= 0 || n < count; n++ {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					var closeErr *websocket.CloseError
					if errors.As(err, &closeErr) {
						a.logger.Debug("websocket closed", zap.Int("code", closeErr.Code))
						return nil
					}
					return err
				}
				fmt.Fprintln(out(cmd), string(msg))
			}
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 = until closed)")
	return cmd
}
