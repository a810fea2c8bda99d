// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the research command line.
//
// Every command except those under "config" initializes the session before
// running and passes the session guard with its command path ("/ask",
// "/report/chat"). Paths listed in auth.public_paths run without a session;
// anything else fails with ErrLoginRequired while the server requires
// authentication and no valid token is stored.
//
// # Commands
//
//	research status                 Server posture and session state
//	research login [user]           Sign in (password prompt or --password-stdin)
//	research logout                 Sign out and forget the token
//	research whoami                 Print the signed-in user
//	research ask <question>         Stream an answer (sources, then answer)
//	research deep <question>        Stream a multi-step answer
//	research similar <question>     List related questions
//	research chat                   Interactive question loop
//	research report chat <id> [msg] Read or extend a report's chat
//	research history [list|show|delete|clear]
//	research tail <path>            Print messages from a websocket route
//	research config [show|path|get|set|keys]
package cli
