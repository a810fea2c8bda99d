// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks whether the research backend requires
// authentication and whether the cached token is still accepted.
//
// # States
//
//	Checking ──Init──▶ Disabled          (auth off, or status check failed)
//	         ──Init──▶ Unauthenticated   (auth on, no token or token rejected)
//	         ──Init──▶ Authenticated     (auth on, cached token validated)
//	Unauthenticated ──Login ok──▶ Authenticated
//	Authenticated   ──Logout────▶ Unauthenticated
//
// # Fail-open
//
// When the status check cannot be completed the session is treated as
// Disabled with the anonymous identity. This favors availability for local
// and offline use over strict enforcement. The backend still rejects
// unauthenticated requests when it does require auth, so the effect is limited
// to what the client lets the user attempt. Review this before changing it.
//
// # Usage
//
//	mgr := session.NewManager(session.NewHTTPBackend(gw, session.DefaultEndpoints()), store)
//	snap := mgr.Init(ctx)
//	if !snap.Authenticated() {
//	    res := mgr.Login(ctx, user, pass)
//	    if !res.Success {
//	        fmt.Println(res.Error)
//	    }
//	}
//
// Manager serializes access to its own state, but Init, Login and Logout
// are not meant to interleave; callers run them one at a time.
package session
