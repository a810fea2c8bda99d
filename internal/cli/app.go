// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-research/internal/config"
	"github.com/jeranaias/rigrun-research/internal/gateway"
	"github.com/jeranaias/rigrun-research/internal/guard"
	"github.com/jeranaias/rigrun-research/internal/logging"
	"github.com/jeranaias/rigrun-research/internal/metrics"
	"github.com/jeranaias/rigrun-research/internal/reports"
	"github.com/jeranaias/rigrun-research/internal/research"
	"github.com/jeranaias/rigrun-research/internal/session"
	"github.com/jeranaias/rigrun-research/internal/storage"
	"github.com/jeranaias/rigrun-research/internal/tokenstore"
)

// annotationNoSession marks commands that never contact the server.
const annotationNoSession = "research/no-session"

// rootFlags are the persistent flags shared by every command.
type rootFlags struct {
	configPath  string
	server      string
	verbose     bool
	timeout     time.Duration
	metricsAddr string
	logFormat   string
	noRender    bool
}

// App holds everything a command needs. Fields are populated by setup
// before any RunE executes.
type App struct {
	// Logger replaces the configured logger when set.
	Logger *zap.Logger

	flags rootFlags

	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    tokenstore.Store
	gw       *gateway.Client
	session  *session.Manager
	guard    *guard.Guard
	research *research.Client
	reports  *reports.Client
	history  *storage.HistoryStore

	cancel      context.CancelFunc
	ownedLogger bool
}

// setup loads configuration and wires clients for cmd.
func (a *App) setup(cmd *cobra.Command) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.Logger != nil {
		a.logger = a.Logger
	} else {
		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return &ConfigError{Err: err}
		}
		a.logger = logger
		a.ownedLogger = true
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if t := cfg.Timeout(); t > 0 {
		ctx, a.cancel = context.WithTimeout(ctx, t)
	} else {
		ctx, a.cancel = context.WithCancel(ctx)
	}
	cmd.SetContext(ctx)

	a.registry = prometheus.NewRegistry()
	a.metrics = metrics.New(a.registry)
	if cfg.Metrics.Addr != "" {
		addr, err := metrics.Serve(ctx, cfg.Metrics.Addr, a.registry, a.logger)
		if err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		a.logger.Info("serving metrics", zap.String("addr", "http://"+addr+"/metrics"))
	}

	if !needsSession(cmd) {
		return nil
	}
	if err := a.connect(); err != nil {
		return err
	}
	return a.checkAccess(ctx, cmd)
}

// loadConfig reads the config file and applies flag overrides.
func (a *App) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.flags.configPath != "" {
		cfg, err = config.LoadFromPath(a.flags.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, &ConfigError{Err: err}
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		cfg.Server.URL = a.flags.server
	}
	if flags.Changed("timeout") {
		cfg.Server.TimeoutSecs = int(a.flags.timeout.Round(time.Second) / time.Second)
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = a.flags.metricsAddr
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = a.flags.logFormat
	}
	if a.flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if a.flags.noRender {
		cfg.UI.Render = false
	}
	if err := cfg.Validate(); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return cfg, nil
}

// connect builds the gateway and the clients layered on it.
func (a *App) connect() error {
	cfg := a.cfg
	a.store = tokenstore.Open(cfg.Auth.TokenFile, a.logger)

	gw, err := gateway.New(cfg.Server.URL, a.store,
		gateway.WithLogger(a.logger),
		gateway.WithMetrics(a.metrics),
	)
	if err != nil {
		return &ConfigError{Err: err}
	}
	a.gw = gw

	backend := session.NewHTTPBackend(gw, session.Endpoints{
		Status: cfg.Endpoints.AuthStatus,
		Login:  cfg.Endpoints.AuthLogin,
		Me:     cfg.Endpoints.AuthMe,
		Logout: cfg.Endpoints.AuthLogout,
	})
	a.session = session.NewManager(backend, a.store,
		session.WithLogger(a.logger),
		session.WithMetrics(a.metrics),
	)
	a.guard = guard.New(guard.Policy{
		LoginPath:   cfg.Auth.LoginPath,
		PublicPaths: cfg.Auth.PublicPaths,
	}, func(target string) {
		a.logger.Debug("guard redirect", zap.String("target", target))
	})
	a.guard.Watch(a.session)

	a.research = research.New(gw, research.Endpoints{
		Sources:          cfg.Endpoints.Sources,
		Answer:           cfg.Endpoints.Answer,
		MultiStep:        cfg.Endpoints.MultiStep,
		SimilarQuestions: cfg.Endpoints.SimilarQuestions,
	})
	a.reports = reports.New(gw)
	return nil
}

// checkAccess initializes the session and applies the guard to cmd.
func (a *App) checkAccess(ctx context.Context, cmd *cobra.Command) error {
	// Waits while the check runs; Watch re-evaluates once it settles.
	a.guard.Navigate(a.session, commandPath(cmd))
	a.session.Init(ctx)

	switch d := a.guard.Last(); d.Kind {
	case guard.Allow:
		return nil
	case guard.Redirect:
		return ErrLoginRequired
	default:
		return fmt.Errorf("session check did not complete")
	}
}

// openHistory opens the history store on first use. Returns nil when
// history is disabled.
func (a *App) openHistory() (*storage.HistoryStore, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	if a.history != nil {
		return a.history, nil
	}
	store, err := storage.OpenHistory(a.cfg.History.Path)
	if err != nil {
		return nil, err
	}
	store.MaxEntries = a.cfg.History.MaxEntries
	a.history = store
	return store, nil
}

// close releases everything setup acquired.
func (a *App) close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil && a.logger != nil {
			a.logger.Warn("failed to close history", zap.Error(err))
		}
		a.history = nil
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.ownedLogger && a.logger != nil {
		_ = a.logger.Sync()
	}
}

// needsSession reports whether cmd talks to the server.
func needsSession(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if _, ok := c.Annotations[annotationNoSession]; ok {
			return false
		}
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

// commandPath maps "research report chat" to "/report/chat".
func commandPath(cmd *cobra.Command) string {
	parts := strings.Fields(cmd.CommandPath())
	if len(parts) <= 1 {
		return "/"
	}
	return "/" + strings.Join(parts[1:], "/")
}

// out returns the command's stdout.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

// errOut returns the command's stderr.
func errOut(cmd *cobra.Command) io.Writer {
	return cmd.ErrOrStderr()
}
