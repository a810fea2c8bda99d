// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes Prometheus instruments for the research client.
//
// A nil *Metrics is valid and records nothing, so library code can take an
// optional *Metrics without guarding every call.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "research"

// Metrics holds every instrument the client records.
type Metrics struct {
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	fragments       prometheus.Counter
	malformedFrames prometheus.Counter
	activeStreams   prometheus.Gauge
	logins          *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec
}

// New registers the instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Backend requests by endpoint and status code (0 for transport failures).",
		}, []string{"endpoint", "code"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time until response headers were received.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		fragments: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_fragments_total",
			Help:      "Answer fragments emitted from event streams.",
		}),
		malformedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_malformed_frames_total",
			Help:      "Stream events skipped because their payload was not valid JSON.",
		}),
		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Answer streams currently open.",
		}),
		logins: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current session state, 0 otherwise.",
		}, []string{"state"}),
	}
}

// ObserveRequest records one request/response exchange.
func (m *Metrics) ObserveRequest(endpoint string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	m.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// StreamOpened increments the active stream gauge.
func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

// StreamClosed decrements the active stream gauge.
func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
}

// Fragment counts one emitted fragment.
func (m *Metrics) Fragment() {
	if m == nil {
		return
	}
	m.fragments.Inc()
}

// MalformedFrame counts one skipped event.
func (m *Metrics) MalformedFrame() {
	if m == nil {
		return
	}
	m.malformedFrames.Inc()
}

// Login counts a login attempt with result "success" or "failure".
func (m *Metrics) Login(success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.logins.WithLabelValues(result).Inc()
}

// SessionState marks state as current and every other known state as not.
func (m *Metrics) SessionState(state string, all []string) {
	if m == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		m.sessionState.WithLabelValues(s).Set(v)
	}
}

// =============================================================================
// EXPOSITION
// =============================================================================

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
// Returns the bound address so callers may pass ":0".
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) (string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Debug("metrics listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr().String(), nil
}
