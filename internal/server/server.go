// Package server exposes the read-only status API: positions with live
// health, the insurance fund, liquidation history, websocket feed, and
// the operational endpoints (health probes, metrics).
package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"LiqGuard/internal/engine"
	"LiqGuard/internal/history"
	"LiqGuard/internal/observability"
	"LiqGuard/internal/oracle"
	"LiqGuard/internal/store"
	"LiqGuard/internal/ws"
)

// Server serves the status API. All endpoints are reads; the engine and
// monitor are the only writers.
type Server struct {
	addr    string
	store   store.Store
	engine  *engine.Engine
	oracle  oracle.Oracle
	reader  *history.Reader // nil without Postgres
	hub     *ws.Hub         // nil disables /ws
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger

	httpServer *http.Server
}

func New(
	addr string,
	st store.Store,
	eng *engine.Engine,
	orc oracle.Oracle,
	reader *history.Reader,
	hub *ws.Hub,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	return &Server{
		addr:    addr,
		store:   st,
		engine:  eng,
		oracle:  orc,
		reader:  reader,
		hub:     hub,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	api.HandleFunc("/positions/{address}", s.handlePosition).Methods(http.MethodGet)
	api.HandleFunc("/fund", s.handleFund).Methods(http.MethodGet)
	api.HandleFunc("/liquidations", s.handleLiquidations).Methods(http.MethodGet)
	api.HandleFunc("/fund/transactions", s.handleFundTransactions).Methods(http.MethodGet)

	if s.hub != nil {
		r.HandleFunc("/ws", s.hub.HandleWS)
	}
	if s.health != nil {
		r.HandleFunc("/healthz", s.health.LivenessHandler)
		r.HandleFunc("/readyz", s.health.ReadinessHandler)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Use(s.observe)
	return r
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.addr).Msg("status API listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info().Msg("status API stopped")
		return ctx.Err()
	}
}

// observe wraps every request with latency and status metrics.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, http.StatusText(sw.status)).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Hijack keeps the websocket upgrade working through the metrics wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return hj.Hijack()
}
