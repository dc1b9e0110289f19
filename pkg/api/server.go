// Package api is the companion /healthz + /metrics HTTP surface for
// cmd/chainsync. It is deliberately not a query API — no GraphQL,
// JSON-RPC, or block/tx lookups — only operational status and the
// optional reference WebSocket event fanout.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/chainsync/internal/config"
	"github.com/0xmhha/chainsync/pkg/api/websocket"
	"github.com/0xmhha/chainsync/pkg/events"
)

// HealthChecker is implemented by anything the /healthz endpoint can
// query for current sync status — satisfied by *multichain.Manager and
// by a small single-chain adapter.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]*HealthReport
}

// HealthReport is one chain's health, shaped independently of
// pkg/multichain so this package never imports it.
type HealthReport struct {
	ChainID       string    `json:"chainId"`
	Status        string    `json:"status"`
	IsHealthy     bool      `json:"isHealthy"`
	LatestHeight  uint64    `json:"latestHeight"`
	IndexedHeight uint64    `json:"indexedHeight"`
	SyncLag       uint64    `json:"syncLag"`
	LastError     string    `json:"lastError,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Server is the chi-based HTTP surface wrapping /healthz, /metrics and,
// optionally, /ws.
type Server struct {
	config   *config.APIConfig
	logger   *zap.Logger
	checker  HealthChecker
	eventBus *events.EventBus

	router   *chi.Mux
	server   *http.Server
	wsServer *websocket.Server
}

// NewServer builds the router and underlying http.Server but does not
// start listening; call Start for that.
func NewServer(cfg *config.APIConfig, logger *zap.Logger, checker HealthChecker, eventBus *events.EventBus) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.Named("api"),
		checker:  checker,
		eventBus: eventBus,
		router:   chi.NewRouter(),
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.zapLogger)

	if s.config.EnableCORS {
		s.router.Use(s.cors)
	}
}

// zapLogger replaces chi's stdlib-logging middleware with one that logs
// through the process's structured logger.
func (s *Server) zapLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, a := range s.config.AllowedOrigins {
			if a == "*" || a == origin {
				allowed = true
				break
			}
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Upgrade, Connection")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	if s.config.EnableWebSocket {
		s.wsServer = websocket.NewServer(s.eventBus, s.logger)
		s.router.Get("/ws", s.wsServer.ServeHTTP)
		s.logger.Info("websocket event fanout enabled", zap.String("path", "/ws"))
	}
}

type healthzResponse struct {
	Status string                   `json:"status"`
	Chains map[string]*HealthReport `json:"chains,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	resp := healthzResponse{Status: "ok"}
	if s.checker != nil {
		resp.Chains = s.checker.HealthCheck(r.Context())
		for _, c := range resp.Chains {
			if !c.IsHealthy {
				resp.Status = "degraded"
			}
		}
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Start begins serving in the background; errors other than
// http.ErrServerClosed are sent to errCh.
func (s *Server) Start(errCh chan<- error) {
	s.logger.Info("starting api server", zap.String("addr", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
}

// Stop gracefully shuts the server and websocket hub down.
func (s *Server) Stop(ctx context.Context) error {
	if s.wsServer != nil {
		s.wsServer.Stop()
	}
	return s.server.Shutdown(ctx)
}
