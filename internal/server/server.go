package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/junheony/arbitrage-full/internal/server/handler"
	"github.com/junheony/arbitrage-full/internal/server/middleware"
	"github.com/junheony/arbitrage-full/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server registers.
type Handlers struct {
	Health        *handler.HealthHandler
	Opportunities *handler.OpportunityHandler
	Execute       *handler.ExecuteHandler
	Orders        *handler.OrderHandler
	Positions     *handler.PositionHandler
	Risk          *handler.RiskHandler
	Credentials   *handler.CredentialHandler
	AutoTrade     *handler.AutoTradeHandler
	ExecLog       *handler.ExecLogHandler
}

// Server is the headless HTTP + WebSocket API for the arbitrage backend.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux
// and the middleware chain (rate limit, auth, logging, CORS) applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health and metrics first; both stay reachable without auth via the
	// middleware ordering below.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Live opportunities and execution history.
	mux.HandleFunc("GET /api/opportunities", handlers.Opportunities.ListOpportunities)
	mux.HandleFunc("GET /api/opportunities/history", handlers.Opportunities.ListHistory)

	// Manual execution.
	mux.HandleFunc("POST /api/execute", handlers.Execute.Execute)

	// Orders.
	mux.HandleFunc("GET /api/orders", handlers.Orders.ListOrders)
	mux.HandleFunc("GET /api/orders/{id}", handlers.Orders.GetOrder)

	// Positions.
	mux.HandleFunc("GET /api/positions", handlers.Positions.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Positions.GetPosition)
	mux.HandleFunc("POST /api/positions/{id}/close", handlers.Positions.ClosePosition)

	// Risk limits.
	mux.HandleFunc("GET /api/risk-limits", handlers.Risk.GetLimits)
	mux.HandleFunc("PUT /api/risk-limits", handlers.Risk.UpdateLimits)

	// Venue credentials.
	mux.HandleFunc("PUT /api/credentials", handlers.Credentials.UpsertCredential)
	mux.HandleFunc("GET /api/credentials/{venue}", handlers.Credentials.GetCredential)
	mux.HandleFunc("DELETE /api/credentials/{venue}", handlers.Credentials.DeleteCredential)

	// Auto trading.
	mux.HandleFunc("GET /api/autotrade", handlers.AutoTrade.ListTraders)
	mux.HandleFunc("POST /api/autotrade", handlers.AutoTrade.StartTrader)
	mux.HandleFunc("DELETE /api/autotrade", handlers.AutoTrade.StopTrader)

	// Executor audit trail.
	mux.HandleFunc("GET /api/executions", handlers.ExecLog.ListExecutions)

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first. Auth wraps only the
	// /api routes so health, metrics and the WebSocket stay open.
	var h http.Handler = mux
	h = authAPIOnly(cfg.APIKey, h)
	h = middleware.Logging(logger)(h)
	h = middleware.RateLimit(20, 40)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// authAPIOnly applies the auth middleware to /api routes, excluding the
// health check.
func authAPIOnly(apiKey string, next http.Handler) http.Handler {
	authed := middleware.Auth(apiKey)(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if len(path) >= 4 && path[:4] == "/api" && path != "/api/health" {
			authed.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight
// requests to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
