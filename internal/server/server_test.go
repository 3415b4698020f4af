package server

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/junheony/arbitrage-full/internal/domain"
	"github.com/junheony/arbitrage-full/internal/server/handler"
)

type emptySource struct{}

func (emptySource) Latest() []domain.Opportunity { return nil }

func newTestServer(apiKey string) *Server {
	logger := slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
	handlers := Handlers{
		Health:        handler.NewHealthHandler(logger),
		Opportunities: handler.NewOpportunityHandler(emptySource{}, nil, logger),
		Execute:       handler.NewExecuteHandler(nil, emptySource{}, logger),
		Orders:        handler.NewOrderHandler(nil, nil, logger),
		Positions:     handler.NewPositionHandler(nil, nil, logger),
		Risk:          handler.NewRiskHandler(nil, logger),
		Credentials:   handler.NewCredentialHandler(nil, logger),
		AutoTrade:     handler.NewAutoTradeHandler(nil, context.Background(), logger),
		ExecLog:       handler.NewExecLogHandler(nil, logger),
	}
	return NewServer(Config{Port: 0, APIKey: apiKey}, handlers, nil, logger)
}

func TestHealthBypassesAuth(t *testing.T) {
	srv := newTestServer("sekrit")

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestAPIRoutesRequireAuth(t *testing.T) {
	srv := newTestServer("sekrit")

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/opportunities", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	r := httptest.NewRequest(http.MethodGet, "/api/opportunities", nil)
	r.Header.Set("X-API-Key", "sekrit")
	rec = httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsBypassesAuth(t *testing.T) {
	srv := newTestServer("sekrit")

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	srv := newTestServer("")

	rec := httptest.NewRecorder()
	srv.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
