package connector

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const upbitWalletBody = `[
	{"currency":"BTC","wallet_state":"working","block_state":"normal"},
	{"currency":"XRP","wallet_state":"paused","block_state":"normal"},
	{"currency":"SOL","wallet_state":"working","block_state":"delayed"}
]`

func TestDepositStatusFiltersImpairedAssets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(upbitWalletBody))
	}))
	defer srv.Close()

	cache := NewDepositStatusCache(time.Hour, time.Second, testLogger()).
		WithEndpoint("upbit", srv.URL)
	ctx := context.Background()

	assert.True(t, cache.IsTradeable(ctx, "upbit", "BTC"))
	assert.False(t, cache.IsTradeable(ctx, "upbit", "XRP"), "paused wallet")
	assert.False(t, cache.IsTradeable(ctx, "upbit", "SOL"), "delayed block state")
}

func TestDepositStatusFailsOpenOnFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cache := NewDepositStatusCache(time.Hour, time.Second, testLogger()).
		WithEndpoint("upbit", srv.URL)

	// A status API hiccup must not suppress trading.
	assert.True(t, cache.IsTradeable(context.Background(), "upbit", "BTC"))
	assert.Empty(t, cache.DisabledAssets(context.Background(), "upbit"))
}

func TestDepositStatusCachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(upbitWalletBody))
	}))
	defer srv.Close()

	cache := NewDepositStatusCache(time.Hour, time.Second, testLogger()).
		WithEndpoint("upbit", srv.URL)
	ctx := context.Background()

	cache.IsTradeable(ctx, "upbit", "BTC")
	cache.IsTradeable(ctx, "upbit", "XRP")
	cache.IsTradeable(ctx, "UPBIT", "SOL") // venue name is case-insensitive
	assert.Equal(t, int64(1), hits.Load(), "one fetch serves the whole TTL window")
}

func TestDepositStatusRefetchesAfterTTL(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Write([]byte(upbitWalletBody))
			return
		}
		// Second window: XRP recovered.
		w.Write([]byte(`[{"currency":"XRP","wallet_state":"working","block_state":"normal"}]`))
	}))
	defer srv.Close()

	// Zero TTL: every lookup is stale.
	cache := NewDepositStatusCache(0, time.Second, testLogger()).
		WithEndpoint("upbit", srv.URL)
	ctx := context.Background()

	assert.False(t, cache.IsTradeable(ctx, "upbit", "XRP"))
	assert.True(t, cache.IsTradeable(ctx, "upbit", "XRP"))
	assert.Equal(t, int64(2), hits.Load())
}

func TestDepositStatusUnknownVenueIsTradeable(t *testing.T) {
	cache := NewDepositStatusCache(time.Hour, time.Second, testLogger())
	assert.True(t, cache.IsTradeable(context.Background(), "kraken", "BTC"))
}
