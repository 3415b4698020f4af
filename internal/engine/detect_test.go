package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/config"
	"github.com/junheony/arbitrage-full/internal/connector"
	"github.com/junheony/arbitrage-full/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&cfg, nil, nil, nil, nil, nil, logger)
}

func perpSnapshot(venue string, bid, ask, mark, rate8h, oiUSD float64) domain.FundingSnapshot {
	return domain.FundingSnapshot{
		Venue:           venue,
		Symbol:          "BTC/USDT:USDT",
		BaseAsset:       "BTC",
		Bid:             bid,
		Ask:             ask,
		MarkPrice:       mark,
		FundingRate:     rate8h,
		FundingRate8h:   rate8h,
		OpenInterestUSD: oiUSD,
		Timestamp:       time.Now().UTC(),
	}
}

func TestCrossSpreadBps(t *testing.T) {
	assert.InDelta(t, 10.0, crossSpreadBps(100, 100.1), 1e-9)
	assert.Zero(t, crossSpreadBps(100, 100))
	assert.Zero(t, crossSpreadBps(100.1, 100))
	assert.Zero(t, crossSpreadBps(0, 100))
	assert.Zero(t, crossSpreadBps(100, -1))
}

func TestDetectFundingArbDirection(t *testing.T) {
	e := newTestEngine(t)
	perps := []domain.FundingSnapshot{
		perpSnapshot("binance_perp", 49999, 50001, 50000, -0.0002, 5_000_000),
		perpSnapshot("bybit_perp", 49998, 50002, 50000, 0.0003, 5_000_000),
	}

	opps := e.detectFundingArb(perps)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.OpportunityFundingArb, opp.Type)
	require.Len(t, opp.Legs, 2)

	// Long the venue paying the lower rate, short the higher one.
	assert.Equal(t, "binance_perp", opp.Legs[0].Venue)
	assert.Equal(t, domain.OrderSideBuy, opp.Legs[0].Side)
	assert.Equal(t, "bybit_perp", opp.Legs[1].Venue)
	assert.Equal(t, domain.OrderSideSell, opp.Legs[1].Side)

	assert.Equal(t, "binance_perp", opp.Metadata["long_exchange"])
	assert.Equal(t, "bybit_perp", opp.Metadata["short_exchange"])
	assert.InDelta(t, 0.05, opp.Metadata["funding_diff_8h_pct"].(float64), 1e-9)
	assert.Positive(t, opp.ExpectedPnLPct)
}

func TestDetectFundingArbFilters(t *testing.T) {
	e := newTestEngine(t)

	// Differential below the floor.
	opps := e.detectFundingArb([]domain.FundingSnapshot{
		perpSnapshot("binance_perp", 49999, 50001, 50000, 0.00001, 5_000_000),
		perpSnapshot("bybit_perp", 49998, 50002, 50000, 0.00005, 5_000_000),
	})
	assert.Empty(t, opps)

	// Illiquid venue falls out of the grouping, leaving a single perp.
	opps = e.detectFundingArb([]domain.FundingSnapshot{
		perpSnapshot("binance_perp", 49999, 50001, 50000, -0.0002, 5_000_000),
		perpSnapshot("bybit_perp", 49998, 50002, 50000, 0.0003, 10_000),
	})
	assert.Empty(t, opps)

	// Wide books eat the differential.
	opps = e.detectFundingArb([]domain.FundingSnapshot{
		perpSnapshot("binance_perp", 49800, 50200, 50000, -0.0002, 5_000_000),
		perpSnapshot("bybit_perp", 49800, 50200, 50000, 0.0003, 5_000_000),
	})
	assert.Empty(t, opps)
}

func TestDetectPerpSpread(t *testing.T) {
	e := newTestEngine(t)
	perps := []domain.FundingSnapshot{
		perpSnapshot("binance_perp", 99.9, 100.0, 100, 0.0001, 5_000_000),
		perpSnapshot("bybit_perp", 100.3, 100.4, 100, 0.0001, 5_000_000),
	}

	opps := e.detectPerpSpread(perps)
	require.Len(t, opps, 1)

	opp := opps[0]
	assert.Equal(t, domain.OpportunityPerpSpread, opp.Type)
	assert.InDelta(t, 30.0, opp.SpreadBps, 1e-6)
	require.Len(t, opp.Legs, 2)
	assert.Equal(t, "binance_perp", opp.Legs[0].Venue)
	assert.Equal(t, domain.OrderSideBuy, opp.Legs[0].Side)
	assert.InDelta(t, 100.0, opp.Legs[0].Price, 1e-9)
	assert.Equal(t, "bybit_perp", opp.Legs[1].Venue)
	assert.Equal(t, domain.OrderSideSell, opp.Legs[1].Side)
	assert.InDelta(t, 100.3, opp.Legs[1].Price, 1e-9)
}

func TestDetectPerpSpreadRejectsWideGap(t *testing.T) {
	e := newTestEngine(t)
	// 100 bps gap reads as stale data, not edge.
	opps := e.detectPerpSpread([]domain.FundingSnapshot{
		perpSnapshot("binance_perp", 99.9, 100.0, 100, 0, 5_000_000),
		perpSnapshot("bybit_perp", 101.0, 101.1, 100, 0, 5_000_000),
	})
	assert.Empty(t, opps)
}

func spotQuote(venue, base, quote string, bid, ask float64) domain.Quote {
	return domain.Quote{
		Venue:      venue,
		Kind:       domain.VenueKindSpot,
		Symbol:     base + "/" + quote,
		BaseAsset:  base,
		QuoteAsset: quote,
		Bid:        bid,
		Ask:        ask,
		Timestamp:  time.Now().UTC(),
	}
}

func TestDetectKimchiPremiumRelativeFilter(t *testing.T) {
	e := newTestEngine(t)
	fx := domain.Quote{
		Venue: "dunamu_fx", Kind: domain.VenueKindFX, Symbol: "USD/KRW",
		BaseAsset: "USD", QuoteAsset: "KRW", Bid: 1350, Ask: 1350,
	}

	// BTC trades 3% cheap locally, ETH flat: the mean is -1.5%, both
	// deviate by 1.5% and survive the relative filter.
	quotes := []domain.Quote{
		fx,
		spotQuote("binance", "BTC", "USDT", 99.9, 100.1),
		spotQuote("upbit", "BTC", "KRW", 130940, 130960), // mid/fx = 97
		spotQuote("binance", "ETH", "USDT", 9.99, 10.01),
		spotQuote("upbit", "ETH", "KRW", 13499, 13501), // mid/fx = 10
	}

	opps := e.detectKimchiPremium(quotes, nil)
	require.Len(t, opps, 2)

	// Sorted by premium magnitude: BTC first.
	btc := opps[0]
	assert.Equal(t, domain.OpportunityKimchiPremium, btc.Type)
	assert.InDelta(t, -3.0, btc.ExpectedPnLPct, 0.01)
	assert.Equal(t, "buy_krw", btc.Metadata["recommended_action"])
	require.Len(t, btc.Legs, 2)
	assert.Equal(t, "binance", btc.Legs[0].Venue)
	assert.Equal(t, domain.OrderSideSell, btc.Legs[0].Side)
	assert.Equal(t, "upbit", btc.Legs[1].Venue)
	assert.Equal(t, domain.OrderSideBuy, btc.Legs[1].Side)
	assert.Equal(t, "BTC/KRW", btc.Legs[1].Symbol)
}

func TestDetectKimchiPremiumSkipsUniformDrift(t *testing.T) {
	e := newTestEngine(t)
	fx := domain.Quote{
		Venue: "dunamu_fx", Kind: domain.VenueKindFX, Symbol: "USD/KRW",
		BaseAsset: "USD", QuoteAsset: "KRW", Bid: 1350, Ask: 1350,
	}

	// Both assets carry the same 2% premium: no relative dislocation.
	quotes := []domain.Quote{
		fx,
		spotQuote("binance", "BTC", "USDT", 99.9, 100.1),
		spotQuote("upbit", "BTC", "KRW", 137690, 137710), // mid/fx = 102
		spotQuote("binance", "ETH", "USDT", 9.99, 10.01),
		spotQuote("upbit", "ETH", "KRW", 13769, 13771), // mid/fx = 10.2
	}

	assert.Empty(t, e.detectKimchiPremium(quotes, nil))
}

func TestDetectKimchiPremiumNoFXRate(t *testing.T) {
	e := newTestEngine(t)
	quotes := []domain.Quote{
		spotQuote("binance", "BTC", "USDT", 99.9, 100.1),
		spotQuote("upbit", "BTC", "KRW", 130940, 130960),
	}
	assert.Empty(t, e.detectKimchiPremium(quotes, nil))
}

func TestBaseAssetOf(t *testing.T) {
	assert.Equal(t, "BTC", baseAssetOf("BTC/USDT"))
	assert.Equal(t, "BTC", baseAssetOf("BTC/USDT:USDT"))
	assert.Equal(t, "ETH", baseAssetOf("ETH"))
}

func TestPublishDropOldest(t *testing.T) {
	ch := make(chan []domain.Opportunity, 1)

	first := []domain.Opportunity{{ID: "first"}}
	second := []domain.Opportunity{{ID: "second"}}
	third := []domain.Opportunity{{ID: "third"}}

	publishDropOldest(ch, first)
	publishDropOldest(ch, second)
	publishDropOldest(ch, third)

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		assert.Equal(t, "third", snap[0].ID)
	default:
		t.Fatal("expected a pending snapshot")
	}
	assert.Empty(t, ch)
}

func TestFilterByDepositStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"currency":"BTC","wallet_state":"working","block_state":"normal"},
			{"currency":"XRP","wallet_state":"paused","block_state":"normal"}
		]`))
	}))
	defer srv.Close()

	cfg := config.Defaults()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deposit := connector.NewDepositStatusCache(time.Hour, time.Second, logger).
		WithEndpoint("upbit", srv.URL)
	e := New(&cfg, nil, nil, deposit, nil, nil, logger)

	kimchiOpp := func(asset string) domain.Opportunity {
		return domain.Opportunity{
			ID:   asset,
			Type: domain.OpportunityKimchiPremium,
			Legs: []domain.Leg{
				{Venue: "binance", Kind: domain.VenueKindSpot, Symbol: asset + "/USDT", Side: domain.OrderSideBuy, Quantity: 1},
				{Venue: "upbit", Kind: domain.VenueKindSpot, Symbol: asset + "/KRW", Side: domain.OrderSideSell, Quantity: 1},
			},
		}
	}
	opps := []domain.Opportunity{kimchiOpp("BTC"), kimchiOpp("XRP")}

	filtered := e.filterByDepositStatus(context.Background(), opps)
	require.Len(t, filtered, 1)
	assert.Equal(t, "BTC", filtered[0].ID)

	// Without a deposit cache nothing is filtered.
	bare := New(&cfg, nil, nil, nil, nil, nil, logger)
	assert.Len(t, bare.filterByDepositStatus(context.Background(), opps), 2)
}
