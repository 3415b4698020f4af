package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// BinancePerp fetches Binance USDT-margined perpetual futures data.
// Binance's futures API is strict about burst rates, so per-symbol
// requests go through a limiter instead of free-running goroutines.
type BinancePerp struct {
	baseURL string
	symbols []string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBinancePerp builds a Binance perp connector for the given base
// assets.
func NewBinancePerp(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *BinancePerp {
	return &BinancePerp{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		logger:  logger.With(slog.String("connector", "binance_perp")),
	}
}

func (c *BinancePerp) Name() string { return "binance" }

type binancePremiumIndex struct {
	MarkPrice       string `json:"markPrice"`
	IndexPrice      string `json:"indexPrice"`
	LastFundingRate string `json:"lastFundingRate"`
	NextFundingTime int64  `json:"nextFundingTime"`
}

type binanceOpenInterest struct {
	OpenInterest string `json:"openInterest"`
}

func (c *BinancePerp) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)
	for _, base := range c.symbols {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			q, err := c.fetchQuote(ctx, base)
			if err != nil {
				c.logger.Warn("depth fetch failed", slog.String("symbol", base), slog.Any("error", err))
				return
			}
			mu.Lock()
			quotes = append(quotes, q)
			mu.Unlock()
		}(base)
	}
	wg.Wait()
	return quotes, nil
}

func (c *BinancePerp) fetchQuote(ctx context.Context, base string) (domain.Quote, error) {
	pair := base + "USDT"
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=5", c.baseURL, pair)

	var depth binanceDepth
	if err := getJSON(ctx, c.client, url, &depth); err != nil {
		return domain.Quote{}, err
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("binance perp: empty book for %s", pair)
	}

	bid, ask, err := parseTopLevels(depth.Bids[0][0], depth.Asks[0][0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance perp: %s: %w", pair, err)
	}

	return domain.Quote{
		Venue:      c.Name(),
		Kind:       domain.VenueKindPerp,
		Symbol:     base + "/USDT",
		BaseAsset:  base,
		QuoteAsset: "USDT",
		Bid:        bid,
		Ask:        ask,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// FetchFundingSnapshots combines depth, premium index and open interest
// into one snapshot per symbol. Binance funding settles every 8 hours,
// so the native rate is already the 8h rate.
func (c *BinancePerp) FetchFundingSnapshots(ctx context.Context) ([]domain.FundingSnapshot, error) {
	var (
		mu    sync.Mutex
		snaps []domain.FundingSnapshot
		wg    sync.WaitGroup
	)
	for _, base := range c.symbols {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			snap, err := c.fetchSnapshot(ctx, base)
			if err != nil {
				c.logger.Warn("funding fetch failed", slog.String("symbol", base), slog.Any("error", err))
				return
			}
			mu.Lock()
			snaps = append(snaps, snap)
			mu.Unlock()
		}(base)
	}
	wg.Wait()
	return snaps, nil
}

func (c *BinancePerp) fetchSnapshot(ctx context.Context, base string) (domain.FundingSnapshot, error) {
	pair := base + "USDT"

	var depth binanceDepth
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=5", c.baseURL, pair), &depth); err != nil {
		return domain.FundingSnapshot{}, err
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return domain.FundingSnapshot{}, fmt.Errorf("binance perp: empty book for %s", pair)
	}
	bid, ask, err := parseTopLevels(depth.Bids[0][0], depth.Asks[0][0])
	if err != nil {
		return domain.FundingSnapshot{}, fmt.Errorf("binance perp: %s: %w", pair, err)
	}

	var premium binancePremiumIndex
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.baseURL, pair), &premium); err != nil {
		return domain.FundingSnapshot{}, err
	}
	markPrice, _ := strconv.ParseFloat(premium.MarkPrice, 64)
	indexPrice, _ := strconv.ParseFloat(premium.IndexPrice, 64)
	fundingRate, _ := strconv.ParseFloat(premium.LastFundingRate, 64)

	var oi binanceOpenInterest
	oiContracts := 0.0
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", c.baseURL, pair), &oi); err != nil {
		c.logger.Warn("open interest fetch failed", slog.String("symbol", base), slog.Any("error", err))
	} else {
		oiContracts, _ = strconv.ParseFloat(oi.OpenInterest, 64)
	}

	var nextFunding *time.Time
	if premium.NextFundingTime > 0 {
		t := time.UnixMilli(premium.NextFundingTime).UTC()
		nextFunding = &t
	}

	return domain.FundingSnapshot{
		Venue:           c.Name(),
		Symbol:          base + "/USDT",
		BaseAsset:       base,
		Bid:             bid,
		Ask:             ask,
		MarkPrice:       markPrice,
		IndexPrice:      indexPrice,
		FundingRate:     fundingRate,
		FundingRate8h:   fundingRate,
		NextFundingTime: nextFunding,
		OpenInterestUSD: oiContracts * markPrice,
		OpenInterest:    oiContracts,
		Timestamp:       time.Now().UTC(),
	}, nil
}

// FetchOpenInterest returns the open interest in USD for one base asset.
func (c *BinancePerp) FetchOpenInterest(ctx context.Context, base string) (float64, error) {
	pair := base + "USDT"

	var oi binanceOpenInterest
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", c.baseURL, pair), &oi); err != nil {
		return 0, fmt.Errorf("binance perp: open interest %s: %w", pair, err)
	}
	contracts, err := strconv.ParseFloat(oi.OpenInterest, 64)
	if err != nil {
		return 0, fmt.Errorf("binance perp: parse open interest %q: %w", oi.OpenInterest, err)
	}

	var premium binancePremiumIndex
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.baseURL, pair), &premium); err != nil {
		return 0, fmt.Errorf("binance perp: mark price %s: %w", pair, err)
	}
	markPrice, _ := strconv.ParseFloat(premium.MarkPrice, 64)

	return contracts * markPrice, nil
}

func (c *BinancePerp) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
