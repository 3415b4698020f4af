package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// BybitPerp fetches Bybit USDT linear perpetual futures data.
type BybitPerp struct {
	baseURL string
	symbols []string
	client  *http.Client
	logger  *slog.Logger
}

// NewBybitPerp builds a Bybit perp connector for the given base assets.
func NewBybitPerp(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *BybitPerp {
	return &BybitPerp{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("connector", "bybit_perp")),
	}
}

func (c *BybitPerp) Name() string { return "bybit" }

type bybitOrderbookResponse struct {
	Result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	} `json:"result"`
}

type bybitTickersResponse struct {
	Result struct {
		List []struct {
			MarkPrice       string `json:"markPrice"`
			IndexPrice      string `json:"indexPrice"`
			FundingRate     string `json:"fundingRate"`
			NextFundingTime string `json:"nextFundingTime"`
			OpenInterest    string `json:"openInterest"`
		} `json:"list"`
	} `json:"result"`
}

func (c *BybitPerp) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)
	for _, base := range c.symbols {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
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

func (c *BybitPerp) fetchQuote(ctx context.Context, base string) (domain.Quote, error) {
	pair := base + "USDT"
	url := fmt.Sprintf("%s/v5/market/orderbook?category=linear&symbol=%s&limit=5", c.baseURL, pair)

	var resp bybitOrderbookResponse
	if err := getJSON(ctx, c.client, url, &resp); err != nil {
		return domain.Quote{}, err
	}
	if len(resp.Result.Bids) == 0 || len(resp.Result.Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("bybit: empty book for %s", pair)
	}

	bid, ask, err := parseTopLevels(resp.Result.Bids[0][0], resp.Result.Asks[0][0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("bybit: %s: %w", pair, err)
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

// FetchFundingSnapshots combines ticker and depth data per symbol. Bybit
// funding settles every 8 hours, so the native rate is already the 8h
// rate.
func (c *BybitPerp) FetchFundingSnapshots(ctx context.Context) ([]domain.FundingSnapshot, error) {
	var (
		mu    sync.Mutex
		snaps []domain.FundingSnapshot
		wg    sync.WaitGroup
	)
	for _, base := range c.symbols {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
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

func (c *BybitPerp) fetchSnapshot(ctx context.Context, base string) (domain.FundingSnapshot, error) {
	pair := base + "USDT"

	var book bybitOrderbookResponse
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/v5/market/orderbook?category=linear&symbol=%s&limit=5", c.baseURL, pair), &book); err != nil {
		return domain.FundingSnapshot{}, err
	}
	if len(book.Result.Bids) == 0 || len(book.Result.Asks) == 0 {
		return domain.FundingSnapshot{}, fmt.Errorf("bybit: empty book for %s", pair)
	}
	bid, ask, err := parseTopLevels(book.Result.Bids[0][0], book.Result.Asks[0][0])
	if err != nil {
		return domain.FundingSnapshot{}, fmt.Errorf("bybit: %s: %w", pair, err)
	}

	var tickers bybitTickersResponse
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", c.baseURL, pair), &tickers); err != nil {
		return domain.FundingSnapshot{}, err
	}
	if len(tickers.Result.List) == 0 {
		return domain.FundingSnapshot{}, fmt.Errorf("bybit: no ticker for %s", pair)
	}

	t := tickers.Result.List[0]
	markPrice, _ := strconv.ParseFloat(t.MarkPrice, 64)
	indexPrice, _ := strconv.ParseFloat(t.IndexPrice, 64)
	fundingRate, _ := strconv.ParseFloat(t.FundingRate, 64)
	oiContracts, _ := strconv.ParseFloat(t.OpenInterest, 64)

	var nextFunding *time.Time
	if ms, err := strconv.ParseInt(t.NextFundingTime, 10, 64); err == nil && ms > 0 {
		ts := time.UnixMilli(ms).UTC()
		nextFunding = &ts
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
// Bybit reports OI in base currency, so it is converted at mark price.
func (c *BybitPerp) FetchOpenInterest(ctx context.Context, base string) (float64, error) {
	pair := base + "USDT"

	var tickers bybitTickersResponse
	if err := getJSON(ctx, c.client, fmt.Sprintf("%s/v5/market/tickers?category=linear&symbol=%s", c.baseURL, pair), &tickers); err != nil {
		return 0, fmt.Errorf("bybit: tickers %s: %w", pair, err)
	}
	if len(tickers.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: no ticker for %s", pair)
	}

	t := tickers.Result.List[0]
	markPrice, _ := strconv.ParseFloat(t.MarkPrice, 64)
	contracts, _ := strconv.ParseFloat(t.OpenInterest, 64)
	return contracts * markPrice, nil
}

func (c *BybitPerp) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
