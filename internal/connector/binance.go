package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// BinanceSpot fetches Binance spot order book snapshots.
type BinanceSpot struct {
	baseURL string
	symbols []string // base assets, quoted in USDT
	client  *http.Client
	logger  *slog.Logger
}

// NewBinanceSpot builds a Binance spot connector for the given base
// assets.
func NewBinanceSpot(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *BinanceSpot {
	return &BinanceSpot{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("connector", "binance")),
	}
}

func (c *BinanceSpot) Name() string { return "binance" }

type binanceDepth struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// FetchQuotes fetches top-of-book for every configured symbol
// concurrently. Per-symbol failures are logged and skipped.
func (c *BinanceSpot) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	var (
		mu     sync.Mutex
		quotes []domain.Quote
		wg     sync.WaitGroup
	)
	for _, base := range c.symbols {
		wg.Add(1)
		go func(base string) {
			defer wg.Done()
			q, err := c.fetchSymbol(ctx, base)
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

func (c *BinanceSpot) fetchSymbol(ctx context.Context, base string) (domain.Quote, error) {
	pair := base + "USDT"
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=5", c.baseURL, pair)

	var depth binanceDepth
	if err := getJSON(ctx, c.client, url, &depth); err != nil {
		return domain.Quote{}, err
	}
	if len(depth.Bids) == 0 || len(depth.Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("binance: empty book for %s", pair)
	}

	bid, ask, err := parseTopLevels(depth.Bids[0][0], depth.Asks[0][0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("binance: %s: %w", pair, err)
	}

	return domain.Quote{
		Venue:      c.Name(),
		Kind:       domain.VenueKindSpot,
		Symbol:     base + "/USDT",
		BaseAsset:  base,
		QuoteAsset: "USDT",
		Bid:        bid,
		Ask:        ask,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *BinanceSpot) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
