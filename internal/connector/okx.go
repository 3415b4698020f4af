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

// OKXSpot fetches OKX spot order book snapshots.
type OKXSpot struct {
	baseURL string
	symbols []string
	client  *http.Client
	logger  *slog.Logger
}

// NewOKXSpot builds an OKX spot connector for the given base assets.
func NewOKXSpot(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *OKXSpot {
	return &OKXSpot{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("connector", "okx")),
	}
}

func (c *OKXSpot) Name() string { return "okx" }

type okxBookResponse struct {
	Data []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"data"`
}

func (c *OKXSpot) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
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

func (c *OKXSpot) fetchSymbol(ctx context.Context, base string) (domain.Quote, error) {
	instID := base + "-USDT"
	url := fmt.Sprintf("%s/api/v5/market/books?instId=%s&sz=5", c.baseURL, instID)

	var resp okxBookResponse
	if err := getJSON(ctx, c.client, url, &resp); err != nil {
		return domain.Quote{}, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Bids) == 0 || len(resp.Data[0].Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("okx: empty book for %s", instID)
	}

	book := resp.Data[0]
	bid, ask, err := parseTopLevels(book.Bids[0][0], book.Asks[0][0])
	if err != nil {
		return domain.Quote{}, fmt.Errorf("okx: %s: %w", instID, err)
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

func (c *OKXSpot) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
