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

// BithumbSpot pulls KRW order book data from Bithumb.
type BithumbSpot struct {
	baseURL string
	symbols []string
	client  *http.Client
	logger  *slog.Logger
}

// NewBithumbSpot builds a Bithumb connector for the given base assets.
func NewBithumbSpot(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *BithumbSpot {
	return &BithumbSpot{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("connector", "bithumb")),
	}
}

func (c *BithumbSpot) Name() string { return "bithumb" }

type bithumbOrderbook struct {
	Status string `json:"status"`
	Data   struct {
		Bids []struct {
			Price string `json:"price"`
		} `json:"bids"`
		Asks []struct {
			Price string `json:"price"`
		} `json:"asks"`
	} `json:"data"`
}

func (c *BithumbSpot) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
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
				c.logger.Warn("orderbook fetch failed", slog.String("symbol", base), slog.Any("error", err))
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

func (c *BithumbSpot) fetchSymbol(ctx context.Context, base string) (domain.Quote, error) {
	url := fmt.Sprintf("%s/public/orderbook/%s_KRW", c.baseURL, base)

	var book bithumbOrderbook
	if err := getJSON(ctx, c.client, url, &book); err != nil {
		return domain.Quote{}, err
	}
	if len(book.Data.Bids) == 0 || len(book.Data.Asks) == 0 {
		return domain.Quote{}, fmt.Errorf("bithumb: empty book for %s", base)
	}

	bid, ask, err := parseTopLevels(book.Data.Bids[0].Price, book.Data.Asks[0].Price)
	if err != nil {
		return domain.Quote{}, fmt.Errorf("bithumb: %s: %w", base, err)
	}

	return domain.Quote{
		Venue:      c.Name(),
		Kind:       domain.VenueKindSpot,
		Symbol:     base + "/KRW",
		BaseAsset:  base,
		QuoteAsset: "KRW",
		Bid:        bid,
		Ask:        ask,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *BithumbSpot) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
