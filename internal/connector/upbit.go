package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// UpbitSpot pulls KRW order book data from Upbit. One request covers the
// whole symbol universe.
type UpbitSpot struct {
	baseURL string
	symbols []string
	client  *http.Client
	logger  *slog.Logger
}

// NewUpbitSpot builds an Upbit connector for the given base assets.
func NewUpbitSpot(baseURL string, symbols []string, timeout time.Duration, logger *slog.Logger) *UpbitSpot {
	return &UpbitSpot{
		baseURL: baseURL,
		symbols: symbols,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("connector", "upbit")),
	}
}

func (c *UpbitSpot) Name() string { return "upbit" }

type upbitOrderbook struct {
	Market string `json:"market"`
	Units  []struct {
		BidPrice float64 `json:"bid_price"`
		AskPrice float64 `json:"ask_price"`
	} `json:"orderbook_units"`
}

func (c *UpbitSpot) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	markets := make([]string, 0, len(c.symbols))
	for _, base := range c.symbols {
		markets = append(markets, "KRW-"+base)
	}
	url := fmt.Sprintf("%s/v1/orderbook?markets=%s", c.baseURL, strings.Join(markets, ","))

	var books []upbitOrderbook
	if err := getJSON(ctx, c.client, url, &books); err != nil {
		return nil, fmt.Errorf("upbit: orderbook: %w", err)
	}

	now := time.Now().UTC()
	quotes := make([]domain.Quote, 0, len(books))
	for _, book := range books {
		if len(book.Units) == 0 {
			continue
		}
		base := strings.TrimPrefix(book.Market, "KRW-")
		top := book.Units[0]
		quotes = append(quotes, domain.Quote{
			Venue:      c.Name(),
			Kind:       domain.VenueKindSpot,
			Symbol:     base + "/KRW",
			BaseAsset:  base,
			QuoteAsset: "KRW",
			Bid:        top.BidPrice,
			Ask:        top.AskPrice,
			Timestamp:  now,
		})
	}
	return quotes, nil
}

func (c *UpbitSpot) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
