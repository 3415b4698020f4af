// Package connector contains per-venue market data adapters. Each
// connector is independently fallible: a failing venue reduces that
// tick's coverage and never aborts the aggregate fetch.
package connector

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/domain"
)

const userAgent = "arbitrage-full/0.1"

// QuoteSource produces normalized top-of-book quotes for one venue.
// Implementations do not retry; the engine's tick loop is the retry
// boundary.
type QuoteSource interface {
	Name() string
	FetchQuotes(ctx context.Context) ([]domain.Quote, error)
	Close() error
}

// FundingSource is implemented by perpetual-futures connectors, which
// additionally expose funding and open-interest data.
type FundingSource interface {
	QuoteSource
	FetchFundingSnapshots(ctx context.Context) ([]domain.FundingSnapshot, error)
	FetchOpenInterest(ctx context.Context, baseAsset string) (float64, error)
}

// getJSON performs a GET against url and decodes the JSON response body
// into out. Non-2xx responses are returned as errors with the status.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("connector: build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("connector: %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("connector: %s: status %d: %s", url, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("connector: decode %s: %w", url, err)
	}
	return nil
}

// parseTopLevels parses string-encoded best bid/ask prices as most venue
// depth endpoints return them.
func parseTopLevels(bidStr, askStr string) (bid, ask float64, err error) {
	bid, err = strconv.ParseFloat(bidStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse bid %q: %w", bidStr, err)
	}
	ask, err = strconv.ParseFloat(askStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse ask %q: %w", askStr, err)
	}
	return bid, ask, nil
}
