// Package venue implements authenticated order clients for the exchanges
// the executor and closer trade on. Each client maps one credential onto
// one venue's private REST API and normalizes submission failures into
// domain.VenueError.
package venue

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/junheony/arbitrage-full/internal/config"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// Factory builds order clients keyed by venue name. It implements
// domain.VenueClientFactory.
type Factory struct {
	cfg    config.VenuesConfig
	logger *slog.Logger
}

// NewFactory builds a factory over the configured venue endpoints. With
// cfg.PaperTrading set, every client is an in-memory simulator.
func NewFactory(cfg config.VenuesConfig, logger *slog.Logger) *Factory {
	return &Factory{cfg: cfg, logger: logger.With(slog.String("component", "venue"))}
}

func (f *Factory) ClientFor(venue string, cred domain.VenueCredential) (domain.VenueClient, error) {
	if f.cfg.PaperTrading {
		return NewPaper(venue, f.logger), nil
	}

	timeout := f.cfg.HTTPTimeout.Duration
	switch venue {
	case "binance":
		return newBinance(f.cfg.Binance.BaseURL, f.cfg.BinancePerp.BaseURL, cred, timeout, f.logger), nil
	case "bybit":
		return newBybit(f.cfg.BybitPerp.BaseURL, cred, timeout, f.logger), nil
	case "okx":
		return newOKX(f.cfg.OKX.BaseURL, cred, timeout, f.logger), nil
	case "upbit":
		return newKRWClient("upbit", f.cfg.Upbit.BaseURL, cred, timeout, f.logger), nil
	case "bithumb":
		// Bithumb's 2.0 API mirrors Upbit's market codes and auth scheme.
		return newKRWClient("bithumb", f.cfg.Bithumb.BaseURL, cred, timeout, f.logger), nil
	default:
		return nil, fmt.Errorf("venue: no order client for %q", venue)
	}
}

// parseSymbol splits a unified symbol into base and quote assets and
// reports whether it names a perpetual contract. "BTC/USDT:USDT" is the
// BTC perp settled in USDT; "BTC/KRW" is the spot pair.
func parseSymbol(symbol string) (base, quote string, perp bool) {
	pair := symbol
	if i := strings.IndexByte(pair, ':'); i >= 0 {
		pair, perp = pair[:i], true
	}
	base, quote, _ = strings.Cut(pair, "/")
	return base, quote, perp
}

// formatQty renders a quantity without scientific notation, trimming
// trailing zeros. Venue APIs reject "1e-05".
func formatQty(q float64) string {
	s := strconv.FormatFloat(q, 'f', 8, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

func venueErr(venue string, kind domain.VenueErrorKind, format string, args ...any) error {
	return &domain.VenueError{Venue: venue, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func closeBody(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}
