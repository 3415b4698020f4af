package connector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// KRWUSDForex retrieves the USD/KRW rate, trying the Dunamu quotation
// API first, then a public exchange-rate API, then Upbit's USDT/KRW
// book, and finally a fixed operator-configured rate. It always returns
// exactly one quote.
type KRWUSDForex struct {
	dunamuURL       string
	exchangerateURL string
	upbitURL        string
	fallbackRate    float64
	client          *http.Client
	logger          *slog.Logger
}

// NewKRWUSDForex builds the FX source.
func NewKRWUSDForex(dunamuURL, exchangerateURL, upbitURL string, fallbackRate float64, timeout time.Duration, logger *slog.Logger) *KRWUSDForex {
	return &KRWUSDForex{
		dunamuURL:       dunamuURL,
		exchangerateURL: exchangerateURL,
		upbitURL:        upbitURL,
		fallbackRate:    fallbackRate,
		client:          &http.Client{Timeout: timeout},
		logger:          logger.With(slog.String("connector", "fx")),
	}
}

func (c *KRWUSDForex) Name() string { return "dunamu_fx" }

func (c *KRWUSDForex) FetchQuotes(ctx context.Context) ([]domain.Quote, error) {
	if q, err := c.fetchDunamu(ctx); err == nil {
		return []domain.Quote{q}, nil
	} else {
		c.logger.Warn("dunamu rate fetch failed", slog.Any("error", err))
	}

	if q, err := c.fetchExchangerate(ctx); err == nil {
		return []domain.Quote{q}, nil
	} else {
		c.logger.Warn("exchangerate fetch failed", slog.Any("error", err))
	}

	if q, err := c.fetchUpbitUSDT(ctx); err == nil {
		c.logger.Info("using upbit USDT/KRW as forex rate", slog.Float64("rate", q.Bid))
		return []domain.Quote{q}, nil
	} else {
		c.logger.Warn("upbit USDT/KRW fetch failed", slog.Any("error", err))
	}

	c.logger.Warn("all forex sources failed, using fixed rate", slog.Float64("rate", c.fallbackRate))
	return []domain.Quote{fxQuote("fixed_rate", c.fallbackRate, c.fallbackRate)}, nil
}

func (c *KRWUSDForex) fetchDunamu(ctx context.Context) (domain.Quote, error) {
	var payload []struct {
		BasePrice float64 `json:"basePrice"`
	}
	if err := getJSON(ctx, c.client, c.dunamuURL+"?codes=FRX.KRWUSD", &payload); err != nil {
		return domain.Quote{}, err
	}
	if len(payload) == 0 || payload[0].BasePrice <= 0 {
		return domain.Quote{}, fmt.Errorf("fx: dunamu returned no rate")
	}
	rate := payload[0].BasePrice
	return fxQuote(c.Name(), rate, rate), nil
}

func (c *KRWUSDForex) fetchExchangerate(ctx context.Context) (domain.Quote, error) {
	var payload struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := getJSON(ctx, c.client, c.exchangerateURL, &payload); err != nil {
		return domain.Quote{}, err
	}
	rate := payload.Rates["KRW"]
	if rate <= 0 {
		return domain.Quote{}, fmt.Errorf("fx: exchangerate returned no KRW rate")
	}
	return fxQuote("exchangerate_api", rate, rate), nil
}

func (c *KRWUSDForex) fetchUpbitUSDT(ctx context.Context) (domain.Quote, error) {
	var books []upbitOrderbook
	if err := getJSON(ctx, c.client, c.upbitURL+"/v1/orderbook?markets=KRW-USDT", &books); err != nil {
		return domain.Quote{}, err
	}
	if len(books) == 0 || len(books[0].Units) == 0 {
		return domain.Quote{}, fmt.Errorf("fx: upbit returned no USDT book")
	}
	top := books[0].Units[0]
	mid := (top.BidPrice + top.AskPrice) / 2
	return fxQuote("upbit_usdt", mid, mid), nil
}

func fxQuote(venue string, bid, ask float64) domain.Quote {
	return domain.Quote{
		Venue:      venue,
		Kind:       domain.VenueKindFX,
		Symbol:     "USD/KRW",
		BaseAsset:  "USD",
		QuoteAsset: "KRW",
		Bid:        bid,
		Ask:        ask,
		Timestamp:  time.Now().UTC(),
	}
}

func (c *KRWUSDForex) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
