package venue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// krwClient trades on Upbit-style KRW spot venues. Bithumb's 2.0 API is
// wire-compatible with Upbit (market codes, JWT auth, order schema), so
// both run through this client.
//
// Market buys on these venues are priced in total KRW, not base
// quantity, so the client looks up the last trade price to convert.
type krwClient struct {
	venue   string
	baseURL string
	cred    domain.VenueCredential
	client  *http.Client
	logger  *slog.Logger
}

func newKRWClient(venue, baseURL string, cred domain.VenueCredential, timeout time.Duration, logger *slog.Logger) *krwClient {
	return &krwClient{
		venue:   venue,
		baseURL: baseURL,
		cred:    cred,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("venue", venue)),
	}
}

func (c *krwClient) Venue() string { return c.venue }

func (c *krwClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// krwMarket maps "BTC/KRW" to the venue market code "KRW-BTC".
func krwMarket(symbol string) string {
	base, quote, _ := parseSymbol(symbol)
	return quote + "-" + base
}

func (c *krwClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	market := krwMarket(req.Symbol)
	params := url.Values{}
	params.Set("market", market)
	params.Set("side", krwSide(req.Side))

	switch {
	case req.Type == domain.OrderTypeLimit:
		params.Set("ord_type", "limit")
		params.Set("volume", formatQty(req.Quantity))
		params.Set("price", formatQty(req.LimitPrice))
	case req.Side == domain.OrderSideBuy:
		// Market buys take the total KRW to spend.
		last, err := c.lastPrice(ctx, market)
		if err != nil {
			return domain.SubmitResult{}, err
		}
		params.Set("ord_type", "price")
		params.Set("price", formatQty(req.Quantity*last))
	default:
		params.Set("ord_type", "market")
		params.Set("volume", formatQty(req.Quantity))
	}

	var out krwOrder
	if err := c.signed(ctx, http.MethodPost, "/v1/orders", params, &out); err != nil {
		return domain.SubmitResult{}, err
	}
	return domain.SubmitResult{VenueOrderID: out.UUID}, nil
}

type krwOrder struct {
	UUID           string     `json:"uuid"`
	State          string     `json:"state"`
	Volume         string     `json:"volume"`
	ExecutedVolume string     `json:"executed_volume"`
	PaidFee        string     `json:"paid_fee"`
	Trades         []krwTrade `json:"trades"`
}

type krwTrade struct {
	UUID   string `json:"uuid"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
}

func (c *krwClient) OrderState(ctx context.Context, symbol, venueOrderID string) (domain.VenueOrderState, error) {
	params := url.Values{}
	params.Set("uuid", venueOrderID)

	var out krwOrder
	if err := c.signed(ctx, http.MethodGet, "/v1/order", params, &out); err != nil {
		return domain.VenueOrderState{}, err
	}

	executed, _ := strconv.ParseFloat(out.ExecutedVolume, 64)
	fee, _ := strconv.ParseFloat(out.PaidFee, 64)

	fills := make([]domain.VenueFill, 0, len(out.Trades))
	var notional, volume float64
	for _, t := range out.Trades {
		qty, _ := strconv.ParseFloat(t.Volume, 64)
		price, _ := strconv.ParseFloat(t.Price, 64)
		fills = append(fills, domain.VenueFill{FillID: t.UUID, Quantity: qty, Price: price})
		notional += qty * price
		volume += qty
	}
	if len(fills) > 0 && fee > 0 {
		// The venue reports one aggregate fee per order.
		fills[0].FeeUSD = fee
	}

	var avg float64
	if volume > 0 {
		avg = notional / volume
	}
	return domain.VenueOrderState{
		VenueOrderID: venueOrderID,
		Status:       krwStatus(out.State, executed),
		FilledQty:    executed,
		AvgPrice:     avg,
		Fills:        fills,
	}, nil
}

// SetLeverage is a no-op: KRW venues are spot only.
func (c *krwClient) SetLeverage(context.Context, string, float64) error { return nil }

func (c *krwClient) lastPrice(ctx context.Context, market string) (float64, error) {
	reqURL := fmt.Sprintf("%s/v1/ticker?markets=%s", c.baseURL, market)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, fmt.Errorf("venue: %s: build request: %w", c.venue, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("venue: %s: ticker %s: %w", c.venue, market, err)
	}
	defer closeBody(resp)

	var ticks []struct {
		TradePrice float64 `json:"trade_price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ticks); err != nil {
		return 0, fmt.Errorf("venue: %s: decode ticker: %w", c.venue, err)
	}
	if len(ticks) == 0 || ticks[0].TradePrice <= 0 {
		return 0, venueErr(c.venue, domain.VenueErrExchange, "no ticker for %s", market)
	}
	return ticks[0].TradePrice, nil
}

// signed performs an authenticated request. The bearer token is a JWT
// carrying the access key, a nonce, and the SHA-512 hash of the query
// string.
func (c *krwClient) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	query := params.Encode()

	claims := jwt.MapClaims{
		"access_key": c.cred.APIKey,
		"nonce":      uuid.NewString(),
	}
	if query != "" {
		claims["query_hash"] = crypto.SHA512Hex(query)
		claims["query_hash_alg"] = "SHA512"
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.cred.APISecret))
	if err != nil {
		return fmt.Errorf("venue: %s: sign token: %w", c.venue, err)
	}

	var reader io.Reader
	reqURL := c.baseURL + path
	if method == http.MethodGet {
		reqURL += "?" + query
	} else {
		reader = strings.NewReader(query)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("venue: %s: build request: %w", c.venue, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue: %s: %s: %w", c.venue, path, err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("venue: %s: read response: %w", c.venue, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classify(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("venue: %s: decode %s: %w", c.venue, path, err)
	}
	return nil
}

func (c *krwClient) classify(status int, body []byte) error {
	var apiErr struct {
		Error struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &apiErr)

	name := apiErr.Error.Name
	switch {
	case name == "order_not_found" || status == http.StatusNotFound:
		return fmt.Errorf("venue: %s: %w", c.venue, domain.ErrNotFound)
	case strings.Contains(name, "insufficient_funds"):
		return venueErr(c.venue, domain.VenueErrInsufficientFunds, "%s", apiErr.Error.Message)
	case strings.Contains(name, "under_min") || strings.Contains(name, "invalid"):
		return venueErr(c.venue, domain.VenueErrInvalidOrder, "%s", apiErr.Error.Message)
	case name != "":
		return venueErr(c.venue, domain.VenueErrExchange, "%s: %s", name, apiErr.Error.Message)
	default:
		return venueErr(c.venue, domain.VenueErrExchange, "status %d", status)
	}
}

func krwSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "bid"
	}
	return "ask"
}

// krwStatus maps the venue order state. Market buys terminate in state
// "cancel" with the unspent remainder voided, so a cancelled order that
// actually traded counts as filled.
func krwStatus(state string, executed float64) domain.OrderStatus {
	switch state {
	case "wait", "watch":
		if executed > 0 {
			return domain.OrderStatusPartiallyFilled
		}
		return domain.OrderStatusSubmitted
	case "done":
		return domain.OrderStatusFilled
	case "cancel":
		if executed > 0 {
			return domain.OrderStatusFilled
		}
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusSubmitted
	}
}
