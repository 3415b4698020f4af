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

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// binanceClient trades on Binance spot and USDT-margined futures with one
// credential. The symbol decides which API a request goes to: perp
// symbols hit fapi, everything else hits the spot API.
type binanceClient struct {
	spotURL string
	perpURL string
	cred    domain.VenueCredential
	client  *http.Client
	logger  *slog.Logger
}

func newBinance(spotURL, perpURL string, cred domain.VenueCredential, timeout time.Duration, logger *slog.Logger) *binanceClient {
	return &binanceClient{
		spotURL: spotURL,
		perpURL: perpURL,
		cred:    cred,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("venue", "binance")),
	}
}

func (c *binanceClient) Venue() string { return "binance" }

func (c *binanceClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type binanceOrderResponse struct {
	OrderID     int64  `json:"orderId"`
	Status      string `json:"status"`
	ExecutedQty string `json:"executedQty"`
	CumQuote    string `json:"cummulativeQuoteQty"` // spot
	CumQuoteFut string `json:"cumQuote"`            // futures
	AvgPrice    string `json:"avgPrice"`            // futures
}

type binanceAPIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (c *binanceClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	base, quote, perp := parseSymbol(req.Symbol)
	params := url.Values{}
	params.Set("symbol", base+quote)
	params.Set("side", strings.ToUpper(string(req.Side)))
	params.Set("quantity", formatQty(req.Quantity))
	if req.Type == domain.OrderTypeLimit {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", formatQty(req.LimitPrice))
	} else {
		params.Set("type", "MARKET")
	}
	if perp && req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}

	var out binanceOrderResponse
	if err := c.signed(ctx, http.MethodPost, c.orderPath(perp), params, &out); err != nil {
		return domain.SubmitResult{}, err
	}

	filled, _ := strconv.ParseFloat(out.ExecutedQty, 64)
	avg := c.avgPriceOf(out, filled)
	return domain.SubmitResult{
		VenueOrderID: strconv.FormatInt(out.OrderID, 10),
		FilledQty:    filled,
		AvgPrice:     avg,
	}, nil
}

func (c *binanceClient) OrderState(ctx context.Context, symbol, venueOrderID string) (domain.VenueOrderState, error) {
	base, quote, perp := parseSymbol(symbol)
	params := url.Values{}
	params.Set("symbol", base+quote)
	params.Set("orderId", venueOrderID)

	var out binanceOrderResponse
	if err := c.signed(ctx, http.MethodGet, c.orderPath(perp), params, &out); err != nil {
		return domain.VenueOrderState{}, err
	}

	filled, _ := strconv.ParseFloat(out.ExecutedQty, 64)
	state := domain.VenueOrderState{
		VenueOrderID: venueOrderID,
		Status:       binanceStatus(out.Status),
		FilledQty:    filled,
		AvgPrice:     c.avgPriceOf(out, filled),
	}

	fills, err := c.fetchTrades(ctx, base+quote, venueOrderID, perp)
	if err != nil {
		// The order state is still useful without the per-trade breakdown.
		c.logger.Warn("trade fetch failed", slog.String("order_id", venueOrderID), slog.Any("error", err))
	} else {
		state.Fills = fills
	}
	return state, nil
}

type binanceTrade struct {
	ID         int64  `json:"id"`
	Qty        string `json:"qty"`
	Price      string `json:"price"`
	Commission string `json:"commission"`
}

func (c *binanceClient) fetchTrades(ctx context.Context, pair, venueOrderID string, perp bool) ([]domain.VenueFill, error) {
	params := url.Values{}
	params.Set("symbol", pair)
	params.Set("orderId", venueOrderID)
	path := "/api/v3/myTrades"
	if perp {
		path = "/fapi/v1/userTrades"
	}

	var trades []binanceTrade
	if err := c.signed(ctx, http.MethodGet, path, params, &trades); err != nil {
		return nil, err
	}

	fills := make([]domain.VenueFill, 0, len(trades))
	for _, t := range trades {
		qty, _ := strconv.ParseFloat(t.Qty, 64)
		price, _ := strconv.ParseFloat(t.Price, 64)
		fee, _ := strconv.ParseFloat(t.Commission, 64)
		fills = append(fills, domain.VenueFill{
			FillID:   strconv.FormatInt(t.ID, 10),
			Quantity: qty,
			Price:    price,
			FeeUSD:   fee,
		})
	}
	return fills, nil
}

func (c *binanceClient) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	base, quote, perp := parseSymbol(symbol)
	if !perp {
		return nil
	}
	lev := int(leverage)
	if lev < 1 {
		lev = 1
	}
	params := url.Values{}
	params.Set("symbol", base+quote)
	params.Set("leverage", strconv.Itoa(lev))
	var out struct {
		Leverage int `json:"leverage"`
	}
	return c.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, &out)
}

func (c *binanceClient) orderPath(perp bool) string {
	if perp {
		return "/fapi/v1/order"
	}
	return "/api/v3/order"
}

func (c *binanceClient) baseFor(path string) string {
	if strings.HasPrefix(path, "/fapi") {
		return c.perpURL
	}
	return c.spotURL
}

// avgPriceOf derives the average fill price. Futures report avgPrice
// directly; spot only reports the cumulative quote amount.
func (c *binanceClient) avgPriceOf(out binanceOrderResponse, filled float64) float64 {
	if avg, err := strconv.ParseFloat(out.AvgPrice, 64); err == nil && avg > 0 {
		return avg
	}
	cum := out.CumQuote
	if cum == "" {
		cum = out.CumQuoteFut
	}
	if quote, err := strconv.ParseFloat(cum, 64); err == nil && filled > 0 {
		return quote / filled
	}
	return 0
}

// signed appends timestamp and signature to params and performs the
// request with the API-key header set.
func (c *binanceClient) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + crypto.HexHMACSHA256(c.cred.APISecret, query)

	reqURL := c.baseFor(path) + path + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("venue: binance: build request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.cred.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue: binance: %s: %w", path, err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("venue: binance: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.classify(resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("venue: binance: decode %s: %w", path, err)
	}
	return nil
}

func (c *binanceClient) classify(status int, body []byte) error {
	var apiErr binanceAPIError
	_ = json.Unmarshal(body, &apiErr)
	switch apiErr.Code {
	case -2013:
		// "Order does not exist."
		return fmt.Errorf("venue: binance: %w", domain.ErrNotFound)
	case -2010, -2019:
		return venueErr("binance", domain.VenueErrInsufficientFunds, "%s", apiErr.Msg)
	case -1013, -1111, -1121, -4164:
		return venueErr("binance", domain.VenueErrInvalidOrder, "%s", apiErr.Msg)
	}
	if apiErr.Msg != "" {
		return venueErr("binance", domain.VenueErrExchange, "code %d: %s", apiErr.Code, apiErr.Msg)
	}
	return venueErr("binance", domain.VenueErrExchange, "status %d", status)
}

func binanceStatus(s string) domain.OrderStatus {
	switch s {
	case "NEW", "PENDING_NEW":
		return domain.OrderStatusSubmitted
	case "PARTIALLY_FILLED":
		return domain.OrderStatusPartiallyFilled
	case "FILLED":
		return domain.OrderStatusFilled
	case "CANCELED":
		return domain.OrderStatusCancelled
	case "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		// Expiry is the venue refusing to keep the order, not a user
		// cancel.
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusSubmitted
	}
}
