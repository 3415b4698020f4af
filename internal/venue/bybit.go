package venue

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

const bybitRecvWindow = "5000"

// bybitClient trades on Bybit's v5 unified API. Perp symbols map to the
// linear category, anything else to spot.
type bybitClient struct {
	baseURL string
	cred    domain.VenueCredential
	client  *http.Client
	logger  *slog.Logger
}

func newBybit(baseURL string, cred domain.VenueCredential, timeout time.Duration, logger *slog.Logger) *bybitClient {
	return &bybitClient{
		baseURL: baseURL,
		cred:    cred,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("venue", "bybit")),
	}
}

func (c *bybitClient) Venue() string { return "bybit" }

func (c *bybitClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

type bybitEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (c *bybitClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	base, quote, perp := parseSymbol(req.Symbol)
	body := map[string]any{
		"category":  bybitCategory(perp),
		"symbol":    base + quote,
		"side":      bybitSide(req.Side),
		"orderType": "Market",
		"qty":       formatQty(req.Quantity),
	}
	if req.Type == domain.OrderTypeLimit {
		body["orderType"] = "Limit"
		body["price"] = formatQty(req.LimitPrice)
		body["timeInForce"] = "GTC"
	}
	if perp && req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := c.post(ctx, "/v5/order/create", body, &result); err != nil {
		return domain.SubmitResult{}, err
	}
	// Bybit acknowledges asynchronously; fill quantities arrive via the
	// reconciliation poll.
	return domain.SubmitResult{VenueOrderID: result.OrderID}, nil
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderStatus string `json:"orderStatus"`
	CumExecQty  string `json:"cumExecQty"`
	AvgPrice    string `json:"avgPrice"`
}

func (c *bybitClient) OrderState(ctx context.Context, symbol, venueOrderID string) (domain.VenueOrderState, error) {
	base, quote, perp := parseSymbol(symbol)
	params := url.Values{}
	params.Set("category", bybitCategory(perp))
	params.Set("symbol", base+quote)
	params.Set("orderId", venueOrderID)

	var result struct {
		List []bybitOrder `json:"list"`
	}
	if err := c.get(ctx, "/v5/order/realtime", params, &result); err != nil {
		return domain.VenueOrderState{}, err
	}
	if len(result.List) == 0 {
		return domain.VenueOrderState{}, fmt.Errorf("venue: bybit: order %s: %w", venueOrderID, domain.ErrNotFound)
	}

	ord := result.List[0]
	filled, _ := strconv.ParseFloat(ord.CumExecQty, 64)
	avg, _ := strconv.ParseFloat(ord.AvgPrice, 64)
	state := domain.VenueOrderState{
		VenueOrderID: venueOrderID,
		Status:       bybitStatus(ord.OrderStatus),
		FilledQty:    filled,
		AvgPrice:     avg,
	}

	fills, err := c.fetchExecutions(ctx, bybitCategory(perp), venueOrderID)
	if err != nil {
		c.logger.Warn("execution fetch failed", slog.String("order_id", venueOrderID), slog.Any("error", err))
	} else {
		state.Fills = fills
	}
	return state, nil
}

type bybitExecution struct {
	ExecID    string `json:"execId"`
	ExecQty   string `json:"execQty"`
	ExecPrice string `json:"execPrice"`
	ExecFee   string `json:"execFee"`
}

func (c *bybitClient) fetchExecutions(ctx context.Context, category, venueOrderID string) ([]domain.VenueFill, error) {
	params := url.Values{}
	params.Set("category", category)
	params.Set("orderId", venueOrderID)

	var result struct {
		List []bybitExecution `json:"list"`
	}
	if err := c.get(ctx, "/v5/execution/list", params, &result); err != nil {
		return nil, err
	}

	fills := make([]domain.VenueFill, 0, len(result.List))
	for _, ex := range result.List {
		qty, _ := strconv.ParseFloat(ex.ExecQty, 64)
		price, _ := strconv.ParseFloat(ex.ExecPrice, 64)
		fee, _ := strconv.ParseFloat(ex.ExecFee, 64)
		fills = append(fills, domain.VenueFill{
			FillID:   ex.ExecID,
			Quantity: qty,
			Price:    price,
			FeeUSD:   fee,
		})
	}
	return fills, nil
}

func (c *bybitClient) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	base, quote, perp := parseSymbol(symbol)
	if !perp {
		return nil
	}
	lev := formatQty(leverage)
	body := map[string]any{
		"category":     "linear",
		"symbol":       base + quote,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}
	var result struct{}
	err := c.post(ctx, "/v5/position/set-leverage", body, &result)
	var ve *domain.VenueError
	if err != nil && errors.As(err, &ve) && ve.Message == "leverage not modified" {
		return nil
	}
	return err
}

func (c *bybitClient) post(ctx context.Context, path string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("venue: bybit: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("venue: bybit: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(payload))
	return c.do(req, path, out)
}

func (c *bybitClient) get(ctx context.Context, path string, params url.Values, out any) error {
	query := params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query, nil)
	if err != nil {
		return fmt.Errorf("venue: bybit: build request: %w", err)
	}
	c.sign(req, query)
	return c.do(req, path, out)
}

// sign sets the v5 auth headers. The signature covers
// timestamp + api key + recv window + payload, where payload is the raw
// JSON body for POST and the encoded query string for GET.
func (c *bybitClient) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	sig := crypto.HexHMACSHA256(c.cred.APISecret, ts+c.cred.APIKey+bybitRecvWindow+payload)
	req.Header.Set("X-BAPI-API-KEY", c.cred.APIKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	req.Header.Set("X-BAPI-SIGN", sig)
}

func (c *bybitClient) do(req *http.Request, path string, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue: bybit: %s: %w", path, err)
	}
	defer closeBody(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("venue: bybit: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return venueErr("bybit", domain.VenueErrExchange, "status %d", resp.StatusCode)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("venue: bybit: decode %s: %w", path, err)
	}
	if env.RetCode != 0 {
		return c.classify(env.RetCode, env.RetMsg)
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return fmt.Errorf("venue: bybit: decode result %s: %w", path, err)
	}
	return nil
}

func (c *bybitClient) classify(code int, msg string) error {
	switch code {
	case 110001, 20001:
		// "Order does not exist."
		return fmt.Errorf("venue: bybit: %w", domain.ErrNotFound)
	case 110004, 110007, 110012, 110052:
		return venueErr("bybit", domain.VenueErrInsufficientFunds, "%s", msg)
	case 10001, 110003, 110009:
		return venueErr("bybit", domain.VenueErrInvalidOrder, "%s", msg)
	case 110043:
		// Leverage already at the requested value.
		return venueErr("bybit", domain.VenueErrExchange, "leverage not modified")
	default:
		return venueErr("bybit", domain.VenueErrExchange, "retCode %d: %s", code, msg)
	}
}

func bybitCategory(perp bool) string {
	if perp {
		return "linear"
	}
	return "spot"
}

func bybitSide(side domain.OrderSide) string {
	if side == domain.OrderSideBuy {
		return "Buy"
	}
	return "Sell"
}

func bybitStatus(s string) domain.OrderStatus {
	switch s {
	case "New", "Created", "Untriggered":
		return domain.OrderStatusSubmitted
	case "PartiallyFilled":
		return domain.OrderStatusPartiallyFilled
	case "Filled":
		return domain.OrderStatusFilled
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return domain.OrderStatusCancelled
	case "Rejected":
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusSubmitted
	}
}
