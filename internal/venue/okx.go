package venue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/junheony/arbitrage-full/internal/crypto"
	"github.com/junheony/arbitrage-full/internal/domain"
)

// okxClient trades on OKX v5. Requests are signed with
// base64(HMAC-SHA256(secret, timestamp+method+path+body)) and carry the
// passphrase header, so OKX credentials must include one.
type okxClient struct {
	baseURL string
	cred    domain.VenueCredential
	client  *http.Client
	logger  *slog.Logger
}

func newOKX(baseURL string, cred domain.VenueCredential, timeout time.Duration, logger *slog.Logger) *okxClient {
	return &okxClient{
		baseURL: baseURL,
		cred:    cred,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("venue", "okx")),
	}
}

func (c *okxClient) Venue() string { return "okx" }

func (c *okxClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// okxInstID maps a unified symbol to the OKX instrument id:
// BTC/USDT → BTC-USDT, BTC/USDT:USDT → BTC-USDT-SWAP.
func okxInstID(symbol string) string {
	base, quote, perp := parseSymbol(symbol)
	if perp {
		return base + "-" + quote + "-SWAP"
	}
	return base + "-" + quote
}

type okxEnvelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *okxClient) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	_, _, perp := parseSymbol(req.Symbol)
	tdMode := "cash"
	if perp {
		tdMode = "cross"
	}
	body := map[string]any{
		"instId":  okxInstID(req.Symbol),
		"tdMode":  tdMode,
		"side":    string(req.Side),
		"ordType": "market",
		"sz":      formatQty(req.Quantity),
	}
	if req.Type == domain.OrderTypeLimit {
		body["ordType"] = "limit"
		body["px"] = formatQty(req.LimitPrice)
	}
	if perp && req.ReduceOnly {
		body["reduceOnly"] = true
	}

	var data []struct {
		OrdID string `json:"ordId"`
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := c.request(ctx, http.MethodPost, "/api/v5/trade/order", body, &data); err != nil {
		return domain.SubmitResult{}, err
	}
	if len(data) == 0 {
		return domain.SubmitResult{}, venueErr("okx", domain.VenueErrExchange, "empty order response")
	}
	if data[0].SCode != "0" && data[0].SCode != "" {
		return domain.SubmitResult{}, c.classify(data[0].SCode, data[0].SMsg)
	}
	return domain.SubmitResult{VenueOrderID: data[0].OrdID}, nil
}

type okxOrder struct {
	OrdID     string `json:"ordId"`
	State     string `json:"state"`
	AccFillSz string `json:"accFillSz"`
	AvgPx     string `json:"avgPx"`
}

func (c *okxClient) OrderState(ctx context.Context, symbol, venueOrderID string) (domain.VenueOrderState, error) {
	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", okxInstID(symbol), venueOrderID)

	var data []okxOrder
	if err := c.request(ctx, http.MethodGet, path, nil, &data); err != nil {
		return domain.VenueOrderState{}, err
	}
	if len(data) == 0 {
		return domain.VenueOrderState{}, fmt.Errorf("venue: okx: order %s: %w", venueOrderID, domain.ErrNotFound)
	}

	ord := data[0]
	filled, _ := strconv.ParseFloat(ord.AccFillSz, 64)
	avg, _ := strconv.ParseFloat(ord.AvgPx, 64)
	state := domain.VenueOrderState{
		VenueOrderID: venueOrderID,
		Status:       okxStatus(ord.State),
		FilledQty:    filled,
		AvgPrice:     avg,
	}

	fills, err := c.fetchFills(ctx, okxInstID(symbol), venueOrderID)
	if err != nil {
		c.logger.Warn("fill fetch failed", slog.String("order_id", venueOrderID), slog.Any("error", err))
	} else {
		state.Fills = fills
	}
	return state, nil
}

func (c *okxClient) fetchFills(ctx context.Context, instID, venueOrderID string) ([]domain.VenueFill, error) {
	path := fmt.Sprintf("/api/v5/trade/fills?instId=%s&ordId=%s", instID, venueOrderID)

	var data []struct {
		TradeID string `json:"tradeId"`
		FillSz  string `json:"fillSz"`
		FillPx  string `json:"fillPx"`
		Fee     string `json:"fee"`
	}
	if err := c.request(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}

	fills := make([]domain.VenueFill, 0, len(data))
	for _, f := range data {
		qty, _ := strconv.ParseFloat(f.FillSz, 64)
		price, _ := strconv.ParseFloat(f.FillPx, 64)
		// OKX reports fees as negative amounts.
		fee, _ := strconv.ParseFloat(f.Fee, 64)
		if fee < 0 {
			fee = -fee
		}
		fills = append(fills, domain.VenueFill{
			FillID:   f.TradeID,
			Quantity: qty,
			Price:    price,
			FeeUSD:   fee,
		})
	}
	return fills, nil
}

func (c *okxClient) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	_, _, perp := parseSymbol(symbol)
	if !perp {
		return nil
	}
	body := map[string]any{
		"instId":  okxInstID(symbol),
		"lever":   formatQty(leverage),
		"mgnMode": "cross",
	}
	var data []struct{}
	return c.request(ctx, http.MethodPost, "/api/v5/account/set-leverage", body, &data)
}

func (c *okxClient) request(ctx context.Context, method, path string, body map[string]any, out any) error {
	var payload []byte
	var reader io.Reader
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("venue: okx: encode body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("venue: okx: build request: %w", err)
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	sig := crypto.Base64HMACSHA256(c.cred.APISecret, ts+method+path+string(payload))
	req.Header.Set("OK-ACCESS-KEY", c.cred.APIKey)
	req.Header.Set("OK-ACCESS-SIGN", sig)
	req.Header.Set("OK-ACCESS-TIMESTAMP", ts)
	req.Header.Set("OK-ACCESS-PASSPHRASE", c.cred.Passphrase)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("venue: okx: %s: %w", path, err)
	}
	defer closeBody(resp)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("venue: okx: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return venueErr("okx", domain.VenueErrExchange, "status %d", resp.StatusCode)
	}

	var env okxEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("venue: okx: decode %s: %w", path, err)
	}
	if env.Code != "0" {
		return c.classify(env.Code, env.Msg)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("venue: okx: decode data %s: %w", path, err)
	}
	return nil
}

func (c *okxClient) classify(code, msg string) error {
	switch code {
	case "51603":
		// "Order does not exist."
		return fmt.Errorf("venue: okx: %w", domain.ErrNotFound)
	case "51008", "51020", "59200":
		return venueErr("okx", domain.VenueErrInsufficientFunds, "%s", msg)
	case "51000", "51116", "51121":
		return venueErr("okx", domain.VenueErrInvalidOrder, "%s", msg)
	default:
		return venueErr("okx", domain.VenueErrExchange, "code %s: %s", code, msg)
	}
}

func okxStatus(s string) domain.OrderStatus {
	switch s {
	case "live":
		return domain.OrderStatusSubmitted
	case "partially_filled":
		return domain.OrderStatusPartiallyFilled
	case "filled":
		return domain.OrderStatusFilled
	case "canceled", "mmp_canceled":
		return domain.OrderStatusCancelled
	default:
		return domain.OrderStatusSubmitted
	}
}
