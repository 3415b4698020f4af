package connector

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// DepositStatusCache keeps a per-venue set of assets whose deposits or
// withdrawals are impaired, refreshed lazily with a TTL. On a refresh
// failure the cache FAILS OPEN for that venue (empty disabled set):
// suppressing every opportunity because a status API hiccuped costs more
// than occasionally surfacing an untransferable one. Operators should be
// aware of this trade-off.
type DepositStatusCache struct {
	ttl       time.Duration
	client    *http.Client
	endpoints map[string]string // venue -> status URL
	logger    *slog.Logger

	mu        sync.Mutex
	disabled  map[string]map[string]struct{} // venue -> asset set
	fetchedAt map[string]time.Time
}

var depositStatusEndpoints = map[string]string{
	"binance": "https://api.binance.com/sapi/v1/capital/config/getall",
	"okx":     "https://www.okx.com/api/v5/asset/currencies",
	"upbit":   "https://api.upbit.com/v1/status/wallet",
	"bithumb": "https://api.bithumb.com/public/assetsstatus/ALL",
	"bybit":   "https://api.bybit.com/v5/asset/coin/query-info",
}

// NewDepositStatusCache builds the cache. ttl governs how long a fetched
// venue status is trusted.
func NewDepositStatusCache(ttl time.Duration, timeout time.Duration, logger *slog.Logger) *DepositStatusCache {
	endpoints := make(map[string]string, len(depositStatusEndpoints))
	for venue, url := range depositStatusEndpoints {
		endpoints[venue] = url
	}
	return &DepositStatusCache{
		ttl:       ttl,
		client:    &http.Client{Timeout: timeout},
		endpoints: endpoints,
		logger:    logger.With(slog.String("component", "deposit_status")),
		disabled:  make(map[string]map[string]struct{}),
		fetchedAt: make(map[string]time.Time),
	}
}

// WithEndpoint overrides one venue's status URL.
func (c *DepositStatusCache) WithEndpoint(venue, url string) *DepositStatusCache {
	c.endpoints[strings.ToLower(venue)] = url
	return c
}

// IsTradeable reports whether the asset's deposits and withdrawals are
// both working on the venue, refreshing the venue's status when stale.
func (c *DepositStatusCache) IsTradeable(ctx context.Context, venue, asset string) bool {
	set := c.disabledSet(ctx, venue)
	_, impaired := set[asset]
	return !impaired
}

// DisabledAssets returns the current impaired-asset set for a venue.
func (c *DepositStatusCache) DisabledAssets(ctx context.Context, venue string) map[string]struct{} {
	return c.disabledSet(ctx, venue)
}

func (c *DepositStatusCache) disabledSet(ctx context.Context, venue string) map[string]struct{} {
	venue = strings.ToLower(venue)

	c.mu.Lock()
	fetched, ok := c.fetchedAt[venue]
	if ok && time.Since(fetched) <= c.ttl {
		set := c.disabled[venue]
		c.mu.Unlock()
		return set
	}
	c.mu.Unlock()

	set := c.refresh(ctx, venue)

	c.mu.Lock()
	c.disabled[venue] = set
	c.fetchedAt[venue] = time.Now()
	c.mu.Unlock()
	return set
}

func (c *DepositStatusCache) refresh(ctx context.Context, venue string) map[string]struct{} {
	var (
		set map[string]struct{}
		err error
	)
	switch venue {
	case "binance":
		set, err = c.fetchBinance(ctx)
	case "okx":
		set, err = c.fetchOKX(ctx)
	case "upbit":
		set, err = c.fetchUpbit(ctx)
	case "bithumb":
		set, err = c.fetchBithumb(ctx)
	case "bybit":
		set, err = c.fetchBybit(ctx)
	default:
		c.logger.Warn("no deposit status source for venue", slog.String("venue", venue))
		return map[string]struct{}{}
	}
	if err != nil {
		// Fail open: no filtering for this venue until the next refresh.
		c.logger.Warn("deposit status fetch failed, failing open",
			slog.String("venue", venue), slog.Any("error", err))
		return map[string]struct{}{}
	}
	c.logger.Info("deposit status refreshed",
		slog.String("venue", venue), slog.Int("disabled", len(set)))
	return set
}

func (c *DepositStatusCache) fetchBinance(ctx context.Context) (map[string]struct{}, error) {
	var coins []struct {
		Coin             string `json:"coin"`
		DepositAllEnable bool   `json:"depositAllEnable"`
		WithdrawAllEnbl  bool   `json:"withdrawAllEnable"`
	}
	if err := getJSON(ctx, c.client, c.endpoints["binance"], &coins); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, coin := range coins {
		if !coin.DepositAllEnable || !coin.WithdrawAllEnbl {
			set[coin.Coin] = struct{}{}
		}
	}
	return set, nil
}

func (c *DepositStatusCache) fetchOKX(ctx context.Context) (map[string]struct{}, error) {
	var resp struct {
		Data []struct {
			Ccy         string `json:"ccy"`
			CanDeposit  bool   `json:"canDep"`
			CanWithdraw bool   `json:"canWd"`
		} `json:"data"`
	}
	if err := getJSON(ctx, c.client, c.endpoints["okx"], &resp); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, ccy := range resp.Data {
		if !ccy.CanDeposit || !ccy.CanWithdraw {
			set[ccy.Ccy] = struct{}{}
		}
	}
	return set, nil
}

func (c *DepositStatusCache) fetchUpbit(ctx context.Context) (map[string]struct{}, error) {
	var wallets []struct {
		Currency    string `json:"currency"`
		WalletState string `json:"wallet_state"`
		BlockState  string `json:"block_state"`
	}
	if err := getJSON(ctx, c.client, c.endpoints["upbit"], &wallets); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, w := range wallets {
		if w.WalletState != "working" || w.BlockState != "normal" {
			set[w.Currency] = struct{}{}
		}
	}
	return set, nil
}

func (c *DepositStatusCache) fetchBithumb(ctx context.Context) (map[string]struct{}, error) {
	var resp struct {
		Status string `json:"status"`
		Data   map[string]struct {
			DepositStatus    int `json:"deposit_status"`
			WithdrawalStatus int `json:"withdrawal_status"`
		} `json:"data"`
	}
	if err := getJSON(ctx, c.client, c.endpoints["bithumb"], &resp); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	if resp.Status == "0000" {
		for asset, status := range resp.Data {
			if status.DepositStatus != 1 || status.WithdrawalStatus != 1 {
				set[asset] = struct{}{}
			}
		}
	}
	return set, nil
}

func (c *DepositStatusCache) fetchBybit(ctx context.Context) (map[string]struct{}, error) {
	var resp struct {
		RetCode int `json:"retCode"`
		Result  struct {
			Rows []struct {
				Coin   string `json:"coin"`
				Chains []struct {
					ChainDeposit  string `json:"chainDeposit"`
					ChainWithdraw string `json:"chainWithdraw"`
				} `json:"chains"`
			} `json:"rows"`
		} `json:"result"`
	}
	if err := getJSON(ctx, c.client, c.endpoints["bybit"], &resp); err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	if resp.RetCode == 0 {
		for _, row := range resp.Result.Rows {
			usable := false
			for _, chain := range row.Chains {
				if chain.ChainDeposit == "1" && chain.ChainWithdraw == "1" {
					usable = true
					break
				}
			}
			if !usable {
				set[row.Coin] = struct{}{}
			}
		}
	}
	return set, nil
}

// Close releases the cache's HTTP resources.
func (c *DepositStatusCache) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
