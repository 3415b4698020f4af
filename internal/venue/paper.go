package venue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/junheony/arbitrage-full/internal/domain"
)

// Paper is an in-memory venue that acknowledges every order instantly
// and fully filled. Limit orders fill at their limit price; market
// orders fill at the optional reference price function, or at zero when
// none is set. It backs paper-trading mode and tests.
type Paper struct {
	venue   string
	priceFn func(symbol string) float64
	logger  *slog.Logger

	mu     sync.Mutex
	orders map[string]domain.VenueOrderState
	levs   map[string]float64
}

// NewPaper builds a paper client for the named venue.
func NewPaper(venue string, logger *slog.Logger) *Paper {
	return &Paper{
		venue:  venue,
		logger: logger.With(slog.String("venue", venue), slog.Bool("paper", true)),
		orders: make(map[string]domain.VenueOrderState),
		levs:   make(map[string]float64),
	}
}

// WithPrices sets a reference price source for market-order fills.
func (p *Paper) WithPrices(fn func(symbol string) float64) *Paper {
	p.priceFn = fn
	return p
}

func (p *Paper) Venue() string { return p.venue }

func (p *Paper) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	price := req.LimitPrice
	if req.Type == domain.OrderTypeMarket && p.priceFn != nil {
		price = p.priceFn(req.Symbol)
	}

	id := fmt.Sprintf("paper-%s", uuid.NewString())
	state := domain.VenueOrderState{
		VenueOrderID: id,
		Status:       domain.OrderStatusFilled,
		FilledQty:    req.Quantity,
		AvgPrice:     price,
		Fills: []domain.VenueFill{{
			FillID:   id + "-1",
			Quantity: req.Quantity,
			Price:    price,
		}},
	}

	p.mu.Lock()
	p.orders[id] = state
	p.mu.Unlock()

	p.logger.Info("paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.Float64("quantity", req.Quantity),
		slog.Float64("price", price))

	return domain.SubmitResult{
		VenueOrderID: id,
		FilledQty:    req.Quantity,
		AvgPrice:     price,
	}, nil
}

func (p *Paper) OrderState(_ context.Context, _, venueOrderID string) (domain.VenueOrderState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.orders[venueOrderID]
	if !ok {
		return domain.VenueOrderState{}, fmt.Errorf("venue: %s: order %s: %w", p.venue, venueOrderID, domain.ErrNotFound)
	}
	return state, nil
}

func (p *Paper) SetLeverage(_ context.Context, symbol string, leverage float64) error {
	p.mu.Lock()
	p.levs[symbol] = leverage
	p.mu.Unlock()
	return nil
}

func (p *Paper) Close() error { return nil }

// Leverage reports the last leverage set for symbol. Test hook.
func (p *Paper) Leverage(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.levs[symbol]
}

var _ domain.VenueClient = (*Paper)(nil)
