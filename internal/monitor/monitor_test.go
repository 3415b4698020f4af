package monitor

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/junheony/arbitrage-full/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memOrderStore struct {
	mu            sync.Mutex
	orders        map[string]*domain.Order
	reconcilable  []domain.Order
	createdOrders []domain.Order
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{orders: make(map[string]*domain.Order)}
}

func (s *memOrderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := order
	s.orders[order.ID] = &o
	s.createdOrders = append(s.createdOrders, order)
	return nil
}

func (s *memOrderStore) GetByID(_ context.Context, id string) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return *o, nil
}

func (s *memOrderStore) MarkSubmitted(_ context.Context, id, venueOrderID string, fill domain.SubmitResult, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = domain.OrderStatusSubmitted
	o.VenueOrderID = venueOrderID
	o.AvgFillPrice = fill.AvgPrice
	o.SubmittedAt = &at
	return nil
}

func (s *memOrderStore) MarkTerminal(_ context.Context, id string, status domain.OrderStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = status
	o.ErrorMessage = errMsg
	return nil
}

func (s *memOrderStore) UpdateFillState(_ context.Context, id string, status domain.OrderStatus, filledQty, avgPrice float64, filledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[id]
	o.Status = status
	o.FilledQty = filledQty
	o.AvgFillPrice = avgPrice
	o.FilledAt = filledAt
	return nil
}

func (s *memOrderStore) ListReconcilable(context.Context, int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Order, 0, len(s.reconcilable))
	for _, o := range s.reconcilable {
		if cur, ok := s.orders[o.ID]; ok && !cur.Status.Terminal() {
			out = append(out, *cur)
		}
	}
	return out, nil
}

func (s *memOrderStore) CountActive(context.Context, string) (int, error) { return 0, nil }

func (s *memOrderStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return nil, nil
}

func (s *memOrderStore) DailyRealizedLoss(context.Context, string, time.Time) (float64, error) {
	return 0, nil
}

func (s *memOrderStore) addReconcilable(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := order
	s.orders[order.ID] = &o
	s.reconcilable = append(s.reconcilable, order)
}

type memFillStore struct {
	mu    sync.Mutex
	fills map[string]domain.Fill // keyed by orderID|venueFillID
}

func newMemFillStore() *memFillStore {
	return &memFillStore{fills: make(map[string]domain.Fill)}
}

func (s *memFillStore) Insert(_ context.Context, fill domain.Fill) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fill.OrderID + "|" + fill.VenueFillID
	if _, ok := s.fills[key]; ok {
		return false, nil
	}
	s.fills[key] = fill
	return true, nil
}

func (s *memFillStore) ListByOrder(_ context.Context, orderID string) ([]domain.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Fill
	for _, f := range s.fills {
		if f.OrderID == orderID {
			out = append(out, f)
		}
	}
	return out, nil
}

type finalizeCall struct {
	ID          string
	Status      domain.PositionStatus
	ExitLegs    []domain.Leg
	Reason      domain.CloseReason
	RealizedPnL float64
}

type memPositionStore struct {
	mu        sync.Mutex
	positions map[string]*domain.Position
	pnlCalls  map[string][]float64 // position id -> pnl pct marks
	finalized []finalizeCall
}

func newMemPositionStore() *memPositionStore {
	return &memPositionStore{
		positions: make(map[string]*domain.Position),
		pnlCalls:  make(map[string][]float64),
	}
}

func (s *memPositionStore) add(pos domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := pos
	s.positions[pos.ID] = &p
}

func (s *memPositionStore) Create(_ context.Context, pos domain.Position) error {
	s.add(pos)
	return nil
}

func (s *memPositionStore) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return *p, nil
}

func (s *memPositionStore) list(status domain.PositionStatus) []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.Status == status {
			out = append(out, *p)
		}
	}
	return out
}

func (s *memPositionStore) ListOpen(context.Context) ([]domain.Position, error) {
	return s.list(domain.PositionStatusOpen), nil
}

func (s *memPositionStore) ListClosing(context.Context) ([]domain.Position, error) {
	return s.list(domain.PositionStatusClosing), nil
}

func (s *memPositionStore) ListByUser(context.Context, string, domain.ListOpts) ([]domain.Position, error) {
	return nil, nil
}

func (s *memPositionStore) UpdateLivePnL(_ context.Context, id string, pnlPct, pnlUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.positions[id]
	p.LivePnLPct = pnlPct
	p.LivePnLUSD = pnlUSD
	s.pnlCalls[id] = append(s.pnlCalls[id], pnlPct)
	return nil
}

func (s *memPositionStore) MarkClosing(_ context.Context, id string, reason domain.CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[id]
	if !ok || p.Status != domain.PositionStatusOpen && p.Status != domain.PositionStatusFailed {
		return domain.ErrInvalidPosition
	}
	p.Status = domain.PositionStatusClosing
	p.ExitReason = reason
	return nil
}

func (s *memPositionStore) Finalize(_ context.Context, id string, status domain.PositionStatus, exitLegs []domain.Leg, reason domain.CloseReason, realizedPnL float64, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.positions[id]
	p.Status = status
	if status != domain.PositionStatusFailed {
		p.ExitLegs = exitLegs
		p.ExitReason = reason
		p.RealizedPnL = realizedPnL
		p.ClosedAt = &closedAt
	}
	s.finalized = append(s.finalized, finalizeCall{
		ID: id, Status: status, ExitLegs: exitLegs, Reason: reason, RealizedPnL: realizedPnL,
	})
	return nil
}

type memCredStore struct {
	creds map[string]domain.VenueCredential // keyed by user + "|" + venue
}

func (s *memCredStore) Get(_ context.Context, userID, venue string) (domain.VenueCredential, error) {
	cred, ok := s.creds[userID+"|"+venue]
	if !ok {
		return domain.VenueCredential{}, domain.ErrNotFound
	}
	return cred, nil
}

func (s *memCredStore) Upsert(context.Context, domain.VenueCredential) error { return nil }
func (s *memCredStore) Delete(context.Context, string, string) error         { return nil }

type memRiskStore struct {
	limit domain.RiskLimit
}

func (s *memRiskStore) Get(context.Context, string) (domain.RiskLimit, error) {
	return s.limit, nil
}

func (s *memRiskStore) Upsert(context.Context, domain.RiskLimit) error { return nil }

type stubVenueClient struct {
	venue      string
	states     map[string]domain.VenueOrderState // keyed by venue order id
	submitErr  error
	submitted  []domain.OrderRequest
	closeCalls int
}

func (c *stubVenueClient) Venue() string { return c.venue }

func (c *stubVenueClient) SubmitOrder(_ context.Context, req domain.OrderRequest) (domain.SubmitResult, error) {
	if c.submitErr != nil {
		return domain.SubmitResult{}, c.submitErr
	}
	c.submitted = append(c.submitted, req)
	return domain.SubmitResult{VenueOrderID: c.venue + "-exit-1", AvgPrice: 100}, nil
}

func (c *stubVenueClient) OrderState(_ context.Context, _, venueOrderID string) (domain.VenueOrderState, error) {
	state, ok := c.states[venueOrderID]
	if !ok {
		return domain.VenueOrderState{}, domain.ErrNotFound
	}
	return state, nil
}

func (c *stubVenueClient) SetLeverage(context.Context, string, float64) error { return nil }

func (c *stubVenueClient) Close() error {
	c.closeCalls++
	return nil
}

type stubVenueFactory struct {
	clients map[string]*stubVenueClient
}

func (f *stubVenueFactory) ClientFor(venue string, _ domain.VenueCredential) (domain.VenueClient, error) {
	c, ok := f.clients[venue]
	if !ok {
		c = &stubVenueClient{venue: venue}
		f.clients[venue] = c
	}
	return c, nil
}

type stubFundingSource struct {
	name  string
	snaps []domain.FundingSnapshot
}

func (s *stubFundingSource) Name() string { return s.name }

func (s *stubFundingSource) FetchQuotes(context.Context) ([]domain.Quote, error) { return nil, nil }

func (s *stubFundingSource) FetchFundingSnapshots(context.Context) ([]domain.FundingSnapshot, error) {
	return s.snaps, nil
}

func (s *stubFundingSource) FetchOpenInterest(context.Context, string) (float64, error) {
	return 0, nil
}

func (s *stubFundingSource) Close() error { return nil }
