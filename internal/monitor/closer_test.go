package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/domain"
)

func closerFixture() (*PositionCloser, *memPositionStore, *memOrderStore, *stubVenueFactory) {
	positions := newMemPositionStore()
	orders := newMemOrderStore()
	risks := &memRiskStore{limit: domain.DefaultRiskLimit("u1")}
	creds := &memCredStore{creds: map[string]domain.VenueCredential{
		"u1|binance_perp": {UserID: "u1", Venue: "binance_perp"},
		"u1|bybit_perp":   {UserID: "u1", Venue: "bybit_perp"},
	}}
	factory := &stubVenueFactory{clients: make(map[string]*stubVenueClient)}
	c := NewPositionCloser(positions, orders, risks, creds, factory, 5*time.Second, testLogger())
	return c, positions, orders, factory
}

func closingPosition() domain.Position {
	pos := fundingPosition(100, 100.2)
	pos.Status = domain.PositionStatusClosing
	pos.ExitReason = domain.CloseReasonTargetProfit
	pos.LivePnLPct = 0.12
	pos.LivePnLUSD = 12
	return pos
}

func TestCloseSubmitsReversedLegsAndFinalizes(t *testing.T) {
	c, positions, orders, factory := closerFixture()
	positions.add(closingPosition())

	require.NoError(t, c.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.CloseReasonTargetProfit, got.ExitReason)
	assert.InDelta(t, 12.0, got.RealizedPnL, 1e-9)
	require.NotNil(t, got.ClosedAt)

	// Exit legs flip the entry sides, quantity unchanged.
	require.Len(t, got.ExitLegs, 2)
	assert.Equal(t, domain.OrderSideSell, got.ExitLegs[0].Side)
	assert.Equal(t, domain.OrderSideBuy, got.ExitLegs[1].Side)
	for _, leg := range got.ExitLegs {
		assert.InDelta(t, 1.0, leg.Quantity, 1e-9)
	}

	// Perp exits are reduce-only market orders.
	for _, client := range factory.clients {
		require.Len(t, client.submitted, 1)
		req := client.submitted[0]
		assert.Equal(t, domain.OrderTypeMarket, req.Type)
		assert.True(t, req.ReduceOnly)
	}
	assert.Len(t, orders.createdOrders, 2)
}

func TestCloseAllOrNothingOnLegFailure(t *testing.T) {
	c, positions, orders, factory := closerFixture()
	positions.add(closingPosition())
	factory.clients["bybit_perp"] = &stubVenueClient{
		venue: "bybit_perp",
		submitErr: &domain.VenueError{
			Venue: "bybit_perp", Kind: domain.VenueErrExchange, Message: "matching engine busy",
		},
	}

	require.NoError(t, c.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusFailed, got.Status)

	// Exit state is written once, at close: a failure leaves the
	// submitted leg unrecorded on the position.
	assert.Empty(t, got.ExitLegs)
	assert.Nil(t, got.ClosedAt)
	assert.Zero(t, got.RealizedPnL)
	require.Len(t, positions.finalized, 1)
	assert.Nil(t, positions.finalized[0].ExitLegs)

	// Failed close is not retried on the next cycle.
	require.NoError(t, c.Cycle(context.Background()))
	assert.Len(t, positions.finalized, 1)

	// The failed exit order carries the venue error.
	var failed int
	for _, o := range orders.orders {
		if o.Status == domain.OrderStatusFailed {
			failed++
			assert.Contains(t, o.ErrorMessage, "matching engine busy")
		}
	}
	assert.Equal(t, 1, failed)
}

func TestCloseMissingCredentialFailsWithoutOrders(t *testing.T) {
	c, positions, orders, _ := closerFixture()
	pos := closingPosition()
	positions.add(pos)
	creds := c.creds.(*memCredStore)
	delete(creds.creds, "u1|bybit_perp")

	require.NoError(t, c.Cycle(context.Background()))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusFailed, got.Status)
	assert.Empty(t, orders.createdOrders, "no exit order placed when a credential is missing")
}

func TestManualCloseOpenPosition(t *testing.T) {
	c, positions, _, _ := closerFixture()
	pos := fundingPosition(100, 100.2) // open
	positions.add(pos)

	require.NoError(t, c.ManualClose(context.Background(), "p1", "u1"))

	got, err := positions.GetByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, got.Status)
	assert.Equal(t, domain.CloseReasonManual, got.ExitReason)
}

func TestManualCloseWrongUserRefused(t *testing.T) {
	c, positions, _, _ := closerFixture()
	positions.add(fundingPosition(100, 100.2))

	err := c.ManualClose(context.Background(), "p1", "someone-else")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	got, gerr := positions.GetByID(context.Background(), "p1")
	require.NoError(t, gerr)
	assert.Equal(t, domain.PositionStatusOpen, got.Status)
}

func TestManualCloseAlreadyClosedIsNoOp(t *testing.T) {
	c, positions, orders, _ := closerFixture()
	pos := fundingPosition(100, 100.2)
	pos.Status = domain.PositionStatusClosed
	positions.add(pos)

	require.NoError(t, c.ManualClose(context.Background(), "p1", "u1"))
	assert.Empty(t, orders.createdOrders)
}
