package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/junheony/arbitrage-full/internal/domain"
)

func fillFixture() (*FillMonitor, *memOrderStore, *memFillStore, *stubVenueFactory) {
	orders := newMemOrderStore()
	fills := newMemFillStore()
	creds := &memCredStore{creds: map[string]domain.VenueCredential{
		"u1|binance_perp": {UserID: "u1", Venue: "binance_perp"},
	}}
	factory := &stubVenueFactory{clients: make(map[string]*stubVenueClient)}
	m := NewFillMonitor(orders, fills, creds, factory, 5*time.Second, 100, testLogger())
	return m, orders, fills, factory
}

func submittedOrder(id string) domain.Order {
	return domain.Order{
		ID:           id,
		UserID:       "u1",
		Venue:        "binance_perp",
		VenueOrderID: "v-" + id,
		Symbol:       "BTC/USDT:USDT",
		Side:         domain.OrderSideBuy,
		Type:         domain.OrderTypeMarket,
		Quantity:     1,
		Status:       domain.OrderStatusSubmitted,
	}
}

func TestFillCycleRecordsFillOnceUnderRepeatedPolling(t *testing.T) {
	m, orders, fills, factory := fillFixture()
	orders.addReconcilable(submittedOrder("o1"))
	factory.clients["binance_perp"] = &stubVenueClient{
		venue: "binance_perp",
		states: map[string]domain.VenueOrderState{
			"v-o1": {
				VenueOrderID: "v-o1",
				Status:       domain.OrderStatusPartiallyFilled,
				FilledQty:    0.4,
				AvgPrice:     100.5,
				Fills:        []domain.VenueFill{{FillID: "f1", Quantity: 0.4, Price: 100.5, FeeUSD: 0.04}},
			},
		},
	}

	require.NoError(t, m.Cycle(context.Background()))
	require.NoError(t, m.Cycle(context.Background()))
	require.NoError(t, m.Cycle(context.Background()))

	assert.Len(t, fills.fills, 1, "same venue fill must be recorded exactly once")

	o, err := orders.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPartiallyFilled, o.Status)
	assert.InDelta(t, 0.4, o.FilledQty, 1e-9)
	assert.InDelta(t, 100.5, o.AvgFillPrice, 1e-9)
}

func TestFillCycleMarksFilledWithTimestamp(t *testing.T) {
	m, orders, fills, factory := fillFixture()
	orders.addReconcilable(submittedOrder("o1"))
	factory.clients["binance_perp"] = &stubVenueClient{
		venue: "binance_perp",
		states: map[string]domain.VenueOrderState{
			"v-o1": {
				VenueOrderID: "v-o1",
				Status:       domain.OrderStatusFilled,
				FilledQty:    1,
				AvgPrice:     101,
				Fills:        []domain.VenueFill{{FillID: "f1", Quantity: 1, Price: 101, FeeUSD: 0.1}},
			},
		},
	}

	require.NoError(t, m.Cycle(context.Background()))

	o, err := orders.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	require.NotNil(t, o.FilledAt)
	assert.Len(t, fills.fills, 1)
}

func TestFillCycleOrderNotFoundMarksFailed(t *testing.T) {
	m, orders, _, factory := fillFixture()
	orders.addReconcilable(submittedOrder("o1"))
	factory.clients["binance_perp"] = &stubVenueClient{venue: "binance_perp"} // knows no orders

	require.NoError(t, m.Cycle(context.Background()))

	o, err := orders.GetByID(context.Background(), "o1")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFailed, o.Status)
	assert.Equal(t, "order not found on venue", o.ErrorMessage)

	// Terminal orders drop out of the next reconcile pass.
	listed, err := orders.ListReconcilable(context.Background(), 100)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestFillCycleMissingCredentialSkipsGroup(t *testing.T) {
	m, orders, fills, _ := fillFixture()
	other := submittedOrder("o2")
	other.UserID = "u2" // no credential configured for u2
	orders.addReconcilable(other)

	require.NoError(t, m.Cycle(context.Background()))

	o, err := orders.GetByID(context.Background(), "o2")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusSubmitted, o.Status, "order untouched when the group has no credential")
	assert.Empty(t, fills.fills)
}

func TestFillCycleReleasesClientPerGroup(t *testing.T) {
	m, orders, _, factory := fillFixture()
	orders.addReconcilable(submittedOrder("o1"))
	client := &stubVenueClient{
		venue: "binance_perp",
		states: map[string]domain.VenueOrderState{
			"v-o1": {VenueOrderID: "v-o1", Status: domain.OrderStatusSubmitted},
		},
	}
	factory.clients["binance_perp"] = client

	require.NoError(t, m.Cycle(context.Background()))
	assert.Equal(t, 1, client.closeCalls)
}
