package domain

import "context"

// OrderRequest describes one order to submit to a venue.
type OrderRequest struct {
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	LimitPrice float64 // ignored for market orders
	ReduceOnly bool    // perp only, set when closing
}

// SubmitResult is the venue's acknowledgement of an order submission.
type SubmitResult struct {
	VenueOrderID string
	FilledQty    float64
	AvgPrice     float64
	FeeUSD       float64
}

// VenueOrderState is the venue-reported status of a previously submitted
// order, fetched during reconciliation.
type VenueOrderState struct {
	VenueOrderID string
	Status       OrderStatus
	FilledQty    float64
	AvgPrice     float64
	Fills        []VenueFill
}

// VenueFill is a single fill as reported by the venue.
type VenueFill struct {
	FillID   string
	Quantity float64
	Price    float64
	FeeUSD   float64
}

// VenueClient submits and tracks orders on one venue on behalf of one
// credential. Implementations classify submission failures as VenueError.
type VenueClient interface {
	Venue() string
	SubmitOrder(ctx context.Context, req OrderRequest) (SubmitResult, error)
	OrderState(ctx context.Context, symbol, venueOrderID string) (VenueOrderState, error)
	SetLeverage(ctx context.Context, symbol string, leverage float64) error
	Close() error
}

// VenueClientFactory builds an order client for a (venue, credential)
// pair. Callers release the client when the batch of work is done.
type VenueClientFactory interface {
	ClientFor(venue string, cred VenueCredential) (VenueClient, error)
}
