package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle. Transitions are monotonic:
// pending → submitted → {partially_filled → filled | cancelled | rejected
// | failed}. Terminal orders only ever gain Fills, never a new status.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether no further status transition may occur.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	}
	return false
}

// Order is a persisted exchange order, one per opportunity leg.
type Order struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	OpportunityID string         `json:"opportunity_id,omitempty"` // empty when placed outside an opportunity
	Venue         string         `json:"venue"`
	VenueOrderID  string         `json:"venue_order_id,omitempty"`
	Symbol        string         `json:"symbol"`
	Side          OrderSide      `json:"side"`
	Type          OrderType      `json:"type"`
	Quantity      float64        `json:"quantity"`
	LimitPrice    *float64       `json:"limit_price,omitempty"`
	FilledQty     float64        `json:"filled_qty"`
	AvgFillPrice  float64        `json:"avg_fill_price"`
	FeeUSD        float64        `json:"fee_usd"`
	Status        OrderStatus    `json:"status"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	SubmittedAt   *time.Time     `json:"submitted_at,omitempty"`
	FilledAt      *time.Time     `json:"filled_at,omitempty"`
}

// Fill is an append-only venue fill record. (OrderID, VenueFillID) is the
// deduplication key under repeated reconciliation polling.
type Fill struct {
	ID          int64     `json:"id"`
	OrderID     string    `json:"order_id"`
	VenueFillID string    `json:"venue_fill_id"`
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	FeeUSD      float64   `json:"fee_usd"`
	Timestamp   time.Time `json:"timestamp"`
}

// ExecutionLog is one append-only audit row written by the executor.
type ExecutionLog struct {
	ID        int64          `json:"id"`
	UserID    string         `json:"user_id"`
	Action    string         `json:"action"`
	Status    string         `json:"status"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
