package domain

import "context"

// OpportunityCache holds the engine's latest opportunity snapshot for
// fast reads by the HTTP layer.
type OpportunityCache interface {
	SetLatest(ctx context.Context, opps []Opportunity) error
	GetLatest(ctx context.Context) ([]Opportunity, error)
}

// SignalBus provides pub/sub fan-out across processes; the engine
// publishes each tick's snapshot and the push hub relays it to clients.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
