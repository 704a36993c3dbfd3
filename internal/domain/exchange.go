package domain

import (
	"context"
	"time"
)

// TickHandler receives one price tick from a subscription.
type TickHandler func(PriceTick)

// HeartbeatHandler receives feed heartbeats. The stream manager uses these to
// detect a stale connection even when the transport reports no error.
type HeartbeatHandler func(time.Time)

// PriceStream is a live subscription handle returned by Subscribe.
type PriceStream interface {
	// Err blocks until the stream fails or is closed, returning the cause.
	// A nil return means a clean close.
	Err() <-chan error
	// Close tears the subscription down. Safe to call more than once.
	Close() error
}

// ExchangeConnector is the engine's only view of the exchange. All calls are
// fallible and potentially slow; callers own timeouts via ctx. Connector
// errors should be classified with Transient/Permanent so the executor can
// decide whether to retry.
type ExchangeConnector interface {
	GetPrice(ctx context.Context, pair Pair) (float64, error)
	PlaceOrder(ctx context.Context, pair Pair, side OrderSide, quantity, limitPrice float64) (OrderAck, error)
	CancelOrder(ctx context.Context, exchangeID string) error
	GetAccountPositions(ctx context.Context) ([]Position, error)
	Subscribe(ctx context.Context, pairs []Pair, onTick TickHandler, onHeartbeat HeartbeatHandler) (PriceStream, error)
}
