package domain

import (
	"context"
	"time"
)

// Fill is a confirmed execution applied to the position book, journaled for
// audit and daily archival.
type Fill struct {
	ID       int64
	OrderID  string
	Pair     Pair
	Side     OrderSide
	Quantity float64
	Price    float64
	Paper    bool
	Time     time.Time
}

// OrderStore persists the order lifecycle.
type OrderStore interface {
	Create(ctx context.Context, o Order) error
	UpdateState(ctx context.Context, id string, state OrderState, lastErr string) error
	RecordFill(ctx context.Context, o Order) error
	GetByID(ctx context.Context, id string) (Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// FillStore persists the fill journal.
type FillStore interface {
	Insert(ctx context.Context, f Fill) error
	ListSince(ctx context.Context, since time.Time) ([]Fill, error)
	ListBefore(ctx context.Context, before time.Time) ([]Fill, error)
}

// AuditStore persists an append-only audit log of engine events.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// PriceCache mirrors the latest observed price per pair so external tooling
// can read engine state without touching the in-process stream cache.
type PriceCache interface {
	SetPrice(ctx context.Context, pair Pair, price float64, ts time.Time) error
	GetPrice(ctx context.Context, pair Pair) (float64, time.Time, error)
}

// EventBus publishes structured engine events (order lifecycle, risk
// rejections, reconnects, daily-loss trips) for external consumers.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// BlobWriter uploads objects to blob storage; used by the daily journal
// archiver.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
