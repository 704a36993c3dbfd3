// Package executor owns the order lifecycle: submission, bounded retry with
// exponential backoff, paper-mode simulation, and cancellation. It never
// decides WHETHER to trade; that is the risk gate's job upstream.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"coinbot/internal/domain"
)

// Pricer resolves the latest observed price for a pair; used to fill paper
// market orders. The stream manager satisfies this.
type Pricer interface {
	CurrentPrice(ctx context.Context, pair domain.Pair) (float64, error)
}

// Executor submits candidate orders to the exchange and drives each one
// through the state machine until a terminal state. One Executor serves all
// pairs; calls are safe for concurrent use.
type Executor struct {
	connector domain.ExchangeConnector
	pricer    Pricer
	policy    RetryPolicy
	paper     bool
	logger    *slog.Logger

	// Optional persistence and eventing. Failures here never block the
	// trade path.
	orders domain.OrderStore
	fills  domain.FillStore
	bus    domain.EventBus

	mu   sync.Mutex
	book map[string]*domain.Order
}

// NewExecutor builds an executor. pricer may be nil when paper is false.
func NewExecutor(connector domain.ExchangeConnector, pricer Pricer, policy RetryPolicy, paper bool, logger *slog.Logger) *Executor {
	return &Executor{
		connector: connector,
		pricer:    pricer,
		policy:    policy,
		paper:     paper,
		logger:    logger.With(slog.String("component", "executor")),
		book:      make(map[string]*domain.Order),
	}
}

// WithStores attaches order/fill persistence. Must be called before Submit.
func (e *Executor) WithStores(orders domain.OrderStore, fills domain.FillStore) *Executor {
	e.orders = orders
	e.fills = fills
	return e
}

// WithBus attaches the lifecycle event bus. Must be called before Submit.
func (e *Executor) WithBus(bus domain.EventBus) *Executor {
	e.bus = bus
	return e
}

// Submit validates the candidate, registers an order, and drives it to a
// terminal or resting state. It returns the order in its final observed state
// together with the error that ended a failed attempt chain. Validation
// failures return ErrInvalidOrderParams without consuming a retry attempt or
// touching the exchange.
func (e *Executor) Submit(ctx context.Context, c domain.CandidateOrder) (*domain.Order, error) {
	if !c.Side.Valid() || c.Quantity <= 0 || c.LimitPrice < 0 {
		return nil, fmt.Errorf("executor: submit %s: %w", c.Pair, domain.ErrInvalidOrderParams)
	}

	o := &domain.Order{
		ID:         uuid.New().String(),
		Pair:       c.Pair,
		Side:       c.Side,
		Quantity:   c.Quantity,
		LimitPrice: c.LimitPrice,
		Paper:      e.paper,
		State:      domain.OrderStatePending,
		CreatedAt:  time.Now().UTC(),
	}

	e.mu.Lock()
	e.book[o.ID] = o
	e.mu.Unlock()

	if e.orders != nil {
		if err := e.orders.Create(ctx, *o); err != nil {
			e.logger.Warn("order persist failed", slog.String("order_id", o.ID), slog.String("error", err.Error()))
		}
	}

	log := e.logger.With(
		slog.String("order_id", o.ID),
		slog.String("pair", string(o.Pair)),
		slog.String("side", string(o.Side)),
		slog.Bool("paper", o.Paper),
	)

	err := e.drive(ctx, o, log)
	return e.snapshot(o.ID), err
}

// drive runs the attempt loop until the order reaches a terminal state or is
// cancelled out from under it.
func (e *Executor) drive(ctx context.Context, o *domain.Order, log *slog.Logger) error {
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if attempt == 0 {
			if !e.transition(ctx, o, domain.OrderStateSubmitted, "") {
				return e.interrupted(o)
			}
		} else {
			if !e.transition(ctx, o, domain.OrderStateRetrying, errString(lastErr)) {
				return e.interrupted(o)
			}
			delay := e.policy.Delay(attempt - 1)
			log.Warn("transient failure, backing off",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("error", lastErr.Error()))
			select {
			case <-ctx.Done():
				e.transition(ctx, o, domain.OrderStateFailed, ctx.Err().Error())
				return fmt.Errorf("executor: submit %s: %w", o.Pair, ctx.Err())
			case <-time.After(delay):
			}
			if !e.transition(ctx, o, domain.OrderStateSubmitted, "") {
				return e.interrupted(o)
			}
		}

		e.mu.Lock()
		o.Attempts = attempt + 1
		e.mu.Unlock()

		ack, err := e.place(ctx, o)
		if err == nil {
			e.fill(ctx, o, ack, log)
			return nil
		}
		lastErr = err

		if !domain.IsTransient(err) {
			// Venue rejections of a well-formed order land in rejected;
			// everything else permanent is a failure.
			state := domain.OrderStateFailed
			if errors.Is(err, domain.ErrOrderRejected) {
				state = domain.OrderStateRejected
			}
			e.transition(ctx, o, state, err.Error())
			log.Error("order not placed",
				slog.String("state", string(state)),
				slog.String("error", err.Error()))
			return fmt.Errorf("executor: submit %s: %w", o.Pair, err)
		}
	}

	e.transition(ctx, o, domain.OrderStateFailed, errString(lastErr))
	log.Error("retry budget exhausted",
		slog.Int("attempts", e.policy.MaxAttempts),
		slog.String("error", lastErr.Error()))
	return fmt.Errorf("executor: submit %s: attempts exhausted: %w", o.Pair, lastErr)
}

// place performs one exchange attempt, or simulates it in paper mode.
func (e *Executor) place(ctx context.Context, o *domain.Order) (domain.OrderAck, error) {
	if e.paper {
		return e.paperFill(ctx, o)
	}
	return e.connector.PlaceOrder(ctx, o.Pair, o.Side, o.Quantity, o.LimitPrice)
}

// paperFill resolves a synthetic fill: the limit price when set, else the
// latest stream price.
func (e *Executor) paperFill(ctx context.Context, o *domain.Order) (domain.OrderAck, error) {
	price := o.LimitPrice
	if price == 0 {
		if e.pricer == nil {
			return domain.OrderAck{}, domain.Permanent("paper fill", domain.ErrPriceUnavailable)
		}
		p, err := e.pricer.CurrentPrice(ctx, o.Pair)
		if err != nil {
			return domain.OrderAck{}, domain.Permanent("paper fill", err)
		}
		price = p
	}
	return domain.OrderAck{
		ExchangeID: "paper-" + o.ID,
		Status:     "filled",
		FillPrice:  price,
	}, nil
}

// fill finalizes a filled order and journals the fill.
func (e *Executor) fill(ctx context.Context, o *domain.Order, ack domain.OrderAck, log *slog.Logger) {
	now := time.Now().UTC()

	e.mu.Lock()
	if o.State.Terminal() {
		// Cancelled during the exchange round trip; the ack loses.
		e.mu.Unlock()
		log.Warn("fill ack for terminal order dropped", slog.String("state", string(o.State)))
		return
	}
	o.State = domain.OrderStateFilled
	o.ExchangeID = ack.ExchangeID
	o.FillPrice = ack.FillPrice
	if o.FillPrice == 0 {
		// Connectors that only acknowledge acceptance report no price;
		// fall back to the limit.
		o.FillPrice = o.LimitPrice
	}
	o.FillQuantity = o.Quantity
	o.FilledAt = now
	o.LastErr = ""
	snap := *o
	e.mu.Unlock()

	log.Info("order filled",
		slog.Float64("price", snap.FillPrice),
		slog.Float64("qty", snap.FillQuantity),
		slog.Int("attempts", snap.Attempts))

	if e.orders != nil {
		if err := e.orders.RecordFill(ctx, snap); err != nil {
			log.Warn("fill persist failed", slog.String("error", err.Error()))
		}
	}
	if e.fills != nil {
		f := domain.Fill{
			OrderID:  snap.ID,
			Pair:     snap.Pair,
			Side:     snap.Side,
			Quantity: snap.FillQuantity,
			Price:    snap.FillPrice,
			Paper:    snap.Paper,
			Time:     now,
		}
		if err := e.fills.Insert(ctx, f); err != nil {
			log.Warn("fill journal failed", slog.String("error", err.Error()))
		}
	}
	e.publish(ctx, "order.filled", snap)
}

// transition applies a state change under the book lock, enforcing the order
// state machine. Returns false when the move is illegal, which happens when a
// concurrent Cancel won the race.
func (e *Executor) transition(ctx context.Context, o *domain.Order, to domain.OrderState, lastErr string) bool {
	e.mu.Lock()
	if !domain.CanTransition(o.State, to) {
		e.mu.Unlock()
		return false
	}
	o.State = to
	o.LastErr = lastErr
	snap := *o
	e.mu.Unlock()

	if e.orders != nil {
		if err := e.orders.UpdateState(ctx, snap.ID, to, lastErr); err != nil {
			e.logger.Warn("order state persist failed",
				slog.String("order_id", snap.ID), slog.String("error", err.Error()))
		}
	}
	e.publish(ctx, "order."+string(to), snap)
	return true
}

// interrupted reports the race loss after a failed transition.
func (e *Executor) interrupted(o *domain.Order) error {
	snap := e.snapshot(o.ID)
	if snap != nil && snap.State == domain.OrderStateCancelled {
		return fmt.Errorf("executor: submit %s: order cancelled", o.Pair)
	}
	return fmt.Errorf("executor: submit %s: %w", o.Pair, domain.ErrOrderTerminal)
}

// Cancel moves a resting order to cancelled. Orders already in a terminal
// state report ErrOrderTerminal; unknown IDs report ErrOrderNotFound. Live
// orders with an exchange ID are also cancelled upstream, best effort.
func (e *Executor) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	o, ok := e.book[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("executor: cancel %s: %w", id, domain.ErrOrderNotFound)
	}
	if o.State.Terminal() {
		state := o.State
		e.mu.Unlock()
		return fmt.Errorf("executor: cancel %s (%s): %w", id, state, domain.ErrOrderTerminal)
	}
	if !domain.CanTransition(o.State, domain.OrderStateCancelled) {
		state := o.State
		e.mu.Unlock()
		return fmt.Errorf("executor: cancel %s: illegal from state %s", id, state)
	}
	o.State = domain.OrderStateCancelled
	snap := *o
	e.mu.Unlock()

	if !snap.Paper && snap.ExchangeID != "" {
		if err := e.connector.CancelOrder(ctx, snap.ExchangeID); err != nil {
			e.logger.Warn("exchange cancel failed",
				slog.String("order_id", id), slog.String("error", err.Error()))
		}
	}
	if e.orders != nil {
		if err := e.orders.UpdateState(ctx, id, domain.OrderStateCancelled, ""); err != nil {
			e.logger.Warn("order state persist failed",
				slog.String("order_id", id), slog.String("error", err.Error()))
		}
	}
	e.publish(ctx, "order.cancelled", snap)
	e.logger.Info("order cancelled", slog.String("order_id", id), slog.String("pair", string(snap.Pair)))
	return nil
}

// Get returns a copy of the order by ID.
func (e *Executor) Get(id string) (*domain.Order, error) {
	if o := e.snapshot(id); o != nil {
		return o, nil
	}
	return nil, fmt.Errorf("executor: get %s: %w", id, domain.ErrOrderNotFound)
}

// Open returns copies of all non-terminal orders.
func (e *Executor) Open() []domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, o := range e.book {
		if !o.State.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

// OpenCount returns the number of non-terminal orders across all pairs.
func (e *Executor) OpenCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, o := range e.book {
		if !o.State.Terminal() {
			n++
		}
	}
	return n
}

// Outstanding returns the exchange IDs of non-terminal live orders, for the
// final shutdown reconciliation query.
func (e *Executor) Outstanding() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0)
	for _, o := range e.book {
		if !o.State.Terminal() && !o.Paper && o.ExchangeID != "" {
			out = append(out, o.ExchangeID)
		}
	}
	return out
}

func (e *Executor) snapshot(id string) *domain.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.book[id]; ok {
		cp := *o
		return &cp
	}
	return nil
}

// publish emits a lifecycle event on the bus, best effort.
func (e *Executor) publish(ctx context.Context, event string, o domain.Order) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":    event,
		"order_id": o.ID,
		"pair":     string(o.Pair),
		"side":     string(o.Side),
		"state":    string(o.State),
		"qty":      o.Quantity,
		"price":    o.FillPrice,
		"paper":    o.Paper,
		"attempts": o.Attempts,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, "orders", payload); err != nil {
		e.logger.Debug("event publish failed", slog.String("error", err.Error()))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
