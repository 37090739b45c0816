package broker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// PaperBroker is an in-memory brokerage used for local runs, simulation and
// tests. It accepts every well-formed order immediately and exposes helpers to
// drive fills and broker-side activity the service never saw.
type PaperBroker struct {
	mu         sync.RWMutex
	byClientID map[string]*BrokerOrder
	byBrokerID map[string]*BrokerOrder
	positions  map[string]*types.Position

	// failNext makes the next n submissions fail with a retryable error,
	// to exercise backoff paths.
	failNext int
}

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		byClientID: make(map[string]*BrokerOrder),
		byBrokerID: make(map[string]*BrokerOrder),
		positions:  make(map[string]*types.Position),
	}
}

// SubmitOrder accepts the order and assigns a broker order id. Resubmitting a
// known client_order_id returns the existing acknowledgement, mirroring a
// broker that honours client references for idempotency.
func (p *PaperBroker) SubmitOrder(_ context.Context, order *types.Order) (*Ack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failNext > 0 {
		p.failNext--
		return nil, &Error{Status: 503, Code: "UNAVAILABLE", Message: "paper broker unavailable", Retryable: true}
	}

	if order.Quantity <= 0 {
		return nil, &Error{Status: 422, Code: "INVALID_QUANTITY", Message: "quantity must be positive", Retryable: false}
	}
	if order.Symbol == "" {
		return nil, &Error{Status: 422, Code: "INVALID_SYMBOL", Message: "symbol is required", Retryable: false}
	}

	if existing, ok := p.byClientID[order.ClientOrderID]; ok {
		return &Ack{BrokerOrderID: existing.BrokerOrderID, Status: existing.Status}, nil
	}

	now := time.Now()
	bo := &BrokerOrder{
		BrokerOrderID: "BRK-" + strings.ToUpper(uuid.New().String()[:8]),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Status:        types.StatusAccepted,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	p.byClientID[bo.ClientOrderID] = bo
	p.byBrokerID[bo.BrokerOrderID] = bo

	log.Debug().
		Str("component", "paper_broker").
		Str("client_order_id", bo.ClientOrderID).
		Str("broker_order_id", bo.BrokerOrderID).
		Msg("order accepted")

	return &Ack{BrokerOrderID: bo.BrokerOrderID, Status: bo.Status}, nil
}

// CancelOrder cancels a live order. Cancelling an order already in a terminal
// state is a no-op so repeated reconciliation cancels stay idempotent.
func (p *PaperBroker) CancelOrder(_ context.Context, clientOrderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bo, ok := p.byClientID[clientOrderID]
	if !ok {
		return ErrOrderNotFound
	}
	if bo.Status.Terminal() {
		return nil
	}
	bo.Status = types.StatusCancelled
	bo.UpdatedAt = time.Now()
	return nil
}

// OrdersSnapshot returns all broker orders updated at or after since.
func (p *PaperBroker) OrdersSnapshot(_ context.Context, since time.Time) ([]BrokerOrder, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []BrokerOrder
	for _, bo := range p.byBrokerID {
		if bo.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, *bo)
	}
	return out, nil
}

// Positions returns the aggregate position per symbol built from fills.
func (p *PaperBroker) Positions(_ context.Context) ([]types.Position, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]types.Position, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, *pos)
	}
	return out, nil
}

// Fill marks an order filled at the given price and books the position.
// Test and simulation helper; a real broker pushes this over the webhook.
func (p *PaperBroker) Fill(clientOrderID string, price float64) (*BrokerOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bo, ok := p.byClientID[clientOrderID]
	if !ok {
		return nil, ErrOrderNotFound
	}
	bo.Status = types.StatusFilled
	bo.FilledQuantity = bo.Quantity
	bo.AvgFillPrice = price
	bo.UpdatedAt = time.Now()

	pos, ok := p.positions[bo.Symbol]
	if !ok {
		pos = &types.Position{Symbol: bo.Symbol}
		p.positions[bo.Symbol] = pos
	}
	qty := bo.FilledQuantity
	if bo.Side == types.SideSell {
		qty = -qty
	}
	pos.Quantity += qty
	pos.AvgEntryPrice = price
	pos.MarketValue = pos.Quantity * price
	return bo, nil
}

// InjectOrder registers a broker-side order with no local counterpart,
// simulating a manual trade placed outside the platform.
func (p *PaperBroker) InjectOrder(bo BrokerOrder) {
	p.mu.Lock()
	defer p.mu.Unlock()

	stored := bo
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.ClientOrderID != "" {
		p.byClientID[stored.ClientOrderID] = &stored
	}
	p.byBrokerID[stored.BrokerOrderID] = &stored
}

// FailNextSubmits makes the next n submissions fail with a retryable error.
func (p *PaperBroker) FailNextSubmits(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = n
}

// Lookup returns the broker's view of an order, if any.
func (p *PaperBroker) Lookup(clientOrderID string) (*BrokerOrder, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	bo, ok := p.byClientID[clientOrderID]
	if !ok {
		return nil, false
	}
	cp := *bo
	return &cp, true
}
