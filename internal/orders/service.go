package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

var ErrValidation = errors.New("validation failed")

// CircuitGate is the shared precondition every risk-increasing submission
// consults before touching the broker.
type CircuitGate interface {
	Check(ctx context.Context) (breaker.State, string)
}

// Service owns the order lifecycle: idempotent submission, the rank-gated
// state machine, and the risk-reducing cancel path.
type Service struct {
	db      *Database
	broker  broker.Broker
	gate    CircuitGate
	metrics *metrics.Metrics

	maxAttempts int
	sleep       broker.Sleeper
	now         func() time.Time
}

// NewService creates an order service with production defaults: three broker
// submission attempts with doubling backoff.
func NewService(gormDB *gorm.DB, brk broker.Broker, gate CircuitGate, m *metrics.Metrics) *Service {
	return &Service{
		db:          NewDatabase(gormDB),
		broker:      brk,
		gate:        gate,
		metrics:     m,
		maxAttempts: 3,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// DB exposes the order store for packages sharing its tables.
func (s *Service) DB() *Database {
	return s.db
}

func validateRequest(req *types.OrderRequest) error {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return fmt.Errorf("%w: side must be BUY or SELL", ErrValidation)
	}
	switch req.OrderType {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if req.LimitPrice == nil || *req.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit orders require a positive limit_price", ErrValidation)
		}
	case types.OrderTypeStop:
		if req.StopPrice == nil || *req.StopPrice <= 0 {
			return fmt.Errorf("%w: stop orders require a positive stop_price", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown order_type %q", ErrValidation, req.OrderType)
	}
	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	return nil
}

// NewOrderFromRequest builds a pending order row from a request. The caller
// provides the derived client order id.
func NewOrderFromRequest(req *types.OrderRequest, clientOrderID string, now time.Time) *types.Order {
	style := req.ExecutionStyle
	if style == "" {
		style = types.ExecutionStyleInstant
	}
	tif := req.TimeInForce
	if tif == "" {
		tif = "DAY"
	}
	return &types.Order{
		ClientOrderID:  clientOrderID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Quantity:       req.Quantity,
		OrderType:      req.OrderType,
		LimitPrice:     req.LimitPrice,
		StopPrice:      req.StopPrice,
		TimeInForce:    tif,
		Status:         types.StatusPendingNew,
		StatusRank:     types.StatusPendingNew.Rank(),
		SourcePriority: int(types.SourceManual),
		ExecutionStyle: style,
		StrategyID:     req.StrategyID,
		LastUpdatedAt:  now,
		CreatedAt:      now,
	}
}

// Submit handles an instant-execution order end to end: circuit-breaker
// check, deterministic id derivation, insert-or-detect on the primary key,
// then broker submission with bounded retry. Callers retrying the same spec
// on the same day always land on the same row.
func (s *Service) Submit(ctx context.Context, req *types.OrderRequest) (*types.SubmitResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	if state, reason := s.gate.Check(ctx); state == breaker.StateTripped {
		s.metrics.BreakerBlocked()
		s.metrics.OrderSubmitted(types.OutcomeBlocked)
		return &types.SubmitResult{Outcome: types.OutcomeBlocked, Reason: reason}, nil
	}

	now := s.now()
	id := DeriveOrderID(req.Symbol, req.Side, req.Quantity, req.LimitPrice, req.StrategyID, now)
	order := NewOrderFromRequest(req, id, now)

	if err := s.db.CreateOrder(order); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			existing, lookupErr := s.db.GetOrder(id)
			if lookupErr != nil {
				return nil, lookupErr
			}
			s.metrics.OrderSubmitted(types.OutcomeAlreadyExists)
			return &types.SubmitResult{Outcome: types.OutcomeAlreadyExists, Order: existing}, nil
		}
		return nil, err
	}

	result, err := s.submitToBroker(ctx, order)
	if err != nil {
		return nil, err
	}
	s.metrics.OrderSubmitted(result.Outcome)
	return result, nil
}

// SubmitChild persists and submits one TWAP child order. The child id is
// derived from the parent id and slice index, so a re-fired slice maps onto
// the same row instead of duplicating exposure.
func (s *Service) SubmitChild(ctx context.Context, parent *types.Order, slice *types.SliceSchedule) (*types.SubmitResult, error) {
	if state, reason := s.gate.Check(ctx); state == breaker.StateTripped {
		s.metrics.BreakerBlocked()
		return &types.SubmitResult{Outcome: types.OutcomeBlocked, Reason: reason}, nil
	}

	now := s.now()
	childID := DeriveChildID(parent.ClientOrderID, slice.SliceIndex)
	sliceIndex := slice.SliceIndex
	child := &types.Order{
		ClientOrderID:  childID,
		Symbol:         parent.Symbol,
		Side:           parent.Side,
		Quantity:       slice.Quantity,
		OrderType:      parent.OrderType,
		LimitPrice:     parent.LimitPrice,
		StopPrice:      parent.StopPrice,
		TimeInForce:    parent.TimeInForce,
		Status:         types.StatusPendingNew,
		StatusRank:     types.StatusPendingNew.Rank(),
		SourcePriority: int(types.SourceManual),
		ExecutionStyle: types.ExecutionStyleInstant,
		StrategyID:     parent.StrategyID,
		ParentOrderID:  &parent.ClientOrderID,
		SliceIndex:     &sliceIndex,
		LastUpdatedAt:  now,
		CreatedAt:      now,
	}

	if err := s.db.CreateOrder(child); err != nil {
		if errors.Is(err, ErrDuplicateOrder) {
			existing, lookupErr := s.db.GetOrder(childID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &types.SubmitResult{Outcome: types.OutcomeAlreadyExists, Order: existing}, nil
		}
		return nil, err
	}

	return s.submitToBroker(ctx, child)
}

// SubmitExisting pushes an already-persisted order (a replace successor) to
// the broker through the same retry path.
func (s *Service) SubmitExisting(ctx context.Context, order *types.Order) (*types.SubmitResult, error) {
	return s.submitToBroker(ctx, order)
}

// submitToBroker runs the bounded retry loop. Transient failures back off and
// retry with the same client_order_id; terminal failures reject the order;
// an indeterminate failure (timeout) leaves the order PENDING_NEW for the
// reconciliation engine to resolve against broker truth — resubmitting here
// could double exposure on a false-negative timeout.
func (s *Service) submitToBroker(ctx context.Context, order *types.Order) (*types.SubmitResult, error) {
	logger := log.With().
		Str("component", "order_submit").
		Str("client_order_id", order.ClientOrderID).
		Str("symbol", order.Symbol).
		Logger()

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		ack, err := s.broker.SubmitOrder(ctx, order)
		if err == nil {
			status := ack.Status
			if !status.Valid() {
				status = types.StatusAccepted
			}
			if _, err := s.ApplyStatusUpdate(ctx, types.StatusUpdate{
				ClientOrderID: order.ClientOrderID,
				BrokerOrderID: ack.BrokerOrderID,
				Status:        status,
			}, types.SourceManual); err != nil {
				return nil, err
			}
			stored, err := s.db.GetOrder(order.ClientOrderID)
			if err != nil {
				return nil, err
			}
			logger.Info().Str("broker_order_id", ack.BrokerOrderID).Msg("order accepted by broker")
			return &types.SubmitResult{Outcome: types.OutcomeCreated, Order: stored}, nil
		}

		if broker.IsIndeterminate(err) {
			logger.Warn().Err(err).Msg("broker submission indeterminate, leaving order pending for reconciliation")
			stored, lookupErr := s.db.GetOrder(order.ClientOrderID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &types.SubmitResult{Outcome: types.OutcomeCreated, Order: stored, Reason: "submission outcome pending reconciliation"}, nil
		}

		if !broker.IsRetryable(err) {
			logger.Warn().Err(err).Msg("broker rejected order")
			return s.markRejected(ctx, order, err)
		}

		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("transient broker failure, backing off")
		s.sleep(broker.Backoff(attempt))
	}

	logger.Error().Err(lastErr).Int("attempts", s.maxAttempts).Msg("broker submission retries exhausted")
	return s.markRejected(ctx, order, lastErr)
}

func (s *Service) markRejected(ctx context.Context, order *types.Order, cause error) (*types.SubmitResult, error) {
	reason := "broker submission failed"
	if cause != nil {
		reason = cause.Error()
	}
	if _, err := s.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID: order.ClientOrderID,
		Status:        types.StatusRejected,
		Reason:        reason,
	}, types.SourceManual); err != nil {
		return nil, err
	}
	stored, err := s.db.GetOrder(order.ClientOrderID)
	if err != nil {
		return nil, err
	}
	return &types.SubmitResult{Outcome: types.OutcomeRejected, Order: stored, Reason: reason}, nil
}

// ApplyStatusUpdate runs a proposed mutation through the rank/priority gate.
// A dropped update against a terminal row still applies fill enrichment, and
// a terminal child order propagates its state to the parent's slice row.
func (s *Service) ApplyStatusUpdate(ctx context.Context, upd types.StatusUpdate, source types.Source) (bool, error) {
	if !upd.Status.Valid() {
		return false, fmt.Errorf("%w: unknown status %q", ErrValidation, upd.Status)
	}

	applied, err := s.db.ApplyRankGatedUpdate(upd, source)
	if err != nil {
		return false, err
	}
	if !applied {
		// Terminal rows accept data enrichment only.
		if upd.FilledQuantity > 0 || upd.AvgFillPrice > 0 {
			if _, err := s.db.EnrichTerminalFill(upd.ClientOrderID, upd.FilledQuantity, upd.AvgFillPrice); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	if upd.Status.Terminal() {
		if err := s.propagateToSlice(upd); err != nil {
			log.Error().
				Str("component", "order_state").
				Str("client_order_id", upd.ClientOrderID).
				Err(err).
				Msg("failed to propagate terminal state to slice schedule")
		}
	}
	return true, nil
}

// propagateToSlice keeps the SliceSchedule lifecycle in step with its child
// order, and finalizes the TWAP parent once the last slice is done.
func (s *Service) propagateToSlice(upd types.StatusUpdate) error {
	order, err := s.db.GetOrder(upd.ClientOrderID)
	if err != nil || order == nil || order.ParentOrderID == nil || order.SliceIndex == nil {
		return err
	}

	sliceStatus := types.SliceStatusFailed
	switch upd.Status {
	case types.StatusFilled:
		sliceStatus = types.SliceStatusFilled
	case types.StatusCancelled, types.StatusExpired:
		sliceStatus = types.SliceStatusCancelled
	}
	if err := s.db.UpdateSliceForChild(*order.ParentOrderID, *order.SliceIndex, sliceStatus, upd.Reason); err != nil {
		return err
	}

	live, err := s.db.CountNonTerminalSlices(*order.ParentOrderID)
	if err != nil || live > 0 {
		return err
	}
	filled, err := s.db.CountSlicesWithStatus(*order.ParentOrderID, types.SliceStatusFilled)
	if err != nil {
		return err
	}
	parentStatus := types.StatusCancelled
	if filled > 0 {
		parentStatus = types.StatusFilled
	}
	_, err = s.db.ApplyRankGatedUpdate(types.StatusUpdate{
		ClientOrderID: *order.ParentOrderID,
		Status:        parentStatus,
	}, types.SourceManual)
	return err
}

// Cancel is risk-reducing and therefore allowed while the circuit breaker is
// tripped. Cancelling an already-terminal order is an idempotent no-op.
func (s *Service) Cancel(ctx context.Context, clientOrderID string) (*types.Order, error) {
	order, err := s.db.GetOrder(clientOrderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.IsTerminal {
		return order, nil
	}

	if err := s.broker.CancelOrder(ctx, clientOrderID); err != nil {
		var be *broker.Error
		if !(errors.As(err, &be) && be.Status == 404) {
			return nil, err
		}
	}

	if _, err := s.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID: clientOrderID,
		Status:        types.StatusCancelled,
		Reason:        "cancelled by request",
	}, types.SourceManual); err != nil {
		return nil, err
	}
	return s.db.GetOrder(clientOrderID)
}

// Get returns the current order snapshot.
func (s *Service) Get(ctx context.Context, clientOrderID string) (*types.Order, error) {
	return s.db.GetOrder(clientOrderID)
}

// Positions proxies the broker's position snapshot.
func (s *Service) Positions(ctx context.Context) ([]types.Position, error) {
	return s.broker.Positions(ctx)
}
