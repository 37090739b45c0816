package twap

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// Service plans TWAP parents. Child submission happens later, in the
// Scheduler, through the same gated path as any other order.
type Service struct {
	db      *Database
	gate    orders.CircuitGate
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a TWAP planning service.
func NewService(gormDB *gorm.DB, gate orders.CircuitGate, m *metrics.Metrics) *Service {
	return &Service{
		db:      NewDatabase(gormDB),
		gate:    gate,
		metrics: m,
		now:     time.Now,
	}
}

// DB exposes the slice store for the scheduler.
func (s *Service) DB() *Database {
	return s.db
}

// CreateTWAPOrder persists a TWAP parent with its slice schedule. The parent
// id is derived exactly like an instant order's, so a retried TWAP request
// collapses onto the existing parent. The parent itself never reaches the
// broker; only its children do.
func (s *Service) CreateTWAPOrder(ctx context.Context, req *types.OrderRequest) (*types.SubmitResult, error) {
	if state, reason := s.gate.Check(ctx); state == breaker.StateTripped {
		s.metrics.BreakerBlocked()
		s.metrics.OrderSubmitted(types.OutcomeBlocked)
		return &types.SubmitResult{Outcome: types.OutcomeBlocked, Reason: reason}, nil
	}

	now := s.now()
	parentID := orders.DeriveOrderID(req.Symbol, req.Side, req.Quantity, req.LimitPrice, req.StrategyID, now)
	slices, err := PlanTWAP(req, parentID, now)
	if err != nil {
		return nil, err
	}

	parent := orders.NewOrderFromRequest(req, parentID, now)
	parent.ExecutionStyle = types.ExecutionStyleTWAP
	parent.Status = types.StatusAccepted
	parent.StatusRank = types.StatusAccepted.Rank()
	totalSlices := req.SliceCount
	parent.TotalSlices = &totalSlices

	if err := s.db.CreateParentWithSlices(parent, slices); err != nil {
		if errors.Is(err, ErrDuplicateParent) {
			existing, lookupErr := s.db.GetParent(parentID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			s.metrics.OrderSubmitted(types.OutcomeAlreadyExists)
			return &types.SubmitResult{Outcome: types.OutcomeAlreadyExists, Order: existing}, nil
		}
		return nil, err
	}

	s.metrics.OrderSubmitted(types.OutcomeCreated)
	return &types.SubmitResult{Outcome: types.OutcomeCreated, Order: parent}, nil
}
