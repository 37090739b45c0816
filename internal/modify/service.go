package modify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
	"github.com/LeeeWayyy/trading-platform-sub021/pkg/response"
)

// Service is the modification ledger: it records replace requests, applies
// them idempotently, and keeps the original order live until the broker
// accepts the successor — never both live, never neither.
type Service struct {
	db     *Database
	orders *orders.Service
	gate   orders.CircuitGate
	now    func() time.Time
}

// NewService creates a modification ledger service.
func NewService(gormDB *gorm.DB, orderSvc *orders.Service, gate orders.CircuitGate) *Service {
	return &Service{
		db:     NewDatabase(gormDB),
		orders: orderSvc,
		gate:   gate,
		now:    time.Now,
	}
}

// Replace supersedes an order in place. A retried request carrying a known
// idempotency key returns the previously recorded outcome without
// re-executing anything.
func (s *Service) Replace(ctx context.Context, originalID string, req *types.ReplaceRequest) (*types.ReplaceResult, error) {
	logger := log.With().
		Str("component", "modification_ledger").
		Str("original_client_order_id", originalID).
		Logger()

	if existing, err := s.db.GetByIdempotencyKey(originalID, req.IdempotencyKey); err != nil {
		return nil, err
	} else if existing != nil {
		logger.Info().
			Str("idempotency_key", req.IdempotencyKey).
			Int("modification_seq", existing.ModificationSeq).
			Msg("replace replay, returning recorded outcome")
		return recordedOutcome(existing), nil
	}

	original, err := s.orders.Get(ctx, originalID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return &types.ReplaceResult{Outcome: types.OutcomeRejected, Reason: "original order not found"}, nil
	}
	if original.IsTerminal {
		return &types.ReplaceResult{Outcome: types.OutcomeRejected, Reason: "original order is terminal"}, nil
	}

	if state, reason := s.gate.Check(ctx); state == breaker.StateTripped {
		return &types.ReplaceResult{Outcome: types.OutcomeRejected, Reason: "circuit breaker tripped: " + reason}, nil
	}

	changesJSON, err := json.Marshal(req.Changes)
	if err != nil {
		return nil, err
	}

	// Two attempts cover the (original, seq) race between concurrent replaces
	// carrying different keys; a same-key race resolves to the winner's row.
	var mod *OrderModification
	var successor *types.Order
	for attempt := 0; attempt < 2; attempt++ {
		seq, err := s.db.NextSeq(originalID)
		if err != nil {
			return nil, err
		}
		newID := orders.DeriveReplacementID(originalID, seq)
		successor = buildSuccessor(original, req.Changes, newID, s.now())
		mod = &OrderModification{
			OriginalClientOrderID: originalID,
			ModificationSeq:       seq,
			IdempotencyKey:        req.IdempotencyKey,
			NewClientOrderID:      newID,
			Status:                StatusPending,
			Changes:               string(changesJSON),
			Reason:                req.Reason,
		}

		err = s.db.CreateWithSuccessor(mod, successor)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateModification) {
			return nil, err
		}
		if replayed, lookupErr := s.db.GetByIdempotencyKey(originalID, req.IdempotencyKey); lookupErr != nil {
			return nil, lookupErr
		} else if replayed != nil {
			return recordedOutcome(replayed), nil
		}
		if attempt == 1 {
			return nil, err
		}
	}

	result, err := s.orders.SubmitExisting(ctx, successor)
	if err != nil {
		return nil, err
	}

	switch {
	case result.Outcome == types.OutcomeCreated && result.Order != nil && result.Order.Status.Rank() >= types.StatusAccepted.Rank():
		if err := s.db.UpdateStatus(mod, StatusAccepted, ""); err != nil {
			return nil, err
		}
		if _, err := s.orders.ApplyStatusUpdate(ctx, types.StatusUpdate{
			ClientOrderID: originalID,
			Status:        types.StatusReplaced,
			Reason:        "replaced by " + successor.ClientOrderID,
		}, types.SourceManual); err != nil {
			return nil, err
		}
		logger.Info().
			Str("new_client_order_id", successor.ClientOrderID).
			Int("modification_seq", mod.ModificationSeq).
			Msg("replace accepted")
		return recordedOutcome(mod), nil

	case result.Outcome == types.OutcomeCreated:
		// Indeterminate broker outcome: the ledger row stays PENDING and the
		// original stays live; reconciliation resolves the successor.
		logger.Warn().Str("new_client_order_id", successor.ClientOrderID).Msg("replace outcome pending reconciliation")
		return &types.ReplaceResult{
			Outcome:          types.OutcomePending,
			NewClientOrderID: successor.ClientOrderID,
			ModificationSeq:  mod.ModificationSeq,
			Reason:           "broker outcome pending reconciliation",
		}, nil

	default:
		if err := s.db.UpdateStatus(mod, StatusFailed, result.Reason); err != nil {
			return nil, err
		}
		logger.Warn().Str("reason", result.Reason).Msg("replace failed, original order unchanged")
		return recordedOutcome(mod), nil
	}
}

func recordedOutcome(mod *OrderModification) *types.ReplaceResult {
	res := &types.ReplaceResult{
		NewClientOrderID: mod.NewClientOrderID,
		ModificationSeq:  mod.ModificationSeq,
	}
	switch mod.Status {
	case StatusAccepted:
		res.Outcome = types.OutcomeAccepted
	case StatusFailed:
		res.Outcome = types.OutcomeFailed
		res.Reason = mod.ErrorMessage
	default:
		res.Outcome = types.OutcomePending
	}
	return res
}

func buildSuccessor(original *types.Order, changes types.OrderChanges, newID string, now time.Time) *types.Order {
	successor := &types.Order{
		ClientOrderID:   newID,
		Symbol:          original.Symbol,
		Side:            original.Side,
		Quantity:        original.Quantity,
		OrderType:       original.OrderType,
		LimitPrice:      original.LimitPrice,
		StopPrice:       original.StopPrice,
		TimeInForce:     original.TimeInForce,
		Status:          types.StatusPendingNew,
		StatusRank:      types.StatusPendingNew.Rank(),
		SourcePriority:  int(types.SourceManual),
		ExecutionStyle:  original.ExecutionStyle,
		StrategyID:      original.StrategyID,
		ReplacedOrderID: &original.ClientOrderID,
		LastUpdatedAt:   now,
		CreatedAt:       now,
	}
	if changes.Quantity != nil {
		successor.Quantity = *changes.Quantity
	}
	if changes.LimitPrice != nil {
		successor.LimitPrice = changes.LimitPrice
	}
	if changes.StopPrice != nil {
		successor.StopPrice = changes.StopPrice
	}
	if changes.TimeInForce != nil {
		successor.TimeInForce = *changes.TimeInForce
	}
	return successor
}

// GinHandlers contains HTTP handlers for replace endpoints.
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates the replace endpoint handlers.
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ReplaceOrderHandler handles POST /orders/:client_order_id/replace.
func (h *GinHandlers) ReplaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		originalID := c.Param("client_order_id")
		if originalID == "" {
			response.BadRequest(c, "client_order_id is required")
			return
		}

		var req types.ReplaceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		result, err := h.service.Replace(c.Request.Context(), originalID, &req)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if result.Outcome == types.OutcomeRejected && strings.Contains(result.Reason, "circuit breaker") {
			response.Blocked(c, result.Reason)
			return
		}
		response.Success(c, result)
	}
}
