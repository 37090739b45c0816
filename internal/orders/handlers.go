package orders

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
	"github.com/LeeeWayyy/trading-platform-sub021/pkg/response"
)

// TWAPCreator plans and persists a TWAP parent with its slice schedule.
// Implemented by the twap package; injected to keep package dependencies
// one-directional.
type TWAPCreator interface {
	CreateTWAPOrder(ctx context.Context, req *types.OrderRequest) (*types.SubmitResult, error)
}

// GinHandlers contains HTTP handlers for order endpoints.
type GinHandlers struct {
	service *Service
	twap    TWAPCreator
}

// NewGinHandlers creates the order endpoint handlers.
func NewGinHandlers(service *Service, twap TWAPCreator) *GinHandlers {
	return &GinHandlers{service: service, twap: twap}
}

// CreateOrderHandler handles POST /orders. The order id is derived from the
// request content, so retried requests return already_exists rather than a
// duplicate row. TWAP-style requests are planned into a slice schedule
// instead of hitting the broker directly.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.OrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		var (
			result *types.SubmitResult
			err    error
		)
		if req.ExecutionStyle == types.ExecutionStyleTWAP {
			result, err = h.twap.CreateTWAPOrder(c.Request.Context(), &req)
		} else {
			result, err = h.service.Submit(c.Request.Context(), &req)
		}
		if err != nil {
			if errors.Is(err, ErrValidation) {
				response.BadRequest(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		if result.Outcome == types.OutcomeBlocked {
			response.Blocked(c, result.Reason)
			return
		}
		response.Success(c, result)
	}
}

// GetOrderHandler handles GET /orders/:client_order_id.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientOrderID := c.Param("client_order_id")
		if clientOrderID == "" {
			response.BadRequest(c, "client_order_id is required")
			return
		}

		order, err := h.service.Get(c.Request.Context(), clientOrderID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if order == nil {
			response.NotFound(c, "order not found")
			return
		}
		response.Success(c, order)
	}
}

// CancelOrderHandler handles POST /orders/:client_order_id/cancel. Cancels
// stay available while the circuit breaker is tripped.
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientOrderID := c.Param("client_order_id")

		order, err := h.service.Cancel(c.Request.Context(), clientOrderID)
		if err != nil {
			if errors.Is(err, ErrOrderNotFound) {
				response.NotFound(c, "order not found")
				return
			}
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, order)
	}
}

// PositionsHandler handles GET /positions.
func (h *GinHandlers) PositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.service.Positions(c.Request.Context())
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, positions)
	}
}
