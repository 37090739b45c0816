package breaker

import (
	"github.com/gin-gonic/gin"

	"github.com/LeeeWayyy/trading-platform-sub021/pkg/response"
)

// GinHandlers contains the operator endpoints for the circuit breaker.
type GinHandlers struct {
	gate *Gate
}

// NewGinHandlers creates handlers for the breaker admin endpoints.
func NewGinHandlers(gate *Gate) *GinHandlers {
	return &GinHandlers{gate: gate}
}

type tripRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// StatusHandler handles GET requests for the current breaker state.
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, reason := h.gate.Check(c.Request.Context())
		response.Success(c, gin.H{
			"state":  state,
			"reason": reason,
		})
	}
}

// TripHandler handles POST requests that trip the breaker. The authenticated
// client is recorded so the trip can be attributed.
func (h *GinHandlers) TripHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req tripRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "reason is required")
			return
		}

		trippedBy := c.GetString("clientID")
		if err := h.gate.Trip(c.Request.Context(), req.Reason, trippedBy); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"state": StateTripped})
	}
}

// ResetHandler handles POST requests that clear the tripped state.
func (h *GinHandlers) ResetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.gate.Reset(c.Request.Context()); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"state": StateOpen})
	}
}
