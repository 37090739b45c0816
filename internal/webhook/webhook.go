package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
	"github.com/LeeeWayyy/trading-platform-sub021/pkg/response"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

// Event is one broker-pushed order lifecycle event.
type Event struct {
	EventID        string            `json:"event_id"`
	ClientOrderID  string            `json:"client_order_id"`
	BrokerOrderID  string            `json:"broker_order_id,omitempty"`
	Status         types.OrderStatus `json:"status"`
	FilledQuantity float64           `json:"filled_quantity,omitempty"`
	AvgFillPrice   float64           `json:"avg_fill_price,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// Sign computes the signature for a payload. Shared with the simulation and
// tests so both sides of the webhook agree on the scheme.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// GinHandlers contains the webhook endpoint handlers.
type GinHandlers struct {
	orders  *orders.Service
	metrics *metrics.Metrics
	secret  []byte
}

// NewGinHandlers creates webhook handlers verifying against the given secret.
func NewGinHandlers(orderSvc *orders.Service, m *metrics.Metrics, secret string) *GinHandlers {
	return &GinHandlers{orders: orderSvc, metrics: m, secret: []byte(secret)}
}

// OrderEventHandler handles POST /webhooks/orders. The payload signature is
// compared in constant time; a mismatch drops the request without touching
// any state, so a spoofed payload cannot inject a terminal status.
func (h *GinHandlers) OrderEventHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := log.With().Str("component", "order_webhook").Logger()

		body, err := c.GetRawData()
		if err != nil {
			response.BadRequest(c, "unreadable body")
			return
		}

		provided := c.GetHeader(SignatureHeader)
		expected := Sign(h.secret, body)
		if !hmac.Equal([]byte(provided), []byte(expected)) {
			h.metrics.WebhookRejected()
			logger.Warn().
				Str("remote_addr", c.ClientIP()).
				Msg("webhook signature mismatch, dropping event")
			response.Unauthorized(c, "invalid signature")
			return
		}

		var event Event
		if err := json.Unmarshal(body, &event); err != nil {
			response.BadRequest(c, "malformed event payload")
			return
		}
		if event.ClientOrderID == "" || !event.Status.Valid() {
			response.BadRequest(c, "event requires client_order_id and a known status")
			return
		}

		applied, err := h.orders.ApplyStatusUpdate(c.Request.Context(), types.StatusUpdate{
			ClientOrderID:  event.ClientOrderID,
			BrokerOrderID:  event.BrokerOrderID,
			Status:         event.Status,
			FilledQuantity: event.FilledQuantity,
			AvgFillPrice:   event.AvgFillPrice,
			Reason:         event.Reason,
		}, types.SourceBrokerPush)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		logger.Debug().
			Str("event_id", event.EventID).
			Str("client_order_id", event.ClientOrderID).
			Str("status", string(event.Status)).
			Bool("applied", applied).
			Msg("webhook event processed")

		response.Success(c, gin.H{"applied": applied})
	}
}
