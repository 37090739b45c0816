package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// Broker is the outbound brokerage interface. Implementations must accept the
// locally derived client_order_id as the broker-side client reference so local
// and broker idempotency line up.
type Broker interface {
	SubmitOrder(ctx context.Context, order *types.Order) (*Ack, error)
	CancelOrder(ctx context.Context, clientOrderID string) error
	OrdersSnapshot(ctx context.Context, since time.Time) ([]BrokerOrder, error)
	Positions(ctx context.Context) ([]types.Position, error)
}

// Ack is the broker's acknowledgement of a submitted order.
type Ack struct {
	BrokerOrderID string            `json:"broker_order_id"`
	Status        types.OrderStatus `json:"status"`
}

// BrokerOrder is one row of the broker's authoritative order snapshot.
type BrokerOrder struct {
	BrokerOrderID  string            `json:"broker_order_id"`
	ClientOrderID  string            `json:"client_order_id,omitempty"`
	Symbol         string            `json:"symbol"`
	Side           string            `json:"side"`
	Quantity       float64           `json:"quantity"`
	FilledQuantity float64           `json:"filled_quantity"`
	AvgFillPrice   float64           `json:"avg_fill_price"`
	Status         types.OrderStatus `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Error is a classified broker failure. Retryable failures (network, 5xx) may
// be resubmitted with the same client_order_id; terminal failures (validation,
// 4xx) must not be retried.
type Error struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("broker: %s (%s, http %d)", e.Message, e.Code, e.Status)
	}
	return fmt.Sprintf("broker: %s (%s)", e.Message, e.Code)
}

var (
	ErrOrderNotFound = &Error{Code: "ORDER_NOT_FOUND", Message: "order not found", Status: 404}
)

// IsRetryable reports whether the failure is transient. Plain network errors
// without a broker classification are treated as retryable.
func IsRetryable(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}

// IsIndeterminate reports whether the outcome of the call is unknown: the
// request may have reached the broker even though no response came back.
// Callers must not resubmit after an indeterminate failure; reconciliation
// observes ground truth first.
func IsIndeterminate(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
