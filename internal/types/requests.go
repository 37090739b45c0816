package types

import "time"

// OrderRequest is the POST /orders body. The client never supplies an order
// id; it is derived from the request content so replays collapse onto one row.
type OrderRequest struct {
	Symbol         string   `json:"symbol" binding:"required"`
	Side           string   `json:"side" binding:"required"`
	Quantity       float64  `json:"quantity" binding:"required,gt=0"`
	OrderType      string   `json:"order_type" binding:"required"`
	LimitPrice     *float64 `json:"limit_price,omitempty"`
	StopPrice      *float64 `json:"stop_price,omitempty"`
	TimeInForce    string   `json:"time_in_force"`
	StrategyID     string   `json:"strategy_id" binding:"required"`
	ExecutionStyle string   `json:"execution_style"`

	// TWAP parameters, required when execution_style is TWAP.
	SliceCount      int        `json:"slice_count,omitempty"`
	SliceIntervalMS int64      `json:"slice_interval_ms,omitempty"`
	StartTime       *time.Time `json:"start_time,omitempty"`
}

// ReplaceRequest is the POST /orders/:client_order_id/replace body.
type ReplaceRequest struct {
	Changes        OrderChanges `json:"changes"`
	IdempotencyKey string       `json:"idempotency_key" binding:"required"`
	Reason         string       `json:"reason"`
}

// OrderChanges holds the fields a replace may alter. Nil means unchanged.
type OrderChanges struct {
	Quantity    *float64 `json:"quantity,omitempty"`
	LimitPrice  *float64 `json:"limit_price,omitempty"`
	StopPrice   *float64 `json:"stop_price,omitempty"`
	TimeInForce *string  `json:"time_in_force,omitempty"`
}

// Submission outcomes returned to callers so they can tell "safe to retry"
// from "terminal" without parsing error strings.
const (
	OutcomeCreated       = "created"
	OutcomeAlreadyExists = "already_exists"
	OutcomeBlocked       = "blocked_circuit_breaker"
	OutcomeRejected      = "rejected"
	OutcomeAccepted      = "accepted"
	OutcomeFailed        = "failed"
	OutcomePending       = "pending"
)

// SubmitResult is the typed outcome of an order submission.
type SubmitResult struct {
	Outcome string `json:"outcome"`
	Order   *Order `json:"order,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ReplaceResult is the typed outcome of a replace request.
type ReplaceResult struct {
	Outcome          string `json:"outcome"`
	NewClientOrderID string `json:"new_client_order_id,omitempty"`
	ModificationSeq  int    `json:"modification_seq,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

// StatusUpdate is a proposed lifecycle mutation for one order, originating
// from a webhook, a reconciliation pull, or an operator action. Application is
// gated on (status rank, source priority).
type StatusUpdate struct {
	ClientOrderID  string      `json:"client_order_id"`
	BrokerOrderID  string      `json:"broker_order_id,omitempty"`
	Status         OrderStatus `json:"status"`
	FilledQuantity float64     `json:"filled_quantity,omitempty"`
	AvgFillPrice   float64     `json:"avg_fill_price,omitempty"`
	Reason         string      `json:"reason,omitempty"`
}
