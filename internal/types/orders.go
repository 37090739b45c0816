package types

import (
	"time"

	"gorm.io/gorm"
)

// OrderStatus is the closed set of order lifecycle states. Each status maps to
// an integer rank; updates carrying a lower rank than the stored one are stale
// and must be dropped.
type OrderStatus string

const (
	StatusDryRun                OrderStatus = "DRY_RUN"
	StatusPendingNew            OrderStatus = "PENDING_NEW"
	StatusAccepted              OrderStatus = "ACCEPTED"
	StatusPartiallyFilled       OrderStatus = "PARTIALLY_FILLED"
	StatusFilled                OrderStatus = "FILLED"
	StatusCancelled             OrderStatus = "CANCELLED"
	StatusRejected              OrderStatus = "REJECTED"
	StatusExpired               OrderStatus = "EXPIRED"
	StatusReplaced              OrderStatus = "REPLACED"
	StatusBlockedKillSwitch     OrderStatus = "BLOCKED_KILL_SWITCH"
	StatusBlockedCircuitBreaker OrderStatus = "BLOCKED_CIRCUIT_BREAKER"
)

var statusRanks = map[OrderStatus]int{
	StatusDryRun:                0,
	StatusPendingNew:            1,
	StatusAccepted:              2,
	StatusPartiallyFilled:       3,
	StatusFilled:                4,
	StatusCancelled:             4,
	StatusRejected:              4,
	StatusExpired:               4,
	StatusReplaced:              4,
	StatusBlockedKillSwitch:     4,
	StatusBlockedCircuitBreaker: 4,
}

// Rank returns the status position in the canonical lifecycle. Unknown
// statuses rank -1 so they never pass the update gate.
func (s OrderStatus) Rank() int {
	rank, ok := statusRanks[s]
	if !ok {
		return -1
	}
	return rank
}

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	return s.Rank() == 4
}

// Valid reports whether the status is a known lifecycle state.
func (s OrderStatus) Valid() bool {
	_, ok := statusRanks[s]
	return ok
}

// Source identifies the channel a status update arrived on. Higher values win
// when two sources disagree at the same status rank.
type Source int

const (
	SourceBrokerPoll Source = 1 // reconciliation snapshot pulls
	SourceBrokerPush Source = 2 // signed webhook events
	SourceManual     Source = 3 // operator and in-process writes
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeStop   = "STOP"
)

const (
	ExecutionStyleInstant = "INSTANT"
	ExecutionStyleTWAP    = "TWAP"
)

// Order is the central entity. ClientOrderID is derived deterministically from
// order content and is immutable once persisted; its uniqueness constraint is
// the only mutual-exclusion primitive for concurrent create races.
type Order struct {
	gorm.Model      `json:"-"`
	ClientOrderID   string      `gorm:"uniqueIndex" json:"client_order_id"`
	BrokerOrderID   *string     `gorm:"uniqueIndex" json:"broker_order_id,omitempty"`
	Symbol          string      `json:"symbol"`
	Side            string      `json:"side"`
	Quantity        float64     `json:"quantity"`
	OrderType       string      `json:"order_type"`
	LimitPrice      *float64    `json:"limit_price,omitempty"`
	StopPrice       *float64    `json:"stop_price,omitempty"`
	TimeInForce     string      `json:"time_in_force"`
	Status          OrderStatus `json:"status"`
	StatusRank      int         `json:"status_rank"`
	SourcePriority  int         `json:"source_priority"`
	IsTerminal      bool        `gorm:"index" json:"is_terminal"`
	ExecutionStyle  string      `json:"execution_style"`
	StrategyID      string      `json:"strategy_id"`
	ParentOrderID   *string     `gorm:"index" json:"parent_order_id,omitempty"`
	SliceIndex      *int        `json:"slice_index,omitempty"`
	TotalSlices     *int        `json:"total_slices,omitempty"`
	ScheduledTime   *time.Time  `json:"scheduled_time,omitempty"`
	ReplacedOrderID *string     `json:"replaced_order_id,omitempty"`
	FilledQuantity  float64     `json:"filled_quantity"`
	AvgFillPrice    float64     `json:"avg_fill_price"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	LastUpdatedAt   time.Time   `gorm:"index" json:"last_updated_at"`
	CreatedAt       time.Time   `json:"created_at"`
}

// SliceSchedule is one planned child slice of a TWAP parent. Rows are created
// atomically with the parent and transition exactly once out of PENDING via a
// compare-and-set, which keeps multiple scheduler replicas from double-firing.
type SliceSchedule struct {
	gorm.Model    `json:"-"`
	ParentOrderID string    `gorm:"uniqueIndex:idx_parent_slice" json:"parent_order_id"`
	SliceIndex    int       `gorm:"uniqueIndex:idx_parent_slice" json:"slice_index"`
	ScheduledAt   time.Time `gorm:"index" json:"scheduled_at"`
	Quantity      float64   `json:"quantity"`
	Status        string    `gorm:"index" json:"status"`
	ChildOrderID  string    `json:"child_order_id,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// Slice schedule statuses.
const (
	SliceStatusPending   = "PENDING"
	SliceStatusSubmitted = "SUBMITTED"
	SliceStatusFilled    = "FILLED"
	SliceStatusCancelled = "CANCELLED"
	SliceStatusFailed    = "FAILED"
)

// Position is a broker-reported position snapshot row.
type Position struct {
	Symbol        string  `json:"symbol"`
	Quantity      float64 `json:"quantity"`
	AvgEntryPrice float64 `json:"avg_entry_price"`
	MarketValue   float64 `json:"market_value"`
}
