package reconcile

import (
	"time"

	"gorm.io/gorm"
)

// HighWaterMark tracks the last successfully completed reconciliation window
// per stream. It only advances after a full pass, so a crash mid-pass rescans
// the same window; the rank gate makes the overlap harmless.
type HighWaterMark struct {
	gorm.Model    `json:"-"`
	Stream        string    `gorm:"uniqueIndex" json:"stream"`
	LastCheckTime time.Time `json:"last_check_time"`
}

// Orphan order statuses.
const (
	OrphanStatusUntracked = "UNTRACKED"
	OrphanStatusResolved  = "RESOLVED"
)

// OrphanOrder is a broker-reported order with no matching local row: a manual
// broker-side trade, or a local write that was lost. Disposal (cancel, adopt,
// ignore) is an operator or policy decision recorded via ResolvedAt.
type OrphanOrder struct {
	gorm.Model    `json:"-"`
	BrokerOrderID string     `gorm:"uniqueIndex" json:"broker_order_id"`
	Symbol        string     `json:"symbol"`
	Side          string     `json:"side"`
	Quantity      float64    `json:"quantity"`
	Status        string     `json:"status"`
	DetectedAt    time.Time  `json:"detected_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
