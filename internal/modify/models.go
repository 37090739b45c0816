package modify

import (
	"time"

	"gorm.io/gorm"
)

// Modification statuses. Precondition rejections (unknown original, terminal
// original, breaker tripped) never reach the ledger: no successor is created
// and a retry with the same idempotency key may legitimately succeed later.
const (
	StatusPending  = "PENDING"
	StatusAccepted = "ACCEPTED"
	StatusFailed   = "FAILED"
)

// OrderModification is the ledger row linking an original order to its
// replacement. (original, seq) orders the lineage; (original, idempotency_key)
// makes retried replace requests resolve to one recorded outcome.
type OrderModification struct {
	gorm.Model            `json:"-"`
	OriginalClientOrderID string    `gorm:"uniqueIndex:idx_original_seq;uniqueIndex:idx_original_key" json:"original_client_order_id"`
	ModificationSeq       int       `gorm:"uniqueIndex:idx_original_seq" json:"modification_seq"`
	IdempotencyKey        string    `gorm:"uniqueIndex:idx_original_key" json:"idempotency_key"`
	NewClientOrderID      string    `json:"new_client_order_id,omitempty"`
	Status                string    `json:"status"`
	Changes               string    `json:"changes"` // requested changes, JSON-encoded
	Reason                string    `json:"reason,omitempty"`
	ErrorMessage          string    `json:"error_message,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}
