package modify

import (
	"errors"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

var ErrDuplicateModification = errors.New("modification already recorded")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetByIdempotencyKey returns the recorded modification for a retried request.
func (d *Database) GetByIdempotencyKey(originalID, idempotencyKey string) (*OrderModification, error) {
	var mod OrderModification
	err := d.db.
		Where("original_client_order_id = ? AND idempotency_key = ?", originalID, idempotencyKey).
		First(&mod).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &mod, nil
}

// NextSeq allocates the next modification sequence for an original order. The
// unique (original, seq) index catches the race between two concurrent
// replaces; callers retry on ErrDuplicateModification.
func (d *Database) NextSeq(originalID string) (int, error) {
	var maxSeq int
	err := d.db.Model(&OrderModification{}).
		Where("original_client_order_id = ?", originalID).
		Select("COALESCE(MAX(modification_seq), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return 0, err
	}
	return maxSeq + 1, nil
}

// CreateWithSuccessor writes the ledger row and the successor order in one
// transaction, so the lineage link can never dangle.
func (d *Database) CreateWithSuccessor(mod *OrderModification, successor *types.Order) error {
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mod).Error; err != nil {
			return err
		}
		return tx.Create(successor).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateModification
		}
		return err
	}
	return nil
}

// UpdateStatus moves the modification to its outcome state.
func (d *Database) UpdateStatus(mod *OrderModification, status, errorMessage string) error {
	mod.Status = status
	mod.ErrorMessage = errorMessage
	return d.db.Save(mod).Error
}

// ListByOriginal returns the modification lineage for an order, oldest first.
func (d *Database) ListByOriginal(originalID string) ([]OrderModification, error) {
	var mods []OrderModification
	err := d.db.
		Where("original_client_order_id = ?", originalID).
		Order("modification_seq asc").
		Find(&mods).Error
	return mods, err
}
