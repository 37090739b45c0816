package twap

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

var ErrDuplicateParent = errors.New("twap parent already exists")

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// CreateParentWithSlices persists the parent order and its full slice
// schedule in one transaction, so a crash can never leave a parent without
// its plan or orphaned slices without a parent.
func (d *Database) CreateParentWithSlices(parent *types.Order, slices []types.SliceSchedule) error {
	err := d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(parent).Error; err != nil {
			return err
		}
		for i := range slices {
			if err := tx.Create(&slices[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateParent
		}
		return err
	}
	return nil
}

// DueSlices returns pending slices whose scheduled time has passed. Slices
// missed during scheduler downtime show up here on the next poll.
func (d *Database) DueSlices(now time.Time) ([]types.SliceSchedule, error) {
	var due []types.SliceSchedule
	err := d.db.
		Where("status = ? AND scheduled_at <= ?", types.SliceStatusPending, now).
		Order("scheduled_at asc").
		Find(&due).Error
	return due, err
}

// MarkSubmitted fires the slice via compare-and-set: only one scheduler
// replica wins the PENDING -> SUBMITTED transition.
func (d *Database) MarkSubmitted(parentOrderID string, sliceIndex int, childOrderID string) (bool, error) {
	res := d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND slice_index = ? AND status = ?",
			parentOrderID, sliceIndex, types.SliceStatusPending).
		Updates(map[string]interface{}{
			"status":         types.SliceStatusSubmitted,
			"child_order_id": childOrderID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a terminal submission failure for one slice. Sibling
// slices are untouched and keep firing on their own schedule.
func (d *Database) MarkFailed(parentOrderID string, sliceIndex int, reason string) error {
	return d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND slice_index = ?", parentOrderID, sliceIndex).
		Updates(map[string]interface{}{
			"status":        types.SliceStatusFailed,
			"error_message": reason,
		}).Error
}

// RevertToPending puts a fired slice back on the schedule after a transient
// condition (circuit breaker trip mid-pass, store error) so the next poll
// retries it.
func (d *Database) RevertToPending(parentOrderID string, sliceIndex int) error {
	return d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND slice_index = ? AND status = ?",
			parentOrderID, sliceIndex, types.SliceStatusSubmitted).
		Update("status", types.SliceStatusPending).Error
}

// GetParent loads a TWAP parent order.
func (d *Database) GetParent(clientOrderID string) (*types.Order, error) {
	var parent types.Order
	if err := d.db.Where("client_order_id = ?", clientOrderID).First(&parent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &parent, nil
}

// ListSlices returns a parent's full slice schedule in slice order.
func (d *Database) ListSlices(parentOrderID string) ([]types.SliceSchedule, error) {
	var slices []types.SliceSchedule
	err := d.db.
		Where("parent_order_id = ?", parentOrderID).
		Order("slice_index asc").
		Find(&slices).Error
	return slices, err
}
