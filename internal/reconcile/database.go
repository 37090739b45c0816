package reconcile

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetOrCreateHighWaterMark loads the stream's watermark, seeding it with the
// default lookback on first run.
func (d *Database) GetOrCreateHighWaterMark(stream string, initial time.Time) (*HighWaterMark, error) {
	var hwm HighWaterMark
	err := d.db.Where("stream = ?", stream).First(&hwm).Error
	if err == nil {
		return &hwm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hwm = HighWaterMark{Stream: stream, LastCheckTime: initial}
	if err := d.db.Create(&hwm).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Another replica seeded it first.
			if err := d.db.Where("stream = ?", stream).First(&hwm).Error; err != nil {
				return nil, err
			}
			return &hwm, nil
		}
		return nil, err
	}
	return &hwm, nil
}

// AdvanceHighWaterMark moves the watermark forward. Called only after a pass
// completed without fatal error.
func (d *Database) AdvanceHighWaterMark(stream string, to time.Time) error {
	return d.db.Model(&HighWaterMark{}).
		Where("stream = ? AND last_check_time < ?", stream, to).
		Update("last_check_time", to).Error
}

// RecordOrphan inserts an orphan row for a broker order, exactly once per
// broker_order_id. Returns true when this call created the row.
func (d *Database) RecordOrphan(orphan *OrphanOrder) (bool, error) {
	if err := d.db.Create(orphan).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResolveOrphan marks an orphan disposed of.
func (d *Database) ResolveOrphan(brokerOrderID string, at time.Time) error {
	return d.db.Model(&OrphanOrder{}).
		Where("broker_order_id = ? AND resolved_at IS NULL", brokerOrderID).
		Updates(map[string]interface{}{
			"status":      OrphanStatusResolved,
			"resolved_at": at,
		}).Error
}

// ListUnresolvedOrphans returns orphans awaiting disposal.
func (d *Database) ListUnresolvedOrphans() ([]OrphanOrder, error) {
	var orphans []OrphanOrder
	err := d.db.Where("resolved_at IS NULL").Order("detected_at asc").Find(&orphans).Error
	return orphans, err
}
