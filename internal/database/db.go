package database

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/modify"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/reconcile"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// NewDatabase opens the durable store and migrates the execution schema.
// TranslateError maps driver-level unique violations onto
// gorm.ErrDuplicatedKey, which the create-race handling relies on.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&types.Order{},
		&types.SliceSchedule{},
		&modify.OrderModification{},
		&reconcile.HighWaterMark{},
		&reconcile.OrphanOrder{},
	)
	if err != nil {
		return nil, err
	}
	return db, nil
}
