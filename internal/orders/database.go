package orders

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
	ErrOrderNotFound  = errors.New("order not found")
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GormDB exposes the underlying connection for packages that share tables
// with the order store.
func (d *Database) GormDB() *gorm.DB {
	return d.db
}

// CreateOrder inserts a new order row. The client_order_id primary-key
// constraint resolves concurrent duplicate submissions: the second insert
// fails and the caller reads back the winner's row.
func (d *Database) CreateOrder(order *types.Order) error {
	if err := d.db.Create(order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateOrder
		}
		return err
	}
	return nil
}

func (d *Database) GetOrder(clientOrderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("client_order_id = ?", clientOrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderByBrokerID(brokerOrderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("broker_order_id = ?", brokerOrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// ApplyRankGatedUpdate performs the atomic compare-and-swap behind every
// status mutation. The update lands only when the row is non-terminal and the
// incoming (rank, priority) beats the stored pair: a strictly higher rank
// always wins, an equal rank needs a higher-priority source. Everything else
// is a silent no-op, which is what makes out-of-order webhook/poll delivery
// safe.
func (d *Database) ApplyRankGatedUpdate(upd types.StatusUpdate, source types.Source) (bool, error) {
	now := time.Now()
	fields := map[string]interface{}{
		"status":          upd.Status,
		"status_rank":     upd.Status.Rank(),
		"source_priority": int(source),
		"is_terminal":     upd.Status.Terminal(),
		"last_updated_at": now,
		"updated_at":      now,
	}
	if upd.BrokerOrderID != "" {
		fields["broker_order_id"] = upd.BrokerOrderID
	}
	if upd.FilledQuantity > 0 {
		fields["filled_quantity"] = upd.FilledQuantity
	}
	if upd.AvgFillPrice > 0 {
		fields["avg_fill_price"] = upd.AvgFillPrice
	}
	if upd.Reason != "" {
		fields["error_message"] = upd.Reason
	}

	res := d.db.Model(&types.Order{}).
		Where("client_order_id = ? AND is_terminal = ?", upd.ClientOrderID, false).
		Where("status_rank < ? OR (status_rank = ? AND source_priority < ?)",
			upd.Status.Rank(), upd.Status.Rank(), int(source)).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// EnrichTerminalFill updates fill data on a terminal order without touching
// its status. Terminal rows accept data enrichment only.
func (d *Database) EnrichTerminalFill(clientOrderID string, filledQty, avgPrice float64) (bool, error) {
	fields := map[string]interface{}{
		"last_updated_at": time.Now(),
	}
	if filledQty > 0 {
		fields["filled_quantity"] = filledQty
	}
	if avgPrice > 0 {
		fields["avg_fill_price"] = avgPrice
	}
	if len(fields) == 1 {
		return false, nil
	}

	res := d.db.Model(&types.Order{}).
		Where("client_order_id = ? AND is_terminal = ?", clientOrderID, true).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// AttachBrokerOrderID records the broker's id on a row that predates the
// broker acknowledgement, without competing in the status gate.
func (d *Database) AttachBrokerOrderID(clientOrderID, brokerOrderID string) error {
	return d.db.Model(&types.Order{}).
		Where("client_order_id = ? AND broker_order_id IS NULL", clientOrderID).
		Update("broker_order_id", brokerOrderID).Error
}

// ListStaleNonTerminal returns live orders whose last update is older than the
// cutoff. TWAP parents are local containers that never reach the broker, and
// dry-run orders were never submitted, so both are excluded.
func (d *Database) ListStaleNonTerminal(cutoff time.Time) ([]types.Order, error) {
	var stale []types.Order
	err := d.db.
		Where("is_terminal = ? AND last_updated_at < ?", false, cutoff).
		Where("total_slices IS NULL").
		Where("status <> ?", types.StatusDryRun).
		Find(&stale).Error
	return stale, err
}

// UpdateSliceForChild moves the parent's slice row to a terminal slice status
// once the child order reached one. Only a SUBMITTED slice can move.
func (d *Database) UpdateSliceForChild(parentOrderID string, sliceIndex int, sliceStatus, errorMessage string) error {
	fields := map[string]interface{}{"status": sliceStatus}
	if errorMessage != "" {
		fields["error_message"] = errorMessage
	}
	return d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND slice_index = ? AND status = ?",
			parentOrderID, sliceIndex, types.SliceStatusSubmitted).
		Updates(fields).Error
}

// CountSlicesWithStatus counts a parent's slices in the given status.
func (d *Database) CountSlicesWithStatus(parentOrderID, status string) (int64, error) {
	var n int64
	err := d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND status = ?", parentOrderID, status).
		Count(&n).Error
	return n, err
}

// CountNonTerminalSlices reports how many slices of a parent are still live.
func (d *Database) CountNonTerminalSlices(parentOrderID string) (int64, error) {
	var n int64
	err := d.db.Model(&types.SliceSchedule{}).
		Where("parent_order_id = ? AND status IN ?", parentOrderID,
			[]string{types.SliceStatusPending, types.SliceStatusSubmitted}).
		Count(&n).Error
	return n, err
}
