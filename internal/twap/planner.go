package twap

import (
	"fmt"
	"time"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// PlanTWAP partitions the total quantity across sliceCount rows with strictly
// increasing scheduled times. The last slice absorbs the division remainder so
// the slice quantities always sum exactly to the total, and it is emitted even
// when that remainder leaves it with nothing extra — the schedule always has
// exactly sliceCount rows.
func PlanTWAP(req *types.OrderRequest, parentOrderID string, now time.Time) ([]types.SliceSchedule, error) {
	if req.SliceCount < 1 {
		return nil, fmt.Errorf("%w: slice_count must be at least 1", orders.ErrValidation)
	}
	if req.SliceIntervalMS <= 0 {
		return nil, fmt.Errorf("%w: slice_interval_ms must be positive", orders.ErrValidation)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", orders.ErrValidation)
	}

	start := now
	if req.StartTime != nil && req.StartTime.After(now) {
		start = *req.StartTime
	}
	interval := time.Duration(req.SliceIntervalMS) * time.Millisecond

	perSlice := req.Quantity / float64(req.SliceCount)
	slices := make([]types.SliceSchedule, 0, req.SliceCount)
	allocated := 0.0
	for i := 0; i < req.SliceCount; i++ {
		qty := perSlice
		if i == req.SliceCount-1 {
			qty = req.Quantity - allocated
		}
		allocated += qty
		slices = append(slices, types.SliceSchedule{
			ParentOrderID: parentOrderID,
			SliceIndex:    i,
			ScheduledAt:   start.Add(time.Duration(i) * interval),
			Quantity:      qty,
			Status:        types.SliceStatusPending,
		})
	}
	return slices, nil
}
