package twap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// trippingGate reports open for the first n checks, then tripped.
type trippingGate struct {
	openChecks int
	calls      int
}

func (g *trippingGate) Check(context.Context) (breaker.State, string) {
	g.calls++
	if g.calls <= g.openChecks {
		return breaker.StateOpen, ""
	}
	return breaker.StateTripped, "tripped mid-pass"
}

func seedParentWithSlices(t *testing.T, db *Database, parentID string, slices []types.SliceSchedule) *types.Order {
	t.Helper()
	now := time.Now()
	totalSlices := len(slices)
	parent := &types.Order{
		ClientOrderID:  parentID,
		Symbol:         "AAPL",
		Side:           types.SideBuy,
		Quantity:       300,
		OrderType:      types.OrderTypeMarket,
		TimeInForce:    "DAY",
		Status:         types.StatusAccepted,
		StatusRank:     types.StatusAccepted.Rank(),
		SourcePriority: int(types.SourceManual),
		ExecutionStyle: types.ExecutionStyleTWAP,
		StrategyID:     "alpha-momentum",
		TotalSlices:    &totalSlices,
		LastUpdatedAt:  now,
		CreatedAt:      now,
	}
	require.NoError(t, db.CreateParentWithSlices(parent, slices))
	return parent
}

func dueSlices(parentID string, quantities ...float64) []types.SliceSchedule {
	past := time.Now().Add(-time.Minute)
	out := make([]types.SliceSchedule, 0, len(quantities))
	for i, qty := range quantities {
		out = append(out, types.SliceSchedule{
			ParentOrderID: parentID,
			SliceIndex:    i,
			ScheduledAt:   past.Add(time.Duration(i) * time.Second),
			Quantity:      qty,
			Status:        types.SliceStatusPending,
		})
	}
	return out
}

func newSchedulerFixture(t *testing.T, gate orders.CircuitGate) (*Scheduler, *orders.Service, *Database, *gorm.DB) {
	t.Helper()
	gdb := newTestDB(t)
	db := NewDatabase(gdb)
	orderSvc := orders.NewService(gdb, broker.NewPaperBroker(), gate, metrics.New())
	sched := NewScheduler(db, orderSvc, gate, metrics.New(), time.Second)
	return sched, orderSvc, db, gdb
}

func TestFireDueSlicesSubmitsChildren(t *testing.T) {
	sched, orderSvc, db, _ := newSchedulerFixture(t, &stubGate{state: breaker.StateOpen})
	ctx := context.Background()

	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", 100, 100, 100))

	require.NoError(t, sched.FireDueSlices(ctx))

	slices, err := db.ListSlices("ord_parent")
	require.NoError(t, err)
	for i, slice := range slices {
		require.Equal(t, types.SliceStatusSubmitted, slice.Status)
		require.Equal(t, orders.DeriveChildID("ord_parent", i), slice.ChildOrderID)

		child, err := orderSvc.Get(ctx, slice.ChildOrderID)
		require.NoError(t, err)
		require.NotNil(t, child)
		require.Equal(t, types.StatusAccepted, child.Status)
		require.EqualValues(t, 100, child.Quantity)
		require.NotNil(t, child.ParentOrderID)
		require.Equal(t, "ord_parent", *child.ParentOrderID)
	}
}

func TestFireDueSlicesDoesNotDoubleFire(t *testing.T) {
	sched, _, db, gdb := newSchedulerFixture(t, &stubGate{state: breaker.StateOpen})
	ctx := context.Background()

	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", 100, 100, 100))

	// A competing replica already claimed slice 1.
	fired, err := db.MarkSubmitted("ord_parent", 1, orders.DeriveChildID("ord_parent", 1))
	require.NoError(t, err)
	require.True(t, fired)

	require.NoError(t, sched.FireDueSlices(ctx))

	// Only the two unclaimed slices produced child orders.
	var count int64
	require.NoError(t, gdb.Model(&types.Order{}).Where("parent_order_id = ?", "ord_parent").Count(&count).Error)
	require.EqualValues(t, 2, count)

	// A second pass finds nothing pending.
	require.NoError(t, sched.FireDueSlices(ctx))
	require.NoError(t, gdb.Model(&types.Order{}).Where("parent_order_id = ?", "ord_parent").Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestFireDueSlicesDeferredWhileTripped(t *testing.T) {
	sched, _, db, _ := newSchedulerFixture(t, &stubGate{state: breaker.StateTripped, reason: "halt"})

	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", 100, 100))

	require.NoError(t, sched.FireDueSlices(context.Background()))

	slices, err := db.ListSlices("ord_parent")
	require.NoError(t, err)
	for _, slice := range slices {
		require.Equal(t, types.SliceStatusPending, slice.Status)
	}
}

func TestFireDueSlicesRevertsWhenTrippedMidPass(t *testing.T) {
	// Gate opens for the pass-level check, then trips before the child
	// submission check.
	sched, _, db, _ := newSchedulerFixture(t, &trippingGate{openChecks: 1})

	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", 100))

	require.NoError(t, sched.FireDueSlices(context.Background()))

	slices, err := db.ListSlices("ord_parent")
	require.NoError(t, err)
	require.Equal(t, types.SliceStatusPending, slices[0].Status)
}

func TestFailedSliceDoesNotCancelSiblings(t *testing.T) {
	sched, orderSvc, db, _ := newSchedulerFixture(t, &stubGate{state: breaker.StateOpen})
	ctx := context.Background()

	// Slice 0 carries an invalid quantity the broker rejects terminally.
	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", -10, 100))

	require.NoError(t, sched.FireDueSlices(ctx))

	slices, err := db.ListSlices("ord_parent")
	require.NoError(t, err)
	require.Equal(t, types.SliceStatusFailed, slices[0].Status)
	require.NotEmpty(t, slices[0].ErrorMessage)
	require.Equal(t, types.SliceStatusSubmitted, slices[1].Status)

	parent, err := orderSvc.Get(ctx, "ord_parent")
	require.NoError(t, err)
	require.False(t, parent.IsTerminal)
}

func TestChildFillsFinalizeParent(t *testing.T) {
	sched, orderSvc, db, _ := newSchedulerFixture(t, &stubGate{state: breaker.StateOpen})
	ctx := context.Background()

	seedParentWithSlices(t, db, "ord_parent", dueSlices("ord_parent", 150, 150))
	require.NoError(t, sched.FireDueSlices(ctx))

	for i := 0; i < 2; i++ {
		childID := orders.DeriveChildID("ord_parent", i)
		applied, err := orderSvc.ApplyStatusUpdate(ctx, types.StatusUpdate{
			ClientOrderID:  childID,
			Status:         types.StatusFilled,
			FilledQuantity: 150,
			AvgFillPrice:   200,
		}, types.SourceBrokerPush)
		require.NoError(t, err)
		require.True(t, applied)
	}

	slices, err := db.ListSlices("ord_parent")
	require.NoError(t, err)
	for _, slice := range slices {
		require.Equal(t, types.SliceStatusFilled, slice.Status)
	}

	parent, err := orderSvc.Get(ctx, "ord_parent")
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, parent.Status)
	require.True(t, parent.IsTerminal)
}
