package twap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

func twapRequest(qty float64, slices int, intervalMS int64) *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:          "AAPL",
		Side:            types.SideBuy,
		Quantity:        qty,
		OrderType:       types.OrderTypeMarket,
		StrategyID:      "alpha-momentum",
		ExecutionStyle:  types.ExecutionStyleTWAP,
		SliceCount:      slices,
		SliceIntervalMS: intervalMS,
	}
}

func TestPlanTWAPQuantitiesSumExactly(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	plan, err := PlanTWAP(twapRequest(300, 7, 1000), "ord_parent", now)
	require.NoError(t, err)
	require.Len(t, plan, 7)

	total := 0.0
	for i, slice := range plan {
		require.Equal(t, i, slice.SliceIndex)
		require.Equal(t, "ord_parent", slice.ParentOrderID)
		require.Equal(t, types.SliceStatusPending, slice.Status)
		total += slice.Quantity
	}
	require.EqualValues(t, 300, total)
}

func TestPlanTWAPTimesStrictlyIncreasing(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	plan, err := PlanTWAP(twapRequest(300, 5, 2500), "ord_parent", now)
	require.NoError(t, err)

	require.True(t, plan[0].ScheduledAt.Equal(now))
	for i := 1; i < len(plan); i++ {
		require.True(t, plan[i].ScheduledAt.After(plan[i-1].ScheduledAt))
		require.Equal(t, 2500*time.Millisecond, plan[i].ScheduledAt.Sub(plan[i-1].ScheduledAt))
	}
}

func TestPlanTWAPFutureStartHonoured(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	start := now.Add(time.Hour)

	req := twapRequest(100, 2, 1000)
	req.StartTime = &start
	plan, err := PlanTWAP(req, "ord_parent", now)
	require.NoError(t, err)
	require.True(t, plan[0].ScheduledAt.Equal(start))

	// A start time already in the past falls back to now.
	past := now.Add(-time.Hour)
	req.StartTime = &past
	plan, err = PlanTWAP(req, "ord_parent", now)
	require.NoError(t, err)
	require.True(t, plan[0].ScheduledAt.Equal(now))
}

func TestPlanTWAPSingleSlice(t *testing.T) {
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	plan, err := PlanTWAP(twapRequest(100, 1, 1000), "ord_parent", now)
	require.NoError(t, err)
	require.Len(t, plan, 1)
	require.EqualValues(t, 100, plan[0].Quantity)
}

func TestPlanTWAPValidation(t *testing.T) {
	now := time.Now()

	_, err := PlanTWAP(twapRequest(100, 0, 1000), "ord_parent", now)
	require.ErrorIs(t, err, orders.ErrValidation)

	_, err = PlanTWAP(twapRequest(100, 3, 0), "ord_parent", now)
	require.ErrorIs(t, err, orders.ErrValidation)

	_, err = PlanTWAP(twapRequest(0, 3, 1000), "ord_parent", now)
	require.ErrorIs(t, err, orders.ErrValidation)
}
