package twap

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

type stubGate struct {
	state  breaker.State
	reason string
}

func (g *stubGate) Check(context.Context) (breaker.State, string) {
	return g.state, g.reason
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Order{}, &types.SliceSchedule{}))
	return db
}

func TestCreateTWAPOrderPersistsParentAndSlices(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, &stubGate{state: breaker.StateOpen}, metrics.New())

	result, err := svc.CreateTWAPOrder(context.Background(), twapRequest(300, 3, 1000))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, result.Outcome)

	parent := result.Order
	require.Equal(t, types.StatusAccepted, parent.Status)
	require.Equal(t, types.ExecutionStyleTWAP, parent.ExecutionStyle)
	require.NotNil(t, parent.TotalSlices)
	require.Equal(t, 3, *parent.TotalSlices)

	slices, err := svc.DB().ListSlices(parent.ClientOrderID)
	require.NoError(t, err)
	require.Len(t, slices, 3)
}

func TestCreateTWAPOrderIdempotent(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, &stubGate{state: breaker.StateOpen}, metrics.New())
	ctx := context.Background()

	first, err := svc.CreateTWAPOrder(ctx, twapRequest(300, 3, 1000))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, first.Outcome)

	second, err := svc.CreateTWAPOrder(ctx, twapRequest(300, 3, 1000))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeAlreadyExists, second.Outcome)
	require.Equal(t, first.Order.ClientOrderID, second.Order.ClientOrderID)

	slices, err := svc.DB().ListSlices(first.Order.ClientOrderID)
	require.NoError(t, err)
	require.Len(t, slices, 3)
}

func TestCreateTWAPOrderBlockedWhileTripped(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, &stubGate{state: breaker.StateTripped, reason: "volatility halt"}, metrics.New())

	result, err := svc.CreateTWAPOrder(context.Background(), twapRequest(300, 3, 1000))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeBlocked, result.Outcome)
	require.Equal(t, "volatility halt", result.Reason)

	var count int64
	require.NoError(t, gdb.Model(&types.Order{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestCreateTWAPOrderPlanValidationSurfaces(t *testing.T) {
	gdb := newTestDB(t)
	svc := NewService(gdb, &stubGate{state: breaker.StateOpen}, metrics.New())

	req := twapRequest(300, 0, 1000)
	_, err := svc.CreateTWAPOrder(context.Background(), req)
	require.Error(t, err)
}
