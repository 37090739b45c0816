package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

type stubGate struct {
	state breaker.State
}

func (g *stubGate) Check(context.Context) (breaker.State, string) {
	return g.state, ""
}

// failingBroker errors on every snapshot fetch.
type failingBroker struct {
	broker.Broker
}

func (f *failingBroker) OrdersSnapshot(context.Context, time.Time) ([]broker.BrokerOrder, error) {
	return nil, errors.New("broker unavailable")
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&types.Order{}, &types.SliceSchedule{}, &HighWaterMark{}, &OrphanOrder{}))
	return db
}

func newEngineFixture(t *testing.T) (*Engine, *orders.Service, *broker.PaperBroker, *gorm.DB) {
	t.Helper()
	gdb := newTestDB(t)
	paper := broker.NewPaperBroker()
	orderSvc := orders.NewService(gdb, paper, &stubGate{state: breaker.StateOpen}, metrics.New())
	engine := NewEngine(gdb, orderSvc, paper, metrics.New(), Config{
		StaleAfter:  15 * time.Minute,
		OrphanGrace: 2 * time.Minute,
	})
	return engine, orderSvc, paper, gdb
}

func submitOrder(t *testing.T, orderSvc *orders.Service) *types.Order {
	t.Helper()
	result, err := orderSvc.Submit(context.Background(), &types.OrderRequest{
		Symbol:     "AAPL",
		Side:       types.SideBuy,
		Quantity:   100,
		OrderType:  types.OrderTypeMarket,
		StrategyID: "alpha-momentum",
	})
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, result.Outcome)
	return result.Order
}

func TestRunOncePullsBrokerTruth(t *testing.T) {
	engine, orderSvc, paper, _ := newEngineFixture(t)
	ctx := context.Background()

	order := submitOrder(t, orderSvc)
	_, err := paper.Fill(order.ClientOrderID, 199.5)
	require.NoError(t, err)

	report, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Updated)

	stored, err := orderSvc.Get(ctx, order.ClientOrderID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, stored.Status)
	require.EqualValues(t, 100, stored.FilledQuantity)
	require.EqualValues(t, 199.5, stored.AvgFillPrice)
}

func TestRunOnceNeverDowngradesLocalState(t *testing.T) {
	engine, orderSvc, _, _ := newEngineFixture(t)
	ctx := context.Background()

	// Local already saw the fill through the webhook; the broker snapshot
	// still reports ACCEPTED.
	order := submitOrder(t, orderSvc)
	applied, err := orderSvc.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID: order.ClientOrderID,
		Status:        types.StatusFilled,
	}, types.SourceBrokerPush)
	require.NoError(t, err)
	require.True(t, applied)

	_, err = engine.RunOnce(ctx)
	require.NoError(t, err)

	stored, err := orderSvc.Get(ctx, order.ClientOrderID)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, stored.Status)
}

func TestOrphanRecordedExactlyOnce(t *testing.T) {
	engine, _, paper, _ := newEngineFixture(t)
	ctx := context.Background()

	paper.InjectOrder(broker.BrokerOrder{
		BrokerOrderID: "BRK-MANUAL",
		Symbol:        "TSLA",
		Side:          types.SideBuy,
		Quantity:      25,
		Status:        types.StatusAccepted,
		CreatedAt:     time.Now().Add(-10 * time.Minute),
		UpdatedAt:     time.Now(),
	})

	report, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Orphans)

	// The same broker order on the next pass does not duplicate the record.
	paper.InjectOrder(broker.BrokerOrder{
		BrokerOrderID: "BRK-MANUAL",
		Symbol:        "TSLA",
		Side:          types.SideBuy,
		Quantity:      25,
		Status:        types.StatusAccepted,
		CreatedAt:     time.Now().Add(-10 * time.Minute),
		UpdatedAt:     time.Now(),
	})
	report, err = engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.Orphans)

	orphans, err := engine.DB().ListUnresolvedOrphans()
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	require.Equal(t, "BRK-MANUAL", orphans[0].BrokerOrderID)
	require.Equal(t, OrphanStatusUntracked, orphans[0].Status)
}

func TestFreshUnmatchedOrderNotOrphaned(t *testing.T) {
	engine, _, paper, _ := newEngineFixture(t)

	// Created just now: the local write may still be in flight.
	paper.InjectOrder(broker.BrokerOrder{
		BrokerOrderID: "BRK-FRESH",
		Symbol:        "TSLA",
		Quantity:      25,
		Status:        types.StatusAccepted,
	})

	report, err := engine.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, report.Orphans)
}

func TestStaleOrderCancelled(t *testing.T) {
	engine, orderSvc, _, _ := newEngineFixture(t)
	ctx := context.Background()

	// A PENDING_NEW row whose broker submission outcome was lost 20 minutes
	// ago and that the broker does not report.
	old := time.Now().Add(-20 * time.Minute)
	require.NoError(t, orderSvc.DB().CreateOrder(&types.Order{
		ClientOrderID:  "ord_stuck",
		Symbol:         "AAPL",
		Side:           types.SideBuy,
		Quantity:       100,
		OrderType:      types.OrderTypeMarket,
		Status:         types.StatusPendingNew,
		StatusRank:     types.StatusPendingNew.Rank(),
		SourcePriority: int(types.SourceManual),
		ExecutionStyle: types.ExecutionStyleInstant,
		LastUpdatedAt:  old,
		CreatedAt:      old,
	}))

	report, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.StaleCancelled)

	stored, err := orderSvc.Get(ctx, "ord_stuck")
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, stored.Status)
	require.Equal(t, "stale order cleanup", stored.ErrorMessage)
}

func TestLiveOrderReportedByBrokerNotCancelled(t *testing.T) {
	engine, orderSvc, paper, _ := newEngineFixture(t)
	ctx := context.Background()

	order := submitOrder(t, orderSvc)

	// Age the row past the stale cutoff; the broker still reports it live.
	require.NoError(t, orderSvc.DB().GormDB().Model(&types.Order{}).
		Where("client_order_id = ?", order.ClientOrderID).
		Update("last_updated_at", time.Now().Add(-20*time.Minute)).Error)
	_, ok := paper.Lookup(order.ClientOrderID)
	require.True(t, ok)

	report, err := engine.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.StaleCancelled)

	stored, err := orderSvc.Get(ctx, order.ClientOrderID)
	require.NoError(t, err)
	require.False(t, stored.IsTerminal)
}

func TestFetchFailureLeavesWatermarkUntouched(t *testing.T) {
	gdb := newTestDB(t)
	paper := broker.NewPaperBroker()
	orderSvc := orders.NewService(gdb, paper, &stubGate{state: breaker.StateOpen}, metrics.New())
	engine := NewEngine(gdb, orderSvc, &failingBroker{}, metrics.New(), Config{})

	seed := time.Now().Add(-time.Hour)
	_, err := engine.DB().GetOrCreateHighWaterMark(defaultStream, seed)
	require.NoError(t, err)

	_, err = engine.RunOnce(context.Background())
	require.Error(t, err)

	hwm, err := engine.DB().GetOrCreateHighWaterMark(defaultStream, time.Now())
	require.NoError(t, err)
	require.WithinDuration(t, seed, hwm.LastCheckTime, time.Second)
}

func TestWatermarkAdvancesAfterCleanPass(t *testing.T) {
	engine, _, _, _ := newEngineFixture(t)

	before := time.Now()
	_, err := engine.RunOnce(context.Background())
	require.NoError(t, err)

	hwm, err := engine.DB().GetOrCreateHighWaterMark(defaultStream, time.Time{})
	require.NoError(t, err)
	require.WithinDuration(t, before, hwm.LastCheckTime, 5*time.Second)
}
