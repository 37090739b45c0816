package orders

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
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

func newTestService(t *testing.T) (*Service, *broker.PaperBroker, *stubGate) {
	t.Helper()
	gate := &stubGate{state: breaker.StateOpen}
	paper := broker.NewPaperBroker()
	svc := NewService(newTestDB(t), paper, gate, metrics.New())
	svc.sleep = func(time.Duration) {}
	return svc, paper, gate
}

func marketRequest() *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:     "AAPL",
		Side:       types.SideBuy,
		Quantity:   100,
		OrderType:  types.OrderTypeMarket,
		StrategyID: "alpha-momentum",
	}
}

func TestSubmitAcceptsOrder(t *testing.T) {
	svc, paper, _ := newTestService(t)

	result, err := svc.Submit(context.Background(), marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, result.Outcome)
	require.Equal(t, types.StatusAccepted, result.Order.Status)
	require.NotNil(t, result.Order.BrokerOrderID)

	_, ok := paper.Lookup(result.Order.ClientOrderID)
	require.True(t, ok)
}

func TestSubmitIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, first.Outcome)

	second, err := svc.Submit(ctx, marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeAlreadyExists, second.Outcome)
	require.Equal(t, first.Order.ClientOrderID, second.Order.ClientOrderID)

	var count int64
	require.NoError(t, svc.db.GormDB().Model(&types.Order{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSubmitConcurrentDuplicatesCollapse(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	const callers = 8
	results := make(chan *types.SubmitResult, callers)
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Submit(ctx, marketRequest())
			results <- result
			errs <- err
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	// All callers observe the same row; exactly one of them created it.
	var created int
	var sharedID string
	for result := range results {
		require.NotNil(t, result.Order)
		if sharedID == "" {
			sharedID = result.Order.ClientOrderID
		}
		require.Equal(t, sharedID, result.Order.ClientOrderID)
		switch result.Outcome {
		case types.OutcomeCreated:
			created++
		case types.OutcomeAlreadyExists:
		default:
			t.Fatalf("unexpected outcome %q", result.Outcome)
		}
	}
	require.Equal(t, 1, created)

	var count int64
	require.NoError(t, svc.db.GormDB().Model(&types.Order{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestSubmitValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	req := marketRequest()
	req.Side = "HOLD"
	_, err := svc.Submit(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = marketRequest()
	req.OrderType = types.OrderTypeLimit
	_, err = svc.Submit(ctx, req)
	require.ErrorIs(t, err, ErrValidation)

	req = marketRequest()
	req.Quantity = 0
	_, err = svc.Submit(ctx, req)
	require.ErrorIs(t, err, ErrValidation)
}

func TestSubmitBlockedWhileTripped(t *testing.T) {
	svc, paper, gate := newTestService(t)
	gate.state = breaker.StateTripped
	gate.reason = "daily loss limit breached"

	result, err := svc.Submit(context.Background(), marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeBlocked, result.Outcome)
	require.Equal(t, "daily loss limit breached", result.Reason)

	// Nothing reached the broker and nothing was persisted, so the
	// deterministic id stays free for a later retry.
	snapshot, err := paper.OrdersSnapshot(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Empty(t, snapshot)

	var count int64
	require.NoError(t, svc.db.GormDB().Model(&types.Order{}).Count(&count).Error)
	require.EqualValues(t, 0, count)
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	svc, paper, _ := newTestService(t)

	var slept []time.Duration
	svc.sleep = func(d time.Duration) { slept = append(slept, d) }

	paper.FailNextSubmits(2)
	result, err := svc.Submit(context.Background(), marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeCreated, result.Outcome)
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, slept)
}

func TestSubmitRejectedAfterRetriesExhausted(t *testing.T) {
	svc, paper, _ := newTestService(t)

	paper.FailNextSubmits(3)
	result, err := svc.Submit(context.Background(), marketRequest())
	require.NoError(t, err)
	require.Equal(t, types.OutcomeRejected, result.Outcome)
	require.Equal(t, types.StatusRejected, result.Order.Status)
	require.True(t, result.Order.IsTerminal)
}

func TestSubmitTerminalRejectionDoesNotRetry(t *testing.T) {
	svc, _, _ := newTestService(t)

	var slept []time.Duration
	svc.sleep = func(d time.Duration) { slept = append(slept, d) }

	// Empty symbol passes request validation but the broker rejects it
	// with a non-retryable error.
	req := marketRequest()
	req.Symbol = ""
	result, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.OutcomeRejected, result.Outcome)
	require.Empty(t, slept)
	require.NotEmpty(t, result.Order.ErrorMessage)
}

func TestCancelIdempotentAndAllowedWhileTripped(t *testing.T) {
	svc, _, gate := newTestService(t)
	ctx := context.Background()

	created, err := svc.Submit(ctx, marketRequest())
	require.NoError(t, err)

	// Cancels are risk-reducing and must work while the breaker is tripped.
	gate.state = breaker.StateTripped

	cancelled, err := svc.Cancel(ctx, created.Order.ClientOrderID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, cancelled.Status)

	again, err := svc.Cancel(ctx, created.Order.ClientOrderID)
	require.NoError(t, err)
	require.Equal(t, types.StatusCancelled, again.Status)
}

func TestCancelUnknownOrder(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Cancel(context.Background(), "ord_missing")
	require.ErrorIs(t, err, ErrOrderNotFound)
}

func TestTerminalRowAcceptsFillEnrichmentOnly(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.Submit(ctx, marketRequest())
	require.NoError(t, err)
	id := created.Order.ClientOrderID

	applied, err := svc.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID: id,
		Status:        types.StatusFilled,
	}, types.SourceBrokerPush)
	require.NoError(t, err)
	require.True(t, applied)

	// A late duplicate carrying the fill data is dropped by the gate but
	// still enriches the row.
	applied, err = svc.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID:  id,
		Status:         types.StatusFilled,
		FilledQuantity: 100,
		AvgFillPrice:   101.5,
	}, types.SourceBrokerPoll)
	require.NoError(t, err)
	require.False(t, applied)

	stored, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.StatusFilled, stored.Status)
	require.EqualValues(t, 100, stored.FilledQuantity)
	require.EqualValues(t, 101.5, stored.AvgFillPrice)
}
