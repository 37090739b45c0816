package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/broker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

const (
	defaultStream   = "broker_orders"
	defaultLookback = 24 * time.Hour
)

// Config holds the reconciliation tunables.
type Config struct {
	// StaleAfter is how long a live order may go without an update before the
	// engine cancels it at the broker and locally.
	StaleAfter time.Duration
	// OrphanGrace is how old an unmatched broker order must be before it is
	// recorded as an orphan, absorbing replication lag between the broker
	// accepting an order and the local write landing.
	OrphanGrace time.Duration
}

// Report summarizes one reconciliation pass.
type Report struct {
	Checked        int `json:"checked"`
	Updated        int `json:"updated"`
	Orphans        int `json:"orphans"`
	StaleCancelled int `json:"stale_cancelled"`
	Skipped        int `json:"skipped"`
}

// Engine diffs the broker's authoritative order state against the local store
// and heals discrepancies. It only ever proposes updates through the rank
// gate; it never writes order state blindly.
//
// A pass moves through fetch -> diff -> heal -> advance. A fetch failure
// aborts the pass with the watermark untouched; per-order failures are logged
// and skipped so one bad order cannot starve the rest.
type Engine struct {
	db      *Database
	orders  *orders.Service
	broker  broker.Broker
	metrics *metrics.Metrics
	cfg     Config

	stream string
	now    func() time.Time
}

// NewEngine creates a reconciliation engine.
func NewEngine(gormDB *gorm.DB, orderSvc *orders.Service, brk broker.Broker, m *metrics.Metrics, cfg Config) *Engine {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.OrphanGrace <= 0 {
		cfg.OrphanGrace = 2 * time.Minute
	}
	return &Engine{
		db:      NewDatabase(gormDB),
		orders:  orderSvc,
		broker:  brk,
		metrics: m,
		cfg:     cfg,
		stream:  defaultStream,
		now:     time.Now,
	}
}

// DB exposes the reconciliation store (orphan listing, watermark inspection).
func (e *Engine) DB() *Database {
	return e.db
}

// RunOnce executes a single reconciliation pass.
func (e *Engine) RunOnce(ctx context.Context) (*Report, error) {
	logger := log.With().Str("component", "reconciliation").Logger()
	start := e.now()

	hwm, err := e.db.GetOrCreateHighWaterMark(e.stream, start.Add(-defaultLookback))
	if err != nil {
		e.metrics.ReconcileRun("error")
		return nil, fmt.Errorf("failed to load high-water mark: %w", err)
	}

	logger.Info().
		Time("window_start", hwm.LastCheckTime).
		Msg("fetching broker snapshot")

	snapshot, err := e.broker.OrdersSnapshot(ctx, hwm.LastCheckTime)
	if err != nil {
		// Watermark untouched: the next tick rescans the same window.
		e.metrics.ReconcileRun("fetch_failed")
		return nil, fmt.Errorf("broker snapshot fetch failed: %w", err)
	}

	report := &Report{}
	seen := make(map[string]bool, len(snapshot))

	for i := range snapshot {
		bo := snapshot[i]
		if bo.ClientOrderID != "" {
			seen[bo.ClientOrderID] = true
		}
		if err := e.reconcileOrder(ctx, &bo, report); err != nil {
			report.Skipped++
			logger.Error().
				Err(err).
				Str("broker_order_id", bo.BrokerOrderID).
				Str("client_order_id", bo.ClientOrderID).
				Msg("failed to reconcile order, skipping")
		}
	}

	if err := e.cancelStaleOrders(ctx, seen, report); err != nil {
		e.metrics.ReconcileRun("error")
		return nil, err
	}

	if err := e.db.AdvanceHighWaterMark(e.stream, start); err != nil {
		e.metrics.ReconcileRun("error")
		return nil, fmt.Errorf("failed to advance high-water mark: %w", err)
	}

	e.metrics.ReconcileRun("ok")
	logger.Info().
		Int("checked", report.Checked).
		Int("updated", report.Updated).
		Int("orphans", report.Orphans).
		Int("stale_cancelled", report.StaleCancelled).
		Int("skipped", report.Skipped).
		Msg("reconciliation pass complete")
	return report, nil
}

// reconcileOrder matches one broker order against the local store. Known
// orders get a rank-gated update proposal; unknown orders past the grace
// period become orphans.
func (e *Engine) reconcileOrder(ctx context.Context, bo *broker.BrokerOrder, report *Report) error {
	report.Checked++

	local, err := e.lookupLocal(bo)
	if err != nil {
		return err
	}

	if local == nil {
		if e.now().Sub(bo.CreatedAt) < e.cfg.OrphanGrace {
			// Too fresh: the local webhook or insert may still be in flight.
			return nil
		}
		created, err := e.db.RecordOrphan(&OrphanOrder{
			BrokerOrderID: bo.BrokerOrderID,
			Symbol:        bo.Symbol,
			Side:          bo.Side,
			Quantity:      bo.Quantity,
			Status:        OrphanStatusUntracked,
			DetectedAt:    e.now(),
		})
		if err != nil {
			return err
		}
		if created {
			report.Orphans++
			e.metrics.OrphanDetected()
			log.Warn().
				Str("component", "reconciliation").
				Str("broker_order_id", bo.BrokerOrderID).
				Str("symbol", bo.Symbol).
				Msg("orphan broker order detected")
		}
		return nil
	}

	if local.BrokerOrderID == nil && bo.BrokerOrderID != "" {
		if err := e.orders.DB().AttachBrokerOrderID(local.ClientOrderID, bo.BrokerOrderID); err != nil {
			return err
		}
	}

	applied, err := e.orders.ApplyStatusUpdate(ctx, types.StatusUpdate{
		ClientOrderID:  local.ClientOrderID,
		BrokerOrderID:  bo.BrokerOrderID,
		Status:         bo.Status,
		FilledQuantity: bo.FilledQuantity,
		AvgFillPrice:   bo.AvgFillPrice,
	}, types.SourceBrokerPoll)
	if err != nil {
		return err
	}
	if applied {
		report.Updated++
	}
	return nil
}

// lookupLocal finds the local row for a broker order, first by the client
// reference, then by broker id for rows the broker accepted before the local
// acknowledgement landed.
func (e *Engine) lookupLocal(bo *broker.BrokerOrder) (*types.Order, error) {
	if bo.ClientOrderID != "" {
		local, err := e.orders.DB().GetOrder(bo.ClientOrderID)
		if err != nil || local != nil {
			return local, err
		}
	}
	if bo.BrokerOrderID != "" {
		return e.orders.DB().GetOrderByBrokerID(bo.BrokerOrderID)
	}
	return nil, nil
}

// cancelStaleOrders is the self-healing half of the loop: live local orders
// the broker no longer reports and that have not moved within StaleAfter get
// a broker cancel attempt and a local CANCELLED proposal.
func (e *Engine) cancelStaleOrders(ctx context.Context, seen map[string]bool, report *Report) error {
	logger := log.With().Str("component", "reconciliation").Logger()

	stale, err := e.orders.DB().ListStaleNonTerminal(e.now().Add(-e.cfg.StaleAfter))
	if err != nil {
		return fmt.Errorf("stale order scan failed: %w", err)
	}

	for i := range stale {
		order := stale[i]
		if seen[order.ClientOrderID] {
			continue
		}

		if err := e.broker.CancelOrder(ctx, order.ClientOrderID); err != nil && broker.IsRetryable(err) {
			// Transient: leave it for the next pass.
			report.Skipped++
			logger.Warn().
				Err(err).
				Str("client_order_id", order.ClientOrderID).
				Msg("stale cancel attempt failed, will retry next pass")
			continue
		}

		applied, err := e.orders.ApplyStatusUpdate(ctx, types.StatusUpdate{
			ClientOrderID: order.ClientOrderID,
			Status:        types.StatusCancelled,
			Reason:        "stale order cleanup",
		}, types.SourceBrokerPoll)
		if err != nil {
			report.Skipped++
			logger.Error().Err(err).Str("client_order_id", order.ClientOrderID).Msg("failed to cancel stale order")
			continue
		}
		if applied {
			report.StaleCancelled++
			e.metrics.StaleCancelled()
			logger.Warn().
				Str("client_order_id", order.ClientOrderID).
				Str("previous_status", string(order.Status)).
				Msg("stale order cancelled")
		}
	}
	return nil
}
