package twap

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/LeeeWayyy/trading-platform-sub021/internal/breaker"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/metrics"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/orders"
	"github.com/LeeeWayyy/trading-platform-sub021/internal/types"
)

// Scheduler wakes on a timer and fires due slices through the normal
// submission path. Safe to run in multiple replicas: the PENDING -> SUBMITTED
// compare-and-set guarantees each slice fires once.
type Scheduler struct {
	db      *Database
	orders  *orders.Service
	gate    orders.CircuitGate
	metrics *metrics.Metrics

	pollInterval time.Duration
	now          func() time.Time
}

// NewScheduler creates a slice scheduler.
func NewScheduler(db *Database, orderSvc *orders.Service, gate orders.CircuitGate, m *metrics.Metrics, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Scheduler{
		db:           db,
		orders:       orderSvc,
		gate:         gate,
		metrics:      m,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

// Start begins the slice firing loop.
func (s *Scheduler) Start(ctx context.Context) {
	logger := log.With().Str("component", "slice_scheduler").Logger()
	logger.Info().Dur("poll_interval", s.pollInterval).Msg("starting slice scheduler")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down slice scheduler")
			return
		case <-ticker.C:
			if err := s.FireDueSlices(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to process due slices")
			}
		}
	}
}

// FireDueSlices submits every pending slice whose time has come. A slice that
// fails terminally is marked FAILED and its siblings continue independently;
// the parent is never auto-cancelled. While the circuit breaker is tripped the
// whole pass is skipped and slices stay pending for the next poll.
func (s *Scheduler) FireDueSlices(ctx context.Context) error {
	logger := log.With().Str("component", "slice_scheduler").Logger()

	if state, reason := s.gate.Check(ctx); state == breaker.StateTripped {
		logger.Warn().Str("reason", reason).Msg("circuit breaker tripped, deferring due slices")
		return nil
	}

	due, err := s.db.DueSlices(s.now())
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	logger.Info().Int("due_count", len(due)).Msg("firing due slices")

	for i := range due {
		slice := due[i]
		sliceLogger := logger.With().
			Str("parent_order_id", slice.ParentOrderID).
			Int("slice_index", slice.SliceIndex).
			Logger()

		childID := orders.DeriveChildID(slice.ParentOrderID, slice.SliceIndex)
		fired, err := s.db.MarkSubmitted(slice.ParentOrderID, slice.SliceIndex, childID)
		if err != nil {
			sliceLogger.Error().Err(err).Msg("failed to mark slice submitted")
			continue
		}
		if !fired {
			// Another replica won the compare-and-set.
			continue
		}

		parent, err := s.db.GetParent(slice.ParentOrderID)
		if err != nil || parent == nil {
			sliceLogger.Error().Err(err).Msg("parent order missing for due slice")
			if markErr := s.db.MarkFailed(slice.ParentOrderID, slice.SliceIndex, "parent order missing"); markErr != nil {
				sliceLogger.Error().Err(markErr).Msg("failed to mark slice failed")
			}
			s.metrics.SliceFired("failed")
			continue
		}

		result, err := s.orders.SubmitChild(ctx, parent, &slice)
		if err != nil {
			// Infrastructure error: put the slice back for the next poll.
			sliceLogger.Error().Err(err).Msg("child submission errored, reverting slice to pending")
			if revertErr := s.db.RevertToPending(slice.ParentOrderID, slice.SliceIndex); revertErr != nil {
				sliceLogger.Error().Err(revertErr).Msg("failed to revert slice")
			}
			continue
		}

		switch result.Outcome {
		case types.OutcomeCreated, types.OutcomeAlreadyExists:
			sliceLogger.Info().Str("child_order_id", childID).Msg("slice fired")
			s.metrics.SliceFired("submitted")
		case types.OutcomeBlocked:
			sliceLogger.Warn().Msg("circuit breaker tripped mid-pass, deferring slice")
			if revertErr := s.db.RevertToPending(slice.ParentOrderID, slice.SliceIndex); revertErr != nil {
				sliceLogger.Error().Err(revertErr).Msg("failed to revert slice")
			}
		case types.OutcomeRejected:
			sliceLogger.Warn().Str("reason", result.Reason).Msg("slice rejected terminally, siblings continue")
			if markErr := s.db.MarkFailed(slice.ParentOrderID, slice.SliceIndex, result.Reason); markErr != nil {
				sliceLogger.Error().Err(markErr).Msg("failed to mark slice failed")
			}
			s.metrics.SliceFired("failed")
		}
	}
	return nil
}
