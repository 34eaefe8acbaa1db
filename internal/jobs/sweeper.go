// Package jobs runs the background work of the API process.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"go.uber.org/zap"
)

const DefaultSweepSchedule = "@every 5m"

type Reconciler interface {
	Reconcile(ctx context.Context, owner common.Address, kind ledger.Kind) (ledger.Summary, error)
}

// SweepStats counts the work of one sweep.
type SweepStats struct {
	Owners     int
	Reconciled int
	Failed     int
	Finalizing int
}

// Sweeper periodically reconciles every ledger list so finalized entries are
// pruned even for users who never come back.
type Sweeper struct {
	owners   ledger.OwnerLister
	ledger   Reconciler
	schedule string
	timeout  time.Duration
	cron     *cron.Cron
	logger   *zap.SugaredLogger
}

func NewSweeper(owners ledger.OwnerLister, l Reconciler, schedule string, logger *zap.SugaredLogger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		owners:   owners,
		ledger:   l,
		schedule: schedule,
		timeout:  4 * time.Minute,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:   logger,
	}
}

func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.Sweep(ctx); err != nil {
			s.logger.Errorw("Ledger sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Infow("Ledger sweeper started", "schedule", s.schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Infow("Ledger sweeper stopped")
}

// Sweep reconciles every (owner, kind) once. Per-list failures are counted
// and logged; only a failure to list owners is returned.
func (s *Sweeper) Sweep(ctx context.Context) (SweepStats, error) {
	owners, err := s.owners.Owners(ctx)
	if err != nil {
		return SweepStats{}, fmt.Errorf("list owners: %w", err)
	}

	stats := SweepStats{Owners: len(owners)}
	for _, owner := range owners {
		for _, kind := range ledger.Kinds {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			summary, err := s.ledger.Reconcile(ctx, owner, kind)
			if err != nil {
				stats.Failed++
				s.logger.Warnw("Reconcile failed", "owner", owner.Hex(), "kind", kind, "error", err)
				continue
			}
			stats.Reconciled++
			stats.Finalizing += summary.CountFinalizing
		}
	}

	s.logger.Infow("Ledger sweep complete",
		"owners", stats.Owners,
		"reconciled", stats.Reconciled,
		"failed", stats.Failed,
		"finalizing", stats.Finalizing,
	)
	return stats, nil
}
