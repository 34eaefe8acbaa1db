package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// PhaseQuerier reports a withdrawal's phase without blocking on finality.
// Lookup failures must come back as bridge.PhaseUnknown.
type PhaseQuerier interface {
	QueryPhase(ctx context.Context, hash common.Hash) bridge.Phase
}

// Ledger records operations and reconciles them. Reconcile does an unlocked
// read-modify-write: concurrent passes on the same key are last writer wins,
// and a Record racing a pruning Reconcile can be lost.
type Ledger struct {
	repo        Repository
	phases      PhaseQuerier
	values      map[Kind]ValueExtractor
	logger      *zap.SugaredLogger
	metrics     *metrics.Metrics
	concurrency int
	now         func() time.Time
}

type Option func(*Ledger)

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithConcurrency caps parallel chain lookups per pass.
func WithConcurrency(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.concurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(repo Repository, phases PhaseQuerier, values map[Kind]ValueExtractor, logger *zap.SugaredLogger, opts ...Option) *Ledger {
	l := &Ledger{
		repo:        repo,
		phases:      phases,
		values:      values,
		logger:      logger,
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends op to its owner's list. Recording the same pair twice is a
// no-op.
func (l *Ledger) Record(ctx context.Context, op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	if op.RecordedAt.IsZero() {
		op.RecordedAt = l.now().UTC()
	}

	key := op.Key()
	entries, err := l.repo.Get(ctx, key)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.WithdrawHash == op.WithdrawHash && e.BundleHash == op.BundleHash {
			return nil
		}
	}
	if err := l.repo.Put(ctx, key, append(entries, op.Entry())); err != nil {
		return err
	}

	l.logger.Infow("Recorded pending operation",
		"owner", op.Owner.Hex(),
		"kind", op.Kind,
		"withdraw_hash", op.WithdrawHash.Hex(),
		"bundle_hash", op.BundleHash.Hex(),
	)
	return nil
}

// Pending returns the persisted list without touching the chain.
func (l *Ledger) Pending(ctx context.Context, owner common.Address, kind Kind) ([]Entry, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return l.repo.Get(ctx, Key{Owner: owner, Kind: kind})
}

// Reconcile prunes finalized entries and sums the value of the rest.
func (l *Ledger) Reconcile(ctx context.Context, owner common.Address, kind Kind) (Summary, error) {
	if !kind.Valid() {
		return Summary{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	key := Key{Owner: owner, Kind: kind}

	entries, err := l.repo.Get(ctx, key)
	if err != nil {
		return Summary{}, err
	}
	if len(entries) == 0 {
		return ZeroSummary(), nil
	}

	phases := l.queryPhases(ctx, entries)

	finalizing := make([]Entry, 0, len(entries))
	for i, e := range entries {
		if phases[i] != bridge.PhaseFinalized {
			finalizing = append(finalizing, e)
		}
	}

	pruned := len(entries) - len(finalizing)
	if pruned > 0 {
		if err := l.repo.Put(ctx, key, finalizing); err != nil {
			return Summary{}, err
		}
	}
	l.metrics.RecordReconcile(ctx, string(kind), pruned)

	if len(finalizing) == 0 {
		l.logger.Debugw("All operations finalized", "owner", owner.Hex(), "kind", kind, "pruned", pruned)
		return ZeroSummary(), nil
	}

	summary := Summary{
		TotalValueFinalizing: l.sumValues(ctx, kind, finalizing),
		CountFinalizing:      len(finalizing),
	}
	l.logger.Debugw("Reconciled pending operations",
		"owner", owner.Hex(),
		"kind", kind,
		"pruned", pruned,
		"finalizing", summary.CountFinalizing,
		"total", summary.TotalValueFinalizing.String(),
	)
	return summary, nil
}

// queryPhases looks up every withdrawal concurrently. Each goroutine owns one
// slot and never fails the group.
func (l *Ledger) queryPhases(ctx context.Context, entries []Entry) []bridge.Phase {
	phases := make([]bridge.Phase, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)
	for i, e := range entries {
		i, hash := i, e.WithdrawHash
		g.Go(func() error {
			phases[i] = l.phases.QueryPhase(ctx, hash)
			return nil
		})
	}
	_ = g.Wait()
	return phases
}

// sumValues adds up the value of each entry. Entries whose value cannot be
// recovered contribute zero.
func (l *Ledger) sumValues(ctx context.Context, kind Kind, entries []Entry) *big.Int {
	total := new(big.Int)
	extractor, ok := l.values[kind]
	if !ok {
		l.logger.Warnw("No value extractor for kind", "kind", kind)
		return total
	}

	values := make([]*big.Int, len(entries))
	g := new(errgroup.Group)
	g.SetLimit(l.concurrency)
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			v, err := extractor.Value(ctx, e)
			if err != nil {
				l.logger.Warnw("Could not determine operation value",
					"kind", kind,
					"withdraw_hash", e.WithdrawHash.Hex(),
					"bundle_hash", e.BundleHash.Hex(),
					"error", err,
				)
				return nil
			}
			values[i] = v
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range values {
		if v != nil {
			total.Add(total, v)
		}
	}
	return total
}
