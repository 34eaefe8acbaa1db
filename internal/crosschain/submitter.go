package crosschain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/scheduler"
	"go.uber.org/zap"
)

type ShadowResolver interface {
	Resolve(ctx context.Context, l2 common.Address) (common.Address, error)
}

// Legs sends the two transactions of an operation from the user's wallet.
type Legs interface {
	CreateWithdrawal(ctx context.Context, amount *big.Int, beneficiary common.Address) (common.Hash, error)
	SubmitBundle(ctx context.Context, b *bundle.Bundle) (common.Hash, error)
}

type Recorder interface {
	Record(ctx context.Context, op ledger.Operation) error
}

// Submitter runs deposit and borrow operations end to end: withdraw to the
// shadow account, send the bundle, record both hashes and schedule the
// finalize call.
type Submitter struct {
	resolver  ShadowResolver
	builder   *bundle.Builder
	reader    bundle.Reader
	legs      Legs
	ledger    Recorder
	scheduler scheduler.Scheduler
	target    string
	delay     time.Duration
	now       func() time.Time
	logger    *zap.SugaredLogger
}

type SubmitterOption func(*Submitter)

// WithScheduler schedules a finalize call to target after each submission.
func WithScheduler(s scheduler.Scheduler, target string, delay time.Duration) SubmitterOption {
	return func(sub *Submitter) {
		sub.scheduler = s
		sub.target = target
		if delay > 0 {
			sub.delay = delay
		}
	}
}

// WithQuoteReader lets bundle construction read L1 quotes.
func WithQuoteReader(r bundle.Reader) SubmitterOption {
	return func(sub *Submitter) { sub.reader = r }
}

func WithSubmitterClock(now func() time.Time) SubmitterOption {
	return func(sub *Submitter) { sub.now = now }
}

func NewSubmitter(resolver ShadowResolver, builder *bundle.Builder, legs Legs, recorder Recorder, logger *zap.SugaredLogger, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		resolver: resolver,
		builder:  builder,
		legs:     legs,
		ledger:   recorder,
		delay:    scheduler.FinalizeRetryDelay,
		now:      time.Now,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit moves amount wei from the L2 account into Aave through its shadow
// account.
func (s *Submitter) Deposit(ctx context.Context, l2Account common.Address, amount *big.Int) (*Submission, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, bundle.ErrInvalidAmount
	}
	shadow, err := s.resolver.Resolve(ctx, l2Account)
	if err != nil {
		return nil, fmt.Errorf("resolve shadow account: %w", err)
	}
	b, err := s.builder.Deposit(shadow, amount)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, ledger.KindDeposit, l2Account, shadow, amount, amount, b)
}

// Borrow borrows ghoAmount GHO against the shadow account's collateral and
// bridges it to the L2 account. The withdrawal leg funds the bridge fee.
func (s *Submitter) Borrow(ctx context.Context, l2Account common.Address, ghoAmount *big.Int) (*Submission, error) {
	if ghoAmount == nil || ghoAmount.Sign() <= 0 {
		return nil, bundle.ErrInvalidAmount
	}
	shadow, err := s.resolver.Resolve(ctx, l2Account)
	if err != nil {
		return nil, fmt.Errorf("resolve shadow account: %w", err)
	}
	b, err := s.builder.Borrow(ctx, s.reader, shadow, l2Account, ghoAmount)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, ledger.KindBorrow, l2Account, shadow, ghoAmount, b.MintValue, b)
}

func (s *Submitter) submit(ctx context.Context, kind ledger.Kind, owner, shadow common.Address, amount, withdrawAmount *big.Int, b *bundle.Bundle) (*Submission, error) {
	log := s.logger.With("kind", kind, "owner", owner.Hex(), "shadow", shadow.Hex())

	withdrawHash, err := s.legs.CreateWithdrawal(ctx, withdrawAmount, shadow)
	if err != nil {
		return nil, err
	}

	bundleHash, err := s.legs.SubmitBundle(ctx, b)
	if err != nil {
		log.Errorw("Bundle failed after withdrawal was sent", "withdraw_hash", withdrawHash.Hex(), "error", err)
		return nil, &PartialSubmissionError{Kind: kind, WithdrawHash: withdrawHash, Err: err}
	}

	sub := &Submission{
		Kind:         kind,
		Owner:        owner,
		Shadow:       shadow,
		Amount:       amount,
		WithdrawHash: withdrawHash,
		BundleHash:   bundleHash,
		Bundle:       b,
	}
	log = log.With("withdraw_hash", withdrawHash.Hex(), "bundle_hash", bundleHash.Hex())

	op := ledger.Operation{
		Kind:         kind,
		Owner:        owner,
		WithdrawHash: withdrawHash,
		BundleHash:   bundleHash,
		RecordedAt:   s.now(),
	}
	if err := s.ledger.Record(ctx, op); err != nil {
		log.Errorw("Failed to record operation", "error", err)
		return sub, fmt.Errorf("%w: %w", ErrRecordFailed, err)
	}

	if err := s.schedule(ctx, FinalizeRequest{WithdrawHash: withdrawHash, BundleHash: bundleHash}); err != nil {
		log.Errorw("Failed to schedule finalization", "error", err)
		return sub, err
	}

	log.Infow("Operation submitted", "amount", amount.String())
	return sub, nil
}

func (s *Submitter) schedule(ctx context.Context, req FinalizeRequest) error {
	if s.scheduler == nil {
		return nil
	}
	body, err := NewFinalizePayload(req).Body()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	if _, err := s.scheduler.ScheduleAfter(ctx, s.delay, scheduler.Task{Target: s.target, Body: body}); err != nil {
		return fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	return nil
}
