// Command shadowctl submits and finalizes shadow account operations from a
// local key. It shares configuration and ledger storage with the API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/calc"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/config"
	"github.com/shadowlend/shadowlend-backend/internal/crosschain"
	"github.com/shadowlend/shadowlend-backend/internal/jobs"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/log"
	"github.com/shadowlend/shadowlend-backend/internal/scheduler"
	"github.com/shadowlend/shadowlend-backend/internal/shadow"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"github.com/shadowlend/shadowlend-backend/pkg/kv"
	_ "github.com/shadowlend/shadowlend-backend/pkg/kv/memory"
	_ "github.com/shadowlend/shadowlend-backend/pkg/kv/redis"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const usage = `Usage: shadowctl [flags] COMMAND [ARGS]

Commands:
  deposit AMOUNT_ETH           withdraw ETH to the shadow account and supply it to Aave
  borrow AMOUNT_GHO            borrow GHO through the shadow account and bridge it back
  phase HASH [TARGET]          print the phase of an L2->L1 withdrawal, or wait for l2, ready or finalized
  finalize WITHDRAW [BUNDLE]   finalize a withdrawal and relay its bundle
  sweep                        reconcile every ledger once
`

var (
	flags      = flag.NewFlagSet("shadowctl", flag.ExitOnError)
	noSchedule = flags.Bool("no-schedule", false, "do not schedule the finalize callback")
)

type env struct {
	cfg     *config.Config
	logger  *zap.SugaredLogger
	l1, l2  *chain.Client
	wallet  *bridge.KeyWallet
	adapter *bridge.Adapter
	store   kv.Store
	book    *ledger.Ledger
	repo    *ledger.KVRepository
}

func main() {
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage); flags.PrintDefaults() }
	flags.Parse(os.Args[1:])
	args := flags.Args()
	if len(args) < 1 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "shadowctl: %v\n", err)
		os.Exit(1)
	}
	defer e.close()

	if err := run(ctx, e, args[0], args[1:]); err != nil {
		e.logger.Errorw("Command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, logger: logger}
	if e.l1, err = chain.Dial(ctx, cfg.Chain.L1RPCURL); err != nil {
		return nil, err
	}
	if e.l2, err = chain.Dial(ctx, cfg.Chain.L2RPCURL); err != nil {
		return nil, err
	}

	var sender bridge.Sender
	var wallet bridge.Wallet
	if cfg.HasSigner() {
		e.wallet, err = bridge.NewKeyWallet(cfg.Chain.PrivateKey, map[uint64]bridge.TxBackend{
			chain.L1ChainID: e.l1,
			chain.L2ChainID: e.l2,
		}, chain.L2ChainID)
		if err != nil {
			return nil, err
		}
		sender, wallet = e.wallet, e.wallet
	}
	e.adapter = bridge.NewAdapter(bridge.NewRPCWithdrawals(e.l1, e.l2, sender, logger), wallet, logger,
		bridge.WithPolling(cfg.Chain.PollInterval, cfg.Chain.MaxWait))

	e.store, err = kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.Backend(cfg.Store.KVBackend),
		RedisURL:        cfg.Store.RedisURL,
		FailoverEnabled: cfg.Store.FailoverEnabled,
		ProbeInterval:   cfg.Store.ProbeInterval,
		Logger:          logger.Debugw,
	})
	if err != nil {
		return nil, err
	}
	e.repo = ledger.NewKVRepository(e.store)
	e.book = ledger.New(e.repo, e.adapter, map[ledger.Kind]ledger.ValueExtractor{
		ledger.KindDeposit: ledger.DepositValue{Txs: e.l2},
		ledger.KindBorrow:  ledger.BorrowValue{Txs: e.l2, Pool: chain.AavePool},
	}, logger)
	return e, nil
}

func (e *env) close() {
	if e.store != nil {
		e.store.Close()
	}
	if e.l1 != nil {
		e.l1.Close()
	}
	if e.l2 != nil {
		e.l2.Close()
	}
	e.logger.Sync()
}

func (e *env) requireSigner() error {
	if e.wallet == nil {
		return bridge.ErrNoSigner
	}
	return nil
}

func run(ctx context.Context, e *env, cmd string, args []string) error {
	switch cmd {
	case "deposit", "borrow":
		if len(args) != 1 {
			return fmt.Errorf("%s needs an amount", cmd)
		}
		return submit(ctx, e, cmd, args[0])
	case "phase":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("phase needs a withdrawal hash and an optional wait target (l2, ready, finalized)")
		}
		req, err := crosschain.FinalizePayload{WithdrawHash: args[0]}.Request()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			fmt.Println(e.adapter.QueryPhase(ctx, req.WithdrawHash))
			return nil
		}
		target, err := bridge.ParseWaitTarget(args[1])
		if err != nil {
			return err
		}
		phase, err := e.adapter.WaitForPhase(ctx, req.WithdrawHash, target)
		if err != nil {
			return err
		}
		fmt.Println(phase)
		return nil
	case "finalize":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("finalize needs a withdrawal hash and an optional bundle hash")
		}
		return finalize(ctx, e, args)
	case "sweep":
		stats, err := jobs.NewSweeper(e.repo, e.book, jobs.DefaultSweepSchedule, e.logger).Sweep(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func submit(ctx context.Context, e *env, cmd, rawAmount string) error {
	if err := e.requireSigner(); err != nil {
		return err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(rawAmount))
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", rawAmount, err)
	}
	amount := calc.EtherToWei(d)

	cache := store.NewCache(e.store, e.logger, nil)
	resolver := shadow.NewResolver(e.l2, cache, e.logger, shadow.WithCacheTTL(e.cfg.Chain.ShadowCacheTTL))

	var builderOpts []bundle.Option
	if vault := e.cfg.Chain.WrapperVaultAddress(); vault != (common.Address{}) {
		builderOpts = append(builderOpts, bundle.WithWrapperVault(vault))
	}

	opts := []crosschain.SubmitterOption{crosschain.WithQuoteReader(e.l1)}
	if !*noSchedule && e.cfg.Scheduler.QStashURL != "" && e.cfg.PublicURL != "" {
		q := scheduler.NewQStash(e.cfg.Scheduler.QStashURL, e.cfg.Scheduler.QStashToken, e.logger)
		target := strings.TrimSuffix(e.cfg.PublicURL, "/") + "/api/finalize-withdraw"
		opts = append(opts, crosschain.WithScheduler(q, target, e.cfg.Scheduler.FinalizeDelay))
	} else {
		e.logger.Warnw("Finalize callback not scheduled; run `shadowctl finalize` later")
	}

	sub := crosschain.NewSubmitter(resolver, bundle.NewBuilder(e.logger, builderOpts...), e.adapter, e.book, e.logger, opts...)

	owner := e.wallet.Address()
	var s *crosschain.Submission
	if cmd == "deposit" {
		s, err = sub.Deposit(ctx, owner, amount)
	} else {
		s, err = sub.Borrow(ctx, owner, amount)
	}
	if s != nil {
		if perr := printJSON(s); perr != nil {
			return perr
		}
	}
	return err
}

func finalize(ctx context.Context, e *env, args []string) error {
	if err := e.requireSigner(); err != nil {
		return err
	}
	payload := crosschain.FinalizePayload{WithdrawHash: args[0]}
	if len(args) == 2 {
		payload.BundleHash = args[1]
	}
	req, err := payload.Request()
	if err != nil {
		return err
	}

	f := crosschain.NewFinalizer(e.adapter, bridge.NewBundleFinalizer(e.l2, e.wallet, e.logger), e.logger, nil)
	res, err := f.Finalize(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
