package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shadowlend/shadowlend-backend/internal/api"
	"github.com/shadowlend/shadowlend-backend/internal/bridge"
	"github.com/shadowlend/shadowlend-backend/internal/bundle"
	"github.com/shadowlend/shadowlend-backend/internal/chain"
	"github.com/shadowlend/shadowlend-backend/internal/config"
	"github.com/shadowlend/shadowlend-backend/internal/crosschain"
	"github.com/shadowlend/shadowlend-backend/internal/jobs"
	"github.com/shadowlend/shadowlend-backend/internal/ledger"
	"github.com/shadowlend/shadowlend-backend/internal/log"
	"github.com/shadowlend/shadowlend-backend/internal/metrics"
	"github.com/shadowlend/shadowlend-backend/internal/onchain"
	"github.com/shadowlend/shadowlend-backend/internal/prices"
	"github.com/shadowlend/shadowlend-backend/internal/prices/alchemy"
	"github.com/shadowlend/shadowlend-backend/internal/prices/binance"
	"github.com/shadowlend/shadowlend-backend/internal/prices/mock"
	"github.com/shadowlend/shadowlend-backend/internal/repository"
	"github.com/shadowlend/shadowlend-backend/internal/scheduler"
	"github.com/shadowlend/shadowlend-backend/internal/shadow"
	"github.com/shadowlend/shadowlend-backend/internal/store"
	"github.com/shadowlend/shadowlend-backend/internal/ws"
	"github.com/shadowlend/shadowlend-backend/pkg/kv"
	_ "github.com/shadowlend/shadowlend-backend/pkg/kv/memory"
	_ "github.com/shadowlend/shadowlend-backend/pkg/kv/redis"
	"go.uber.org/zap"
)

type ledgerRepository interface {
	ledger.Repository
	ledger.OwnerLister
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting ShadowLend API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"signer", cfg.HasSigner(),
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("shadowlend-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Key-value store; Redis falls back to memory while unreachable
	kvStore, err := kv.NewStoreFromConfig(kv.Config{
		Backend:         kv.Backend(cfg.Store.KVBackend),
		RedisURL:        cfg.Store.RedisURL,
		FailoverEnabled: cfg.Store.FailoverEnabled,
		ProbeInterval:   cfg.Store.ProbeInterval,
		Logger:          logger.Infow,
	})
	if err != nil {
		logger.Fatalw("Failed to setup key-value store", "error", err)
	}
	defer kvStore.Close()
	cache := store.NewCache(kvStore, logger, metricsObj)

	// Chain clients
	l1, err := chain.Dial(ctx, cfg.Chain.L1RPCURL)
	if err != nil {
		logger.Fatalw("Failed to dial L1", "error", err)
	}
	defer l1.Close()
	l2, err := chain.Dial(ctx, cfg.Chain.L2RPCURL)
	if err != nil {
		logger.Fatalw("Failed to dial L2", "error", err)
	}
	defer l2.Close()

	var wallet *bridge.KeyWallet
	if cfg.HasSigner() {
		wallet, err = bridge.NewKeyWallet(cfg.Chain.PrivateKey, map[uint64]bridge.TxBackend{
			chain.L1ChainID: l1,
			chain.L2ChainID: l2,
		}, chain.L1ChainID)
		if err != nil {
			logger.Fatalw("Invalid signer key", "error", err)
		}
		logger.Infow("Finalization signer loaded", "address", wallet.Address().Hex())
	} else {
		logger.Warnw("No signer configured; finalize-withdraw will fail")
	}

	var sender bridge.Sender
	var adapterWallet bridge.Wallet
	if wallet != nil {
		sender, adapterWallet = wallet, wallet
	}
	withdrawals := bridge.NewRPCWithdrawals(l1, l2, sender, logger)
	adapter := bridge.NewAdapter(withdrawals, adapterWallet, logger,
		bridge.WithPolling(cfg.Chain.PollInterval, cfg.Chain.MaxWait),
		bridge.WithMetrics(metricsObj),
	)

	// Ledger
	repo, closeRepo, err := openLedgerRepository(cfg, kvStore, logger)
	if err != nil {
		logger.Fatalw("Failed to open ledger repository", "error", err)
	}
	defer closeRepo()

	book := ledger.New(repo, adapter, map[ledger.Kind]ledger.ValueExtractor{
		ledger.KindDeposit: ledger.DepositValue{Txs: l2},
		ledger.KindBorrow:  ledger.BorrowValue{Txs: l2, Pool: chain.AavePool},
	}, logger, ledger.WithMetrics(metricsObj))

	resolver := shadow.NewResolver(l2, cache, logger, shadow.WithCacheTTL(cfg.Chain.ShadowCacheTTL))
	positions := onchain.NewPositionService(l1, cache, logger, onchain.WithPositionTTL(cfg.Chain.PositionCacheTTL))

	var builderOpts []bundle.Option
	if vault := cfg.Chain.WrapperVaultAddress(); vault != (common.Address{}) {
		builderOpts = append(builderOpts, bundle.WithWrapperVault(vault))
	}
	builder := bundle.NewBuilder(logger, builderOpts...)

	// Prices
	priceSvc, live := setupPrices(cfg, logger, metricsObj)

	// Live updates
	wsHub := ws.NewHub(cfg.Security.CORSAllowedOrigins, logger, metricsObj)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go wsHub.Run(bgCtx)

	if cfg.Prices.LiveStream {
		// Outside dev a dead feed leaves the price stale rather than simulated.
		var fallback prices.LiveProvider
		if cfg.IsDev() {
			fallback = mock.NewGenerator(logger, cfg.Prices.MockBasePrice, cfg.Prices.MockVolatility)
		}
		warmer := jobs.NewPriceWarmer(live, fallback, priceSvc, cache, logger, jobs.DefaultPriceWarmerConfig()).
			WithPublisher(wsHub, ws.TopicPrice)
		go func() {
			if err := warmer.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorw("Price warmer stopped", "error", err)
			}
		}()
	}

	// Finalization
	var finalizer api.WithdrawFinalizer
	if wallet != nil {
		finalizer = crosschain.NewFinalizer(adapter, bridge.NewBundleFinalizer(l2, wallet, logger), logger, metricsObj)
	}

	var sched scheduler.Scheduler
	if cfg.Scheduler.QStashURL != "" {
		sched = scheduler.NewQStash(cfg.Scheduler.QStashURL, cfg.Scheduler.QStashToken, logger,
			scheduler.WithQStashMetrics(metricsObj))
		logger.Infow("Using QStash scheduler", "url", cfg.Scheduler.QStashURL)
	} else {
		local := scheduler.NewLocal(scheduler.HTTPHandler(&http.Client{Timeout: cfg.Chain.MaxWait + time.Minute}), logger, metricsObj)
		defer local.Close()
		sched = local
		if cfg.IsDev() {
			logger.Infow("Using in-process scheduler")
		} else {
			logger.Warnw("SHL_QSTASH_URL not set; finalize calls are scheduled in process and lost on restart")
		}
	}

	if cfg.Jobs.SweeperEnabled {
		sweeper := jobs.NewSweeper(repo, book, cfg.Jobs.SweeperSchedule, logger)
		if err := sweeper.Start(); err != nil {
			logger.Fatalw("Failed to start sweeper", "error", err)
		}
		defer sweeper.Stop()
	}

	// Setup API handler and middleware
	handler := api.NewHandler(api.Deps{
		Shadows:   resolver,
		Builder:   builder,
		Reader:    l1,
		Preparer:  adapter,
		Phases:    adapter,
		Ledger:    book,
		Positions: positions,
		Prices:    priceSvc,
		Finalizer: finalizer,
		Scheduler: sched,
		Hub:       wsHub,
		Store:     cache,
	}, cfg.PublicURL, cfg.Scheduler.FinalizeDelay, logger, metricsObj)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Add metrics endpoint
	router.Handle("/metrics", metricsHandler)

	// WriteTimeout must cover a full finalize run
	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Chain.MaxWait + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		bgCancel()

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}

func openLedgerRepository(cfg *config.Config, store kv.Store, logger *zap.SugaredLogger) (ledgerRepository, func(), error) {
	if cfg.Store.LedgerBackend != "postgres" {
		return ledger.NewKVRepository(store), func() {}, nil
	}

	db, err := repository.Open(cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(db, "up"); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Infow("Ledger stored in Postgres")
	return repository.NewLedgerRepository(db, logger), func() { db.Close() }, nil
}

// setupPrices orders the configured provider first with the others as
// fallbacks. It also returns the provider the price warmer streams from.
func setupPrices(cfg *config.Config, logger *zap.SugaredLogger, m *metrics.Metrics) (*prices.Service, prices.LiveProvider) {
	bin := binance.NewProvider(logger)

	var providers []prices.Provider
	var alc prices.Provider
	if cfg.Prices.AlchemyAPIKey != "" {
		alc = alchemy.NewProvider(cfg.Prices.AlchemyAPIKey, logger)
	}

	var live prices.LiveProvider = bin
	switch cfg.Prices.Provider {
	case "mock":
		gen := mock.NewGenerator(logger, cfg.Prices.MockBasePrice, cfg.Prices.MockVolatility)
		providers = append(providers, gen)
		live = gen
	case "binance":
		providers = append(providers, bin)
		if alc != nil {
			providers = append(providers, alc)
		}
	default:
		if alc != nil {
			providers = append(providers, alc)
		} else {
			logger.Warnw("SHL_ALCHEMY_API_KEY not set; using Binance prices")
		}
		providers = append(providers, bin)
	}

	svc := prices.NewService(logger, providers,
		prices.WithTTL(cfg.Prices.TTL),
		prices.WithMetrics(m),
	)
	return svc, live
}
