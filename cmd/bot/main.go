package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pumpfun-trading-bot/internal/audit"
	"pumpfun-trading-bot/internal/blacklist"
	"pumpfun-trading-bot/internal/blockchain"
	"pumpfun-trading-bot/internal/config"
	"pumpfun-trading-bot/internal/curve"
	"pumpfun-trading-bot/internal/endpoint"
	"pumpfun-trading-bot/internal/exposure"
	"pumpfun-trading-bot/internal/health"
	"pumpfun-trading-bot/internal/listener"
	"pumpfun-trading-bot/internal/mintcache"
	"pumpfun-trading-bot/internal/monitor"
	"pumpfun-trading-bot/internal/pipeline"
	"pumpfun-trading-bot/internal/snapshot"
	"pumpfun-trading-bot/internal/store"
	"pumpfun-trading-bot/internal/summary"
	"pumpfun-trading-bot/internal/txengine"
)

func main() {
	setupLogger()
	log.Info().Msg("starting pump.fun trading bot")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	zerolog.SetGlobalLevel(parseLevel(cfg.LogLevel))

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_dir", cfg.DataDir).Msg("failed to create data directory")
	}

	privateKey := os.Getenv(cfg.WalletPrivateKeyEnv)
	if privateKey == "" {
		log.Fatal().Str("env", cfg.WalletPrivateKeyEnv).Msg("wallet private key env var is unset")
	}
	wallet, err := blockchain.NewWallet(privateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load wallet")
	}

	db, err := store.Open(filepath.Join(cfg.DataDir, "bot.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer db.Close()

	if recovered, err := db.RecoverStalePendingTrades(60 * time.Second); err != nil {
		log.Error().Err(err).Msg("failed to recover stale pending trades")
	} else if recovered > 0 {
		log.Warn().Int64("count", recovered).Msg("recovered stale pending trades left over from a prior run")
	}

	urls := append([]string{cfg.RPCPrimaryURL}, cfg.RPCBackupURLs...)
	pool := endpoint.NewPool(urls, endpoint.DefaultThresholds())
	rpc := blockchain.NewRPCClient(pool)

	blockhashCache := blockchain.NewBlockhashCache(rpc, 5*time.Second, 60*time.Second)
	if err := blockhashCache.Start(); err != nil {
		log.Error().Err(err).Msg("failed to start blockhash cache")
	}

	txBuilder := blockchain.NewTransactionBuilder(wallet, blockhashCache, cfg.StaticPriorityFeeLamports)

	balanceTracker := blockchain.NewBalanceTracker(wallet, rpc)
	if err := balanceTracker.Refresh(context.Background()); err != nil {
		log.Warn().Err(err).Msg("initial balance refresh failed")
	}
	log.Info().Str("address", wallet.Address()).Float64("balance_sol", balanceTracker.BalanceSOL()).Msg("wallet loaded")
	if balanceTracker.BalanceSOL() == 0 {
		log.Warn().Str("address", wallet.Address()).Msg("wallet has 0 SOL, bot cannot trade until funded")
	}

	bl, err := blacklist.Load(db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load blacklist")
	}

	exp := exposure.New(cfg.MaxTotalExposureSOL, cfg.MaxTradesPerHour, cfg.MinWalletBufferSOL)
	exp.SetWalletBalance(balanceTracker.BalanceSOL())

	mints := mintcache.New(10 * time.Minute)

	safetyMarginLamports := uint64(cfg.MinWalletBufferSOL * curve.LamportsPerSOL)
	txe := txengine.NewEngine(rpc, txBuilder, wallet, safetyMarginLamports)

	ring := audit.New()

	pipelineCfg := pipeline.Config{
		SingleSlotMode: cfg.BotMode == config.ModeProduction,

		MinSolInCurve:    cfg.PumpfunMinSolInCurve,
		MaxSolInCurve:    cfg.PumpfunMaxSolInCurve,
		EnableMinMax:     cfg.PumpfunEnableMinMax,
		EnableScore:      cfg.PumpfunEnableScore,
		MinScoreRequired: cfg.PumpfunMinScoreRequired,

		MomentumEnabled:           cfg.MomentumEnabled,
		MomentumInitialDelayMs:    cfg.MomentumInitialDelayMs,
		MomentumRecheckIntervalMs: cfg.MomentumRecheckIntervalMs,
		MomentumMinTotalBuys:      cfg.MomentumMinTotalBuys,
		MomentumMaxChecks:         cfg.MomentumMaxChecks,

		QuoteAmountLamports: cfg.QuoteAmountLamports,
		BuySlippageBps:      uint64(cfg.BuySlippagePercent * 100),

		UseDynamicFee:     cfg.UseDynamicFee,
		FeePercentile:     cfg.PriorityFeePercentile,
		MinFeeLamports:    cfg.MinPriorityFeeLamports,
		MaxFeeLamports:    cfg.MaxPriorityFeeLamports,
		StaticFeeLamports: cfg.StaticPriorityFeeLamports,

		SafetyMarginLamports: safetyMarginLamports,

		FeeConfig: curve.FeeConfig{TotalBps: 100, ProtocolBps: 50, CreatorBps: 50},
	}
	pipe := pipeline.NewEngine(pipelineCfg, rpc, txe, wallet, db, bl, exp, mints)
	pipe.SetAudit(ring)

	sum := summary.New(balanceTracker.BalanceSOL, func() int {
		positions, err := db.GetAllOpenPositions()
		if err != nil {
			return 0
		}
		return len(positions)
	})
	ring.OnAlert(func(audit.Record) { sum.RecordVerificationAlert() })

	monitorCfg := monitor.Config{
		CheckIntervalMs: cfg.PriceCheckIntervalMs,

		TakeProfitPercent: cfg.TakeProfitPercent,
		StopLossPercent:   cfg.StopLossPercent,
		MaxHoldMs:         cfg.MaxHoldDurationMs,

		PartialProfitPercent:  cfg.PartialProfitPercent,
		PartialProfitMultiple: cfg.PartialProfitMultiple,

		MaxConsecutiveErrors: 5,

		SellSlippageBps:      uint64(cfg.SellSlippagePercent * 100),
		RetrySellSlippageBps: 5000,
		RetryMaxAttempts:     3,
		RetryBackoff:         2 * time.Second,

		UseDynamicFee:  cfg.UseDynamicFee,
		FeePercentile:  cfg.PriorityFeePercentile,
		MinFeeLamports: cfg.MinPriorityFeeLamports,
		MaxFeeLamports: cfg.MaxPriorityFeeLamports,
	}
	mon := monitor.New(monitorCfg, txe, rpc, wallet, db, exp, ring)
	if err := mon.LoadOpenPositions(); err != nil {
		log.Error().Err(err).Msg("failed to load open positions into monitor")
	}

	pipe.OnOutcome(func(o pipeline.Outcome) {
		sum.RecordDetection(o.Action == "bought", o.Reason)
		if o.Action == "bought" {
			sum.RecordBuy(true, "")
			if pos, err := db.GetOpenPosition(o.Mint); err == nil && pos != nil {
				mon.AddPosition(*pos)
			}
		} else if o.Action == "error" {
			sum.RecordBuy(false, o.Reason)
		}
	})

	stats := snapshot.NewStats()
	pipe.OnOutcome(stats.Observe)

	mon.OnTrigger(func(trig monitor.Trigger) {
		go handleTrigger(context.Background(), mon, db, trig, cfg.PartialProfitPercent)
	})

	l := listener.New(cfg.RPCWebsocketURL, rpc, mints)
	l.OnDetected(func(tok listener.DetectedToken) {
		pipe.Process(context.Background(), tok, tok.Signature)
	})

	checker := health.NewChecker(rpc, pool, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := l.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("listener stopped")
		}
	}()

	mon.Start(ctx)
	checker.Start(ctx)
	sum.Start(ctx, 30*time.Second)

	dashboardHost, dashboardPort := splitListenAddr(cfg.DashboardListenAddr)
	snap := snapshot.New(dashboardHost, dashboardPort, db, ring, sum, mon, stats)
	go func() {
		if err := snap.Start(); err != nil {
			log.Error().Err(err).Msg("snapshot server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()
	mon.Stop()
	pipe.Shutdown()
	_ = snap.Shutdown()
	blockhashCache.Stop()
	log.Info().Msg("goodbye")
}

// handleTrigger dispatches one fired position-monitor trigger to the sell
// path; graduated positions are closed without attempting a curve sell
// since no further trades are expected against a completed curve.
func handleTrigger(ctx context.Context, mon *monitor.Monitor, db *store.Store, trig monitor.Trigger, partialSellPercent float64) {
	pos, err := db.GetOpenPosition(trig.Mint)
	if err != nil || pos == nil {
		log.Warn().Str("mint", trig.Mint).Str("kind", trig.Kind).Msg("trigger fired for position no longer open")
		return
	}

	switch trig.Kind {
	case "graduated":
		if closeErr := db.ClosePosition(pos.ID, time.Now().UnixMilli(), "graduated", 0); closeErr != nil {
			log.Error().Err(closeErr).Str("mint", trig.Mint).Msg("failed to close graduated position")
		}
	case "partial_profit":
		if err := mon.ExecutePartialSell(ctx, pos, partialSellPercent); err != nil {
			log.Warn().Err(err).Str("mint", trig.Mint).Msg("partial sell failed")
		}
	default:
		if err := mon.ExecuteSellWithRetry(ctx, trig, pos); err != nil {
			log.Error().Err(err).Str("mint", trig.Mint).Str("kind", trig.Kind).Msg("sell retry loop exhausted")
		}
	}
}

func setupLogger() {
	log.Logger = zerolog.New(
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// splitListenAddr parses a "host:port" listen address (host may be empty,
// as in the ":8090" default) into its fiber.Listen-ready parts, falling
// back to 0.0.0.0:8090 on a malformed value rather than failing startup
// over a dashboard misconfiguration.
func splitListenAddr(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0", 8090
	}
	if host == "" {
		host = "0.0.0.0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "0.0.0.0", 8090
	}
	return host, port
}
