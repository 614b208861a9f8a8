package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"AutoTrader/internal/api"
	"AutoTrader/internal/broker"
	"AutoTrader/internal/calculator"
	"AutoTrader/internal/collector"
	"AutoTrader/internal/config"
	"AutoTrader/internal/executor"
	"AutoTrader/internal/lock"
	"AutoTrader/internal/logger"
	"AutoTrader/internal/metrics"
	"AutoTrader/internal/notifier"
	"AutoTrader/internal/reconciler"
	"AutoTrader/internal/recorder"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/scheduler"
	"AutoTrader/internal/strategy"
	"AutoTrader/internal/telemetry"
	"AutoTrader/internal/trading"
)

func main() {
	boot := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(config.Path())
	if err != nil {
		boot.Fatal().Err(err).Msg("load config")
	}
	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output})
	if err != nil {
		boot.Fatal().Err(err).Msg("init logger")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config validation")
	}
	log.Info().Str("strategy", cfg.Strategy.Name).Strs("symbols", cfg.Schedule.Symbols).Msg("AutoTrader starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alpaca, err := broker.NewAlpacaClient(broker.AlpacaConfig{
		APIKey:     cfg.Broker.APIKey,
		SecretKey:  cfg.Broker.SecretKey,
		BaseURL:    cfg.Broker.BaseURL,
		ProxyURL:   cfg.Proxy,
		MaxRetries: cfg.Broker.MaxRetries,
		Timeout:    cfg.Broker.Timeout,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init broker")
	}
	checkCtx, checkCancel := context.WithTimeout(ctx, 15*time.Second)
	account, err := alpaca.GetAccount(checkCtx)
	checkCancel()
	if err != nil {
		log.Fatal().Err(err).Msg("broker account check failed")
	}
	log.Info().Str("status", account.Status).Float64("portfolio_value", account.PortfolioValue).Msg("broker connected")

	store, err := recorder.NewSQLiteStore(cfg.Database.SQLitePath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init sqlite store")
	}
	defer store.Close()

	var locker lock.Locker = lock.NewMemoryLocker()
	if cfg.Lock.RedisAddr != "" {
		rl, err := lock.NewRedisLocker(cfg.Lock.RedisAddr, log,
			lock.WithRedisPassword(cfg.Lock.RedisPassword),
			lock.WithRedisDB(cfg.Lock.RedisDB),
			lock.WithRedisPrefix(cfg.Lock.Prefix),
			lock.WithLeaseTTL(cfg.Lock.LeaseTTL),
		)
		if err != nil {
			log.Fatal().Err(err).Msg("init redis lock")
		}
		defer rl.Close()
		locker = rl
	}

	strat, err := strategy.New(cfg.Strategy.Name)
	if err != nil {
		log.Fatal().Err(err).Msg("init strategy")
	}

	feed := collector.NewYahooFetcher(cfg.DataSource.BaseURL, cfg.Proxy)
	log.Info().Str("source", feed.Name()).Msg("price feed ready")

	sizer := risk.NewSizer(feed, risk.SizerConfig{
		BasePercent:       cfg.Sizing.BasePercent,
		AggressivePercent: cfg.Sizing.AggressivePercent,
		ProgressThreshold: cfg.Sizing.ProgressThreshold,
		DefaultPrice:      cfg.Sizing.PriceEstimate,
		PriceLookback:     cfg.Sizing.PriceLookback,
	}, log)
	gate := risk.NewGate(risk.GateConfig{
		MarketHoursOverride:   cfg.Risk.MarketHoursOverride,
		DailyLossLimitPercent: cfg.Risk.DailyLossLimit,
		AllowShort:            cfg.ShortsAllowed(),
	}, sizer, log)
	exec := executor.New(alpaca, store, executor.Config{
		PollMaxAttempts:   cfg.PollMaxAttempts(),
		PollInterval:      cfg.Execution.PollInterval,
		BracketOrders:     cfg.Execution.BracketOrders,
		StopLossPercent:   cfg.Execution.StopLossPercent,
		TakeProfitPercent: cfg.Execution.TakeProfitPct,
	}, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.New(reg)

	engine := trading.NewEngine(trading.Deps{
		Broker: alpaca,
		Feed:   feed,
		Indicators: calculator.NewEngine(calculator.Config{
			RSIPeriod:  cfg.Indicators.RSIPeriod,
			MACDFast:   cfg.Indicators.MACDFast,
			MACDSlow:   cfg.Indicators.MACDSlow,
			MACDSignal: cfg.Indicators.MACDSignal,
		}),
		Strategy: strat,
		Sizer:    sizer,
		Growth: risk.NewGrowthTracker(store, risk.GrowthConfig{
			TargetMultiplier: cfg.Sizing.TargetMultiplier,
			TargetDays:       cfg.Sizing.TargetDays,
		}),
		Gate:     gate,
		Executor: exec,
		Store:    store,
		Locker:   locker,
		Metrics:  rec,
	}, cfg.DataSource.HistoryMonths, log)

	recon := reconciler.New(alpaca, store, log)
	pending := reconcileWithMetrics{Reconciler: recon, metrics: rec}

	hub := telemetry.NewHub(log)
	go hub.Run(ctx)
	engine.AddListener(hub)

	var sender scheduler.Sender
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		tn.NotifyAll = cfg.Telegram.NotifyAll
		engine.AddListener(tn)
		sender = tn
	} else {
		log.Warn().Msg("telegram not configured, notifications disabled")
	}

	sched := scheduler.NewScheduler(ctx, scheduler.Config{
		Symbols:     cfg.Schedule.Symbols,
		AutoExecute: cfg.Execution.AutoExecute,
		Concurrency: cfg.Schedule.Concurrency,
	}, engine, pending, sender, log)
	if err := sched.RegisterAll(cfg.Schedule.CycleCron, cfg.Schedule.ReconcileCron); err != nil {
		log.Fatal().Err(err).Msg("register cron tasks")
	}
	sched.Start()
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info().Msg("telegram polling started")
	}

	srv := api.NewServer(api.NewHandler(api.Deps{
		Engine:     engine,
		Reconciler: pending,
		Store:      store,
		Broker:     alpaca,
		Hub:        hub,
		Gatherer:   reg,
		Secret:     cfg.Execution.Secret,
	}, log), log,
		api.WithHost(cfg.Server.Host),
		api.WithPort(cfg.Server.Port),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	srv.Start()

	if cfg.Schedule.RunOnStart {
		log.Info().Msg("run_on_start enabled, running cycles now")
		go sched.RunNow()
	}

	log.Info().Msg("AutoTrader is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("shutdown signal received, stopping...")
	if err := srv.Stop(context.Background()); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	cancel()
	log.Info().Msg("AutoTrader stopped")
}

// reconcileWithMetrics counts reconciliation outcomes.
type reconcileWithMetrics struct {
	*reconciler.Reconciler
	metrics *metrics.Recorder
}

func (r reconcileWithMetrics) Reconcile(ctx context.Context) (reconciler.Report, error) {
	rep, err := r.Reconciler.Reconcile(ctx)
	if err != nil {
		r.metrics.RecordError("reconcile")
		return rep, err
	}
	r.metrics.RecordReconcile(rep.Checked, rep.Updated, rep.Failed)
	return rep, nil
}
