package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"AutoTrader/internal/notifier"
	"AutoTrader/internal/reconciler"
	"AutoTrader/internal/risk"
	"AutoTrader/internal/trading"
)

// CycleRunner runs one decision cycle.
type CycleRunner interface {
	Run(ctx context.Context, req trading.Request) trading.Result
	Progress(ctx context.Context) (risk.Growth, error)
}

// PendingReconciler resolves pending trades.
type PendingReconciler interface {
	Reconcile(ctx context.Context) (reconciler.Report, error)
}

// Sender delivers operator messages. It may be nil.
type Sender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

type Config struct {
	Symbols     []string
	AutoExecute bool
	// Concurrency bounds simultaneous symbol cycles; 0 means one per symbol.
	Concurrency int
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron       *cron.Cron
	Engine     CycleRunner
	Reconciler PendingReconciler
	Notifier   Sender
	Ctx        context.Context

	cfg Config
	log zerolog.Logger
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, cfg Config, eng CycleRunner, rec PendingReconciler, n Sender, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Cron:       cron.New(cron.WithSeconds()),
		Engine:     eng,
		Reconciler: rec,
		Notifier:   n,
		Ctx:        ctx,
		cfg:        cfg,
		log:        log.With().Str("component", "scheduler").Logger(),
	}
}

// RegisterAll registers the trading cycle and reconciliation tasks. An
// empty expression leaves that task unscheduled.
func (s *Scheduler) RegisterAll(cycleCron, reconcileCron string) error {
	if cycleCron != "" {
		if _, err := s.Cron.AddFunc(cycleCron, s.cycleTask); err != nil {
			return fmt.Errorf("register cycle task: %w", err)
		}
	}
	if reconcileCron != "" {
		if _, err := s.Cron.AddFunc(reconcileCron, s.reconcileTask); err != nil {
			return fmt.Errorf("register reconcile task: %w", err)
		}
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	s.log.Info().Strs("symbols", s.cfg.Symbols).Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes one cycle for every configured symbol immediately.
func (s *Scheduler) RunNow() []trading.Result {
	return s.RunCycles(s.Ctx)
}

func (s *Scheduler) cycleTask() {
	s.RunCycles(s.Ctx)
}

// RunCycles runs a cycle per configured symbol concurrently. Results are
// returned in symbol order.
func (s *Scheduler) RunCycles(ctx context.Context) []trading.Result {
	results := make([]trading.Result, len(s.cfg.Symbols))
	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.Concurrency > 0 {
		g.SetLimit(s.cfg.Concurrency)
	}
	for i, symbol := range s.cfg.Symbols {
		g.Go(func() error {
			res := s.Engine.Run(gctx, trading.Request{Symbol: symbol, AutoExecute: s.cfg.AutoExecute})
			ev := s.log.Info()
			if res.Error != "" {
				ev = s.log.Error().Str("error", res.Error)
			}
			ev.Str("symbol", res.Symbol).Str("signal", string(res.Signal)).Bool("executed", res.Executed).Str("message", res.Message).Msg("scheduled cycle finished")
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) reconcileTask() {
	rep, err := s.Reconciler.Reconcile(s.Ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reconcile pending trades")
		s.trySend(fmt.Sprintf("❌ Reconciliation failed: %v", err))
		return
	}
	s.log.Info().Int("checked", rep.Checked).Int("updated", rep.Updated).Int("failed", rep.Failed).Msg("reconciled pending trades")
	if rep.Updated > 0 || rep.Failed > 0 {
		s.trySend(notifier.FormatReconcile(rep))
	}
}

const helpText = "Available commands:\n• /run SYMBOL\n• /reconcile\n• /growth"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}
	switch strings.ToLower(fields[0]) {
	case "/run":
		if len(fields) < 2 {
			return "Usage: /run SYMBOL"
		}
		res := s.Engine.Run(ctx, trading.Request{Symbol: fields[1], AutoExecute: s.cfg.AutoExecute})
		return notifier.FormatCycle(res)
	case "/reconcile":
		rep, err := s.Reconciler.Reconcile(ctx)
		if err != nil {
			return fmt.Sprintf("❌ Reconciliation failed: %v", err)
		}
		return notifier.FormatReconcile(rep)
	case "/growth":
		g, err := s.Engine.Progress(ctx)
		if err != nil {
			return fmt.Sprintf("❌ Growth unavailable: %v", err)
		}
		return notifier.FormatGrowth(g)
	default:
		return helpText
	}
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		s.log.Error().Err(err).Msg("send notification")
	}
}
