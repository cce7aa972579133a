package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/garyjia/prior-auth/internal/application/workflow"
)

// Reconciler is the orchestrator operation the worker schedules
type Reconciler interface {
	Reconcile(ctx context.Context) (*workflow.ReconcileReport, error)
}

// ReconcileWorker runs Reconcile on a cron schedule so requests whose
// deadlines passed while nothing was watching still expire
type ReconcileWorker struct {
	schedule   string
	timeout    time.Duration
	reconciler Reconciler
	logger     *zap.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	ctx      context.Context
	runs     int
	failures int
	last     *workflow.ReconcileReport
}

// NewReconcileWorker validates the schedule and creates the worker.
// schedule accepts standard cron expressions and descriptors such as "@every 5m".
func NewReconcileWorker(schedule string, timeout time.Duration, reconciler Reconciler, logger *zap.Logger) (*ReconcileWorker, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &ReconcileWorker{
		schedule:   schedule,
		timeout:    timeout,
		reconciler: reconciler,
		logger:     logger,
	}, nil
}

// Name implements Worker
func (w *ReconcileWorker) Name() string {
	return "reconcile"
}

// Start implements Worker
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("reconcile worker already started")
	}

	logger := cronLogger{w.logger.Sugar()}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))
	if _, err := c.AddFunc(w.schedule, func() { w.RunOnce() }); err != nil {
		return fmt.Errorf("failed to schedule reconcile: %w", err)
	}

	w.ctx = ctx
	w.cron = c
	c.Start()

	w.logger.Info("Reconcile worker scheduled", zap.String("schedule", w.schedule))
	return nil
}

// Stop implements Worker. It waits for a running reconcile to finish.
func (w *ReconcileWorker) Stop() error {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return nil
	}
	<-c.Stop().Done()
	return nil
}

// RunOnce reconciles immediately and records the outcome
func (w *ReconcileWorker) RunOnce() {
	w.mu.Lock()
	parent := w.ctx
	w.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()

	report, err := w.reconciler.Reconcile(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.runs++
	if err != nil {
		w.failures++
		w.logger.Error("Reconcile failed", zap.Error(err))
		return
	}
	w.last = report
	w.logger.Info("Reconcile completed",
		zap.Int("checked", report.Checked),
		zap.Int("expired", report.Expired),
		zap.Int("synced", report.Synced))
}

// Stats returns the number of runs, failed runs and the last successful report
func (w *ReconcileWorker) Stats() (runs, failures int, last *workflow.ReconcileReport) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs, w.failures, w.last
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
