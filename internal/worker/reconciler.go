// internal/worker/reconciler.go
package worker

import (
	"context"
	"sync"
	"time"

	"contract-service/config"
	"contract-service/internal/usecase"

	"go.uber.org/zap"
)

// StaleResolver is the slice of PaymentUsecase the reconciler drives.
type StaleResolver interface {
	ReconcileStale(ctx context.Context, before time.Time, limit int) (*usecase.ReconcileReport, error)
}

type PaymentReconciler struct {
	payments StaleResolver
	cfg      config.ReconcilerConfig
	logger   *zap.Logger
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewPaymentReconciler(payments StaleResolver, cfg config.ReconcilerConfig, logger *zap.Logger) *PaymentReconciler {
	return &PaymentReconciler{
		payments: payments,
		cfg:      cfg,
		logger:   logger.Named("reconciler"),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start runs a pass immediately and then every Interval until ctx is done or Stop is called.
func (pr *PaymentReconciler) Start(ctx context.Context) {
	pr.logger.Info("Starting payment reconciler",
		zap.Duration("interval", pr.cfg.Interval),
		zap.Duration("stale_after", pr.cfg.StaleAfter),
		zap.Int("batch_size", pr.cfg.BatchSize))

	ticker := time.NewTicker(pr.cfg.Interval)
	defer ticker.Stop()

	pr.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			pr.RunOnce(ctx)
		case <-pr.stopChan:
			pr.logger.Info("Stopping payment reconciler")
			return
		case <-ctx.Done():
			pr.logger.Info("Context cancelled, stopping payment reconciler")
			return
		}
	}
}

// RunOnce executes a single pass over attempts older than StaleAfter.
func (pr *PaymentReconciler) RunOnce(ctx context.Context) *usecase.ReconcileReport {
	before := pr.now().Add(-pr.cfg.StaleAfter)
	report, err := pr.payments.ReconcileStale(ctx, before, pr.cfg.BatchSize)
	if err != nil && ctx.Err() == nil {
		pr.logger.Error("Reconciliation pass failed", zap.Error(err))
	}
	return report
}

func (pr *PaymentReconciler) Stop() {
	pr.stopOnce.Do(func() { close(pr.stopChan) })
}
