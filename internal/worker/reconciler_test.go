package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"contract-service/config"
	"contract-service/internal/usecase"

	"go.uber.org/zap"
)

type fakeResolver struct {
	mu     sync.Mutex
	calls  []time.Time
	limits []int
	err    error
	ran    chan struct{}
}

func (f *fakeResolver) ReconcileStale(_ context.Context, before time.Time, limit int) (*usecase.ReconcileReport, error) {
	f.mu.Lock()
	f.calls = append(f.calls, before)
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return &usecase.ReconcileReport{Scanned: 1}, f.err
}

func TestRunOnceUsesStaleCutoff(t *testing.T) {
	f := &fakeResolver{}
	pr := NewPaymentReconciler(f, config.ReconcilerConfig{Interval: time.Minute, StaleAfter: 2 * time.Minute, BatchSize: 25}, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pr.now = func() time.Time { return now }

	report := pr.RunOnce(context.Background())
	if report == nil || report.Scanned != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(f.calls) != 1 || !f.calls[0].Equal(now.Add(-2*time.Minute)) {
		t.Fatalf("cutoff = %v", f.calls)
	}
	if f.limits[0] != 25 {
		t.Fatalf("limit = %d, want 25", f.limits[0])
	}
}

func TestRunOnceSurvivesErrors(t *testing.T) {
	f := &fakeResolver{err: errors.New("db down")}
	pr := NewPaymentReconciler(f, config.ReconcilerConfig{Interval: time.Minute, StaleAfter: time.Minute, BatchSize: 10}, zap.NewNop())
	pr.RunOnce(context.Background())
	pr.RunOnce(context.Background())
	if len(f.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(f.calls))
	}
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	f := &fakeResolver{ran: make(chan struct{}, 1)}
	pr := NewPaymentReconciler(f, config.ReconcilerConfig{Interval: time.Hour, StaleAfter: time.Minute, BatchSize: 10}, zap.NewNop())

	done := make(chan struct{})
	go func() {
		pr.Start(context.Background())
		close(done)
	}()

	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not run on start")
	}
	pr.Stop()
	pr.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconciler did not stop")
	}
}
