package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/garyjia/prior-auth/internal/application/workflow"
)

type stubReconciler struct {
	calls int32
	err   error
}

func (s *stubReconciler) Reconcile(ctx context.Context) (*workflow.ReconcileReport, error) {
	n := atomic.AddInt32(&s.calls, 1)
	if s.err != nil {
		return nil, s.err
	}
	return &workflow.ReconcileReport{Checked: int(n), Expired: 1}, nil
}

type stubWorker struct {
	name     string
	startErr error
	stopErr  error

	mu      sync.Mutex
	started bool
	stopped bool
}

func (w *stubWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = w.startErr == nil
	return w.startErr
}

func (w *stubWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return w.stopErr
}

func (w *stubWorker) Name() string { return w.name }

func TestNewReconcileWorker_RejectsBadSchedule(t *testing.T) {
	_, err := NewReconcileWorker("every now and then", 0, &stubReconciler{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestReconcileWorker_RunOnce(t *testing.T) {
	reconciler := &stubReconciler{}
	w, err := NewReconcileWorker("@every 1h", time.Second, reconciler, zaptest.NewLogger(t))
	require.NoError(t, err)

	w.RunOnce()
	w.RunOnce()

	runs, failures, last := w.Stats()
	assert.Equal(t, 2, runs)
	assert.Zero(t, failures)
	require.NotNil(t, last)
	assert.Equal(t, 2, last.Checked)

	reconciler.err = errors.New("orchestrator closed")
	w.RunOnce()
	runs, failures, last = w.Stats()
	assert.Equal(t, 3, runs)
	assert.Equal(t, 1, failures)
	assert.Equal(t, 2, last.Checked)
}

func TestReconcileWorker_RunsOnSchedule(t *testing.T) {
	reconciler := &stubReconciler{}
	w, err := NewReconcileWorker("@every 1s", time.Second, reconciler, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&reconciler.calls) >= 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWorkerManager_Lifecycle(t *testing.T) {
	m := NewWorkerManager(zaptest.NewLogger(t))
	healthy := &stubWorker{name: "healthy"}
	broken := &stubWorker{name: "broken", startErr: errors.New("no schedule")}
	stubborn := &stubWorker{name: "stubborn", stopErr: errors.New("still busy")}
	m.Register(healthy)
	m.Register(broken)
	m.Register(stubborn)
	assert.Equal(t, 3, m.GetWorkerCount())

	require.NoError(t, m.StartAll(context.Background()))
	assert.True(t, m.IsRunning())
	assert.True(t, healthy.started)
	assert.False(t, broken.started)
	assert.Error(t, m.StartAll(context.Background()))

	err := m.StopAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stubborn")
	assert.True(t, healthy.stopped)
	assert.False(t, m.IsRunning())

	assert.NoError(t, m.StopAll())
}
