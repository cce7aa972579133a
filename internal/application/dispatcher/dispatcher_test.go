package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/prior-auth/internal/domain/event"
)

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func errorCount(logs *observer.ObservedLogs) int {
	return logs.FilterLevelExact(zapcore.ErrorLevel).Len()
}

func newEvent(t event.Type) *event.Event {
	return event.NewEvent(t, "auth-1", map[string]interface{}{"authorizationId": "auth-1"})
}

func TestNewDispatcher(t *testing.T) {
	t.Run("creates dispatcher without logger", func(t *testing.T) {
		assert.NotNil(t, NewDispatcher())
	})

	t.Run("creates dispatcher with logger", func(t *testing.T) {
		logger, _ := observedLogger()
		assert.NotNil(t, NewDispatcher(WithLogger(logger)))
	})
}

func TestSubscribe(t *testing.T) {
	t.Run("subscribes handler with auto-generated name", func(t *testing.T) {
		d := NewDispatcher()
		called := false
		d.Subscribe(event.TypeSendNotification, func(ctx context.Context, evt *event.Event) error {
			called = true
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeSendNotification)))
		assert.True(t, called)
		assert.Equal(t, "handler-0", d.ListHandlers(event.TypeSendNotification)[0].Name)
	})

	t.Run("subscribes multiple handlers to same event type in order", func(t *testing.T) {
		d := NewDispatcher()
		var order []string
		d.SubscribeNamed(event.TypeAssignReviewer, "first", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "first")
			return nil
		})
		d.SubscribeNamed(event.TypeAssignReviewer, "second", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "second")
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeAssignReviewer)))
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("catch-all handlers receive every type after typed handlers", func(t *testing.T) {
		d := NewDispatcher()
		var order []string
		d.SubscribeAll("audit", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "audit:"+evt.Type.String())
			return nil
		})
		d.SubscribeNamed(event.TypeStateTransition, "typed", func(ctx context.Context, evt *event.Event) error {
			order = append(order, "typed")
			return nil
		})

		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeStateTransition)))
		require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeWorkflowStarted)))
		assert.Equal(t, []string{"typed", "audit:stateTransition", "audit:workflowStarted"}, order)
	})
}

func TestUnsubscribe(t *testing.T) {
	d := NewDispatcher()
	var called atomic.Int32
	d.SubscribeNamed(event.TypeCreateAppeal, "keep", func(ctx context.Context, evt *event.Event) error {
		called.Add(1)
		return nil
	})
	d.SubscribeNamed(event.TypeCreateAppeal, "drop", func(ctx context.Context, evt *event.Event) error {
		called.Add(100)
		return nil
	})

	d.Unsubscribe(event.TypeCreateAppeal, "drop")
	require.NoError(t, d.Dispatch(context.Background(), newEvent(event.TypeCreateAppeal)))

	assert.Equal(t, int32(1), called.Load())
	assert.Len(t, d.ListHandlers(event.TypeCreateAppeal), 1)
}

func TestDispatch(t *testing.T) {
	t.Run("returns first handler error and stops", func(t *testing.T) {
		logger, logs := observedLogger()
		d := NewDispatcher(WithLogger(logger))
		secondCalled := false
		d.SubscribeNamed(event.TypeSyncWithExternalSystem, "erp", func(ctx context.Context, evt *event.Event) error {
			return errors.New("erp down")
		})
		d.SubscribeNamed(event.TypeSyncWithExternalSystem, "after", func(ctx context.Context, evt *event.Event) error {
			secondCalled = true
			return nil
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeSyncWithExternalSystem))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler erp failed")
		assert.False(t, secondCalled)
		assert.Equal(t, 1, errorCount(logs))
	})

	t.Run("recovers from handler panic", func(t *testing.T) {
		d := NewDispatcher()
		d.Subscribe(event.TypeEscalateReview, func(ctx context.Context, evt *event.Event) error {
			panic("boom")
		})

		err := d.Dispatch(context.Background(), newEvent(event.TypeEscalateReview))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler panic: boom")
	})

	t.Run("rejects dispatch after close", func(t *testing.T) {
		d := NewDispatcher()
		require.NoError(t, d.Close())
		assert.ErrorIs(t, d.Dispatch(context.Background(), newEvent(event.TypeTimeoutOccurred)), ErrClosed)
	})
}

func TestPublish(t *testing.T) {
	t.Run("delivers outbox in order and survives handler errors", func(t *testing.T) {
		logger, logs := observedLogger()
		d := NewDispatcher(WithLogger(logger))

		var mu sync.Mutex
		var seen []event.Type
		d.SubscribeAll("recorder", func(ctx context.Context, evt *event.Event) error {
			mu.Lock()
			seen = append(seen, evt.Type)
			mu.Unlock()
			return nil
		})
		d.Subscribe(event.TypeSendNotification, func(ctx context.Context, evt *event.Event) error {
			return errors.New("lark unavailable")
		})

		d.Publish(context.Background(), []*event.Event{
			newEvent(event.TypeAssignReviewer),
			newEvent(event.TypeSendNotification),
			newEvent(event.TypeStateTransition),
		})
		require.NoError(t, d.Close())

		assert.Equal(t, []event.Type{event.TypeAssignReviewer, event.TypeSendNotification, event.TypeStateTransition}, seen)
		assert.Equal(t, 1, errorCount(logs))
	})

	t.Run("delivery outlives a canceled request context", func(t *testing.T) {
		d := NewDispatcher()
		var ctxErr atomic.Value
		d.Subscribe(event.TypeWorkflowCompleted, func(ctx context.Context, evt *event.Event) error {
			time.Sleep(10 * time.Millisecond)
			ctxErr.Store(ctx.Err() == nil)
			return nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		d.Publish(ctx, []*event.Event{newEvent(event.TypeWorkflowCompleted)})
		cancel()
		require.NoError(t, d.Close())

		assert.Equal(t, true, ctxErr.Load())
	})

	t.Run("async panic is logged", func(t *testing.T) {
		logger, logs := observedLogger()
		d := NewDispatcher(WithLogger(logger))
		d.Subscribe(event.TypeCreateAppeal, func(ctx context.Context, evt *event.Event) error {
			panic("async panic")
		})

		d.DispatchAsync(context.Background(), newEvent(event.TypeCreateAppeal))
		require.NoError(t, d.Close())

		assert.Equal(t, 1, logs.FilterMessage("Handler panic recovered").Len())
	})

	t.Run("does not deliver when closed", func(t *testing.T) {
		logger, logs := observedLogger()
		d := NewDispatcher(WithLogger(logger))
		var called atomic.Int32
		d.Subscribe(event.TypeAssignReviewer, func(ctx context.Context, evt *event.Event) error {
			called.Add(1)
			return nil
		})
		require.NoError(t, d.Close())

		d.Publish(context.Background(), []*event.Event{newEvent(event.TypeAssignReviewer)})

		assert.Equal(t, int32(0), called.Load())
		assert.Equal(t, 1, errorCount(logs))
	})
}

func TestClose(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.Close())
	assert.Error(t, d.Close())
}

func TestConcurrency(t *testing.T) {
	d := NewDispatcher()
	var count atomic.Int64
	d.Subscribe(event.TypeStateTransition, func(ctx context.Context, evt *event.Event) error {
		count.Add(1)
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				d.Publish(context.Background(), []*event.Event{newEvent(event.TypeStateTransition)})
				d.SubscribeNamed(event.TypeTimeoutOccurred, "noop", func(ctx context.Context, evt *event.Event) error { return nil })
			}
		}()
	}
	wg.Wait()
	require.NoError(t, d.Close())

	assert.Equal(t, int64(200), count.Load())
}
