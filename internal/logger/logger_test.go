package logger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flarelog/goclient/internal/clock"
	"github.com/flarelog/goclient/internal/config"
	"github.com/flarelog/goclient/internal/dispatch"
	"github.com/flarelog/goclient/internal/events"
	"github.com/flarelog/goclient/internal/testutils"
)

func newTestDispatcher(t *testing.T, clk clock.Clock) *dispatch.Dispatcher {
	t.Helper()
	d := dispatch.New(
		dispatch.WithClock(clk),
		dispatch.WithTransport(testutils.NewMockTransport()),
		// A long poll interval keeps the background worker from racing
		// these synchronous registration/reconfiguration assertions.
		dispatch.WithPolicy(dispatch.Policy{PollInterval: 10 * time.Second, RetryBudget: 3, BackoffBase: time.Second, BackoffMultiplier: 2, BackoffCap: time.Minute, HaltTickOn429: true}),
	)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func TestLogger_EnqueueAndClose(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := newTestDispatcher(t, clk)

	l := New(d, config.Config{AccessToken: "T1", MaxReportsPerMinute: 60}, false)
	assert.Equal(t, 1, d.GetQueuesCount("T1"))

	l.Enqueue([]byte(`{"msg":"hi"}`))
	assert.Equal(t, 1, l.QueueLen())

	require.NoError(t, l.Close())
	assert.Equal(t, 0, d.GetQueuesCount("T1"))
}

func TestLogger_SingletonCannotClose(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := newTestDispatcher(t, clk)

	l := New(d, config.Config{AccessToken: "T1", MaxReportsPerMinute: 60}, true)
	assert.Panics(t, func() { _ = l.Close() })
}

func TestLogger_ReconfigureMovesBucket(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := newTestDispatcher(t, clk)

	l := New(d, config.Config{AccessToken: "A", MaxReportsPerMinute: 60}, false)
	l.Enqueue([]byte("payload"))

	l.Reconfigure(config.Config{AccessToken: "B", MaxReportsPerMinute: 60})

	assert.Equal(t, 0, d.GetQueuesCount("A"))
	assert.Equal(t, 1, d.GetQueuesCount("B"))
	assert.Equal(t, 1, d.GetQueuesCount())
	assert.Equal(t, 1, l.QueueLen())
}

func TestLogger_OverflowEmitsEvent(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := newTestDispatcher(t, clk)

	received := make(chan events.InternalEvent, 1)
	d.EventBus().Subscribe(events.ObserverFunc(func(e events.InternalEvent) {
		if e.Kind == events.QueueOverflow {
			received <- e
		}
	}))

	l := New(d, config.Config{AccessToken: "T1", MaxReportsPerMinute: 60, MaxQueueDepth: 1}, false)
	l.Enqueue([]byte("a"))
	l.Enqueue([]byte("b"))

	select {
	case e := <-received:
		assert.Equal(t, events.QueueOverflow, e.Kind)
		assert.Equal(t, "T1", e.AccessToken)
	case <-time.After(time.Second):
		t.Fatal("expected QueueOverflow event")
	}
}
