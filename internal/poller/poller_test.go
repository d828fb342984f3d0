package poller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 10 * time.Millisecond

func TestPollerTicksWhileEnabled(t *testing.T) {
	var n atomic.Int32
	p := New(interval, func(context.Context) { n.Add(1) })

	p.Start(t.Context())
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, interval)

	p.Stop()
	p.Wait()
	after := n.Load()
	time.Sleep(5 * interval)
	assert.Equal(t, after, n.Load())
	assert.False(t, p.Active())
}

func TestPollerSuspendedWhileHidden(t *testing.T) {
	var n atomic.Int32
	p := New(interval, func(context.Context) { n.Add(1) })

	p.SetVisible(false)
	p.Start(t.Context())
	assert.False(t, p.Active())
	time.Sleep(5 * interval)
	assert.Zero(t, n.Load())

	p.SetVisible(true)
	assert.True(t, p.Active())
	require.Eventually(t, func() bool { return n.Load() >= 1 }, time.Second, interval)

	p.SetVisible(false)
	p.Wait()
	hidden := n.Load()
	time.Sleep(5 * interval)
	assert.Equal(t, hidden, n.Load())

	p.Stop()
}

func TestPollerVisibleWithoutStartDoesNothing(t *testing.T) {
	var n atomic.Int32
	p := New(interval, func(context.Context) { n.Add(1) })

	p.SetVisible(false)
	p.SetVisible(true)
	time.Sleep(5 * interval)

	assert.False(t, p.Active())
	assert.Zero(t, n.Load())
}

func TestPollerStopLetsInFlightTickFinish(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	var calls atomic.Int32

	p := New(interval, func(ctx context.Context) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			finished.Store(ctx.Err() == nil)
		}
	})
	p.Start(t.Context())

	<-started
	p.Stop()
	close(release)
	p.Wait()

	assert.True(t, finished.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestPollerEndsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(interval, func(context.Context) {})

	p.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not exit after cancellation")
	}
}
