package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsJobs(t *testing.T) {
	p := New(8, 2, time.Second)
	defer p.Close()

	var wg sync.WaitGroup
	var n atomic.Int32
	for range 5 {
		wg.Add(1)
		require.True(t, p.Dispatch("", func(context.Context) {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(5), n.Load())
}

func TestPoolDedupesByKey(t *testing.T) {
	p := New(8, 1, time.Second)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Dispatch("geocode:1", func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	assert.False(t, p.Dispatch("geocode:1", func(context.Context) {}), "same key while running")
	assert.True(t, p.Dispatch("geocode:2", func(context.Context) {}))
	close(release)

	assert.Eventually(t, func() bool {
		return p.Dispatch("geocode:1", func(context.Context) {})
	}, time.Second, 5*time.Millisecond, "key released after completion")
}

func TestPoolSaturated(t *testing.T) {
	p := New(1, 1, time.Second)
	defer p.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.Dispatch("", func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.True(t, p.Dispatch("", func(context.Context) {}))
	assert.False(t, p.Dispatch("queued-out", func(context.Context) {}))
	close(release)
}

func TestPoolTimeoutAndClose(t *testing.T) {
	p := New(4, 1, 20*time.Millisecond)

	done := make(chan error, 1)
	require.True(t, p.Dispatch("", func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	}))
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("job was not cancelled by its timeout")
	}

	p.Close()
	p.Close()
	assert.False(t, p.Dispatch("", func(context.Context) {}))
}
