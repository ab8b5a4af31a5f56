package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/granary/queue"
)

func TestPoolProcessesQueuedJobs(t *testing.T) {
	p, store, registry := newTestProcessor(t)
	h := &stubHandler{kind: queue.KindProcessItem}
	registry.Register(h)

	job := mustEnqueue(t, store, queue.KindProcessItem, "src")

	pool := NewPool(p, PoolConfig{Workers: 2, PollInterval: 10 * time.Millisecond, MaxJobsPerPoll: 5}, nil)
	require.NoError(t, pool.Start(context.Background()))
	defer pool.Stop()

	require.Eventually(t, func() bool {
		got, err := store.GetJob(job.ID)
		return err == nil && got.Status == queue.JobStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, h.callCount())
}

func TestPoolStartTwice(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	pool := NewPool(p, DefaultPoolConfig(), nil)

	require.NoError(t, pool.Start(context.Background()))
	assert.Error(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop())
}

func TestPoolStopIsIdempotent(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	pool := NewPool(p, DefaultPoolConfig(), nil)

	require.NoError(t, pool.Stop())
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop())
	require.NoError(t, pool.Stop())
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	pool := NewPool(p, PoolConfig{Workers: 1, PollInterval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	cancel()

	require.NoError(t, pool.Stop())
}

func TestPoolConfigDefaults(t *testing.T) {
	p, _, _ := newTestProcessor(t)
	pool := NewPool(p, PoolConfig{}, nil)

	assert.Equal(t, DefaultPoolConfig().Workers, pool.cfg.Workers)
	assert.Equal(t, DefaultPollInterval, pool.cfg.PollInterval)
	assert.Equal(t, DefaultMaxJobsPerPoll, pool.cfg.MaxJobsPerPoll)
}
