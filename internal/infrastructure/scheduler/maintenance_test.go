package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEvicter struct {
	calls atomic.Int32
	idle  atomic.Int64
}

func (e *countingEvicter) EvictIdle(idle time.Duration) int {
	e.calls.Add(1)
	e.idle.Store(int64(idle))
	return 3
}

type stubRefresher struct {
	n   int64
	err error
}

func (s stubRefresher) RefreshDirty(context.Context) (int64, error) { return s.n, s.err }

type gaugeRecorder struct {
	depths  []int
	denials []int64
}

func (g *gaugeRecorder) RecordQueueDepth(_ context.Context, depth int) {
	g.depths = append(g.depths, depth)
}
func (g *gaugeRecorder) RecordRateDenials(_ context.Context, n int64) {
	g.denials = append(g.denials, n)
}

type fixedDepth int

func (d fixedDepth) QueueDepth() int { return int(d) }

type waitCounter struct{ n int64 }

func (w *waitCounter) RateWaits() int64 { return w.n }

func TestNewMaintenance_RejectsInvalidJobs(t *testing.T) {
	_, err := NewMaintenance(nil, Job{Name: "x", Interval: 0, Run: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewMaintenance(nil, Job{Name: "x", Interval: time.Second})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestMaintenance_RunsJobsPeriodically(t *testing.T) {
	ev := &countingEvicter{}
	m, err := NewMaintenance(nil, LimiterEvictionJob(ev, 24*time.Hour, 10*time.Millisecond, nil))
	require.NoError(t, err)

	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return ev.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.Equal(t, int64(24*time.Hour), ev.idle.Load())

	// Stop is idempotent
	require.NoError(t, m.Stop(ctx))
}

func TestMaintenance_RunOnceAppliesTimeout(t *testing.T) {
	var deadline time.Time
	job := Job{
		Name:     "heartbeat",
		Interval: time.Hour,
		Timeout:  time.Second,
		Run: func(ctx context.Context) error {
			deadline, _ = ctx.Deadline()
			return errors.New("ignored")
		},
	}
	m, err := NewMaintenance(nil, job)
	require.NoError(t, err)

	m.RunOnce(context.Background(), job)

	assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
}

func TestSearchRefreshJob(t *testing.T) {
	job := SearchRefreshJob(stubRefresher{n: 12}, time.Minute, nil)
	assert.Equal(t, "search_refresh", job.Name)
	assert.NoError(t, job.Run(context.Background()))

	failing := SearchRefreshJob(stubRefresher{err: errors.New("boom")}, time.Minute, nil)
	assert.Error(t, failing.Run(context.Background()))
}

func TestSyncGaugesJob_ForwardsRateWaitDelta(t *testing.T) {
	rec := &gaugeRecorder{}
	waits := &waitCounter{n: 5}
	job := SyncGaugesJob(rec, fixedDepth(7), waits, time.Second)

	require.NoError(t, job.Run(context.Background()))
	waits.n = 8
	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []int{7, 7, 7}, rec.depths)
	assert.Equal(t, []int64{5, 3, 0}, rec.denials)
}
