package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a periodic maintenance task
type Job struct {
	Name     string
	Interval time.Duration
	// Timeout bounds one run; zero means Interval
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Maintenance runs periodic jobs, each on its own ticker
type Maintenance struct {
	jobs   []Job
	logger *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewMaintenance creates a maintenance runner
func NewMaintenance(logger *zap.Logger, jobs ...Job) (*Maintenance, error) {
	for _, j := range jobs {
		if j.Name == "" || j.Interval <= 0 || j.Run == nil {
			return nil, fmt.Errorf("%w: job %q", ErrInvalidConfig, j.Name)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Maintenance{jobs: jobs, logger: logger}, nil
}

// Start starts one goroutine per job
func (m *Maintenance) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = true
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, job := range m.jobs {
		m.wg.Add(1)
		go m.runJob(ctx, job)
	}

	m.logger.Info("Maintenance scheduler started", zap.Int("jobs", len(m.jobs)))
	return nil
}

// Stop stops every job and waits for running ones to return
func (m *Maintenance) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return nil
	}
	m.isRunning = false
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("Maintenance scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Maintenance) runJob(ctx context.Context, job Job) {
	defer m.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunOnce(ctx, job)
		}
	}
}

// RunOnce runs a job with its timeout, logging a failure
func (m *Maintenance) RunOnce(ctx context.Context, job Job) {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = job.Interval
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	if err := job.Run(runCtx); err != nil {
		m.logger.Warn("Maintenance job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
	}
}

// ---------------------------------------------------------------------------
// Standard jobs
// ---------------------------------------------------------------------------

// IdleEvicter drops state of tenants idle for longer than idle
type IdleEvicter interface {
	EvictIdle(idle time.Duration) int
}

// LimiterEvictionJob drops rate-limiter buckets of tenants idle for longer than idle
func LimiterEvictionJob(limiter IdleEvicter, idle, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "ratelimit_eviction",
		Interval: interval,
		Run: func(context.Context) error {
			if n := limiter.EvictIdle(idle); n > 0 && logger != nil {
				logger.Debug("Evicted idle rate limiter buckets", zap.Int("tenants", n))
			}
			return nil
		},
	}
}

// DirtyRefresher recomputes search vectors of rows marked dirty
type DirtyRefresher interface {
	RefreshDirty(ctx context.Context) (int64, error)
}

// SearchRefreshJob recomputes dirty search vectors
func SearchRefreshJob(indexer DirtyRefresher, interval time.Duration, logger *zap.Logger) Job {
	return Job{
		Name:     "search_refresh",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := indexer.RefreshDirty(ctx)
			if err != nil {
				return err
			}
			if n > 0 && logger != nil {
				logger.Debug("Refreshed search vectors", zap.Int64("rows", n))
			}
			return nil
		},
	}
}

// SyncGaugeRecorder receives sampled sync engine gauges
type SyncGaugeRecorder interface {
	RecordQueueDepth(ctx context.Context, depth int)
	RecordRateDenials(ctx context.Context, n int64)
}

// QueueDepther reports the number of queued sync tasks
type QueueDepther interface {
	QueueDepth() int
}

// RateWaitCounter reports the cumulative number of rate-limit waits
type RateWaitCounter interface {
	RateWaits() int64
}

// SyncGaugesJob samples the queue depth and forwards new rate-limit waits
func SyncGaugesJob(recorder SyncGaugeRecorder, queue QueueDepther, waits RateWaitCounter, interval time.Duration) Job {
	var last int64
	return Job{
		Name:     "sync_gauges",
		Interval: interval,
		Run: func(ctx context.Context) error {
			recorder.RecordQueueDepth(ctx, queue.QueueDepth())
			if waits != nil {
				total := waits.RateWaits()
				recorder.RecordRateDenials(ctx, total-last)
				last = total
			}
			return nil
		},
	}
}
