package worker

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/db"
	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
)

const (
	// DefaultPollInterval is how often an idle worker checks for jobs.
	DefaultPollInterval = 2 * time.Second

	// DefaultMaxJobsPerPoll bounds how many jobs one poll claims.
	DefaultMaxJobsPerPoll = 5

	// backoffThreshold is how many consecutive poll errors trigger backoff.
	backoffThreshold = 5

	backoffInitial = 1 * time.Second
	backoffMax     = 30 * time.Second

	stopTimeout = 10 * time.Second
)

// PoolConfig configures a worker pool.
type PoolConfig struct {
	Workers        int
	PollInterval   time.Duration
	MaxJobsPerPoll int
}

// DefaultPoolConfig returns a pool configuration with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:        2,
		PollInterval:   DefaultPollInterval,
		MaxJobsPerPoll: DefaultMaxJobsPerPoll,
	}
}

// Pool runs a set of workers that poll the queue and execute jobs until
// stopped.
type Pool struct {
	processor *Processor
	cfg       PoolConfig
	log       *zap.SugaredLogger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewPool creates a worker pool over the given processor.
func NewPool(processor *Processor, cfg PoolConfig, log *zap.SugaredLogger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultPoolConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxJobsPerPoll <= 0 {
		cfg.MaxJobsPerPoll = DefaultMaxJobsPerPoll
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pool{processor: processor, cfg: cfg, log: log}
}

// Start launches the pool's workers. Calling Start on a running pool is an
// error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	p.log.Infow("Worker pool started",
		logger.FieldCount, p.cfg.Workers,
		"poll_interval", p.cfg.PollInterval,
	)
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to settle, up to a
// timeout.
func (p *Pool) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.cancel()
	p.started = false

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Infow("Worker pool stopped")
		return nil
	case <-time.After(stopTimeout):
		return errors.New("worker pool did not stop within timeout")
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	backoff := backoffInitial

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		results, err := p.processor.ProcessNextJobs(ctx, p.cfg.MaxJobsPerPoll)
		if err != nil {
			// A closed database means the process is shutting down.
			if errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
				return
			}
			consecutiveErrors++
			p.log.Errorw("Poll failed",
				"worker", id,
				logger.FieldError, err,
				logger.FieldAttempt, consecutiveErrors,
			)
			if consecutiveErrors >= backoffThreshold {
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
			}
			continue
		}

		consecutiveErrors = 0
		backoff = backoffInitial

		if len(results) > 0 {
			p.log.Debugw("Processed jobs",
				"worker", id,
				logger.FieldCount, len(results),
			)
		}
	}
}
