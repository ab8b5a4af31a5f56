package worker

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/corvid-labs/granary/errors"
	"github.com/corvid-labs/granary/logger"
	"github.com/corvid-labs/granary/queue"
)

// Collection jobs hit external APIs, so their starts are staggered to avoid
// a thundering herd when several are claimed in one poll.
const (
	staggerMin = 500 * time.Millisecond
	staggerMax = 1500 * time.Millisecond
)

// Processor claims batches of jobs and runs them concurrently. One job's
// failure never cancels its siblings; every job settles on its own.
type Processor struct {
	store    *queue.Store
	registry *Registry
	log      *zap.SugaredLogger

	// Injectable for testing
	sleep     func(ctx context.Context, d time.Duration) error
	randInt63 func(n int64) int64
}

// NewProcessor creates a job processor.
func NewProcessor(store *queue.Store, registry *Registry, log *zap.SugaredLogger) *Processor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Processor{
		store:    store,
		registry: registry,
		log:      log,
		sleep:     sleepCtx,
		randInt63: rand.Int63n,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// JobResult is the settled outcome of one job in a batch.
type JobResult struct {
	Job *queue.Job
	Err error
}

// ProcessNextJobs claims up to maxJobs pending jobs and runs them all to
// completion concurrently, returning one result per claimed job. The error
// return covers claiming only; per-job failures live in the results.
func (p *Processor) ProcessNextJobs(ctx context.Context, maxJobs int) ([]JobResult, error) {
	jobs, err := p.store.GetNextJobs(maxJobs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim jobs")
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	results := make([]JobResult, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func(slot int, job *queue.Job) {
			defer wg.Done()
			results[slot] = JobResult{Job: job, Err: p.runJob(ctx, job)}
		}(i, job)
	}
	wg.Wait()

	return results, nil
}

// runJob dispatches a single claimed job and records its outcome. Panics
// in handlers are converted to job failures so a bad payload cannot take
// the worker down.
func (p *Processor) runJob(ctx context.Context, job *queue.Job) (outcome error) {
	start := time.Now()
	log := p.log.With(
		logger.FieldJobID, job.ID,
		logger.FieldJobType, string(job.Kind),
	)

	defer func() {
		if r := recover(); r != nil {
			outcome = errors.Newf("handler panicked: %v", r)
		}
		if outcome != nil {
			p.recordFailure(log, job, outcome)
			return
		}
		if err := p.store.MarkJobCompleted(job); err != nil {
			log.Errorw("Failed to record job completion",
				logger.FieldError, err,
			)
			outcome = err
			return
		}
		log.Infow("Job completed",
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}()

	handler := p.registry.Get(job.Kind)
	if handler == nil {
		return errors.Newf("no handler registered for kind: %s", job.Kind)
	}

	if job.Kind.IsCollection() {
		if err := p.sleep(ctx, p.collectionStagger()); err != nil {
			return err
		}
	}

	log.Debugw("Job started")
	return handler.Execute(ctx, job)
}

func (p *Processor) recordFailure(log *zap.SugaredLogger, job *queue.Job, jobErr error) {
	if diag := CapacityDiagnostic(jobErr); diag != "" {
		log.Errorw("Job hit a capacity ceiling",
			logger.FieldError, jobErr,
			"remediation", diag,
		)
	}
	if err := p.store.MarkJobFailed(job, jobErr); err != nil {
		log.Errorw("Failed to record job failure",
			logger.FieldError, err,
		)
	}
}

func (p *Processor) collectionStagger() time.Duration {
	spread := int64(staggerMax - staggerMin)
	return staggerMin + time.Duration(p.randInt63(spread))
}
