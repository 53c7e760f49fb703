package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

var (
	// ErrPoolStopped is returned when submitting to a pool that is not running.
	ErrPoolStopped = errors.NewStd("worker pool is not running")
	// ErrQueueFull is returned when the pool backlog is at capacity.
	ErrQueueFull = errors.NewStd("worker pool queue is full")
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 256
)

// Analyzer runs one document. *Orchestrator implements it.
type Analyzer interface {
	Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error)
}

// Outcome is delivered once per submitted request.
type Outcome struct {
	Request *AnalysisRequest
	Result  *AnalysisResult
	Err     error
}

type poolJob struct {
	req  *AnalysisRequest
	done chan Outcome
}

// WorkerPool runs independent documents in parallel. Workers share nothing
// but the analyzer; all coordination goes through the store.
type WorkerPool struct {
	analyzer  Analyzer
	workers   int
	queueSize int

	mu      sync.Mutex
	jobs    chan poolJob
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewWorkerPool sizes a pool from the pipeline settings.
func NewWorkerPool(analyzer Analyzer, settings conf.PipelineSettings) *WorkerPool {
	workers := settings.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	queueSize := settings.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &WorkerPool{analyzer: analyzer, workers: workers, queueSize: queueSize}
}

// Start launches the workers. Cancelling ctx aborts in-flight runs.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	workCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.jobs = make(chan poolJob, p.queueSize)
	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workCtx, i, p.jobs)
	}
	GetLogger().Debug("worker pool started",
		logger.Int("workers", p.workers),
		logger.Int("queue_size", p.queueSize))
}

func (p *WorkerPool) worker(ctx context.Context, id int, jobs <-chan poolJob) {
	defer p.wg.Done()
	for job := range jobs {
		result, err := p.analyze(ctx, job.req)
		if err != nil {
			GetLogger().Debug("worker finished with error",
				logger.Int("worker", id),
				logger.String("document_id", job.req.DocumentID),
				logger.Error(err))
		}
		job.done <- Outcome{Request: job.req, Result: result, Err: err}
	}
}

// analyze keeps one panicking document from taking the worker down.
func (p *WorkerPool) analyze(ctx context.Context, req *AnalysisRequest) (result *AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic analyzing document: %v", r).
				Component("pipeline").
				Category(errors.CategoryWorker).
				Context("document_id", req.DocumentID).
				Build()
		}
	}()
	return p.analyzer.Analyze(ctx, req)
}

// Submit queues req without blocking. The returned channel receives exactly
// one Outcome.
func (p *WorkerPool) Submit(req *AnalysisRequest) (<-chan Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil, ErrPoolStopped
	}

	done := make(chan Outcome, 1)
	select {
	case p.jobs <- poolJob{req: req, done: done}:
		return done, nil
	default:
		return nil, fmt.Errorf("%w: capacity %d reached", ErrQueueFull, p.queueSize)
	}
}

// Analyze submits req and waits for its outcome, so the pool can stand in
// for an Analyzer. A full queue is reported immediately. Cancelling ctx stops
// the wait, not the queued run.
func (p *WorkerPool) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	if req == nil {
		return nil, errors.ValidationError("analysis request is nil")
	}
	done, err := p.Submit(req)
	if err != nil {
		return nil, errors.New(err).
			Component("pipeline").
			Category(errors.CategoryWorker).
			Context("document_id", req.DocumentID).
			Build()
	}
	select {
	case out := <-done:
		return out.Result, out.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

var _ Analyzer = (*WorkerPool)(nil)

// Running reports whether the pool accepts work.
func (p *WorkerPool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop drains queued work with a 30 second limit.
func (p *WorkerPool) Stop() error {
	return p.StopWithTimeout(30 * time.Second)
}

// StopWithTimeout stops accepting work and waits for queued and in-flight
// documents to finish. When the timeout expires in-flight runs are cancelled
// and an error is returned.
func (p *WorkerPool) StopWithTimeout(timeout time.Duration) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.jobs)
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		cancel()
		return nil
	case <-timer.C:
		cancel()
		<-done
		return fmt.Errorf("timed out waiting for workers to finish after %v", timeout)
	}
}
