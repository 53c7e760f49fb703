package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/testutil"
)

type fakeAnalyzer struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
	panicOn string
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- req.DocumentID
	}
	if req.DocumentID == f.panicOn {
		panic("boom")
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &AnalysisResult{DocumentID: req.DocumentID, Attempts: 1}, nil
}

func newRequest(id string) *AnalysisRequest {
	return &AnalysisRequest{DocumentID: id, CreatedAt: time.Now()}
}

func TestWorkerPoolProcessesAll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	analyzer := &fakeAnalyzer{}
	pool := NewWorkerPool(analyzer, conf.PipelineSettings{Workers: 3, QueueSize: 32})
	pool.Start(context.Background())

	var chans []<-chan Outcome
	for i := range 20 {
		ch, err := pool.Submit(newRequest(fmt.Sprintf("doc-%02d", i)))
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	seen := make(map[string]bool)
	for _, ch := range chans {
		out := <-ch
		require.NoError(t, out.Err)
		assert.Equal(t, out.Request.DocumentID, out.Result.DocumentID)
		seen[out.Result.DocumentID] = true
	}
	assert.Len(t, seen, 20)
	require.NoError(t, pool.StopWithTimeout(time.Second))
	assert.Equal(t, int32(20), analyzer.calls.Load())
}

func TestWorkerPoolRejectsWhenStopped(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewWorkerPool(&fakeAnalyzer{}, conf.PipelineSettings{})
	_, err := pool.Submit(newRequest("early"))
	require.ErrorIs(t, err, ErrPoolStopped)

	pool.Start(context.Background())
	assert.True(t, pool.Running())
	require.NoError(t, pool.StopWithTimeout(time.Second))
	require.NoError(t, pool.StopWithTimeout(time.Second), "second stop is a no-op")

	_, err = pool.Submit(newRequest("late"))
	require.ErrorIs(t, err, ErrPoolStopped)
}

func TestWorkerPoolQueueFull(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	analyzer := &fakeAnalyzer{started: make(chan string, 4), release: make(chan struct{})}
	pool := NewWorkerPool(analyzer, conf.PipelineSettings{Workers: 1, QueueSize: 1})
	pool.Start(context.Background())

	first, err := pool.Submit(newRequest("a"))
	require.NoError(t, err)
	<-analyzer.started

	second, err := pool.Submit(newRequest("b"))
	require.NoError(t, err)

	_, err = pool.Submit(newRequest("c"))
	require.ErrorIs(t, err, ErrQueueFull)

	close(analyzer.release)
	assert.NoError(t, (<-first).Err)
	assert.NoError(t, (<-second).Err)
	require.NoError(t, pool.StopWithTimeout(time.Second))
}

func TestWorkerPoolStopTimeoutCancelsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	analyzer := &fakeAnalyzer{started: make(chan string, 1), release: make(chan struct{})}
	pool := NewWorkerPool(analyzer, conf.PipelineSettings{Workers: 1, QueueSize: 4})
	pool.Start(context.Background())

	ch, err := pool.Submit(newRequest("stuck"))
	require.NoError(t, err)
	testutil.Receive(t, analyzer.started, testutil.DefaultTestTimeout, "run never started")

	err = pool.StopWithTimeout(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")

	out := testutil.Receive(t, ch, testutil.DefaultTestTimeout, "cancelled run never reported")
	assert.ErrorIs(t, out.Err, context.Canceled)
}

func TestWorkerPoolRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewWorkerPool(&fakeAnalyzer{panicOn: "bad"}, conf.PipelineSettings{Workers: 1, QueueSize: 4})
	pool.Start(context.Background())

	bad, err := pool.Submit(newRequest("bad"))
	require.NoError(t, err)
	good, err := pool.Submit(newRequest("good"))
	require.NoError(t, err)

	out := testutil.Receive(t, bad, testutil.DefaultTestTimeout, "panicking run never reported")
	require.Error(t, out.Err)
	assert.True(t, errors.IsCategory(out.Err, errors.CategoryWorker))
	assert.NoError(t, (<-good).Err, "worker survives the panic")
	require.NoError(t, pool.StopWithTimeout(time.Second))
}

func TestWorkerPoolConcurrentSubmitAndStop(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewWorkerPool(&fakeAnalyzer{}, conf.PipelineSettings{Workers: 2, QueueSize: 8})
	pool.Start(context.Background())

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				ch, err := pool.Submit(newRequest(fmt.Sprintf("%d-%d", i, j)))
				if err != nil {
					continue
				}
				accepted.Add(1)
				<-ch
			}
		}()
	}
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, pool.StopWithTimeout(time.Second))
	wg.Wait()
	assert.Positive(t, accepted.Load())
}

func TestWorkerPoolAnalyze(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewWorkerPool(&fakeAnalyzer{}, conf.PipelineSettings{Workers: 2})
	_, err := pool.Analyze(context.Background(), newRequest("early"))
	require.ErrorIs(t, err, ErrPoolStopped)
	assert.True(t, errors.IsCategory(err, errors.CategoryWorker))

	pool.Start(context.Background())
	res, err := pool.Analyze(context.Background(), newRequest("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", res.DocumentID)

	_, err = pool.Analyze(context.Background(), nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	require.NoError(t, pool.StopWithTimeout(time.Second))
}

func TestBackoffDelay(t *testing.T) {
	cfg := conf.RetrySettings{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 90 * time.Millisecond, 110 * time.Millisecond},
		{1, 180 * time.Millisecond, 220 * time.Millisecond},
		{2, 360 * time.Millisecond, 440 * time.Millisecond},
		{6, time.Second, time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt %d", tt.attempt), func(t *testing.T) {
			for range 50 {
				d := backoffDelay(cfg, tt.attempt)
				assert.GreaterOrEqual(t, d, tt.min)
				assert.LessOrEqual(t, d, tt.max)
			}
		})
	}
}

func TestNewStageErrorKeepsCategory(t *testing.T) {
	err := errors.New(errors.NewStd("priority store down")).
		Component("priority").
		Category(errors.CategoryDatabase).
		Build()

	se := newStageError(StagePriority, err)
	assert.Equal(t, StagePriority, se.Stage)
	assert.Equal(t, string(errors.CategoryDatabase), se.Category)
	assert.Contains(t, se.Message, "priority store down")

	plain := newStageError(StageCampaign, errors.NewStd("boom"))
	assert.Equal(t, string(errors.CategoryProcessing), plain.Category)
}
