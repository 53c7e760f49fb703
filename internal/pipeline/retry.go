package pipeline

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// Analyze runs the whole pipeline for one document. A run that fails with a
// transient store conflict is re-run; the later stages are idempotent so
// earlier partial writes are simply overwritten, and a canonicalization that
// already committed is not repeated.
func (o *Orchestrator) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	if req == nil {
		return nil, errors.ValidationError("analysis request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	active := o.provider.Current()
	if active == nil {
		return nil, errors.Newf("no active correlation configuration").
			Component("pipeline").
			Category(errors.CategoryConfiguration).
			Build()
	}

	start := time.Now()
	state := &runState{}
	var lastErr error
	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(o.retry, attempt-1)
			GetLogger().Info("retrying document after store conflict",
				logger.String("document_id", req.DocumentID),
				logger.Int("attempt", attempt+1),
				logger.Duration("delay", delay),
				logger.Error(lastErr))
			if err := sleepContext(ctx, delay); err != nil {
				break
			}
		}

		result, err := o.run(ctx, req, active, state)
		if err == nil {
			result.Attempts = attempt + 1
			result.Duration = time.Since(start)
			o.finish(result)
			return result, nil
		}
		lastErr = err
		if !datastore.IsTransientConflict(err) || ctx.Err() != nil {
			break
		}
	}

	o.recorder.RecordOperation(metrics.OpDocument, metrics.StatusError)
	o.recorder.RecordDuration(metrics.OpDocument, time.Since(start).Seconds())
	GetLogger().Error("document analysis failed",
		logger.String("document_id", req.DocumentID),
		logger.Error(lastErr))
	return nil, lastErr
}

func (o *Orchestrator) finish(result *AnalysisResult) {
	status := metrics.StatusSuccess
	if result.Partial() {
		status = metrics.StatusPartial
	}
	o.recorder.RecordOperation(metrics.OpDocument, status)
	o.recorder.RecordDuration(metrics.OpDocument, result.Duration.Seconds())

	fields := []logger.Field{
		logger.String("document_id", result.DocumentID),
		logger.String("run_id", result.RunID),
		logger.Int("entities", result.Entities.Total()),
		logger.Int("candidates", result.Candidates),
		logger.Int("relationships", len(result.Relationships)),
		logger.Int("attempts", result.Attempts),
		logger.Duration("elapsed", result.Duration),
	}
	if result.Campaign != nil {
		fields = append(fields, logger.String("campaign", string(result.Campaign.Outcome)))
	}
	if result.Priority != nil {
		fields = append(fields, logger.Float64("priority", result.Priority.Overall))
	}
	if result.Partial() {
		GetLogger().Warn("document analyzed with stage errors",
			append(fields, logger.Int("stage_errors", len(result.StageErrors)))...)
		return
	}
	GetLogger().Info("document analyzed", fields...)
}

// backoffDelay returns InitialDelay * Multiplier^attempt with ±10% jitter,
// capped at MaxDelay.
func backoffDelay(cfg conf.RetrySettings, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt))
	backoff *= 0.9 + 0.2*rand.Float64() //nolint:gosec // jitter only

	if cfg.MaxDelay > 0 && backoff > float64(cfg.MaxDelay) {
		backoff = float64(cfg.MaxDelay)
	}
	return time.Duration(backoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
