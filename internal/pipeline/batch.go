package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/semantic"
)

// BatchSummary reports an AnalyzeBatch call. Outcomes are index-aligned
// with the input requests.
type BatchSummary struct {
	Outcomes  []Outcome
	Succeeded int
	Partial   int
	Failed    int
	Duration  time.Duration
}

// AnalyzeBatch runs requests with at most limit documents in flight. One
// failing document never stops the others; only cancellation of ctx does.
// When semantic similarity is on, vectors for the whole batch are generated
// up front so the backend sees a few large calls instead of many small ones.
func (o *Orchestrator) AnalyzeBatch(ctx context.Context, reqs []*AnalysisRequest, limit int) (*BatchSummary, error) {
	start := time.Now()
	if limit <= 0 {
		limit = defaultWorkers
	}

	o.prewarmEmbeddings(ctx, reqs)

	summary := &BatchSummary{Outcomes: make([]Outcome, len(reqs))}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				summary.Outcomes[i] = Outcome{Request: req, Err: err}
				return err
			}
			result, err := o.Analyze(gctx, req)
			summary.Outcomes[i] = Outcome{Request: req, Result: result, Err: err}
			return nil
		})
	}
	waitErr := g.Wait()

	for _, out := range summary.Outcomes {
		switch {
		case out.Err != nil:
			summary.Failed++
		case out.Result.Partial():
			summary.Partial++
		default:
			summary.Succeeded++
		}
	}
	summary.Duration = time.Since(start)

	GetLogger().Info("batch analyzed",
		logger.Int("documents", len(reqs)),
		logger.Int("succeeded", summary.Succeeded),
		logger.Int("partial", summary.Partial),
		logger.Int("failed", summary.Failed),
		logger.Duration("elapsed", summary.Duration))
	return summary, waitErr
}

func (o *Orchestrator) prewarmEmbeddings(ctx context.Context, reqs []*AnalysisRequest) {
	if o.semantic == nil || !o.semantic.Enabled() {
		return
	}
	if active := o.provider.Current(); active == nil || !active.Settings.SemanticEnabled {
		return
	}

	inputs := make([]semantic.Input, 0, len(reqs))
	for _, req := range reqs {
		if req == nil || req.Validate() != nil {
			continue
		}
		text := strings.TrimSpace(req.Title + "\n" + req.Description)
		if text == "" {
			continue
		}
		inputs = append(inputs, semantic.Input{DocumentID: strings.TrimSpace(req.DocumentID), Text: text})
	}
	if len(inputs) == 0 {
		return
	}

	res := o.semantic.GenerateBatch(ctx, inputs)
	GetLogger().Debug("batch embeddings prepared",
		logger.Int("generated", res.Generated),
		logger.Int("cached", res.Cached),
		logger.Int("failed", len(res.Failures)))
}
