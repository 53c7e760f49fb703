// Package semantic generates document embeddings and answers cosine
// similarity queries between documents. Every failure degrades to "not
// applicable" so scoring can continue on structural overlap alone.
package semantic

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/patrickmn/go-cache"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultBatchSize     = 16
	defaultCacheTTL      = time.Hour
	defaultRetryDelay    = 250 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second
)

var (
	// ErrDisabled is returned when no embedding backend is configured.
	ErrDisabled = errors.NewStd("semantic similarity is disabled")
	// ErrEmptyText is returned for documents without a description.
	ErrEmptyText = errors.NewStd("document has no text to embed")
)

// Input is one document to embed.
type Input struct {
	DocumentID string
	Text       string
}

// BatchResult reports a GenerateBatch call. Failures never abort the batch.
type BatchResult struct {
	Generated int
	Cached    int
	Failures  map[string]error
}

// Engine owns the embedding backend, the persisted vectors and the
// in-process cache in front of them.
type Engine struct {
	embedder      embedding.Embedder
	store         repository.EmbeddingRepository
	cache         *cache.Cache
	limiter       *rate.Limiter
	model         string
	batchSize     int
	maxRetries    int
	timeout       time.Duration
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	recorder      metrics.Recorder
	now           func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Engine) { e.recorder = metrics.OrNop(r) }
}

// WithRetryDelay overrides the per-item retry backoff.
func WithRetryDelay(base, limit time.Duration) Option {
	return func(e *Engine) {
		e.retryDelay = base
		e.maxRetryDelay = limit
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine. A nil embedder yields a disabled engine
// whose Similarity always reports not applicable.
func NewEngine(embedder embedding.Embedder, store repository.EmbeddingRepository, settings *conf.SemanticSettings, opts ...Option) *Engine {
	e := &Engine{
		embedder:      embedder,
		store:         store,
		model:         settings.Model,
		batchSize:     settings.BatchSize,
		maxRetries:    settings.MaxRetries,
		timeout:       settings.Timeout,
		retryDelay:    defaultRetryDelay,
		maxRetryDelay: defaultMaxRetryDelay,
		recorder:      metrics.NopRecorder{},
		now:           time.Now,
	}
	if e.model == "" {
		e.model = settings.Provider
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	if e.maxRetries < 0 {
		e.maxRetries = 0
	}

	ttl := settings.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	e.cache = cache.New(ttl, ttl*2)

	limit := rate.Inf
	if settings.RequestsPerSecond > 0 {
		limit = rate.Limit(settings.RequestsPerSecond)
	}
	e.limiter = rate.NewLimiter(limit, 1)

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enabled reports whether a backend is configured.
func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil
}

// Similarity returns the cosine similarity of two documents' stored
// vectors. ok is false when the engine is disabled, either vector is
// missing or the dimensions differ.
func (e *Engine) Similarity(ctx context.Context, documentA, documentB string) (float64, bool) {
	if !e.Enabled() {
		return 0, false
	}
	a := e.lookup(ctx, documentA)
	b := e.lookup(ctx, documentB)
	if a == nil || b == nil {
		return 0, false
	}
	return Cosine(a.Vector, b.Vector)
}

// lookup returns the document's vector from the cache or the store.
func (e *Engine) lookup(ctx context.Context, documentID string) *entities.DocumentEmbedding {
	if v, ok := e.cache.Get(documentID); ok {
		if emb, ok := v.(*entities.DocumentEmbedding); ok {
			e.recorder.RecordOperation(metrics.OpEmbeddingCache, metrics.StatusHit)
			return emb
		}
	}
	e.recorder.RecordOperation(metrics.OpEmbeddingCache, metrics.StatusMiss)

	emb, err := e.store.Get(ctx, documentID)
	if err != nil {
		if !errors.Is(err, repository.ErrEmbeddingNotFound) {
			GetLogger().Warn("embedding lookup failed",
				logger.String("document_id", documentID),
				logger.Error(err))
		}
		return nil
	}
	e.cache.Set(documentID, emb, cache.DefaultExpiration)
	return emb
}

// Ensure makes sure the document has a vector for its current text. The
// backend is only called when the cleaned text hash changed.
func (e *Engine) Ensure(ctx context.Context, documentID, text string) (*entities.DocumentEmbedding, error) {
	result := e.GenerateBatch(ctx, []Input{{DocumentID: documentID, Text: text}})
	if err := result.Failures[documentID]; err != nil {
		return nil, err
	}
	return e.lookup(ctx, documentID), nil
}

type pendingItem struct {
	documentID string
	text       string
	hash       string
}

// GenerateBatch embeds many documents, several per backend call. A failed
// chunk falls back to embedding its items one at a time with bounded
// exponential backoff.
func (e *Engine) GenerateBatch(ctx context.Context, inputs []Input) *BatchResult {
	result := &BatchResult{Failures: make(map[string]error)}
	if len(inputs) == 0 {
		return result
	}
	if !e.Enabled() {
		for _, in := range inputs {
			result.Failures[in.DocumentID] = ErrDisabled
		}
		return result
	}

	ids := make([]string, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.DocumentID)
	}
	existing, err := e.store.GetByDocuments(ctx, ids)
	if err != nil {
		GetLogger().Warn("embedding prefetch failed", logger.Error(err))
		existing = nil
	}

	var pending []pendingItem
	queued := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		if _, dup := queued[in.DocumentID]; dup {
			continue
		}
		queued[in.DocumentID] = struct{}{}

		cleaned := CleanText(in.Text)
		if cleaned == "" {
			result.Failures[in.DocumentID] = ErrEmptyText
			continue
		}
		hash := TextHash(cleaned)
		if old, ok := existing[in.DocumentID]; ok && old.TextHash == hash && old.Model == e.model {
			e.cache.Set(in.DocumentID, old, cache.DefaultExpiration)
			result.Cached++
			continue
		}
		pending = append(pending, pendingItem{documentID: in.DocumentID, text: cleaned, hash: hash})
	}

	for start := 0; start < len(pending); start += e.batchSize {
		chunk := pending[start:min(start+e.batchSize, len(pending))]
		vectors, err := e.embed(ctx, chunkTexts(chunk))
		if err == nil {
			for i, item := range chunk {
				e.persist(ctx, item, vectors[i], result)
			}
			continue
		}

		GetLogger().Warn("embedding batch failed, retrying items individually",
			logger.Int("items", len(chunk)),
			logger.Error(err))
		for _, item := range chunk {
			vector, err := e.embedWithRetry(ctx, item.text)
			if err != nil {
				result.Failures[item.documentID] = e.degrade(err, item.documentID)
				continue
			}
			e.persist(ctx, item, vector, result)
		}
	}
	return result
}

func chunkTexts(items []pendingItem) []string {
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.text
	}
	return texts
}

func (e *Engine) persist(ctx context.Context, item pendingItem, vector []float64, result *BatchResult) {
	emb := &entities.DocumentEmbedding{
		DocumentID:  item.documentID,
		TextHash:    item.hash,
		Model:       e.model,
		Vector:      toFloat32(vector),
		GeneratedAt: e.now().UTC(),
	}
	if err := e.store.Upsert(ctx, emb); err != nil {
		result.Failures[item.documentID] = e.degrade(err, item.documentID)
		return
	}
	e.cache.Set(item.documentID, emb, cache.DefaultExpiration)
	result.Generated++
}

// embed performs one rate-limited backend call and checks the shape of the
// answer.
func (e *Engine) embed(ctx context.Context, texts []string) ([][]float64, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	vectors, err := e.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		e.recorder.RecordOperation(metrics.OpEmbedding, metrics.StatusError)
		return nil, err
	}
	if len(vectors) != len(texts) {
		e.recorder.RecordOperation(metrics.OpEmbedding, metrics.StatusError)
		return nil, errors.Newf("backend returned %d vectors for %d texts", len(vectors), len(texts)).
			Component("semantic").
			Category(errors.CategoryEmbedding).
			Build()
	}
	for _, v := range vectors {
		if len(v) == 0 {
			e.recorder.RecordOperation(metrics.OpEmbedding, metrics.StatusError)
			return nil, errors.Newf("backend returned an empty vector").
				Component("semantic").
				Category(errors.CategoryEmbedding).
				Build()
		}
	}
	e.recorder.RecordOperation(metrics.OpEmbedding, metrics.StatusSuccess)
	return vectors, nil
}

func (e *Engine) embedWithRetry(ctx context.Context, text string) ([]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			delay := e.retryDelay << (attempt - 1)
			if delay > e.maxRetryDelay || delay <= 0 {
				delay = e.maxRetryDelay
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		vectors, err := e.embed(ctx, []string{text})
		if err == nil {
			return vectors[0], nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// degrade logs and counts an embedding failure and returns it as an
// embedding category error.
func (e *Engine) degrade(err error, documentID string) error {
	e.recorder.RecordError(metrics.OpEmbedding, string(errors.CategoryEmbedding))
	GetLogger().Warn("embedding unavailable, semantic dimension degraded",
		logger.String("document_id", documentID),
		logger.Error(err))
	return errors.New(err).
		Component("semantic").
		Category(errors.CategoryEmbedding).
		Context("document_id", documentID).
		Context("model", e.model).
		Build()
}
