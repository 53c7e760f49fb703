package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/tphakala/threatlink/internal/errors"
)

// defaultTEITimeout applies when no timeout is configured.
const defaultTEITimeout = 30 * time.Second

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 512

// TEIEmbedder talks to a Text Embeddings Inference server. It prefers the
// OpenAI compatible /v1/embeddings route and falls back to native /embed.
type TEIEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

type teiOpenAIRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type teiOpenAIResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

type teiNativeRequest struct {
	Inputs   []string `json:"inputs"`
	Truncate bool     `json:"truncate"`
}

// NewTEIEmbedder creates a TEI client. The client uses the default
// transport so tests can intercept it.
func NewTEIEmbedder(baseURL, model string, timeout time.Duration) (*TEIEmbedder, error) {
	if baseURL == "" {
		return nil, errors.Newf("tei base url is required").
			Component("semantic").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if timeout <= 0 {
		timeout = defaultTEITimeout
	}
	return &TEIEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// EmbedStrings implements embedding.Embedder.
func (e *TEIEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedOpenAI(ctx, texts)
	if err == nil {
		return vectors, nil
	}
	vectors, nativeErr := e.embedNative(ctx, texts)
	if nativeErr != nil {
		return nil, errors.New(errors.Join(err, nativeErr)).
			Component("semantic").
			Category(errors.CategoryEmbedding).
			Context("backend", ProviderTEI).
			Context("texts", len(texts)).
			Build()
	}
	return vectors, nil
}

func (e *TEIEmbedder) embedOpenAI(ctx context.Context, texts []string) ([][]float64, error) {
	var resp teiOpenAIResponse
	if err := e.post(ctx, "/v1/embeddings", teiOpenAIRequest{Input: texts, Model: e.model}, &resp); err != nil {
		return nil, err
	}

	vectors := make([][]float64, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("tei response is missing embedding %d", i)
		}
	}
	return vectors, nil
}

func (e *TEIEmbedder) embedNative(ctx context.Context, texts []string) ([][]float64, error) {
	var vectors [][]float64
	if err := e.post(ctx, "/embed", teiNativeRequest{Inputs: texts, Truncate: true}, &vectors); err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("tei returned %d embeddings for %d inputs", len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *TEIEmbedder) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("tei request %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("tei %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

var _ embedding.Embedder = (*TEIEmbedder)(nil)
