package semantic

import (
	"context"
	"strings"

	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/tphakala/threatlink/internal/conf"
	"github.com/tphakala/threatlink/internal/errors"
)

// Embedding backends.
const (
	ProviderNone   = "none"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderTEI    = "tei"
)

const (
	DefaultOllamaURL            = "http://localhost:11434"
	DefaultOllamaEmbeddingModel = "nomic-embed-text"
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
)

// NewEmbedder builds the configured backend. It returns nil for the none
// provider, which disables the semantic dimension.
func NewEmbedder(ctx context.Context, settings *conf.SemanticSettings) (embedding.Embedder, error) {
	provider := strings.ToLower(strings.TrimSpace(settings.Provider))
	switch provider {
	case "", ProviderNone:
		return nil, nil

	case ProviderOllama:
		baseURL := settings.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		model := settings.Model
		if model == "" {
			model = DefaultOllamaEmbeddingModel
		}
		emb, err := ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: baseURL,
			Model:   model,
		})
		if err != nil {
			return nil, wrapBackendErr(err, provider)
		}
		return emb, nil

	case ProviderOpenAI:
		if settings.APIKey == "" {
			return nil, errors.Newf("openai api key is required for embeddings").
				Component("semantic").
				Category(errors.CategoryConfiguration).
				Build()
		}
		model := settings.Model
		if model == "" {
			model = DefaultOpenAIEmbeddingModel
		}
		emb, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			Model:  model,
			APIKey: settings.APIKey,
		})
		if err != nil {
			return nil, wrapBackendErr(err, provider)
		}
		return emb, nil

	case ProviderTEI:
		emb, err := NewTEIEmbedder(settings.BaseURL, settings.Model, settings.Timeout)
		if err != nil {
			return nil, err
		}
		return emb, nil
	}

	return nil, errors.Newf("unsupported embedding provider %q", settings.Provider).
		Component("semantic").
		Category(errors.CategoryConfiguration).
		Build()
}

func wrapBackendErr(err error, provider string) error {
	return errors.New(err).
		Component("semantic").
		Category(errors.CategoryConfiguration).
		Context("backend", provider).
		Build()
}
