package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// EmbeddingRepository provides access to document_embeddings.
type EmbeddingRepository interface {
	// Get returns the document's cached vector.
	// Returns ErrEmbeddingNotFound if not found.
	Get(ctx context.Context, documentID string) (*entities.DocumentEmbedding, error)

	// GetByDocuments returns cached vectors keyed by document.
	GetByDocuments(ctx context.Context, documentIDs []string) (map[string]*entities.DocumentEmbedding, error)

	// Upsert stores or replaces the document's vector.
	Upsert(ctx context.Context, emb *entities.DocumentEmbedding) error
}
