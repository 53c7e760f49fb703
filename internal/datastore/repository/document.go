package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// DocumentRepository provides access to the documents table.
type DocumentRepository interface {
	// Upsert inserts the document or refreshes its mutable metadata.
	// CreatedAt of an existing row is never changed.
	Upsert(ctx context.Context, doc *entities.Document) error

	// Get retrieves a document by id.
	// Returns ErrDocumentNotFound if not found.
	Get(ctx context.Context, id string) (*entities.Document, error)

	// GetByIDs retrieves many documents keyed by id. Missing ids are absent.
	GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Document, error)

	// Exists checks if a document with the given id exists.
	Exists(ctx context.Context, id string) (bool, error)
}
