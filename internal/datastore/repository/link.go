package repository

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// EntitySets holds a document's entity ids per kind, each sorted ascending.
type EntitySets map[entities.EntityKind][]uint

// Total returns the number of ids across all kinds.
func (s EntitySets) Total() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// LinkRepository provides access to document_entity_links.
type LinkRepository interface {
	// InsertIfAbsent creates the link unless (document_id, entity_id) exists.
	// The returned bool reports whether a new row was written.
	InsertIfAbsent(ctx context.Context, link *entities.DocumentEntityLink) (bool, error)

	// EntitySets returns the document's entity ids per kind in one query.
	// Inactive and false-positive entities are left out, as they are in
	// EntitySetsForDocuments and DocumentsReferencing.
	EntitySets(ctx context.Context, documentID string) (EntitySets, error)

	// EntitySetsForDocuments batches EntitySets over many documents.
	EntitySetsForDocuments(ctx context.Context, documentIDs []string) (map[string]EntitySets, error)

	// DocumentsReferencing returns distinct documents other than excludeID
	// that link any of entityIDs and were created at or after since.
	DocumentsReferencing(ctx context.Context, entityIDs []uint, excludeID string, since time.Time) ([]string, error)

	// ListByDocument returns a document's links ordered by entity id.
	ListByDocument(ctx context.Context, documentID string) ([]*entities.DocumentEntityLink, error)

	// RepointEntity moves every link of fromID onto toID. Links that would
	// duplicate an existing (document, toID) pair are dropped. It returns
	// the number of moved and dropped rows.
	RepointEntity(ctx context.Context, fromID, toID uint) (moved, dropped int64, err error)

	// CountByEntity returns how many documents link the entity.
	CountByEntity(ctx context.Context, entityID uint) (int64, error)
}
