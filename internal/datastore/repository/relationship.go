package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// RelationshipRepository provides access to the relationships table.
type RelationshipRepository interface {
	// Upsert writes the scored pair. An existing (source, related) row has its
	// score and run columns replaced; campaign columns are never touched.
	Upsert(ctx context.Context, rel *entities.Relationship) (*entities.Relationship, error)

	// Rescore replaces the score columns of an existing (source, related) row
	// without inserting one. The returned bool reports whether a row matched.
	Rescore(ctx context.Context, rel *entities.Relationship) (bool, error)

	// PruneBySource deletes the source document's relationships that are not
	// campaign evidence and whose related document is not in keep.
	PruneBySource(ctx context.Context, sourceID string, keep []string) (int64, error)

	// Get retrieves one pair.
	Get(ctx context.Context, sourceID, relatedID string) (*entities.Relationship, error)

	// ListBySource returns relationships of a source document with
	// overall_score >= minScore, best first. A non-positive limit returns all.
	ListBySource(ctx context.Context, sourceID string, minScore float64, limit int) ([]*entities.Relationship, error)

	// MarkCampaign flags relationships as campaign evidence.
	MarkCampaign(ctx context.Context, ids []uint, campaignID uint) error

	// CountBySource returns how many relationships a source document has.
	CountBySource(ctx context.Context, sourceID string) (int64, error)
}
