package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// PriorityRepository provides access to priority_scores.
type PriorityRepository interface {
	// Upsert writes the document's priority, replacing any previous score.
	Upsert(ctx context.Context, score *entities.PriorityScore) error

	// Get retrieves a document's priority.
	// Returns ErrPriorityNotFound if not found.
	Get(ctx context.Context, documentID string) (*entities.PriorityScore, error)

	// ListByLevel returns scores at a level, highest first.
	ListByLevel(ctx context.Context, level entities.PriorityLevel, limit int) ([]*entities.PriorityScore, error)
}
