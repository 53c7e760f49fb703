package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// EventRepository provides access to the append-only entity_events table.
type EventRepository interface {
	// Append adds one event.
	Append(ctx context.Context, event *entities.EntityEvent) error

	// ListByEntity returns an entity's events, newest first. A non-positive
	// limit returns all.
	ListByEntity(ctx context.Context, entityID uint, limit int) ([]*entities.EntityEvent, error)

	// RepointEntity moves every event of fromID onto toID.
	RepointEntity(ctx context.Context, fromID, toID uint) error
}
