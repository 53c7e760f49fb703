package repository

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// EntityRepository provides access to canonical_entities and actor_aliases.
type EntityRepository interface {
	// Upsert inserts the entity or, when (kind, canonical_key) exists, bumps
	// occurrence_count, widens last_seen and raises confidence. It returns the
	// stored row. Safe under concurrent writers of the same key.
	Upsert(ctx context.Context, e *entities.CanonicalEntity) (*entities.CanonicalEntity, error)

	// Touch applies the found-entity update to an existing row by id.
	Touch(ctx context.Context, id uint, confidence int, seenAt time.Time) error

	// GetByKey retrieves an entity by its uniqueness key.
	// Returns ErrEntityNotFound if not found.
	GetByKey(ctx context.Context, kind entities.EntityKind, key string) (*entities.CanonicalEntity, error)

	// FindActorByAlias resolves a case-folded alias key to its actor.
	// Returns ErrEntityNotFound if no actor owns the alias.
	FindActorByAlias(ctx context.Context, aliasKey string) (*entities.CanonicalEntity, error)

	// AddAlias records an alias for an actor. An alias key already owned by
	// any actor is left untouched; the returned bool reports insertion.
	AddAlias(ctx context.Context, alias *entities.ActorAlias) (bool, error)

	// Aliases lists an actor's aliases, primary name first.
	Aliases(ctx context.Context, entityID uint) ([]*entities.ActorAlias, error)

	// MoveAliases re-homes all aliases of one actor onto another as non-primary.
	MoveAliases(ctx context.Context, fromID, toID uint) error

	// Get retrieves an entity by id.
	// Returns ErrEntityNotFound if not found.
	Get(ctx context.Context, id uint) (*entities.CanonicalEntity, error)

	// GetByIDs retrieves many entities keyed by id.
	GetByIDs(ctx context.Context, ids []uint) (map[uint]*entities.CanonicalEntity, error)

	// Absorb folds dup's counters into primary: occurrence counts summed,
	// first/last seen widened and confidence maximised.
	Absorb(ctx context.Context, primaryID uint, dup *entities.CanonicalEntity) error

	// SetFlags stores the correlation flags of an entity. Inactive and
	// false-positive entities are ignored by candidate generation and scoring.
	// Returns ErrEntityNotFound if not found.
	SetFlags(ctx context.Context, id uint, active, falsePositive bool) error

	// Delete removes an entity row.
	// Returns ErrEntityNotFound if not found.
	Delete(ctx context.Context, id uint) error

	// Count returns the number of entities of one kind.
	Count(ctx context.Context, kind entities.EntityKind) (int64, error)
}
