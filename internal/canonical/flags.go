package canonical

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
)

// EntityFlags is a partial update of an entity's correlation flags. Nil
// fields are left unchanged.
type EntityFlags struct {
	Active        *bool `json:"is_active,omitempty"`
	FalsePositive *bool `json:"is_false_positive,omitempty"`
}

// SetEntityFlags updates whether an entity takes part in correlation.
// Existing relationships are not rescored until their source document is
// analyzed again.
func (c *Canonicalizer) SetEntityFlags(ctx context.Context, id uint, flags EntityFlags) (*entities.CanonicalEntity, error) {
	if flags.Active == nil && flags.FalsePositive == nil {
		return nil, errors.Newf("no entity flags given").
			Component("canonical").
			Category(errors.CategoryValidation).
			Build()
	}

	var updated *entities.CanonicalEntity
	err := c.retrier.Do(ctx, "entity_flags", func(ctx context.Context) error {
		return c.store.Transaction(ctx, func(tx *repository.Store) error {
			e, err := tx.Entities.Get(ctx, id)
			if err != nil {
				return err
			}
			if flags.Active != nil {
				e.IsActive = *flags.Active
			}
			if flags.FalsePositive != nil {
				e.IsFalsePositive = *flags.FalsePositive
			}
			if err := tx.Entities.SetFlags(ctx, id, e.IsActive, e.IsFalsePositive); err != nil {
				return err
			}
			updated = e
			return nil
		})
	})
	if err != nil {
		category := errorCategory(err)
		if errors.Is(err, repository.ErrEntityNotFound) {
			category = errors.CategoryNotFound
		}
		return nil, errors.New(err).
			Component("canonical").
			Category(category).
			Context("entity_id", id).
			Build()
	}

	GetLogger().Info("entity flags updated",
		logger.Uint64("entity_id", uint64(id)),
		logger.Bool("active", updated.IsActive),
		logger.Bool("false_positive", updated.IsFalsePositive))
	return updated, nil
}
