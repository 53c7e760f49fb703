package canonical

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
	"github.com/tphakala/threatlink/internal/logger"
	"github.com/tphakala/threatlink/internal/observability/metrics"
)

// MergeResult reports what an actor merge changed.
type MergeResult struct {
	PrimaryID    uint     `json:"primary_id"`
	MergedIDs    []uint   `json:"merged_ids"`
	LinksMoved   int64    `json:"links_moved"`
	LinksDropped int64    `json:"links_dropped"`
	Campaigns    int      `json:"campaigns_updated"`
	Aliases      []string `json:"aliases"`
}

// MergeActors folds duplicate actors into primary in one transaction. Alias
// rows move to the primary, links, events and campaign actor references are
// re-pointed, counters are combined and the duplicates are deleted.
// Relationship shared-actor lists are left as historical records.
func (c *Canonicalizer) MergeActors(ctx context.Context, primaryID uint, duplicateIDs []uint) (*MergeResult, error) {
	dups := slices.Clone(duplicateIDs)
	slices.Sort(dups)
	dups = slices.Compact(dups)

	if len(dups) == 0 {
		return nil, errors.Newf("merge requires at least one duplicate actor").
			Component("canonical").
			Category(errors.CategoryValidation).
			Build()
	}
	if slices.Contains(dups, primaryID) {
		return nil, errors.Newf("actor %d cannot be merged into itself", primaryID).
			Component("canonical").
			Category(errors.CategoryValidation).
			Context("primary_id", primaryID).
			Build()
	}

	var result *MergeResult
	err := c.retrier.Do(ctx, "merge_actors", func(ctx context.Context) error {
		result = &MergeResult{PrimaryID: primaryID}
		return c.store.Transaction(ctx, func(tx *repository.Store) error {
			return c.merge(ctx, tx, primaryID, dups, result)
		})
	})
	if err != nil {
		c.recorder.RecordError(metrics.OpMerge, string(errorCategory(err)))
		return nil, errors.New(err).
			Component("canonical").
			Category(errorCategory(err)).
			Context("primary_id", primaryID).
			Context("duplicate_ids", dups).
			Build()
	}

	c.recorder.RecordOperation(metrics.OpMerge, metrics.StatusSuccess)
	GetLogger().Info("actors merged",
		logger.Uint64("primary_id", uint64(primaryID)),
		logger.Int("merged", len(result.MergedIDs)),
		logger.Int64("links_moved", result.LinksMoved),
		logger.Int64("links_dropped", result.LinksDropped))
	return result, nil
}

func actorNotFound(id uint) error {
	return errors.New(repository.ErrEntityNotFound).
		Component("canonical").
		Category(errors.CategoryNotFound).
		Context("actor_id", id).
		Build()
}

func (c *Canonicalizer) loadActor(ctx context.Context, tx *repository.Store, id uint) (*entities.CanonicalEntity, error) {
	e, err := tx.Entities.Get(ctx, id)
	if errors.Is(err, repository.ErrEntityNotFound) {
		return nil, actorNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if e.Kind != entities.KindActor {
		return nil, actorNotFound(id)
	}
	return e, nil
}

func (c *Canonicalizer) merge(ctx context.Context, tx *repository.Store, primaryID uint, dups []uint, result *MergeResult) error {
	primary, err := c.loadActor(ctx, tx, primaryID)
	if err != nil {
		return err
	}

	now := c.now().UTC()
	for _, dupID := range dups {
		dup, err := c.loadActor(ctx, tx, dupID)
		if err != nil {
			return err
		}

		if err := tx.Entities.MoveAliases(ctx, dup.ID, primary.ID); err != nil {
			return err
		}
		// A duplicate created before alias rows existed still contributes its name.
		if _, err := tx.Entities.AddAlias(ctx, &entities.ActorAlias{
			EntityID: primary.ID,
			AliasKey: dup.CanonicalKey,
			Alias:    dup.CanonicalValue,
		}); err != nil {
			return err
		}

		moved, dropped, err := tx.Links.RepointEntity(ctx, dup.ID, primary.ID)
		if err != nil {
			return err
		}
		result.LinksMoved += moved
		result.LinksDropped += dropped

		if err := tx.Events.RepointEntity(ctx, dup.ID, primary.ID); err != nil {
			return err
		}
		n, err := tx.Campaigns.RepointActor(ctx, dup.ID, primary.ID)
		if err != nil {
			return err
		}
		result.Campaigns += n

		if err := tx.Entities.Absorb(ctx, primary.ID, dup); err != nil {
			return err
		}
		if err := tx.Entities.Delete(ctx, dup.ID); err != nil {
			return err
		}
		result.MergedIDs = append(result.MergedIDs, dup.ID)
	}

	ids := make([]string, len(result.MergedIDs))
	for i, id := range result.MergedIDs {
		ids[i] = strconv.FormatUint(uint64(id), 10)
	}
	if err := tx.Events.Append(ctx, &entities.EntityEvent{
		EntityKind: entities.KindActor,
		EntityID:   primary.ID,
		EventType:  entities.EventTypeMerged,
		EventDate:  now,
		Confidence: primary.Confidence,
		Context:    "merged actors " + strings.Join(ids, ","),
	}); err != nil {
		return err
	}

	aliases, err := tx.Entities.Aliases(ctx, primary.ID)
	if err != nil {
		return err
	}
	for _, a := range aliases {
		result.Aliases = append(result.Aliases, a.Alias)
	}
	return nil
}

// mergeTimeout bounds administrative merges started without a deadline.
const mergeTimeout = time.Minute

// MergeActorsWithTimeout is MergeActors bounded by mergeTimeout when ctx
// has no deadline of its own.
func (c *Canonicalizer) MergeActorsWithTimeout(ctx context.Context, primaryID uint, duplicateIDs []uint) (*MergeResult, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, mergeTimeout)
		defer cancel()
	}
	return c.MergeActors(ctx, primaryID, duplicateIDs)
}
