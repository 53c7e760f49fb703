package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityRepository struct {
	db      *gorm.DB
	isMySQL bool
}

// NewEntityRepository creates a new EntityRepository.
// isMySQL selects ON DUPLICATE KEY expressions instead of SQLite upsert syntax.
func NewEntityRepository(db *gorm.DB, isMySQL bool) EntityRepository {
	return &entityRepository{db: db, isMySQL: isMySQL}
}

// upsertAssignments returns the ON CONFLICT update set. Unqualified columns
// refer to the existing row in both dialects.
func (r *entityRepository) upsertAssignments() clause.Set {
	if r.isMySQL {
		return clause.Assignments(map[string]any{
			"occurrence_count": gorm.Expr("occurrence_count + 1"),
			"last_seen":        gorm.Expr("GREATEST(last_seen, VALUES(last_seen))"),
			"confidence":       gorm.Expr("GREATEST(confidence, VALUES(confidence))"),
			"updated_at":       gorm.Expr("VALUES(updated_at)"),
		})
	}
	return clause.Assignments(map[string]any{
		"occurrence_count": gorm.Expr("occurrence_count + 1"),
		"last_seen":        gorm.Expr("MAX(last_seen, excluded.last_seen)"),
		"confidence":       gorm.Expr("MAX(confidence, excluded.confidence)"),
		"updated_at":       gorm.Expr("excluded.updated_at"),
	})
}

func (r *entityRepository) Upsert(ctx context.Context, e *entities.CanonicalEntity) (*entities.CanonicalEntity, error) {
	if e == nil || !e.Kind.Valid() || e.CanonicalKey == "" {
		return nil, ErrInvalidInput
	}

	row := *e
	row.ID = 0
	row.OccurrenceCount = 1
	row.FirstSeen = row.FirstSeen.UTC()
	row.LastSeen = row.LastSeen.UTC()
	row.IsActive = true

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "kind"}, {Name: "canonical_key"}},
			DoUpdates: r.upsertAssignments(),
		}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}

	// The returned id is unreliable on the update path, so read the row back.
	return r.GetByKey(ctx, e.Kind, e.CanonicalKey)
}

func (r *entityRepository) Touch(ctx context.Context, id uint, confidence int, seenAt time.Time) error {
	seenAt = seenAt.UTC()
	result := r.db.WithContext(ctx).Model(&entities.CanonicalEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"occurrence_count": gorm.Expr("occurrence_count + 1"),
			"confidence":       gorm.Expr("CASE WHEN confidence < ? THEN ? ELSE confidence END", confidence, confidence),
			"last_seen":        gorm.Expr("CASE WHEN last_seen < ? THEN ? ELSE last_seen END", seenAt, seenAt),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *entityRepository) SetFlags(ctx context.Context, id uint, active, falsePositive bool) error {
	var exists int64
	if err := r.db.WithContext(ctx).Model(&entities.CanonicalEntity{}).Where("id = ?", id).Count(&exists).Error; err != nil {
		return err
	}
	if exists == 0 {
		return ErrEntityNotFound
	}
	return r.db.WithContext(ctx).Model(&entities.CanonicalEntity{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":         active,
			"is_false_positive": falsePositive,
		}).Error
}

func (r *entityRepository) GetByKey(ctx context.Context, kind entities.EntityKind, key string) (*entities.CanonicalEntity, error) {
	var e entities.CanonicalEntity
	err := r.db.WithContext(ctx).
		Where("kind = ? AND canonical_key = ?", kind, key).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entityRepository) FindActorByAlias(ctx context.Context, aliasKey string) (*entities.CanonicalEntity, error) {
	var e entities.CanonicalEntity
	err := r.db.WithContext(ctx).
		Joins("JOIN actor_aliases a ON a.entity_id = canonical_entities.id").
		Where("a.alias_key = ? AND canonical_entities.kind = ?", aliasKey, entities.KindActor).
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entityRepository) AddAlias(ctx context.Context, alias *entities.ActorAlias) (bool, error) {
	if alias == nil || alias.AliasKey == "" || alias.EntityID == 0 {
		return false, ErrInvalidInput
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "alias_key"}},
			DoNothing: true,
		}).
		Create(alias)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *entityRepository) Aliases(ctx context.Context, entityID uint) ([]*entities.ActorAlias, error) {
	var aliases []*entities.ActorAlias
	err := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("is_primary_name DESC, alias_key ASC").
		Find(&aliases).Error
	return aliases, err
}

func (r *entityRepository) MoveAliases(ctx context.Context, fromID, toID uint) error {
	return r.db.WithContext(ctx).Model(&entities.ActorAlias{}).
		Where("entity_id = ?", fromID).
		Updates(map[string]any{
			"entity_id":       toID,
			"is_primary_name": false,
		}).Error
}

func (r *entityRepository) Get(ctx context.Context, id uint) (*entities.CanonicalEntity, error) {
	var e entities.CanonicalEntity
	err := r.db.WithContext(ctx).First(&e, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entityRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]*entities.CanonicalEntity, error) {
	out := make(map[uint]*entities.CanonicalEntity, len(ids))
	for _, chunk := range chunkUints(ids) {
		var rows []*entities.CanonicalEntity
		if err := r.db.WithContext(ctx).Where("id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, e := range rows {
			out[e.ID] = e
		}
	}
	return out, nil
}

func (r *entityRepository) Absorb(ctx context.Context, primaryID uint, dup *entities.CanonicalEntity) error {
	if dup == nil {
		return ErrInvalidInput
	}
	first := dup.FirstSeen.UTC()
	last := dup.LastSeen.UTC()

	result := r.db.WithContext(ctx).Model(&entities.CanonicalEntity{}).
		Where("id = ?", primaryID).
		Updates(map[string]any{
			"occurrence_count": gorm.Expr("occurrence_count + ?", dup.OccurrenceCount),
			"confidence":       gorm.Expr("CASE WHEN confidence < ? THEN ? ELSE confidence END", dup.Confidence, dup.Confidence),
			"first_seen":       gorm.Expr("CASE WHEN first_seen > ? THEN ? ELSE first_seen END", first, first),
			"last_seen":        gorm.Expr("CASE WHEN last_seen < ? THEN ? ELSE last_seen END", last, last),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *entityRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&entities.CanonicalEntity{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (r *entityRepository) Count(ctx context.Context, kind entities.EntityKind) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.CanonicalEntity{}).
		Where("kind = ?", kind).
		Count(&count).Error
	return count, err
}
