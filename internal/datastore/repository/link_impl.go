package repository

import (
	"context"
	"slices"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type linkRepository struct {
	db *gorm.DB
}

// NewLinkRepository creates a new LinkRepository.
func NewLinkRepository(db *gorm.DB) LinkRepository {
	return &linkRepository{db: db}
}

func (r *linkRepository) InsertIfAbsent(ctx context.Context, link *entities.DocumentEntityLink) (bool, error) {
	if link == nil || link.DocumentID == "" || link.EntityID == 0 {
		return false, ErrInvalidInput
	}
	link.ExtractedAt = link.ExtractedAt.UTC()
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}, {Name: "entity_id"}},
			DoNothing: true,
		}).
		Create(link)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

type linkKindRow struct {
	DocumentID string
	EntityID   uint
	EntityKind entities.EntityKind
}

// correlatable selects link rows whose entity is active and not flagged as
// a false positive.
func (r *linkRepository) correlatable(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).
		Table("document_entity_links AS l").
		Joins("JOIN canonical_entities e ON e.id = l.entity_id").
		Select("l.document_id, l.entity_id, l.entity_kind").
		Where("e.is_active = ? AND e.is_false_positive = ?", true, false)
}

func (r *linkRepository) EntitySets(ctx context.Context, documentID string) (EntitySets, error) {
	var rows []linkKindRow
	err := r.correlatable(ctx).
		Where("l.document_id = ?", documentID).
		Order("l.entity_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	sets := EntitySets{}
	for _, row := range rows {
		sets[row.EntityKind] = append(sets[row.EntityKind], row.EntityID)
	}
	return sets, nil
}

func (r *linkRepository) EntitySetsForDocuments(ctx context.Context, documentIDs []string) (map[string]EntitySets, error) {
	out := make(map[string]EntitySets, len(documentIDs))
	for _, chunk := range chunkStrings(documentIDs) {
		var rows []linkKindRow
		err := r.correlatable(ctx).
			Where("l.document_id IN ?", chunk).
			Order("l.entity_id ASC").
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			sets, ok := out[row.DocumentID]
			if !ok {
				sets = EntitySets{}
				out[row.DocumentID] = sets
			}
			sets[row.EntityKind] = append(sets[row.EntityKind], row.EntityID)
		}
	}
	for _, id := range documentIDs {
		if _, ok := out[id]; !ok {
			out[id] = EntitySets{}
		}
	}
	return out, nil
}

func (r *linkRepository) DocumentsReferencing(ctx context.Context, entityIDs []uint, excludeID string, since time.Time) ([]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	since = since.UTC()

	seen := make(map[string]struct{})
	for _, chunk := range chunkUints(entityIDs) {
		var ids []string
		err := r.db.WithContext(ctx).
			Table("document_entity_links AS l").
			Joins("JOIN documents d ON d.id = l.document_id").
			Joins("JOIN canonical_entities e ON e.id = l.entity_id").
			Where("l.entity_id IN ? AND l.document_id <> ? AND d.created_at >= ?", chunk, excludeID, since).
			Where("e.is_active = ? AND e.is_false_positive = ?", true, false).
			Distinct().
			Pluck("l.document_id", &ids).Error
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (r *linkRepository) ListByDocument(ctx context.Context, documentID string) ([]*entities.DocumentEntityLink, error) {
	var links []*entities.DocumentEntityLink
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("entity_id ASC").
		Find(&links).Error
	return links, err
}

func (r *linkRepository) RepointEntity(ctx context.Context, fromID, toID uint) (moved, dropped int64, err error) {
	// MySQL rejects a DELETE whose subquery reads the same table, so collect
	// the target's documents first.
	var targetDocs []string
	err = r.db.WithContext(ctx).Model(&entities.DocumentEntityLink{}).
		Where("entity_id = ?", toID).
		Pluck("document_id", &targetDocs).Error
	if err != nil {
		return 0, 0, err
	}

	for _, chunk := range chunkStrings(targetDocs) {
		result := r.db.WithContext(ctx).
			Where("entity_id = ? AND document_id IN ?", fromID, chunk).
			Delete(&entities.DocumentEntityLink{})
		if result.Error != nil {
			return 0, 0, result.Error
		}
		dropped += result.RowsAffected
	}

	result := r.db.WithContext(ctx).Model(&entities.DocumentEntityLink{}).
		Where("entity_id = ?", fromID).
		Update("entity_id", toID)
	if result.Error != nil {
		return 0, dropped, result.Error
	}
	return result.RowsAffected, dropped, nil
}

func (r *linkRepository) CountByEntity(ctx context.Context, entityID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.DocumentEntityLink{}).
		Where("entity_id = ?", entityID).
		Count(&count).Error
	return count, err
}
