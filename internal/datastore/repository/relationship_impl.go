package repository

import (
	"context"
	"errors"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type relationshipRepository struct {
	db *gorm.DB
}

// NewRelationshipRepository creates a new RelationshipRepository.
func NewRelationshipRepository(db *gorm.DB) RelationshipRepository {
	return &relationshipRepository{db: db}
}

// relationshipScoreColumns are replaced on re-analysis.
var relationshipScoreColumns = []string{
	"indicator_overlap", "technique_overlap", "actor_match", "semantic_similarity",
	"overall_score", "shared_indicator_ids", "shared_technique_ids", "shared_actor_ids",
	"shared_entity_count", "relationship_types", "lookback_days", "weights",
	"config_version", "updated_at",
}

func (r *relationshipRepository) Upsert(ctx context.Context, rel *entities.Relationship) (*entities.Relationship, error) {
	if rel == nil || rel.SourceDocumentID == "" || rel.RelatedDocumentID == "" || rel.SourceDocumentID == rel.RelatedDocumentID {
		return nil, ErrInvalidInput
	}
	row := *rel
	row.ID = 0
	row.IsCampaign = false
	row.CampaignID = nil

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "source_document_id"}, {Name: "related_document_id"}},
			DoUpdates: clause.AssignmentColumns(relationshipScoreColumns),
		}).
		Create(&row).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, rel.SourceDocumentID, rel.RelatedDocumentID)
}

func (r *relationshipRepository) Rescore(ctx context.Context, rel *entities.Relationship) (bool, error) {
	if rel == nil || rel.SourceDocumentID == "" || rel.RelatedDocumentID == "" {
		return false, ErrInvalidInput
	}
	res := r.db.WithContext(ctx).Model(&entities.Relationship{}).
		Where("source_document_id = ? AND related_document_id = ?", rel.SourceDocumentID, rel.RelatedDocumentID).
		Select(relationshipScoreColumns).
		Updates(rel)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *relationshipRepository) PruneBySource(ctx context.Context, sourceID string, keep []string) (int64, error) {
	var related []string
	err := r.db.WithContext(ctx).Model(&entities.Relationship{}).
		Where("source_document_id = ? AND is_campaign = ?", sourceID, false).
		Pluck("related_document_id", &related).Error
	if err != nil {
		return 0, err
	}

	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	var stale []string
	for _, id := range related {
		if _, ok := kept[id]; !ok {
			stale = append(stale, id)
		}
	}

	var deleted int64
	for _, chunk := range chunkStrings(stale) {
		res := r.db.WithContext(ctx).
			Where("source_document_id = ? AND is_campaign = ? AND related_document_id IN ?", sourceID, false, chunk).
			Delete(&entities.Relationship{})
		if res.Error != nil {
			return deleted, res.Error
		}
		deleted += res.RowsAffected
	}
	return deleted, nil
}

func (r *relationshipRepository) Get(ctx context.Context, sourceID, relatedID string) (*entities.Relationship, error) {
	var rel entities.Relationship
	err := r.db.WithContext(ctx).
		Where("source_document_id = ? AND related_document_id = ?", sourceID, relatedID).
		First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRelationshipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rel, nil
}

func (r *relationshipRepository) ListBySource(ctx context.Context, sourceID string, minScore float64, limit int) ([]*entities.Relationship, error) {
	var rels []*entities.Relationship
	q := r.db.WithContext(ctx).
		Where("source_document_id = ? AND overall_score >= ?", sourceID, minScore).
		Order("overall_score DESC, related_document_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rels).Error
	return rels, err
}

func (r *relationshipRepository) MarkCampaign(ctx context.Context, ids []uint, campaignID uint) error {
	for _, chunk := range chunkUints(ids) {
		err := r.db.WithContext(ctx).Model(&entities.Relationship{}).
			Where("id IN ?", chunk).
			Updates(map[string]any{
				"is_campaign": true,
				"campaign_id": campaignID,
			}).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *relationshipRepository) CountBySource(ctx context.Context, sourceID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Relationship{}).
		Where("source_document_id = ?", sourceID).
		Count(&count).Error
	return count, err
}
