package repository

import (
	"context"
	"errors"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type priorityRepository struct {
	db *gorm.DB
}

// NewPriorityRepository creates a new PriorityRepository.
func NewPriorityRepository(db *gorm.DB) PriorityRepository {
	return &priorityRepository{db: db}
}

func (r *priorityRepository) Upsert(ctx context.Context, score *entities.PriorityScore) error {
	if score == nil || score.DocumentID == "" {
		return ErrInvalidInput
	}
	score.CalculatedAt = score.CalculatedAt.UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}},
			UpdateAll: true,
		}).
		Create(score).Error
}

func (r *priorityRepository) Get(ctx context.Context, documentID string) (*entities.PriorityScore, error) {
	var s entities.PriorityScore
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPriorityNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *priorityRepository) ListByLevel(ctx context.Context, level entities.PriorityLevel, limit int) ([]*entities.PriorityScore, error) {
	var out []*entities.PriorityScore
	q := r.db.WithContext(ctx).
		Where("priority_level = ?", level).
		Order("overall DESC, document_id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
