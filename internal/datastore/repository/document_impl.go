package repository

import (
	"context"
	"errors"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Upsert(ctx context.Context, doc *entities.Document) error {
	if doc == nil || doc.ID == "" {
		return ErrInvalidInput
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	if doc.PublishedAt != nil {
		t := doc.PublishedAt.UTC()
		doc.PublishedAt = &t
	}
	if doc.AnalyzedAt != nil {
		t := doc.AnalyzedAt.UTC()
		doc.AnalyzedAt = &t
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "description", "published_at", "analyzed_at", "last_run_id", "updated_at"}),
		}).
		Create(doc).Error
}

func (r *documentRepository) Get(ctx context.Context, id string) (*entities.Document, error) {
	var doc entities.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*entities.Document, error) {
	out := make(map[string]*entities.Document, len(ids))
	for _, chunk := range chunkStrings(ids) {
		var docs []*entities.Document
		if err := r.db.WithContext(ctx).Where("id IN ?", chunk).Find(&docs).Error; err != nil {
			return nil, err
		}
		for _, d := range docs {
			out[d.ID] = d
		}
	}
	return out, nil
}

func (r *documentRepository) Exists(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Document{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}
