package repository

import (
	"context"
	"errors"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type embeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(db *gorm.DB) EmbeddingRepository {
	return &embeddingRepository{db: db}
}

func (r *embeddingRepository) Get(ctx context.Context, documentID string) (*entities.DocumentEmbedding, error) {
	var emb entities.DocumentEmbedding
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&emb).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEmbeddingNotFound
	}
	if err != nil {
		return nil, err
	}
	return &emb, nil
}

func (r *embeddingRepository) GetByDocuments(ctx context.Context, documentIDs []string) (map[string]*entities.DocumentEmbedding, error) {
	out := make(map[string]*entities.DocumentEmbedding, len(documentIDs))
	for _, chunk := range chunkStrings(documentIDs) {
		var rows []*entities.DocumentEmbedding
		if err := r.db.WithContext(ctx).Where("document_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, e := range rows {
			out[e.DocumentID] = e
		}
	}
	return out, nil
}

func (r *embeddingRepository) Upsert(ctx context.Context, emb *entities.DocumentEmbedding) error {
	if emb == nil || emb.DocumentID == "" || len(emb.Vector) == 0 {
		return ErrInvalidInput
	}
	emb.Dimension = len(emb.Vector)
	emb.GeneratedAt = emb.GeneratedAt.UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"text_hash", "model", "dimension", "vector", "generated_at"}),
		}).
		Create(emb).Error
}
