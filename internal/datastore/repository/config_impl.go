package repository

import (
	"context"
	"errors"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
)

type configRepository struct {
	db *gorm.DB
}

// NewConfigRepository creates a new ConfigRepository.
func NewConfigRepository(db *gorm.DB) ConfigRepository {
	return &configRepository{db: db}
}

func (r *configRepository) Activate(ctx context.Context, settingsJSON, checksum string, at time.Time) (*entities.CorrelationConfig, error) {
	if settingsJSON == "" || checksum == "" {
		return nil, ErrInvalidInput
	}

	var row entities.CorrelationConfig
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxVersion int64
		if err := tx.Model(&entities.CorrelationConfig{}).
			Select("COALESCE(MAX(version), 0)").
			Scan(&maxVersion).Error; err != nil {
			return err
		}

		if err := tx.Model(&entities.CorrelationConfig{}).
			Where("is_active = ?", true).
			Update("is_active", false).Error; err != nil {
			return err
		}

		row = entities.CorrelationConfig{
			Version:     maxVersion + 1,
			IsActive:    true,
			Settings:    settingsJSON,
			Checksum:    checksum,
			ActivatedAt: at.UTC(),
		}
		return tx.Create(&row).Error
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *configRepository) GetActive(ctx context.Context) (*entities.CorrelationConfig, error) {
	var row entities.CorrelationConfig
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("version DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *configRepository) History(ctx context.Context, limit int) ([]*entities.CorrelationConfig, error) {
	var out []*entities.CorrelationConfig
	q := r.db.WithContext(ctx).Order("version DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *configRepository) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.CorrelationConfig{}).
		Where("is_active = ?", true).
		Count(&count).Error
	return count, err
}
