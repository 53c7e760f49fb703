package repository

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *entities.EntityEvent) error {
	if event == nil || event.EntityID == 0 || event.EventType == "" {
		return ErrInvalidInput
	}
	event.EventDate = event.EventDate.UTC()
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) ListByEntity(ctx context.Context, entityID uint, limit int) ([]*entities.EntityEvent, error) {
	var events []*entities.EntityEvent
	q := r.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("event_date DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

func (r *eventRepository) RepointEntity(ctx context.Context, fromID, toID uint) error {
	return r.db.WithContext(ctx).Model(&entities.EntityEvent{}).
		Where("entity_id = ?", fromID).
		Update("entity_id", toID).Error
}
