package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"gorm.io/gorm"
)

type campaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository creates a new CampaignRepository.
func NewCampaignRepository(db *gorm.DB) CampaignRepository {
	return &campaignRepository{db: db}
}

func normalizeCampaignTimes(c *entities.Campaign) {
	c.FirstSeenAt = c.FirstSeenAt.UTC()
	c.LastSeenAt = c.LastSeenAt.UTC()
}

func (r *campaignRepository) Create(ctx context.Context, c *entities.Campaign) error {
	if c == nil || c.CampaignKey == "" {
		return ErrInvalidInput
	}
	normalizeCampaignTimes(c)
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *campaignRepository) Get(ctx context.Context, id uint) (*entities.Campaign, error) {
	var c entities.Campaign
	err := r.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) GetByKey(ctx context.Context, key string) (*entities.Campaign, error) {
	var c entities.Campaign
	err := r.db.WithContext(ctx).Where("campaign_key = ?", key).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *campaignRepository) List(ctx context.Context, status entities.CampaignStatus, limit int) ([]*entities.Campaign, error) {
	var out []*entities.Campaign
	q := r.db.WithContext(ctx).Order("last_seen_at DESC, id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *campaignRepository) Update(ctx context.Context, c *entities.Campaign) error {
	if c == nil || c.ID == 0 {
		return ErrInvalidInput
	}
	normalizeCampaignTimes(c)
	return r.db.WithContext(ctx).Model(c).
		Select("name", "signature_indicator_ids", "signature_technique_ids", "signature_actor_ids",
			"primary_actor_id", "article_count", "first_seen_at", "last_seen_at",
			"duration_days", "detection_confidence", "status", "updated_at").
		Updates(c).Error
}

func (r *campaignRepository) MembershipForDocument(ctx context.Context, documentID string) (*entities.CampaignMembership, error) {
	var m entities.CampaignMembership
	err := r.db.WithContext(ctx).Where("document_id = ?", documentID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *campaignRepository) MembershipsForDocuments(ctx context.Context, documentIDs []string) (map[string]*entities.CampaignMembership, error) {
	out := make(map[string]*entities.CampaignMembership, len(documentIDs))
	for _, chunk := range chunkStrings(documentIDs) {
		var rows []*entities.CampaignMembership
		if err := r.db.WithContext(ctx).Where("document_id IN ?", chunk).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, m := range rows {
			out[m.DocumentID] = m
		}
	}
	return out, nil
}

func (r *campaignRepository) AddMembers(ctx context.Context, members []*entities.CampaignMembership) error {
	if len(members) == 0 {
		return nil
	}
	for _, m := range members {
		m.JoinedAt = m.JoinedAt.UTC()
	}
	return r.db.WithContext(ctx).Create(&members).Error
}

func (r *campaignRepository) ListMembers(ctx context.Context, campaignID uint) ([]*entities.CampaignMembership, error) {
	var out []*entities.CampaignMembership
	err := r.db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("joined_at ASC, document_id ASC").
		Find(&out).Error
	return out, err
}

func (r *campaignRepository) RepointActor(ctx context.Context, fromID, toID uint) (int, error) {
	// Signature lists are JSON text; LIKE narrows the scan and the Go side
	// does the exact match.
	var candidates []*entities.Campaign
	err := r.db.WithContext(ctx).
		Where("primary_actor_id = ? OR signature_actor_ids LIKE ?", fromID, fmt.Sprintf("%%%d%%", fromID)).
		Find(&candidates).Error
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, c := range candidates {
		changed := false
		if c.PrimaryActorID != nil && *c.PrimaryActorID == fromID {
			id := toID
			c.PrimaryActorID = &id
			changed = true
		}
		if slices.Contains(c.SignatureActorIDs, fromID) {
			ids := make([]uint, 0, len(c.SignatureActorIDs))
			for _, id := range c.SignatureActorIDs {
				if id == fromID {
					id = toID
				}
				ids = append(ids, id)
			}
			slices.Sort(ids)
			c.SignatureActorIDs = slices.Compact(ids)
			changed = true
		}
		if !changed {
			continue
		}
		err := r.db.WithContext(ctx).Model(c).
			Select("primary_actor_id", "signature_actor_ids", "updated_at").
			Updates(c).Error
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (r *campaignRepository) RefreshStatuses(ctx context.Context, dormantBefore, closedBefore time.Time) (dormant, closed int64, err error) {
	result := r.db.WithContext(ctx).Model(&entities.Campaign{}).
		Where("status = ? AND last_seen_at < ?", entities.CampaignActive, dormantBefore.UTC()).
		Update("status", entities.CampaignDormant)
	if result.Error != nil {
		return 0, 0, result.Error
	}
	dormant = result.RowsAffected

	result = r.db.WithContext(ctx).Model(&entities.Campaign{}).
		Where("status = ? AND last_seen_at < ?", entities.CampaignDormant, closedBefore.UTC()).
		Update("status", entities.CampaignClosed)
	if result.Error != nil {
		return dormant, 0, result.Error
	}
	return dormant, result.RowsAffected, nil
}
