package repository

import (
	"context"
	"time"

	"github.com/tphakala/threatlink/internal/datastore/entities"
)

// CampaignRepository provides access to campaigns and campaign_memberships.
type CampaignRepository interface {
	// Create inserts a campaign.
	Create(ctx context.Context, c *entities.Campaign) error

	// Get retrieves a campaign by id.
	// Returns ErrCampaignNotFound if not found.
	Get(ctx context.Context, id uint) (*entities.Campaign, error)

	// GetByKey retrieves a campaign by its external UUID key.
	GetByKey(ctx context.Context, key string) (*entities.Campaign, error)

	// List returns campaigns ordered by last_seen_at descending. An empty
	// status matches all.
	List(ctx context.Context, status entities.CampaignStatus, limit int) ([]*entities.Campaign, error)

	// Update saves counters, timing, status and signature columns.
	Update(ctx context.Context, c *entities.Campaign) error

	// MembershipForDocument returns the document's membership.
	// Returns ErrMembershipNotFound if the document is in no campaign.
	MembershipForDocument(ctx context.Context, documentID string) (*entities.CampaignMembership, error)

	// MembershipsForDocuments returns existing memberships keyed by document.
	MembershipsForDocuments(ctx context.Context, documentIDs []string) (map[string]*entities.CampaignMembership, error)

	// AddMembers inserts memberships. A document already in a campaign
	// violates the unique index and fails the call.
	AddMembers(ctx context.Context, members []*entities.CampaignMembership) error

	// ListMembers returns a campaign's memberships ordered by join time.
	ListMembers(ctx context.Context, campaignID uint) ([]*entities.CampaignMembership, error)

	// RepointActor replaces fromID with toID in primary_actor_id and the
	// signature actor lists.
	RepointActor(ctx context.Context, fromID, toID uint) (int, error)

	// RefreshStatuses moves active campaigns last seen before dormantBefore
	// to dormant, then dormant ones last seen before closedBefore to closed.
	RefreshStatuses(ctx context.Context, dormantBefore, closedBefore time.Time) (dormant, closed int64, err error)
}
