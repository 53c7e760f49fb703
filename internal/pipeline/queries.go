package pipeline

import (
	"context"

	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
	"github.com/tphakala/threatlink/internal/errors"
)

// maxQueryLimit caps list queries.
const maxQueryLimit = 500

// CampaignView is a campaign together with its memberships.
type CampaignView struct {
	Campaign *entities.Campaign             `json:"campaign"`
	Members  []*entities.CampaignMembership `json:"members"`
}

// Timeline is an entity with its sighting history, newest first.
type Timeline struct {
	Entity  *entities.CanonicalEntity `json:"entity"`
	Aliases []*entities.ActorAlias    `json:"aliases,omitempty"`
	Events  []*entities.EntityEvent   `json:"events"`
}

// Queries serves the read side. It never writes.
type Queries struct {
	store *repository.Store
}

// NewQueries creates Queries over store.
func NewQueries(store *repository.Store) *Queries {
	return &Queries{store: store}
}

// GetRelated returns a document's relationships, best first.
func (q *Queries) GetRelated(ctx context.Context, documentID string, limit int) ([]*entities.Relationship, error) {
	if err := q.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}
	rels, err := q.store.Relationships.ListBySource(ctx, documentID, 0, clampLimit(limit))
	if err != nil {
		return nil, queryError(err, "get_related", documentID)
	}
	return rels, nil
}

// GetCampaignFor returns the campaign containing documentID.
func (q *Queries) GetCampaignFor(ctx context.Context, documentID string) (*CampaignView, error) {
	if err := q.requireDocument(ctx, documentID); err != nil {
		return nil, err
	}
	m, err := q.store.Campaigns.MembershipForDocument(ctx, documentID)
	if err != nil {
		return nil, queryError(err, "get_campaign_for", documentID)
	}
	return q.GetCampaign(ctx, m.CampaignID)
}

// GetCampaign returns a campaign by id.
func (q *Queries) GetCampaign(ctx context.Context, id uint) (*CampaignView, error) {
	c, err := q.store.Campaigns.Get(ctx, id)
	if err != nil {
		return nil, queryError(err, "get_campaign", id)
	}
	members, err := q.store.Campaigns.ListMembers(ctx, id)
	if err != nil {
		return nil, queryError(err, "get_campaign", id)
	}
	return &CampaignView{Campaign: c, Members: members}, nil
}

// ListCampaigns returns campaigns most recently seen first. An empty status
// matches every campaign.
func (q *Queries) ListCampaigns(ctx context.Context, status entities.CampaignStatus, limit int) ([]*entities.Campaign, error) {
	switch status {
	case "", entities.CampaignActive, entities.CampaignDormant, entities.CampaignClosed:
	default:
		return nil, errors.ValidationError("unknown campaign status " + string(status))
	}
	out, err := q.store.Campaigns.List(ctx, status, clampLimit(limit))
	if err != nil {
		return nil, queryError(err, "list_campaigns", status)
	}
	return out, nil
}

// GetPriority returns a document's priority score.
func (q *Queries) GetPriority(ctx context.Context, documentID string) (*entities.PriorityScore, error) {
	score, err := q.store.Priorities.Get(ctx, documentID)
	if err != nil {
		return nil, queryError(err, "get_priority", documentID)
	}
	return score, nil
}

// ListPriorities returns the highest scores of one level.
func (q *Queries) ListPriorities(ctx context.Context, level entities.PriorityLevel, limit int) ([]*entities.PriorityScore, error) {
	switch level {
	case entities.PriorityCritical, entities.PriorityHigh, entities.PriorityMedium, entities.PriorityLow:
	default:
		return nil, errors.ValidationError("unknown priority level " + string(level))
	}
	out, err := q.store.Priorities.ListByLevel(ctx, level, clampLimit(limit))
	if err != nil {
		return nil, queryError(err, "list_priorities", level)
	}
	return out, nil
}

// GetEntityTimeline returns an entity and its events, newest first.
func (q *Queries) GetEntityTimeline(ctx context.Context, entityID uint, limit int) (*Timeline, error) {
	e, err := q.store.Entities.Get(ctx, entityID)
	if err != nil {
		return nil, queryError(err, "get_entity_timeline", entityID)
	}
	events, err := q.store.Events.ListByEntity(ctx, entityID, clampLimit(limit))
	if err != nil {
		return nil, queryError(err, "get_entity_timeline", entityID)
	}
	tl := &Timeline{Entity: e, Events: events}
	if e.Kind == entities.KindActor {
		if tl.Aliases, err = q.store.Entities.Aliases(ctx, entityID); err != nil {
			return nil, queryError(err, "get_entity_timeline", entityID)
		}
	}
	return tl, nil
}

func (q *Queries) requireDocument(ctx context.Context, documentID string) error {
	ok, err := q.store.Documents.Exists(ctx, documentID)
	if err != nil {
		return queryError(err, "document_exists", documentID)
	}
	if !ok {
		return queryError(repository.ErrDocumentNotFound, "document_exists", documentID)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryError(err error, query string, key any) error {
	category := errors.CategoryDatabase
	switch {
	case errors.Is(err, repository.ErrDocumentNotFound),
		errors.Is(err, repository.ErrEntityNotFound),
		errors.Is(err, repository.ErrCampaignNotFound),
		errors.Is(err, repository.ErrMembershipNotFound),
		errors.Is(err, repository.ErrPriorityNotFound):
		category = errors.CategoryNotFound
	}
	return errors.New(err).
		Component("pipeline").
		Category(category).
		Context("query", query).
		Context("key", key).
		Build()
}
