package entities

import "time"

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignActive  CampaignStatus = "active"
	CampaignDormant CampaignStatus = "dormant"
	CampaignClosed  CampaignStatus = "closed"
)

// UnattributedCampaignName is used when no signature actor exists.
const UnattributedCampaignName = "Unattributed Campaign"

// Campaign is a detected cluster of related documents.
type Campaign struct {
	ID                    uint           `gorm:"primaryKey"`
	CampaignKey           string         `gorm:"type:varchar(36);uniqueIndex;not null"`
	Name                  string         `gorm:"type:varchar(255);not null"`
	SignatureIndicatorIDs []uint         `gorm:"serializer:json;type:text"`
	SignatureTechniqueIDs []uint         `gorm:"serializer:json;type:text"`
	SignatureActorIDs     []uint         `gorm:"serializer:json;type:text"`
	PrimaryActorID        *uint          `gorm:"index"`
	ArticleCount          int            `gorm:"not null;default:0"`
	FirstSeenAt           time.Time      `gorm:"not null"`
	LastSeenAt            time.Time      `gorm:"index;not null"`
	DurationDays          int            `gorm:"not null;default:0"`
	DetectionConfidence   float64        `gorm:"not null;default:0"`
	Status                CampaignStatus `gorm:"type:varchar(16);index;not null;default:'active'"`
	CreatedAt             time.Time      `gorm:"autoCreateTime"`
	UpdatedAt             time.Time      `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Campaign) TableName() string {
	return "campaigns"
}

// CampaignMembership places a document in a campaign. A document belongs to
// at most one auto-detected campaign (unique DocumentID).
type CampaignMembership struct {
	ID         uint      `gorm:"primaryKey"`
	CampaignID uint      `gorm:"not null;uniqueIndex:idx_member_campaign_doc,priority:1"`
	DocumentID string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_member_campaign_doc,priority:2;uniqueIndex:idx_member_document"`
	Confidence float64   `gorm:"not null;default:0"`
	IsSeed     bool      `gorm:"not null;default:false"`
	JoinedAt   time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (CampaignMembership) TableName() string {
	return "campaign_memberships"
}
