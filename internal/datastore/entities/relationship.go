package entities

import "time"

// RelationshipType labels why two documents are related.
type RelationshipType string

const (
	RelIndicatorMatch  RelationshipType = "indicator_match"
	RelTechniqueMatch  RelationshipType = "technique_match"
	RelActorMatch      RelationshipType = "actor_match"
	RelSemanticSimilar RelationshipType = "semantic_similar"
)

// ScoreWeights is the weight snapshot a relationship was scored with.
type ScoreWeights struct {
	Indicator float64 `json:"indicator"`
	Technique float64 `json:"technique"`
	Actor     float64 `json:"actor"`
	Semantic  float64 `json:"semantic"`
}

// Relationship is the scored, directed link from a source document to a
// related earlier document. Re-analysis updates scores in place and never
// clears the campaign columns.
type Relationship struct {
	ID                 uint               `gorm:"primaryKey"`
	SourceDocumentID   string             `gorm:"type:varchar(128);not null;uniqueIndex:idx_rel_pair,priority:1"`
	RelatedDocumentID  string             `gorm:"type:varchar(128);not null;uniqueIndex:idx_rel_pair,priority:2;index"`
	IndicatorOverlap   float64            `gorm:"not null;default:0"`
	TechniqueOverlap   float64            `gorm:"not null;default:0"`
	ActorMatch         float64            `gorm:"not null;default:0"`
	SemanticSimilarity *float64           // nil when not computed
	OverallScore       float64            `gorm:"not null;index"`
	SharedIndicatorIDs []uint             `gorm:"serializer:json;type:text"`
	SharedTechniqueIDs []uint             `gorm:"serializer:json;type:text"`
	SharedActorIDs     []uint             `gorm:"serializer:json;type:text"`
	SharedEntityCount  int                `gorm:"not null;default:0"`
	RelationshipTypes  []RelationshipType `gorm:"serializer:json;type:text"`
	LookbackDays       int                `gorm:"not null"`
	Weights            ScoreWeights       `gorm:"serializer:json;type:text"`
	ConfigVersion      int64              `gorm:"not null;default:0"`
	IsCampaign         bool               `gorm:"not null;default:false"`
	CampaignID         *uint              `gorm:"index"`
	CreatedAt          time.Time          `gorm:"autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Relationship) TableName() string {
	return "relationships"
}
