package entities

import "time"

// PriorityLevel buckets the overall priority score.
type PriorityLevel string

const (
	PriorityCritical PriorityLevel = "critical"
	PriorityHigh     PriorityLevel = "high"
	PriorityMedium   PriorityLevel = "medium"
	PriorityLow      PriorityLevel = "low"
)

// PriorityScore is the explainable priority of one document.
type PriorityScore struct {
	ID                        uint           `gorm:"primaryKey"`
	DocumentID                string         `gorm:"type:varchar(128);uniqueIndex;not null"`
	EntityCriticality         float64        `gorm:"not null"`
	HistoricalContext         float64        `gorm:"not null"`
	ActorAttribution          float64        `gorm:"not null"`
	Recency                   float64        `gorm:"not null"`
	Confidence                float64        `gorm:"not null"`
	Overall                   float64        `gorm:"not null;index"`
	PriorityLevel             PriorityLevel  `gorm:"type:varchar(16);index;not null"`
	HasActiveCampaign         bool           `gorm:"not null;default:false"`
	HasKnownActor             bool           `gorm:"not null;default:false"`
	HasCriticalIndicators     bool           `gorm:"not null;default:false"`
	HasExploitationTechniques bool           `gorm:"not null;default:false"`
	ScoreExplanation          map[string]any `gorm:"serializer:json;type:text"`
	CalculatedAt              time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (PriorityScore) TableName() string {
	return "priority_scores"
}
