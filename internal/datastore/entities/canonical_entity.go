package entities

import "time"

// EntityKind discriminates canonical entities.
type EntityKind string

const (
	KindIndicator EntityKind = "indicator"
	KindTechnique EntityKind = "technique"
	KindActor     EntityKind = "actor"
)

// Kinds lists entity kinds in scoring order.
var Kinds = []EntityKind{KindIndicator, KindTechnique, KindActor}

// Valid reports whether k is a known kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindIndicator, KindTechnique, KindActor:
		return true
	}
	return false
}

// IndicatorType classifies indicator values.
type IndicatorType string

const (
	IndicatorIP     IndicatorType = "ip"
	IndicatorDomain IndicatorType = "domain"
	IndicatorURL    IndicatorType = "url"
	IndicatorEmail  IndicatorType = "email"
	IndicatorMD5    IndicatorType = "md5"
	IndicatorSHA1   IndicatorType = "sha1"
	IndicatorSHA256 IndicatorType = "sha256"
	IndicatorCVE    IndicatorType = "cve"
	IndicatorOther  IndicatorType = "other"
)

// CanonicalEntity is the single stored record for a normalized value.
// (Kind, CanonicalKey) is unique. For actors the key is the case-folded
// primary name while CanonicalValue keeps the display form.
type CanonicalEntity struct {
	ID              uint          `gorm:"primaryKey"`
	Kind            EntityKind    `gorm:"type:varchar(16);not null;uniqueIndex:idx_entity_kind_key,priority:1"`
	CanonicalKey    string        `gorm:"type:varchar(512);not null;uniqueIndex:idx_entity_kind_key,priority:2"`
	CanonicalValue  string        `gorm:"type:varchar(512);not null"`
	IndicatorType   IndicatorType `gorm:"type:varchar(16);index"` // indicators only
	Confidence      int           `gorm:"not null;default:0"`
	OccurrenceCount int           `gorm:"not null;default:1"`
	FirstSeen       time.Time     `gorm:"not null"`
	LastSeen        time.Time     `gorm:"index;not null"`
	IsActive        bool          `gorm:"not null;default:true"`
	IsFalsePositive bool          `gorm:"not null;default:false"`
	CreatedAt       time.Time     `gorm:"autoCreateTime"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (CanonicalEntity) TableName() string {
	return "canonical_entities"
}

// ActorAlias maps a case-folded alias to exactly one actor. The unique
// AliasKey keeps aliases from overlapping two actors.
type ActorAlias struct {
	ID            uint      `gorm:"primaryKey"`
	EntityID      uint      `gorm:"index;not null"`
	AliasKey      string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	Alias         string    `gorm:"type:varchar(255);not null"`
	IsPrimaryName bool      `gorm:"not null;default:false"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (ActorAlias) TableName() string {
	return "actor_aliases"
}
