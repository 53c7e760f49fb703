package entities

import "time"

// Document holds the metadata the engine needs about an analyzed report.
// ID is the caller's external identifier.
type Document struct {
	ID          string     `gorm:"primaryKey;type:varchar(128)"`
	Title       string     `gorm:"type:varchar(512)"`
	Description string     `gorm:"type:text"` // condensed technical description, embedding input
	CreatedAt   time.Time  `gorm:"index;not null"`
	PublishedAt *time.Time `gorm:"index"`
	AnalyzedAt  *time.Time
	LastRunID   string    `gorm:"type:varchar(64)"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName returns the table name for GORM.
func (Document) TableName() string {
	return "documents"
}

// ReferenceTime is the publication time when known, else the creation time.
func (d *Document) ReferenceTime() time.Time {
	if d.PublishedAt != nil && !d.PublishedAt.IsZero() {
		return *d.PublishedAt
	}
	return d.CreatedAt
}

// ExtractedFrom records which text a mention came from.
type ExtractedFrom string

const (
	ExtractedFromOriginal ExtractedFrom = "original"
	ExtractedFromSummary  ExtractedFrom = "summary"
)

// DocumentEntityLink records that a document mentions an entity. One row per
// (document, entity); rows are never updated in place.
type DocumentEntityLink struct {
	ID            uint          `gorm:"primaryKey"`
	DocumentID    string        `gorm:"type:varchar(128);not null;uniqueIndex:idx_link_doc_entity,priority:1;index:idx_link_entity_doc,priority:2"`
	EntityID      uint          `gorm:"not null;uniqueIndex:idx_link_doc_entity,priority:2;index:idx_link_entity_doc,priority:1"`
	EntityKind    EntityKind    `gorm:"type:varchar(16);not null;index"`
	Confidence    int           `gorm:"not null;default:0"`
	Evidence      string        `gorm:"type:text"`
	ExtractedFrom ExtractedFrom `gorm:"type:varchar(16);not null;default:'original'"`
	ExtractedBy   string        `gorm:"type:varchar(64)"` // run id
	ExtractedAt   time.Time     `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (DocumentEntityLink) TableName() string {
	return "document_entity_links"
}

// EntityEvent is an append-only sighting record.
type EntityEvent struct {
	ID         uint       `gorm:"primaryKey"`
	EntityKind EntityKind `gorm:"type:varchar(16);not null"`
	EntityID   uint       `gorm:"index:idx_event_entity_date,priority:1;not null"`
	DocumentID *string    `gorm:"type:varchar(128);index"`
	HuntID     *string    `gorm:"type:varchar(128)"`
	EventType  string     `gorm:"type:varchar(32);not null"`
	EventDate  time.Time  `gorm:"index:idx_event_entity_date,priority:2;not null"`
	Confidence int        `gorm:"not null;default:0"`
	Context    string     `gorm:"type:text"`
	CreatedAt  time.Time  `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (EntityEvent) TableName() string {
	return "entity_events"
}

// EventTypeMentioned is appended the first time a document links an entity.
const EventTypeMentioned = "mentioned"

// EventTypeMerged is appended to the surviving actor of an alias merge.
const EventTypeMerged = "merged"
