package entities

import "time"

// CorrelationConfig is one activation of the correlation settings.
// Exactly one row has IsActive set.
type CorrelationConfig struct {
	ID          uint      `gorm:"primaryKey"`
	Version     int64     `gorm:"uniqueIndex;not null"`
	IsActive    bool      `gorm:"index;not null;default:false"`
	Settings    string    `gorm:"type:text;not null"` // JSON of the correlation section
	Checksum    string    `gorm:"type:varchar(64);not null"`
	ActivatedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// TableName returns the table name for GORM.
func (CorrelationConfig) TableName() string {
	return "correlation_configs"
}

// DocumentEmbedding caches a document's vector. It is regenerated only when
// TextHash (sha256 of the cleaned description) changes.
type DocumentEmbedding struct {
	ID          uint      `gorm:"primaryKey"`
	DocumentID  string    `gorm:"type:varchar(128);uniqueIndex;not null"`
	TextHash    string    `gorm:"type:varchar(64);index;not null"`
	Model       string    `gorm:"type:varchar(128)"`
	Dimension   int       `gorm:"not null"`
	Vector      []float32 `gorm:"serializer:json;type:mediumtext"`
	GeneratedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (DocumentEmbedding) TableName() string {
	return "document_embeddings"
}
