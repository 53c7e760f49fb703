package repository

import (
	"context"

	"gorm.io/gorm"
)

// maxParamsPerQuery keeps IN lists below SQLite's bound parameter limit.
const maxParamsPerQuery = 500

// Store bundles every repository over one *gorm.DB.
type Store struct {
	db      *gorm.DB
	isMySQL bool

	Documents     DocumentRepository
	Entities      EntityRepository
	Links         LinkRepository
	Events        EventRepository
	Relationships RelationshipRepository
	Campaigns     CampaignRepository
	Priorities    PriorityRepository
	Configs       ConfigRepository
	Embeddings    EmbeddingRepository
}

// New creates a Store. isMySQL selects dialect-specific upsert expressions.
func New(db *gorm.DB, isMySQL bool) *Store {
	return &Store{
		db:            db,
		isMySQL:       isMySQL,
		Documents:     NewDocumentRepository(db),
		Entities:      NewEntityRepository(db, isMySQL),
		Links:         NewLinkRepository(db),
		Events:        NewEventRepository(db),
		Relationships: NewRelationshipRepository(db),
		Campaigns:     NewCampaignRepository(db),
		Priorities:    NewPriorityRepository(db),
		Configs:       NewConfigRepository(db),
		Embeddings:    NewEmbeddingRepository(db),
	}
}

// DB returns the underlying database handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// IsMySQL reports whether the store runs against MySQL.
func (s *Store) IsMySQL() bool {
	return s.isMySQL
}

// Transaction runs fn with a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx, s.isMySQL))
	})
}

// chunkUints splits ids into slices no longer than maxParamsPerQuery.
func chunkUints(ids []uint) [][]uint {
	var out [][]uint
	for start := 0; start < len(ids); start += maxParamsPerQuery {
		end := min(start+maxParamsPerQuery, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}

func chunkStrings(ids []string) [][]string {
	var out [][]string
	for start := 0; start < len(ids); start += maxParamsPerQuery {
		end := min(start+maxParamsPerQuery, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
