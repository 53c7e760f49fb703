// Package entities defines the GORM entity models for the correlation store.
//
// # Canonical Entities
//
//   - CanonicalEntity: deduplicated indicator, technique or actor
//   - ActorAlias: case-folded alias keys owned by one actor
//   - DocumentEntityLink: a document mentioning an entity
//   - EntityEvent: append-only sighting history
//
// # Correlation Output
//
//   - Relationship: scored link between two documents
//   - Campaign, CampaignMembership: detected multi-document clusters
//   - PriorityScore: explainable per-document priority
//
// # Supporting Tables
//
//   - Document: analyzed document metadata
//   - DocumentEmbedding: cached embedding vector keyed by text hash
//   - CorrelationConfig: activation history of correlation settings
//
// There are no ORM cascades. Relations are plain id columns and every write
// goes through an explicit upsert in the repository package.
package entities

// All returns every model in migration order.
func All() []any {
	return []any{
		&Document{},
		&CanonicalEntity{},
		&ActorAlias{},
		&DocumentEntityLink{},
		&EntityEvent{},
		&Relationship{},
		&Campaign{},
		&CampaignMembership{},
		&PriorityScore{},
		&CorrelationConfig{},
		&DocumentEmbedding{},
	}
}
