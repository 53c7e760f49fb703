package metrics

import "time"

// Operation names shared by recorders and collectors.
const (
	// OpDocument is one whole document run. Status is success, partial or error.
	OpDocument = "document"
	// OpCanonicalize is the canonicalization stage.
	OpCanonicalize = "canonicalize"
	// OpEntityUpsert is one canonical entity write. Status is the entity kind.
	OpEntityUpsert = "entity_upsert"
	// OpCandidates is candidate generation.
	OpCandidates = "candidates"
	// OpScore is relationship scoring.
	OpScore = "score"
	// OpRelationship counts persisted relationships.
	OpRelationship = "relationship"
	// OpCampaign is campaign detection. Status is created, joined, existing or none.
	OpCampaign = "campaign"
	// OpPriority is priority scoring.
	OpPriority = "priority"
	// OpEmbedding is one embedding backend call.
	OpEmbedding = "embedding"
	// OpEmbeddingCache is an embedding cache lookup. Status is hit or miss.
	OpEmbeddingCache = "embedding_cache"
	// OpStoreRetry is a retried store transaction. Status is the retried operation.
	OpStoreRetry = "store_retry"
	// OpNotify is one notification delivery. Status is the channel.
	OpNotify = "notify"
	// OpMerge is an actor alias merge.
	OpMerge = "merge"
)

// Status values.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
	StatusHit     = "hit"
	StatusMiss    = "miss"
)

// ShutdownTimeout bounds the metrics server shutdown.
const ShutdownTimeout = 5 * time.Second
