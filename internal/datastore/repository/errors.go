// Package repository provides the persistence layer for the correlation engine.
//
// Each table has an interface and a GORM implementation. Repositories never
// open their own transactions except where noted; callers group writes with
// Store.Transaction.
package repository

import "github.com/tphakala/threatlink/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrDocumentNotFound indicates the requested document does not exist.
	ErrDocumentNotFound = errors.NewStd("document not found")

	// ErrEntityNotFound indicates the requested canonical entity does not exist.
	ErrEntityNotFound = errors.NewStd("entity not found")

	// ErrRelationshipNotFound indicates no relationship exists for the pair.
	ErrRelationshipNotFound = errors.NewStd("relationship not found")

	// ErrCampaignNotFound indicates the requested campaign does not exist.
	ErrCampaignNotFound = errors.NewStd("campaign not found")

	// ErrMembershipNotFound indicates the document is not in any campaign.
	ErrMembershipNotFound = errors.NewStd("campaign membership not found")

	// ErrPriorityNotFound indicates no priority score exists for the document.
	ErrPriorityNotFound = errors.NewStd("priority score not found")

	// ErrEmbeddingNotFound indicates no cached embedding exists.
	ErrEmbeddingNotFound = errors.NewStd("embedding not found")

	// ErrConfigNotFound indicates no correlation config has been activated.
	ErrConfigNotFound = errors.NewStd("correlation config not found")

	// ErrInvalidInput indicates invalid input parameters.
	ErrInvalidInput = errors.NewStd("invalid input")
)
