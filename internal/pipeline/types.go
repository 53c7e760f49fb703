// Package pipeline sequences the correlation stages for each document,
// runs documents through a worker pool and serves the read queries.
package pipeline

import (
	"strings"
	"time"

	"github.com/tphakala/threatlink/internal/campaign"
	"github.com/tphakala/threatlink/internal/canonical"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/errors"
)

// Stage names a pipeline step.
type Stage string

const (
	StageDocument     Stage = "document"
	StageCanonicalize Stage = "canonicalize"
	StageEmbedding    Stage = "embedding"
	StageCandidates   Stage = "candidates"
	StageSimilarity   Stage = "similarity"
	StageCampaign     Stage = "campaign"
	StagePriority     Stage = "priority"
	StageNotify       Stage = "notify"
)

// maxDocumentIDBytes matches the documents.id column width.
const maxDocumentIDBytes = 128

// AnalysisRequest is one document with its already extracted mentions.
type AnalysisRequest struct {
	DocumentID  string                 `json:"document_id" yaml:"document_id"`
	Title       string                 `json:"title,omitempty" yaml:"title,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time              `json:"created_at" yaml:"created_at"`
	PublishedAt *time.Time             `json:"published_at,omitempty" yaml:"published_at,omitempty"`
	Mentions    []canonical.RawMention `json:"mentions" yaml:"mentions"`
}

// Validate checks the request envelope. Individual mentions are validated
// by the canonicalizer.
func (r *AnalysisRequest) Validate() error {
	id := strings.TrimSpace(r.DocumentID)
	switch {
	case id == "":
		return errors.ValidationError("document_id is required")
	case len(id) > maxDocumentIDBytes:
		return errors.ValidationError("document_id is longer than 128 bytes")
	case r.CreatedAt.IsZero():
		return errors.ValidationError("created_at is required")
	}
	return nil
}

// StageError records a non-fatal failure of a later stage.
type StageError struct {
	Stage    Stage  `json:"stage"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Err      error  `json:"-"`
}

func newStageError(stage Stage, err error) StageError {
	category := string(errors.CategoryProcessing)
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		category = ee.GetCategory()
	}
	return StageError{Stage: stage, Category: category, Message: err.Error(), Err: err}
}

// AnalysisResult is everything one document run produced. Stages that
// completed stay durable even when a later one failed.
type AnalysisResult struct {
	DocumentID    string                   `json:"document_id"`
	RunID         string                   `json:"run_id"`
	ConfigVersion int64                    `json:"config_version"`
	Entities      *canonical.Result        `json:"entities"`
	Candidates    int                      `json:"candidates"`
	Relationships []*entities.Relationship `json:"relationships"`
	Campaign      *campaign.Detection      `json:"campaign,omitempty"`
	Priority      *entities.PriorityScore  `json:"priority,omitempty"`
	StageErrors   []StageError             `json:"stage_errors,omitempty"`
	Attempts      int                      `json:"attempts"`
	Duration      time.Duration            `json:"duration"`
}

// Partial reports whether any later stage failed.
func (r *AnalysisResult) Partial() bool {
	return len(r.StageErrors) > 0
}
