// Package testutil provides store fixtures for package tests.
package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tphakala/threatlink/internal/datastore"
	"github.com/tphakala/threatlink/internal/datastore/entities"
	"github.com/tphakala/threatlink/internal/datastore/repository"
)

// NewTestStore opens a migrated file-backed SQLite store in t.TempDir().
// File-backed rather than :memory: so concurrent connections share one database.
func NewTestStore(t *testing.T) *repository.Store {
	t.Helper()

	m, err := datastore.NewSQLiteManager(filepath.Join(t.TempDir(), "threatlink_test.db"), time.Second)
	require.NoError(t, err)
	require.NoError(t, m.Initialize())
	t.Cleanup(func() { _ = m.Close() })

	return repository.New(m.DB(), false)
}

// SeedDocument stores a document created at createdAt.
func SeedDocument(t *testing.T, store *repository.Store, id string, createdAt time.Time) *entities.Document {
	t.Helper()
	doc := &entities.Document{ID: id, Title: id, CreatedAt: createdAt}
	require.NoError(t, store.Documents.Upsert(context.Background(), doc))
	return doc
}

// SeedEntity upserts an entity whose key equals value.
func SeedEntity(t *testing.T, store *repository.Store, kind entities.EntityKind, value string) *entities.CanonicalEntity {
	t.Helper()
	now := time.Now().UTC()
	e, err := store.Entities.Upsert(context.Background(), &entities.CanonicalEntity{
		Kind:           kind,
		CanonicalKey:   value,
		CanonicalValue: value,
		Confidence:     50,
		FirstSeen:      now,
		LastSeen:       now,
	})
	require.NoError(t, err)
	return e
}

// Link attaches entity to document with the given extraction confidence.
func Link(t *testing.T, store *repository.Store, documentID string, e *entities.CanonicalEntity, confidence int) {
	t.Helper()
	_, err := store.Links.InsertIfAbsent(context.Background(), &entities.DocumentEntityLink{
		DocumentID:    documentID,
		EntityID:      e.ID,
		EntityKind:    e.Kind,
		Confidence:    confidence,
		ExtractedFrom: entities.ExtractedFromOriginal,
		ExtractedAt:   time.Now(),
	})
	require.NoError(t, err)
}
