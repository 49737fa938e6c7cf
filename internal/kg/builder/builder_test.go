package builder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/immigration-rag/backend/internal/storage/models"
)

type fakeStore struct {
	upserts map[string][]models.Relationship
	deleted []string
	cleared bool
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{upserts: map[string][]models.Relationship{}}
}

func (f *fakeStore) UpsertRelationships(_ context.Context, documentID string, rels []models.Relationship) error {
	if f.err != nil {
		return f.err
	}
	f.upserts[documentID] = append(f.upserts[documentID], rels...)
	return nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, documentID string) error {
	f.deleted = append(f.deleted, documentID)
	return f.err
}

func (f *fakeStore) Clear(context.Context) error {
	f.cleared = true
	return f.err
}

func TestBuilder_FiltersAndDedups(t *testing.T) {
	store := newFakeStore()
	b := NewBuilder(store, 0.6)

	run, err := b.BuildFromDocument(context.Background(), "doc-1", []models.Relationship{
		{Source: "I-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.75},
		{Source: "i-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.9},
		{Source: "H-1B", Target: "F-1", Type: models.RelAlternativeTo, Confidence: 0.5},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 1, run.Written)
	assert.Equal(t, 1, run.Skipped)
	require.Len(t, store.upserts["doc-1"], 1)
	assert.Equal(t, 0.9, store.upserts["doc-1"][0].Confidence)
}

func TestBuilder_NothingToWrite(t *testing.T) {
	store := newFakeStore()
	b := NewBuilder(store, 0.5)

	run, err := b.BuildFromDocument(context.Background(), "doc-1", nil)
	require.NoError(t, err)
	assert.Zero(t, run.Written)
	assert.Empty(t, store.upserts)
}

func TestBuilder_StoreError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("neo4j unavailable")
	b := NewBuilder(store, 0)

	err := b.Record(context.Background(), "doc-1", []models.Relationship{
		{Source: "I-485", Target: "I-130", Type: models.RelRequires, Confidence: 0.9},
	})
	assert.ErrorIs(t, err, store.err)

	assert.Error(t, b.Forget(context.Background(), "doc-1"))
	assert.Equal(t, []string{"doc-1"}, store.deleted)
}

func TestBuilder_ForgetAndClear(t *testing.T) {
	store := newFakeStore()
	b := NewBuilder(store, 0.5)

	require.NoError(t, b.Forget(context.Background(), "doc-1"))
	require.NoError(t, b.Clear(context.Background()))
	assert.Equal(t, []string{"doc-1"}, store.deleted)
	assert.True(t, store.cleared)
}
