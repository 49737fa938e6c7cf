// Package vector defines the vector-store contract the index is written
// against, plus the structured filter language shared by every backend.
package vector

import (
	"context"
	"errors"

	"github.com/immigration-rag/backend/internal/storage/models"
)

var (
	ErrCollectionNotFound = errors.New("collection not found")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrUnknownField       = errors.New("unknown filter field")
	ErrInvalidFilter      = errors.New("invalid filter")
)

type Record struct {
	ID      string
	Vector  []float32
	Payload models.EnrichedRecord
}

type Match struct {
	ID      string
	Score   float32
	Payload models.EnrichedRecord
}

type Store interface {
	// CreateCollection is a no-op when the collection already exists.
	CreateCollection(ctx context.Context, name string, dim int) error
	DropCollection(ctx context.Context, name string) error
	// Upsert writes records by ID, replacing any existing record.
	Upsert(ctx context.Context, collection string, records []Record) error
	// Search returns up to limit matches in descending score order.
	Search(ctx context.Context, collection string, query []float32, limit int, filter *Filter) ([]Match, error)
	// Delete removes the records with the given IDs that also match filter.
	// At least one of ids and filter must be set.
	Delete(ctx context.Context, collection string, ids []string, filter *Filter) error
	Count(ctx context.Context, collection string) (int64, error)
	Close() error
}
