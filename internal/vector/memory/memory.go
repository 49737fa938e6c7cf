// Package memory is an in-process vector store using brute-force cosine
// similarity. It backs local runs and tests.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/immigration-rag/backend/internal/vector"
)

type collection struct {
	dimension int
	records   map[string]vector.Record
}

type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

func NewStore() *Store {
	return &Store{collections: map[string]*collection{}}
}

func (s *Store) CreateCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("invalid dimension %d", dim)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = &collection{dimension: dim, records: map[string]vector.Record{}}
	}
	return nil
}

func (s *Store) DropCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *Store) Upsert(_ context.Context, name string, records []vector.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}
	for _, r := range records {
		if len(r.Vector) != c.dimension {
			return fmt.Errorf("%w: record %s has %d, collection has %d",
				vector.ErrDimensionMismatch, r.ID, len(r.Vector), c.dimension)
		}
	}
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		c.records[r.ID] = r
	}
	return nil
}

func (s *Store) Search(ctx context.Context, name string, query []float32, limit int, filter *vector.Filter) ([]vector.Match, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}
	if len(query) != c.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vector.ErrDimensionMismatch, len(query), c.dimension)
	}

	matches := make([]vector.Match, 0, len(c.records))
	for id, r := range c.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !filter.Matches(&r.Payload) {
			continue
		}
		matches = append(matches, vector.Match{ID: id, Score: cosine(query, r.Vector), Payload: r.Payload})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Store) Delete(_ context.Context, name string, ids []string, filter *vector.Filter) error {
	if len(ids) == 0 && filter.Empty() {
		return fmt.Errorf("%w: delete needs ids or a filter", vector.ErrInvalidFilter)
	}
	if err := filter.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		return fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}

	if len(ids) > 0 {
		for _, id := range ids {
			if r, ok := c.records[id]; ok && filter.Matches(&r.Payload) {
				delete(c.records, id)
			}
		}
		return nil
	}
	for id, r := range c.records {
		if filter.Matches(&r.Payload) {
			delete(c.records, id)
		}
	}
	return nil
}

func (s *Store) Count(_ context.Context, name string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", vector.ErrCollectionNotFound, name)
	}
	return int64(len(c.records)), nil
}

func (s *Store) Close() error {
	return nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
