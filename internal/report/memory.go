package report

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps reports in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]*AuditReport
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]*AuditReport)}
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, r *AuditReport) error {
	if err := r.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.ProductID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, r.ProductID)
	}
	cp := *r
	s.reports[r.ProductID] = &cp
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, productID string) (*AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[productID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Find implements Store.
func (s *MemoryStore) Find(_ context.Context, f Filter) ([]*AuditReport, error) {
	s.mu.RLock()
	out := make([]*AuditReport, 0, len(s.reports))
	for _, r := range s.reports {
		if f.Match(r) {
			cp := *r
			out = append(out, &cp)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ProductID > out[j].ProductID
	})
	return page(out, f.Offset, f.Limit), nil
}

// Close implements Store.
func (s *MemoryStore) Close() error { return nil }

func page(in []*AuditReport, offset, limit int) []*AuditReport {
	if offset > 0 {
		if offset >= len(in) {
			return []*AuditReport{}
		}
		in = in[offset:]
	}
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}
