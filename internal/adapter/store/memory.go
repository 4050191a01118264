package store

import (
	"context"
	"encoding/json"
	"sync"

	"codegen-agent/internal/domain"
)

// MemoryStore keeps records in process memory. Records are deep-copied on
// the way in and out so callers never share message slices with the store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*domain.SessionRecord, error) {
	s.mu.RLock()
	data, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, notFound("MemoryStore.Load", id)
	}
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, domain.WrapOp("MemoryStore.Load", err)
	}
	return &rec, nil
}

func (s *MemoryStore) Save(_ context.Context, rec *domain.SessionRecord) error {
	stamp(rec)
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.WrapOp("MemoryStore.Save", err)
	}
	s.mu.Lock()
	s.records[rec.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return notFound("MemoryStore.Delete", id)
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]domain.SessionSummary, 0, len(s.records))
	for _, data := range s.records {
		var rec domain.SessionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, domain.WrapOp("MemoryStore.List", err)
		}
		list = append(list, summarize(&rec))
	}
	sortSummaries(list)
	return list, nil
}

func (s *MemoryStore) Close() error { return nil }
