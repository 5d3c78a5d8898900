package storage

import (
	"context"
	"fmt"
	"sync"
)

// memoryStore keeps records in a map. The file driver reuses it as its index.
type memoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	closed  bool
}

func NewMemory() Store {
	return newMemoryStore()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]Record{}}
}

func (s *memoryStore) Create(ctx context.Context, r Record) (Record, error) {
	_ = ctx
	r, err := prepare(r)
	if err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	if _, ok := s.records[r.ID]; ok {
		return Record{}, fmt.Errorf("%w: duplicate id %q", ErrInvalidRecord, r.ID)
	}
	s.records[r.ID] = r
	return r, nil
}

func (s *memoryStore) Get(ctx context.Context, id string) (Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Record{}, ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r, nil
}

func (s *memoryStore) ListByOwner(ctx context.Context, ownerID int64) ([]Record, error) {
	return s.filter(ctx, func(r Record) bool { return r.OwnerID == ownerID })
}

func (s *memoryStore) ListPending(ctx context.Context) ([]Record, error) {
	return s.filter(ctx, Record.Pending)
}

func (s *memoryStore) filter(ctx context.Context, keep func(Record) bool) ([]Record, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0)
	for _, r := range s.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) MarkCompleted(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	r, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	r.Completed = true
	s.records[id] = r
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStore) DeleteAllByOwner(ctx context.Context, ownerID int64) ([]Record, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]Record, 0)
	for id, r := range s.records {
		if r.OwnerID == ownerID {
			out = append(out, r)
			delete(s.records, id)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// put stores r as is; used when replaying a journal.
func (s *memoryStore) put(r Record) {
	s.mu.Lock()
	s.records[r.ID] = r
	s.mu.Unlock()
}

func (s *memoryStore) all() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sortRecords(out)
	return out
}
