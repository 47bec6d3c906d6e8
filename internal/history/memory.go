package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the in-process Store used by default. Records live only as
// long as the process.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]*Record
	seq    map[string]int64 // Key: record id, Value: insertion order
	nextSq int64
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]*Record),
		seq:  make(map[string]int64),
	}
}

// Append inserts a record, assigning an id and timestamp when absent.
func (s *MemoryStore) Append(_ context.Context, rec *Record) error {
	if rec == nil {
		return fmt.Errorf("append: nil record")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	c := *rec
	s.byID[rec.ID] = &c
	s.nextSq++
	s.seq[rec.ID] = s.nextSq
	return nil
}

// Record fetches one record by id.
func (s *MemoryStore) Record(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("record '%s': %w", id, ErrRecordNotFound)
	}
	c := *rec
	return &c, nil
}

// ListByNode returns a node's records, newest first.
func (s *MemoryStore) ListByNode(_ context.Context, nodeID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.byID {
		if rec.NodeID == nodeID {
			c := *rec
			out = append(out, &c)
		}
	}
	s.sortNewestFirst(out)
	return out, nil
}

// Delete removes one record and returns it.
func (s *MemoryStore) Delete(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("delete record '%s': %w", id, ErrRecordNotFound)
	}
	delete(s.byID, id)
	delete(s.seq, id)
	return rec, nil
}

// DeleteByNode removes all of a node's records and returns them, newest
// first.
func (s *MemoryStore) DeleteByNode(_ context.Context, nodeID string) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Record
	for _, rec := range s.byID {
		if rec.NodeID == nodeID {
			out = append(out, rec)
		}
	}
	s.sortNewestFirst(out)
	for _, rec := range out {
		delete(s.byID, rec.ID)
		delete(s.seq, rec.ID)
	}
	return out, nil
}

// Clear removes every record.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*Record)
	s.seq = make(map[string]int64)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// sortNewestFirst orders by creation time, breaking ties by insertion order
// so back-to-back appends within one clock tick keep their relative order.
func (s *MemoryStore) sortNewestFirst(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.After(recs[j].CreatedAt)
		}
		return s.seq[recs[i].ID] > s.seq[recs[j].ID]
	})
}
