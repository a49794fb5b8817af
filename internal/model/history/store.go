package history

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when no record matches the requested ID.
var ErrNotFound = errors.New("history not found")

// Store persists analysed records.
type Store interface {
	// Create inserts rec atomically and returns the identifier assigned to it.
	Create(ctx context.Context, rec *Record) (ID, error)
	Get(ctx context.Context, id ID) (*Record, error)
	// List returns all records, newest CreatedAt first.
	List(ctx context.Context) ([]Record, error)
	// AppendQA appends entry to the record's history. It fails with
	// ErrNotFound when the record does not exist at the time of the write.
	AppendQA(ctx context.Context, id ID, entry QAEntry) error
}

// prepareForCreate assigns the store-owned fields of a new record.
func prepareForCreate(rec *Record) {
	rec.ID = NewID()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.QAHistory == nil {
		rec.QAHistory = make([]QAEntry, 0)
	}
}

// MemoryStore keeps records in process memory. Used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[ID]*Record
	order   []ID
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[ID]*Record),
	}
}

// Create stores a copy of rec and fills in its ID and CreatedAt.
func (s *MemoryStore) Create(_ context.Context, rec *Record) (ID, error) {
	if rec == nil {
		return ID{}, errors.New("record is required")
	}
	prepareForCreate(rec)

	stored := rec.clone()

	s.mu.Lock()
	s.records[stored.ID] = &stored
	s.order = append(s.order, stored.ID)
	s.mu.Unlock()

	return stored.ID, nil
}

// Get returns a copy of the record with the given ID.
func (s *MemoryStore) Get(_ context.Context, id ID) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.clone()
	return &out, nil
}

// List returns copies of every record, newest first.
func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	out := make([]Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.records[s.order[i]].clone())
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// AppendQA appends entry under the write lock, so existence and append are one step.
func (s *MemoryStore) AppendQA(_ context.Context, id ID, entry QAEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	rec.QAHistory = append(rec.QAHistory, entry)
	return nil
}
