package history

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory call-record repository for tests and early
// development. Not intended for production use.
type MemoryRepo struct {
	mu      sync.Mutex
	records []CallRecord
	index   map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{index: make(map[string]int)}
}

func (r *MemoryRepo) Insert(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.index[rec.ID] = len(r.records)
	r.records = append(r.records, rec)
	return nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, apply func(*CallRecord)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return ErrNotFound
	}
	apply(&r.records[i])
	return nil
}

func (r *MemoryRepo) List(ctx context.Context, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallRecord, 0, limit)
	for i := len(r.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}

// Get returns a copy of a record by id. Test helper.
func (r *MemoryRepo) Get(id string) (CallRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return CallRecord{}, false
	}
	return r.records[i], true
}

// Len reports the number of stored records. Test helper.
func (r *MemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
