package report

import (
	"context"
	"sort"
	"sync"
	"time"

	gserrors "github.com/vnykmshr/goshaper/pkg/common/errors"
	"github.com/vnykmshr/goshaper/pkg/common/validation"
)

// MemoryStore keeps summaries in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	summaries map[string]Summary
	closed    bool
	now       func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		summaries: make(map[string]Summary),
		now:       time.Now,
	}
}

// Save stores a copy of s.
func (m *MemoryStore) Save(_ context.Context, s *Summary) error {
	if err := validateSummary(s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return gserrors.NewOperationError("report", "Save", gserrors.ErrClosed)
	}

	stored := *s
	if stored.StoredAt.IsZero() {
		stored.StoredAt = m.now().UTC()
	}
	m.summaries[s.Name] = stored
	return nil
}

// Load returns a copy of the summary stored under name.
func (m *MemoryStore) Load(_ context.Context, name string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, gserrors.NewOperationError("report", "Load", gserrors.ErrClosed)
	}

	s, ok := m.summaries[name]
	if !ok {
		return nil, gserrors.NewOperationError("report", "Load", gserrors.ErrNotFound).WithContext(name)
	}
	return &s, nil
}

// List returns the stored names in sorted order.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, gserrors.NewOperationError("report", "List", gserrors.ErrClosed)
	}

	names := make([]string, 0, len(m.summaries))
	for name := range m.summaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close drops every summary.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.summaries = nil
	return nil
}

func validateSummary(s *Summary) error {
	if s == nil {
		return validation.ValidateNotNil("report", "summary", nil)
	}
	return validation.ValidateNotEmpty("report", "name", s.Name)
}
