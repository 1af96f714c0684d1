package registry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"namereg.org/internal/ids"
)

// Store defines ledger operations. CreateIfAbsent and
// ReplaceIfUnchanged are the only write paths for claim records; both
// are atomic with respect to concurrent writers.
type Store interface {
	// CreateIfAbsent inserts the record only when no record exists for
	// its key. A losing racer gets ErrConflict, never a partial write.
	CreateIfAbsent(ctx context.Context, rec ClaimedName) (ClaimedName, error)

	// ReplaceIfUnchanged overwrites the record only if the stored
	// version still equals rec.Version. Returns ErrStale when another
	// writer got there first and ErrNotFound when the record is gone.
	ReplaceIfUnchanged(ctx context.Context, rec ClaimedName) (ClaimedName, error)

	// Get fetches one record by key.
	Get(ctx context.Context, key Key) (ClaimedName, error)

	// AppendAudit writes one audit entry. The audit log is append-only.
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditByName lists audit entries for one name, newest first.
	AuditByName(ctx context.Context, key Key) ([]AuditEntry, error)

	// AuditSearch lists audit entries matching the filter, newest first.
	AuditSearch(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// InMemory implements Store with in-process concurrency safety. Used
// by tests and local development; production runs the Postgres store.
type InMemory struct {
	mu     sync.RWMutex
	claims map[Key]ClaimedName
	audit  []AuditEntry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates a fresh empty ledger.
func NewInMemory() *InMemory {
	return &InMemory{claims: make(map[Key]ClaimedName)}
}

func (s *InMemory) CreateIfAbsent(ctx context.Context, rec ClaimedName) (ClaimedName, error) {
	rec.Key = rec.Key.Normalize()
	if err := rec.Key.validate(); err != nil {
		return ClaimedName{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.claims[rec.Key]; exists {
		return ClaimedName{}, ErrConflict
	}
	rec.Version = 1
	if rec.ClaimedAt.IsZero() {
		rec.ClaimedAt = time.Now().UTC()
	}
	rec.Metadata = copyMeta(rec.Metadata)
	s.claims[rec.Key] = rec
	return rec, nil
}

func (s *InMemory) ReplaceIfUnchanged(ctx context.Context, rec ClaimedName) (ClaimedName, error) {
	rec.Key = rec.Key.Normalize()
	if err := rec.Key.validate(); err != nil {
		return ClaimedName{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.claims[rec.Key]
	if !exists {
		return ClaimedName{}, ErrNotFound
	}
	if current.Version != rec.Version {
		return ClaimedName{}, ErrStale
	}
	rec.Version = current.Version + 1
	rec.Metadata = copyMeta(rec.Metadata)
	s.claims[rec.Key] = rec
	return rec, nil
}

func (s *InMemory) Get(ctx context.Context, key Key) (ClaimedName, error) {
	key = key.Normalize()
	if err := key.validate(); err != nil {
		return ClaimedName{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.claims[key]
	if !exists {
		return ClaimedName{}, ErrNotFound
	}
	rec.Metadata = copyMeta(rec.Metadata)
	return rec, nil
}

func (s *InMemory) AppendAudit(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.Details = copyMeta(entry.Details)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *InMemory) AuditByName(ctx context.Context, key Key) ([]AuditEntry, error) {
	key = key.Normalize()
	return s.AuditSearch(ctx, AuditFilter{
		Region:      key.Region,
		Environment: key.Environment,
		Name:        key.Name,
	})
}

func (s *InMemory) AuditSearch(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := ""
	if filter.Region != "" && filter.Environment != "" {
		scope = strings.ToLower(filter.Region) + "-" + strings.ToLower(filter.Environment)
	}

	// Walk newest-first so equal timestamps keep reverse insertion order.
	var res []AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		entry := s.audit[i]
		if scope != "" && entry.Scope != scope {
			continue
		}
		if filter.Name != "" && entry.Name != strings.ToLower(filter.Name) {
			continue
		}
		if filter.Event != "" && entry.Event != filter.Event {
			continue
		}
		if filter.ActorID != "" && !strings.EqualFold(entry.ActorID, filter.ActorID) {
			continue
		}
		if !filter.Since.IsZero() && entry.CreatedAt.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && entry.CreatedAt.After(filter.Until) {
			continue
		}
		e := entry
		e.Details = copyMeta(entry.Details)
		res = append(res, e)
	}

	sort.SliceStable(res, func(a, b int) bool {
		return res[a].CreatedAt.After(res[b].CreatedAt)
	})
	limit := filter.EffectiveLimit()
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func copyMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
