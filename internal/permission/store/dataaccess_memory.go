package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
)

// InMemoryDataAccessStore keeps data-access log entries in process memory.
type InMemoryDataAccessStore struct {
	mu      sync.RWMutex
	entries []models.DataAccessLogEntry
}

func NewInMemoryDataAccess() *InMemoryDataAccessStore {
	return &InMemoryDataAccessStore{}
}

func (s *InMemoryDataAccessStore) InsertBatch(ctx context.Context, entries []models.DataAccessLogEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *InMemoryDataAccessStore) ListForUser(ctx context.Context, userID id.UserID, from, to time.Time) ([]models.DataAccessLogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.DataAccessLogEntry
	for _, e := range s.entries {
		if e.AccessedUserID != userID {
			continue
		}
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryDataAccessStore) AnonymizeOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for i := range s.entries {
		e := &s.entries[i]
		if e.DataCategory != category || !e.CreatedAt.Before(before) || e.Anonymized {
			continue
		}
		e.AccessedUserID = models.AnonymizedUserID
		e.AccessedByUserID = models.AnonymizedUserID
		e.Anonymized = true
		n++
	}
	return n, nil
}

func (s *InMemoryDataAccessStore) DeleteOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if e.DataCategory == category && e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// All returns a copy of every stored entry in insertion order.
func (s *InMemoryDataAccessStore) All() []models.DataAccessLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.DataAccessLogEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

var _ ports.DataAccessStore = (*InMemoryDataAccessStore)(nil)
