package store

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	"permguard/pkg/platform/sentinel"
)

type recordKey struct {
	subject models.Subject
	key     models.PermissionKey
}

func keyOf(r models.Record) recordKey {
	return recordKey{subject: r.Subject, key: r.Key()}
}

// InMemoryStore keeps grants and their audit trail in process memory. It
// implements both the read port and the transactional write port.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[recordKey]models.Record
	byID    map[uuid.UUID]recordKey
	audits  []models.AuditRecord

	shards  [numTxShards]sync.Mutex
	timeout time.Duration
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithTxTimeout bounds RunInTx when the caller's context has no deadline.
func WithTxTimeout(d time.Duration) InMemoryOption {
	return func(s *InMemoryStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[recordKey]models.Record),
		byID:    make(map[uuid.UUID]recordKey),
		timeout: defaultTxTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *InMemoryStore) ListForSubjects(ctx context.Context, userID id.UserID, roles []id.RoleID) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Record
	for _, r := range s.records {
		switch r.Subject.Kind {
		case models.SubjectKindUser:
			if r.Subject.ID == userID.String() {
				out = append(out, r)
			}
		case models.SubjectKindRole:
			if slices.Contains(roles, id.RoleID(r.Subject.ID)) {
				out = append(out, r)
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *InMemoryStore) ListBySubject(ctx context.Context, subject models.Subject) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Record
	for k, r := range s.records {
		if k.subject == subject {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *InMemoryStore) ListAudits(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultAuditLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AuditRecord, 0, min(limit, len(s.audits)))
	// audits is append-only in commit order; walk backwards for newest first.
	for i := len(s.audits) - 1; i >= 0 && len(out) < limit; i-- {
		a := s.audits[i]
		if filter.Subject != nil && a.Subject != *filter.Subject {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// RunInTx serializes transactions on the same lock key and applies the
// buffered writes only when fn succeeds.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.TxStore) error) error {
	return s.runSharded(ctx, func(ctx context.Context) error {
		tx := &memoryTx{store: s, deleted: make(map[uuid.UUID]struct{})}
		if err := fn(ctx, tx); err != nil {
			return err
		}
		return s.commit(tx)
	})
}

func (s *InMemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	live := func(k recordKey) bool {
		r, ok := s.records[k]
		if !ok {
			return false
		}
		_, gone := tx.deleted[r.ID]
		return !gone
	}
	for recID := range tx.deleted {
		if _, ok := s.byID[recID]; !ok {
			return sentinel.ErrConflict
		}
	}
	for _, r := range tx.inserted {
		if live(keyOf(r)) {
			return sentinel.ErrConflict
		}
	}

	for recID := range tx.deleted {
		delete(s.records, s.byID[recID])
		delete(s.byID, recID)
	}
	for _, r := range tx.inserted {
		s.records[keyOf(r)] = r
		s.byID[r.ID] = keyOf(r)
	}
	s.audits = append(s.audits, tx.audits...)
	return nil
}

// memoryTx buffers writes until commit. Reads see the transaction's own writes.
type memoryTx struct {
	store    *InMemoryStore
	deleted  map[uuid.UUID]struct{}
	inserted []models.Record
	audits   []models.AuditRecord
}

func (t *memoryTx) FindRecord(ctx context.Context, subject models.Subject, key models.PermissionKey) (*models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := recordKey{subject: subject, key: key}
	for i := range t.inserted {
		if keyOf(t.inserted[i]) == k {
			r := t.inserted[i]
			return &r, nil
		}
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	r, ok := t.store.records[k]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if _, gone := t.deleted[r.ID]; gone {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

func (t *memoryTx) DeleteRecord(ctx context.Context, recordID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i := range t.inserted {
		if t.inserted[i].ID == recordID {
			t.inserted = slices.Delete(t.inserted, i, i+1)
			return nil
		}
	}

	t.store.mu.RLock()
	_, ok := t.store.byID[recordID]
	t.store.mu.RUnlock()
	if !ok {
		return sentinel.ErrNotFound
	}
	t.deleted[recordID] = struct{}{}
	return nil
}

func (t *memoryTx) InsertRecord(ctx context.Context, record models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.FindRecord(ctx, record.Subject, record.Key()); err == nil {
		return sentinel.ErrConflict
	}
	t.inserted = append(t.inserted, record)
	return nil
}

func (t *memoryTx) AppendAudit(ctx context.Context, audit models.AuditRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.audits = append(t.audits, audit)
	return nil
}

func sortRecords(records []models.Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		if a.Subject.Kind != b.Subject.Kind {
			return a.Subject.Kind > b.Subject.Kind // user before role
		}
		return a.Subject.ID < b.Subject.ID
	})
}

var (
	_ ports.Store   = (*InMemoryStore)(nil)
	_ ports.StoreTx = (*InMemoryStore)(nil)
	_ ports.TxStore = (*memoryTx)(nil)
)
