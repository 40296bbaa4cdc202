//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	"permguard/internal/permission/store"
	id "permguard/pkg/domain"
	"permguard/pkg/platform/sentinel"
	"permguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres   *containers.PostgresContainer
	store      *store.PostgresStore
	dataAccess *store.PostgresDataAccessStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.dataAccess = store.NewPostgresDataAccess(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "permission_records", "permission_audits", "data_access_logs")
	s.Require().NoError(err)
}

func newRecord(subject models.Subject, resource string, action models.Action, has bool) models.Record {
	return models.Record{
		ID:        uuid.New(),
		Subject:   subject,
		Resource:  resource,
		Action:    action,
		HasAccess: has,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
		CreatedBy: "admin",
	}
}

func (s *PostgresStoreSuite) TestRecordRoundTrip() {
	ctx := context.Background()
	rec := newRecord(models.RoleSubject("Sales"), "Item", models.ActionViewIndex, true)

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.TxStore) error {
		return tx.InsertRecord(ctx, rec)
	})
	s.Require().NoError(err)

	records, err := s.store.ListForSubjects(ctx, "jdoe", []id.RoleID{"Sales", "HR"})
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(rec.ID, records[0].ID)
	s.Equal(rec.Subject, records[0].Subject)
	s.True(records[0].HasAccess)
	s.True(rec.CreatedAt.Equal(records[0].CreatedAt))
}

func (s *PostgresStoreSuite) TestUniqueViolationIsConflict() {
	ctx := context.Background()
	subject := models.UserSubject("jdoe")
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx ports.TxStore) error {
		return tx.InsertRecord(ctx, newRecord(subject, "Item", models.ActionCreate, true))
	}))

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.TxStore) error {
		return tx.InsertRecord(ctx, newRecord(subject, "Item", models.ActionCreate, false))
	})
	s.ErrorIs(err, sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestRollbackDiscardsRecordAndAudit() {
	ctx := context.Background()
	subject := models.UserSubject("jdoe")
	boom := errors.New("boom")

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.TxStore) error {
		if err := tx.InsertRecord(ctx, newRecord(subject, "Item", models.ActionCreate, true)); err != nil {
			return err
		}
		if err := tx.AppendAudit(ctx, models.AuditRecord{
			ID: id.NewAuditID(), Subject: subject, Resource: "Item", Action: models.ActionCreate,
			NewValue: true, CreatedAt: time.Now(), CreatedBy: "admin",
		}); err != nil {
			return err
		}
		return boom
	})
	s.Require().ErrorIs(err, boom)

	records, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Empty(records)
	audits, err := s.store.ListAudits(ctx, models.AuditFilter{})
	s.Require().NoError(err)
	s.Empty(audits)
}

// TestConcurrentFirstGrantsKeepOneRecord races first grants on one key; the
// unique index must reject every insert but one.
func (s *PostgresStoreSuite) TestConcurrentFirstGrantsKeepOneRecord() {
	ctx := context.Background()
	subject := models.UserSubject("race")
	key := models.PermissionKey{Resource: "Item", Action: models.ActionCreate}

	const goroutines = 10
	var (
		wg        sync.WaitGroup
		conflicts atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.TxStore) error {
				if _, err := tx.FindRecord(ctx, subject, key); err == nil {
					return nil
				}
				return tx.InsertRecord(ctx, newRecord(subject, key.Resource, key.Action, true))
			})
			if errors.Is(err, sentinel.ErrConflict) {
				conflicts.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	records, err := s.store.ListBySubject(ctx, subject)
	s.Require().NoError(err)
	s.Len(records, 1)
	s.LessOrEqual(conflicts.Load(), int32(goroutines-1))
}

func (s *PostgresStoreSuite) TestDataAccessBatchAndRetention() {
	ctx := context.Background()
	group := id.NewAccessGroupID()
	old := time.Now().Add(-400 * 24 * time.Hour).UTC().Truncate(time.Microsecond)
	entries := []models.DataAccessLogEntry{
		{ID: uuid.New(), AccessedUserID: "jdoe", AccessedByUserID: "clerk", Action: models.ActionViewDetails,
			DataCategory: models.DataCategoryPersonalIdentity, AccessGroupID: group, CreatedAt: old},
		{ID: uuid.New(), AccessedUserID: "jdoe", AccessedByUserID: "clerk", Action: models.ActionViewDetails,
			DataCategory: models.DataCategoryContactInformation, AccessGroupID: group, CreatedAt: old},
	}
	s.Require().NoError(s.dataAccess.InsertBatch(ctx, entries))

	got, err := s.dataAccess.ListForUser(ctx, "jdoe", old.Add(-time.Hour), old.Add(time.Hour))
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(group, got[0].AccessGroupID)
	s.Equal(group, got[1].AccessGroupID)

	n, err := s.dataAccess.AnonymizeOlderThan(ctx, models.DataCategoryPersonalIdentity, time.Now().Add(-365*24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	got, err = s.dataAccess.ListForUser(ctx, "jdoe", old.Add(-time.Hour), old.Add(time.Hour))
	s.Require().NoError(err)
	s.Len(got, 1, "anonymized row no longer belongs to the user")

	n, err = s.dataAccess.DeleteOlderThan(ctx, models.DataCategoryContactInformation, time.Now())
	s.Require().NoError(err)
	s.Equal(int64(1), n)
}

func (s *PostgresStoreSuite) TestMigrationVersion() {
	v, err := store.MigrationVersion(context.Background(), s.postgres.DB)
	s.Require().NoError(err)
	s.GreaterOrEqual(v, int64(2))
}
