package dataaccess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports/mocks"
	"permguard/internal/permission/store"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

var (
	t0 = time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	viewEmployee = models.NewDescription("Employee", models.ActionViewDetails, "View employee",
		models.DataCategoryPersonalIdentity, models.DataCategoryContactInformation)
	listItems = models.NewDescription("Item", models.ActionViewIndex, "List items")
)

type AuditorSuite struct {
	suite.Suite
	store   *store.InMemoryDataAccessStore
	auditor *Auditor
}

func TestAuditorSuite(t *testing.T) {
	suite.Run(t, new(AuditorSuite))
}

func (s *AuditorSuite) SetupTest() {
	s.store = store.NewInMemoryDataAccess()
	s.auditor = NewAuditor(s.store)
}

func (s *AuditorSuite) register(at time.Time, accessed id.UserID, desc models.Description) {
	ctx := requestcontext.WithTime(context.Background(), at)
	s.Require().NoError(s.auditor.Register(ctx, accessed, desc, "hr-1"))
}

func (s *AuditorSuite) TestRegisterWritesOneRowPerCategory() {
	s.register(t0, "emp-7", viewEmployee)

	entries := s.store.All()
	s.Require().Len(entries, 2)
	s.Equal(entries[0].AccessGroupID, entries[1].AccessGroupID, "rows of one access share a group")
	s.False(entries[0].AccessGroupID.IsNil())
	s.NotEqual(entries[0].ID, entries[1].ID)

	categories := []models.DataCategory{entries[0].DataCategory, entries[1].DataCategory}
	s.ElementsMatch([]models.DataCategory{models.DataCategoryPersonalIdentity, models.DataCategoryContactInformation}, categories)
	for _, e := range entries {
		s.Equal(id.UserID("emp-7"), e.AccessedUserID)
		s.Equal(id.UserID("hr-1"), e.AccessedByUserID)
		s.Equal(models.ActionViewDetails, e.Action)
		s.Equal(t0, e.CreatedAt)
		s.False(e.Anonymized)
	}
}

func (s *AuditorSuite) TestSeparateAccessesGetSeparateGroups() {
	s.register(t0, "emp-7", viewEmployee)
	s.register(t0.Add(time.Minute), "emp-7", viewEmployee)

	entries := s.store.All()
	s.Require().Len(entries, 4)
	s.NotEqual(entries[0].AccessGroupID, entries[2].AccessGroupID)
}

func (s *AuditorSuite) TestRegisterWithoutCategoriesWritesNothing() {
	s.register(t0, "emp-7", listItems)
	s.Empty(s.store.All())
}

func (s *AuditorSuite) TestRegisterRequiresIdentities() {
	err := s.auditor.Register(context.Background(), "", viewEmployee, "hr-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	err = s.auditor.Register(context.Background(), "emp-7", viewEmployee, "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	s.Empty(s.store.All())
}

func (s *AuditorSuite) TestGetLogsIsInclusiveOnDates() {
	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	s.register(day.Add(-time.Second), "emp-7", viewEmployee)
	s.register(day, "emp-7", viewEmployee)
	s.register(day.Add(23*time.Hour+59*time.Minute), "emp-7", viewEmployee)
	s.register(day.Add(24*time.Hour), "emp-7", viewEmployee)
	s.register(day.Add(time.Hour), "emp-8", viewEmployee)

	logs, err := s.auditor.GetLogs(context.Background(), "emp-7", day.Add(15*time.Hour), day.Add(9*time.Hour))
	s.Require().NoError(err)
	s.Require().Len(logs, 4, "two accesses on the day, two categories each")
	s.Equal(day.Add(23*time.Hour+59*time.Minute), logs[0].CreatedAt, "newest first")
	s.Equal(day, logs[len(logs)-1].CreatedAt)
}

func (s *AuditorSuite) TestGetLogsRejectsInvertedRange() {
	_, err := s.auditor.GetLogs(context.Background(), "emp-7", t0, t0.AddDate(0, 0, -1))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *AuditorSuite) TestAnonymizeOlderThan() {
	s.register(t0.AddDate(0, 0, -40), "emp-7", viewEmployee)
	s.register(t0, "emp-7", viewEmployee)

	n, err := s.auditor.AnonymizeOlderThan(context.Background(), models.DataCategoryContactInformation, t0.AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	var redacted []models.DataAccessLogEntry
	for _, e := range s.store.All() {
		if e.Anonymized {
			redacted = append(redacted, e)
		}
	}
	s.Require().Len(redacted, 1)
	r := redacted[0]
	s.Equal(models.AnonymizedUserID, r.AccessedUserID)
	s.Equal(models.AnonymizedUserID, r.AccessedByUserID)
	s.Equal(models.DataCategoryContactInformation, r.DataCategory, "category survives redaction")
	s.Equal(models.ActionViewDetails, r.Action)
	s.False(r.AccessGroupID.IsNil())

	n, err = s.auditor.AnonymizeOlderThan(context.Background(), models.DataCategoryContactInformation, t0.AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.Zero(n, "already anonymized rows are not counted again")
}

func (s *AuditorSuite) TestDeleteOlderThan() {
	s.register(t0.AddDate(0, 0, -40), "emp-7", viewEmployee)
	s.register(t0, "emp-7", viewEmployee)

	n, err := s.auditor.DeleteOlderThan(context.Background(), models.DataCategoryPersonalIdentity, t0.AddDate(0, 0, -30))
	s.Require().NoError(err)
	s.Equal(int64(1), n)
	s.Len(s.store.All(), 3)
}

func (s *AuditorSuite) TestRetentionRejectsUnknownCategory() {
	_, err := s.auditor.DeleteOlderThan(context.Background(), "shoe_size", t0)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func TestAuditorStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockStore := mocks.NewMockDataAccessStore(ctrl)
	auditor := NewAuditor(mockStore)

	mockStore.EXPECT().InsertBatch(gomock.Any(), gomock.Len(2)).Return(errors.New("connection reset"))

	err := auditor.Register(context.Background(), "emp-7", viewEmployee, "hr-1")
	if !dErrors.HasCode(err, dErrors.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if !dErrors.IsRetryable(err) {
		t.Fatal("store failure should be retryable")
	}
}
