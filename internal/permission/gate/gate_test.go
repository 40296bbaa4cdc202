package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"permguard/internal/permission/dataaccess"
	"permguard/internal/permission/gate/mocks"
	"permguard/internal/permission/metrics"
	"permguard/internal/permission/models"
	"permguard/internal/permission/store"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/requestcontext"
)

var (
	viewEmployee = models.NewDescription("Employee", models.ActionViewDetails, "View employee",
		models.DataCategoryPersonalIdentity, models.DataCategoryContactInformation)
	updateEmployee = models.NewDescription("Employee", models.ActionUpdate, "Update employee",
		models.DataCategoryPersonalIdentity)
	createItem = models.NewDescription("Item", models.ActionCreate, "Create items")
)

type viewEmployeeRequest struct {
	EmployeeID id.UserID
}

func (r viewEmployeeRequest) AccessedUserID() id.UserID { return r.EmployeeID }

type GateSuite struct {
	suite.Suite
	ctrl          *gomock.Controller
	mockEvaluator *mocks.MockEvaluator
	mockRecorder  *mocks.MockDataAccessRecorder
	metrics       *metrics.Metrics
	gate          *Gate
	ctx           context.Context
	principal     models.Principal
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockEvaluator = mocks.NewMockEvaluator(s.ctrl)
	s.mockRecorder = mocks.NewMockDataAccessRecorder(s.ctrl)
	s.metrics = metrics.NewWithRegistry(prometheus.NewRegistry())
	s.gate = New(s.mockEvaluator, WithDataAccessRecorder(s.mockRecorder), WithMetrics(s.metrics))
	s.principal = models.Principal{ID: "hr-1", Roles: []id.RoleID{"HR"}}
	s.ctx = requestcontext.WithPrincipal(context.Background(), s.principal)
}

func (s *GateSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GateSuite) outcomes(o Outcome) float64 {
	return testutil.ToFloat64(s.metrics.GateOutcomes.WithLabelValues(o.String()))
}

func (s *GateSuite) TestDeniedShortCircuits() {
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), &s.principal, createItem).Return(false, nil)

	ran := false
	resp, outcome, err := s.gate.Run(s.ctx, struct{}{}, createItem, func(context.Context) (any, error) {
		ran = true
		return "created", nil
	})

	s.False(ran, "denied operation must not run")
	s.Nil(resp)
	s.Equal(OutcomeDenied, outcome)

	var fe *ForbiddenError
	s.Require().ErrorAs(err, &fe)
	s.Equal("Item", fe.Resource)
	s.Equal(models.ActionCreate, fe.Action)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.Equal(ForbiddenMessage, dErrors.Message(err))
	s.False(dErrors.IsRetryable(err))
	s.Equal(1.0, s.outcomes(OutcomeDenied))
}

func (s *GateSuite) TestGrantedRunsOperation() {
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), createItem).Return(true, nil)

	resp, outcome, err := s.gate.Run(s.ctx, struct{}{}, createItem, func(context.Context) (any, error) {
		return "created", nil
	})
	s.Require().NoError(err)
	s.Equal("created", resp)
	s.Equal(OutcomeExecuted, outcome)
}

func (s *GateSuite) TestOperationFailureIsNotADenial() {
	boom := errors.New("validation failed downstream")
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), viewEmployee).Return(true, nil)
	// no data access is logged for a failed operation

	_, outcome, err := s.gate.Run(s.ctx, viewEmployeeRequest{EmployeeID: "emp-7"}, viewEmployee, func(context.Context) (any, error) {
		return nil, boom
	})
	s.Equal(OutcomeFaulted, outcome)
	s.ErrorIs(err, boom)
	var fe *ForbiddenError
	s.False(errors.As(err, &fe))
}

func (s *GateSuite) TestEvaluationFailureFailsClosed() {
	unavailable := dErrors.New(dErrors.CodeUnavailable, "permission store unavailable")
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, unavailable)

	ran := false
	_, outcome, err := s.gate.Run(s.ctx, struct{}{}, createItem, func(context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	s.False(ran)
	s.Equal(OutcomePending, outcome)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable), "outage is neither a grant nor a denial")
}

func (s *GateSuite) TestUnauthenticatedPropagates() {
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), (*models.Principal)(nil), createItem).
		Return(false, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))

	_, err := s.gate.Intercept(context.Background(), struct{}{}, createItem, func(context.Context) (any, error) {
		return nil, nil
	})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthenticated))
}

func (s *GateSuite) TestScopedDataAccessIsRecorded() {
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), viewEmployee).Return(true, nil)
	s.mockRecorder.EXPECT().Register(gomock.Any(), id.UserID("emp-7"), viewEmployee, id.UserID("hr-1")).Return(nil)

	_, err := s.gate.Intercept(s.ctx, viewEmployeeRequest{EmployeeID: "emp-7"}, viewEmployee, func(context.Context) (any, error) {
		return "employee", nil
	})
	s.Require().NoError(err)
}

func (s *GateSuite) TestDataAccessNotRecorded() {
	cases := []struct {
		name string
		req  any
		desc models.Description
	}{
		{"request not scoped to a user", struct{}{}, viewEmployee},
		{"scoped request with empty user", viewEmployeeRequest{}, viewEmployee},
		{"permission without data categories", viewEmployeeRequest{EmployeeID: "emp-7"}, createItem},
		{"action that does not expose data", viewEmployeeRequest{EmployeeID: "emp-7"}, updateEmployee},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), tc.desc).Return(true, nil)
			_, outcome, err := s.gate.Run(s.ctx, tc.req, tc.desc, func(context.Context) (any, error) {
				return nil, nil
			})
			s.Require().NoError(err)
			s.Equal(OutcomeExecuted, outcome)
		})
	}
}

func (s *GateSuite) TestRecorderFailureFailsRequest() {
	s.mockEvaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), viewEmployee).Return(true, nil)
	s.mockRecorder.EXPECT().Register(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(dErrors.New(dErrors.CodeUnavailable, "data access log unavailable"))

	resp, outcome, err := s.gate.Run(s.ctx, viewEmployeeRequest{EmployeeID: "emp-7"}, viewEmployee, func(context.Context) (any, error) {
		return "employee", nil
	})
	s.Nil(resp, "unlogged personal data is not returned")
	s.Equal(OutcomeFaulted, outcome)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func TestOutcomeString(t *testing.T) {
	want := map[Outcome]string{
		OutcomePending:  "pending",
		OutcomeGranted:  "granted",
		OutcomeDenied:   "denied",
		OutcomeExecuted: "executed",
		OutcomeFaulted:  "faulted",
	}
	for o, s := range want {
		if o.String() != s {
			t.Errorf("Outcome(%d).String() = %q, want %q", int(o), o.String(), s)
		}
	}
}

// TestGatedViewLogsEveryCategoryInOneGroup runs a data-bearing operation
// through the gate with the real auditor behind it.
func TestGatedViewLogsEveryCategoryInOneGroup(t *testing.T) {
	ctrl := gomock.NewController(t)
	evaluator := mocks.NewMockEvaluator(ctrl)
	evaluator.EXPECT().HasPermission(gomock.Any(), gomock.Any(), viewEmployee).Return(true, nil)

	logs := store.NewInMemoryDataAccess()
	g := New(evaluator, WithDataAccessRecorder(dataaccess.NewAuditor(logs)))
	ctx := requestcontext.WithPrincipal(context.Background(), models.Principal{ID: "hr-1"})

	if _, err := g.Intercept(ctx, viewEmployeeRequest{EmployeeID: "emp-7"}, viewEmployee, func(context.Context) (any, error) {
		return "employee", nil
	}); err != nil {
		t.Fatalf("intercept: %v", err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].AccessGroupID != entries[1].AccessGroupID {
		t.Fatal("entries of one access must share a group id")
	}
	for _, e := range entries {
		if e.Action != models.ActionViewDetails {
			t.Errorf("unexpected action %q", e.Action)
		}
		if e.AccessedUserID != "emp-7" || e.AccessedByUserID != "hr-1" {
			t.Errorf("unexpected identities %q/%q", e.AccessedUserID, e.AccessedByUserID)
		}
	}
}
