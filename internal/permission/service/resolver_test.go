package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"permguard/internal/permission/cache"
	"permguard/internal/permission/models"
	"permguard/internal/permission/ports/mocks"
	"permguard/internal/permission/store"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/platform/sentinel"
	"permguard/pkg/requestcontext"
)

type ResolverSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	mockStore *mocks.MockStore
	mockCache *mocks.MockCache
	cache     *cache.InMemoryCache
	principal models.Principal
}

func TestResolverSuite(t *testing.T) {
	suite.Run(t, new(ResolverSuite))
}

func (s *ResolverSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockStore = mocks.NewMockStore(s.ctrl)
	s.mockCache = mocks.NewMockCache(s.ctrl)
	s.cache = cache.NewInMemory()
	s.principal = models.Principal{ID: "jdoe", AccountName: "John Doe", Roles: []id.RoleID{"Sales"}}
}

func (s *ResolverSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ResolverSuite) records() []models.Record {
	return []models.Record{
		rec(models.UserSubject("jdoe"), "Item", models.ActionCreate, true, t0),
		rec(models.RoleSubject("Sales"), "Item", models.ActionViewIndex, true, t0),
	}
}

func (s *ResolverSuite) TestCacheFirst() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.cache)

	s.mockStore.EXPECT().
		ListForSubjects(gomock.Any(), id.UserID("jdoe"), []id.RoleID{"Sales"}).
		Return(s.records(), nil).
		Times(1)

	first, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
	s.Len(first, 2)

	second, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
	s.Equal(first, second, "hit returns the cached set without touching the store")
}

func (s *ResolverSuite) TestCachesWithConfiguredTTL() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.mockCache, WithCacheTTL(time.Hour))

	s.mockCache.EXPECT().Get(gomock.Any(), "user:jdoe").Return(nil, sentinel.ErrCacheMiss)
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.records(), nil)
	s.mockCache.EXPECT().Set(gomock.Any(), "user:jdoe", gomock.Len(2), time.Hour).Return(nil)

	_, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
}

func (s *ResolverSuite) TestStoreFailureFailsClosed() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.mockCache)

	s.mockCache.EXPECT().Get(gomock.Any(), "user:jdoe").Return(nil, sentinel.ErrCacheMiss)
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("connection refused"))
	// no Set expected: a failed read caches nothing

	perms, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().Error(err)
	s.Nil(perms)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(dErrors.IsRetryable(err))
}

func (s *ResolverSuite) TestCacheReadErrorIsMiss() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.mockCache)

	s.mockCache.EXPECT().Get(gomock.Any(), "role:Sales").Return(nil, errors.New("redis down"))
	s.mockStore.EXPECT().ListBySubject(gomock.Any(), models.RoleSubject("Sales")).
		Return([]models.Record{rec(models.RoleSubject("Sales"), "Item", models.ActionViewIndex, true, t0)}, nil)
	s.mockCache.EXPECT().Set(gomock.Any(), "role:Sales", gomock.Any(), DefaultCacheTTL).Return(errors.New("redis down"))

	perms, err := resolver.ResolveForRole(ctx, "Sales")
	s.Require().NoError(err, "cache failures never fail a resolution")
	s.Len(perms, 1)
}

func (s *ResolverSuite) TestCancelledReadDoesNotTouchCache() {
	resolver := NewResolver(s.mockStore, s.cache)

	ctx, cancel := context.WithCancel(context.Background())
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, id.UserID, []id.RoleID) ([]models.Record, error) {
			cancel()
			return s.records(), nil
		})

	_, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().Error(err)
	s.Zero(s.cache.Len())

	s.Run("already cancelled context never reaches the store", func() {
		_, err := resolver.ResolveForUser(ctx, s.principal)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}

func (s *ResolverSuite) TestResultIsIsolatedFromCache() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.cache)
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.records(), nil)

	perms, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
	perms[0].HasAccess = false

	again, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
	s.True(again[0].HasAccess)
}

func (s *ResolverSuite) TestConcurrentMissesAgree() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.cache)
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, id.UserID, []id.RoleID) ([]models.Record, error) {
			time.Sleep(10 * time.Millisecond)
			return s.records(), nil
		}).
		MinTimes(1)

	const goroutines = 16
	results := make([][]models.EffectivePermission, goroutines)
	var wg sync.WaitGroup
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			perms, err := resolver.ResolveForUser(ctx, s.principal)
			s.NoError(err)
			results[i] = perms
		}()
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		s.Equal(results[0], results[i])
	}
}

// pausingStore holds the first ListForSubjects call after it has read the
// store, until release is closed.
type pausingStore struct {
	*store.InMemoryStore
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func newPausingStore() *pausingStore {
	return &pausingStore{
		InMemoryStore: store.NewInMemory(),
		read:          make(chan struct{}),
		release:       make(chan struct{}),
	}
}

func (p *pausingStore) ListForSubjects(ctx context.Context, userID id.UserID, roles []id.RoleID) ([]models.Record, error) {
	records, err := p.InMemoryStore.ListForSubjects(ctx, userID, roles)
	first := false
	p.once.Do(func() { first = true })
	if first {
		close(p.read)
		<-p.release
	}
	return records, err
}

func (s *ResolverSuite) TestLoadStartedBeforeGrantDoesNotOutliveIt() {
	ctx := requestcontext.WithTime(context.Background(), t0)
	backing := newPausingStore()
	resolver := NewResolver(backing, s.cache)
	mutator := NewMutator(backing.InMemoryStore, backing.InMemoryStore, s.cache, WithForgetter(resolver))
	principal := models.Principal{ID: "jdoe"}
	createItem := models.NewDescription("Item", models.ActionCreate, "")

	done := make(chan []models.EffectivePermission)
	go func() {
		perms, err := resolver.ResolveForUser(ctx, principal)
		s.NoError(err)
		done <- perms
	}()
	<-backing.read

	_, err := mutator.SetUserPermission(ctx, "jdoe", "Item", models.ActionCreate, true, "admin")
	s.Require().NoError(err)

	after, err := resolver.ResolveForUser(ctx, principal)
	s.Require().NoError(err)
	s.True(grants(after, createItem), "a resolve issued after the grant sees it")

	close(backing.release)
	s.Empty(<-done, "the early load still answers its own caller")

	cached, err := resolver.ResolveForUser(ctx, principal)
	s.Require().NoError(err)
	s.True(grants(cached, createItem), "the early load did not overwrite the cache")
}

func (s *ResolverSuite) TestLoadStartedBeforeRevokeDoesNotOutliveIt() {
	ctx := requestcontext.WithTime(context.Background(), t0)
	backing := newPausingStore()
	resolver := NewResolver(backing, s.cache)
	mutator := NewMutator(backing.InMemoryStore, backing.InMemoryStore, s.cache, WithForgetter(resolver))
	principal := models.Principal{ID: "jdoe"}
	createItem := models.NewDescription("Item", models.ActionCreate, "")

	_, err := mutator.SetUserPermission(ctx, "jdoe", "Item", models.ActionCreate, true, "admin")
	s.Require().NoError(err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := resolver.ResolveForUser(ctx, principal)
		s.NoError(err)
	}()
	<-backing.read

	_, err = mutator.SetUserPermission(ctx, "jdoe", "Item", models.ActionCreate, false, "admin")
	s.Require().NoError(err)
	close(backing.release)
	<-done

	perms, err := resolver.ResolveForUser(ctx, principal)
	s.Require().NoError(err)
	s.False(grants(perms, createItem), "revocation is not undone by a load that read the old grant")
}

func (s *ResolverSuite) TestForgetDropsFillAfterSet() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.mockCache)

	s.mockCache.EXPECT().Get(gomock.Any(), "user:jdoe").Return(nil, sentinel.ErrCacheMiss)
	s.mockStore.EXPECT().ListForSubjects(gomock.Any(), gomock.Any(), gomock.Any()).Return(s.records(), nil)
	s.mockCache.EXPECT().Set(gomock.Any(), "user:jdoe", gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, string, []models.EffectivePermission, time.Duration) error {
			resolver.Forget("user:jdoe")
			return nil
		})
	s.mockCache.EXPECT().Delete(gomock.Any(), "user:jdoe").Return(nil)

	_, err := resolver.ResolveForUser(ctx, s.principal)
	s.Require().NoError(err)
}

func grants(perms []models.EffectivePermission, desc models.Description) bool {
	for _, p := range perms {
		if p.Resource == desc.Resource && p.Action == desc.Action && p.HasAccess {
			return true
		}
	}
	return false
}

func (s *ResolverSuite) TestResolveDirect() {
	ctx := context.Background()
	resolver := NewResolver(s.mockStore, s.mockCache)
	s.mockStore.EXPECT().ListBySubject(gomock.Any(), models.UserSubject("jdoe")).
		Return([]models.Record{rec(models.UserSubject("jdoe"), "Item", models.ActionCreate, true, t0)}, nil)

	perms, err := resolver.ResolveDirect(ctx, "jdoe")
	s.Require().NoError(err)
	s.Require().Len(perms, 1)
	s.True(perms[0].Subject.IsUser())
}

func (s *ResolverSuite) TestInvariantViolations() {
	resolver := NewResolver(s.mockStore, s.mockCache)

	_, err := resolver.ResolveForUser(context.Background(), models.Principal{})
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = resolver.ResolveForRole(context.Background(), "")
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
