package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"permguard/internal/permission/gate"
	"permguard/internal/permission/models"
	id "permguard/pkg/domain"
	dErrors "permguard/pkg/domain-errors"
	"permguard/pkg/platform/httputil"
	"permguard/pkg/requestcontext"
)

const dateLayout = "2006-01-02"

// Mutator changes grants and reads the audit trail.
type Mutator interface {
	SetUserPermission(ctx context.Context, userID id.UserID, resource string, action models.Action, newValue bool, actor id.UserID) (models.MutationResult, error)
	SetRolePermission(ctx context.Context, roleID id.RoleID, resource string, action models.Action, newValue bool, actor id.UserID) (models.MutationResult, error)
	ListAudits(ctx context.Context, limit int) ([]models.AuditRecord, error)
	ListAuditsForUser(ctx context.Context, userID id.UserID, limit int) ([]models.AuditRecord, error)
	ListAuditsForRole(ctx context.Context, roleID id.RoleID, limit int) ([]models.AuditRecord, error)
}

// Resolver reads effective permission sets.
type Resolver interface {
	ResolveForUser(ctx context.Context, p models.Principal) ([]models.EffectivePermission, error)
	ResolveForRole(ctx context.Context, roleID id.RoleID) ([]models.EffectivePermission, error)
	ResolveDirect(ctx context.Context, userID id.UserID) ([]models.EffectivePermission, error)
}

// Evaluator answers permission checks for the caller.
type Evaluator interface {
	HasPermissionInContext(ctx context.Context, desc models.Description) (bool, error)
}

// DataAccessLog reads who accessed a user's personal data.
type DataAccessLog interface {
	GetLogs(ctx context.Context, userID id.UserID, from, to time.Time) ([]models.DataAccessLogEntry, error)
}

// Catalogue lists every permission known to the process.
type Catalogue interface {
	Descriptions() []models.Description
}

// Handler exposes permission administration over HTTP. Every route except
// the caller's own permission views runs as an operation through the
// dispatcher, so it is gated before its handler can run.
type Handler struct {
	mutator    Mutator
	resolver   Resolver
	evaluator  Evaluator
	access     DataAccessLog
	catalogue  Catalogue
	dispatcher *gate.Dispatcher
	logger     *slog.Logger

	mutationMiddleware []func(http.Handler) http.Handler
}

type Option func(*Handler)

// WithMutationMiddleware adds middleware, such as a rate limiter, in front
// of the routes that change grants.
func WithMutationMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.mutationMiddleware = append(h.mutationMiddleware, mw...)
	}
}

// New constructs a permission handler and binds its operations to d, whose
// registry must hold RegisterOperations.
func New(mutator Mutator, resolver Resolver, evaluator Evaluator, access DataAccessLog, catalogue Catalogue, d *gate.Dispatcher, logger *slog.Logger, opts ...Option) (*Handler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		mutator:    mutator,
		resolver:   resolver,
		evaluator:  evaluator,
		access:     access,
		catalogue:  catalogue,
		dispatcher: d,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	if err := h.bind(d); err != nil {
		return nil, err
	}
	return h, nil
}

// Register mounts permission endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/me/permissions", h.HandleMyPermissions)
	r.Get("/me/permissions/check", h.HandleCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.mutationMiddleware...)
		r.Put("/permissions/users/{userID}", h.HandleSetUserPermission)
		r.Put("/permissions/roles/{roleID}", h.HandleSetRolePermission)
	})

	r.Get("/permissions/catalogue", h.HandleCatalogue)
	r.Get("/permissions/users/{userID}", h.HandleUserPermissions)
	r.Get("/permissions/roles/{roleID}", h.HandleRolePermissions)
	r.Get("/permissions/audits", h.HandleAudits)
	r.Get("/permissions/audits/users/{userID}", h.HandleUserAudits)
	r.Get("/permissions/audits/roles/{roleID}", h.HandleRoleAudits)
	r.Get("/data-access/users/{userID}", h.HandleDataAccessLog)
}

// HandleSetUserPermission handles PUT /permissions/users/{userID}.
func (h *Handler) HandleSetUserPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetPermissionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(w, r, SetUserPermission{
		UserID:    userID,
		Resource:  req.Resource,
		Action:    req.parsedAction,
		HasAccess: *req.HasAccess,
	}, "failed to set user permission")
}

// HandleSetRolePermission handles PUT /permissions/roles/{roleID}.
func (h *Handler) HandleSetRolePermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	roleID, err := id.ParseRoleID(chi.URLParam(r, "roleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[SetPermissionRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.respond(w, r, SetRolePermission{
		RoleID:    roleID,
		Resource:  req.Resource,
		Action:    req.parsedAction,
		HasAccess: *req.HasAccess,
	}, "failed to set role permission")
}

// HandleMyPermissions handles GET /me/permissions.
func (h *Handler) HandleMyPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p, ok := requestcontext.Principal(ctx)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthenticated, "authentication required"))
		return
	}
	perms, err := h.resolver.ResolveForUser(ctx, *p)
	if err != nil {
		h.fail(ctx, w, "failed to resolve permissions", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromEffective(perms))
}

// HandleCheck handles GET /me/permissions/check?resource=&action=.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	resource := q.Get("resource")
	if resource == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "resource is required"))
		return
	}
	action, err := models.ParseAction(q.Get("action"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	allowed, err := h.evaluator.HasPermissionInContext(ctx, models.NewDescription(resource, action, ""))
	if err != nil {
		h.fail(ctx, w, "permission check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CheckResponse{
		Resource: resource,
		Action:   string(action),
		Allowed:  allowed,
	})
}

// HandleCatalogue handles GET /permissions/catalogue.
func (h *Handler) HandleCatalogue(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, ListCatalogue{}, "failed to list permission catalogue")
}

// HandleUserPermissions handles GET /permissions/users/{userID}. Only the
// user's own grants are returned, not those inherited from roles.
func (h *Handler) HandleUserPermissions(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, GetUserPermissions{UserID: userID}, "failed to resolve user permissions")
}

// HandleRolePermissions handles GET /permissions/roles/{roleID}.
func (h *Handler) HandleRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, err := id.ParseRoleID(chi.URLParam(r, "roleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, GetRolePermissions{RoleID: roleID}, "failed to resolve role permissions")
}

// HandleAudits handles GET /permissions/audits?limit=.
func (h *Handler) HandleAudits(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, ListAudits{Limit: limit}, "failed to list audits")
}

// HandleUserAudits handles GET /permissions/audits/users/{userID}?limit=.
func (h *Handler) HandleUserAudits(w http.ResponseWriter, r *http.Request) {
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, ListUserAudits{UserID: userID, Limit: limit}, "failed to list user audits")
}

// HandleRoleAudits handles GET /permissions/audits/roles/{roleID}?limit=.
func (h *Handler) HandleRoleAudits(w http.ResponseWriter, r *http.Request) {
	roleID, err := id.ParseRoleID(chi.URLParam(r, "roleID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, ListRoleAudits{RoleID: roleID, Limit: limit}, "failed to list role audits")
}

// HandleDataAccessLog handles GET /data-access/users/{userID}?from=&to=.
// Both bounds are calendar dates; to is inclusive.
func (h *Handler) HandleDataAccessLog(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, err := id.ParseUserID(chi.URLParam(r, "userID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	now := requestcontext.Now(ctx).UTC()
	from, err := parseDate(r.URL.Query().Get("from"), now.AddDate(0, 0, -30))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseDate(r.URL.Query().Get("to"), now)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.respond(w, r, ViewDataAccessLog{UserID: userID, From: from, To: to}, "failed to read data access log")
}

// respond dispatches op and writes its result. Client errors are not logged
// here; denials are logged by the gate.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op any, msg string) {
	err := gate.Respond(w, r, h.dispatcher, op, http.StatusOK)
	if err == nil {
		return
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeForbidden, dErrors.CodeUnauthenticated, dErrors.CodeValidation, dErrors.CodeNotFound:
		return
	}
	ctx := r.Context()
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"operation", fmt.Sprintf("%T", op),
		"error", err,
	)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	h.logger.ErrorContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}

func parseLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return models.DefaultAuditLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeValidation, "limit must be a positive integer")
	}
	return min(n, models.DefaultAuditLimit), nil
}

func parseDate(raw string, fallback time.Time) (time.Time, error) {
	if raw == "" {
		return fallback, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeValidation, "dates must use YYYY-MM-DD")
	}
	return t, nil
}
