package handler

import (
	"context"
	"errors"
	"time"

	"permguard/internal/permission/gate"
	"permguard/internal/permission/models"
	"permguard/internal/permission/registry"
	id "permguard/pkg/domain"
	"permguard/pkg/requestcontext"
)

// Permissions guarding the admin API itself.
var (
	managePermissions = models.NewDescription("Permission", models.ActionAssign,
		"Grant or revoke user and role permissions")
	viewPermissions = models.NewDescription("Permission", models.ActionViewIndex,
		"View grants and the permission audit trail")
	// The log names the user and everyone who looked at their data, so
	// reading it is itself a logged access.
	viewDataAccessLog = models.NewDescription("DataAccessLog", models.ActionViewIndex,
		"View who accessed a user's personal data",
		models.DataCategoryPersonalIdentity)
)

// SetUserPermission grants or revokes one permission held directly by a user.
type SetUserPermission struct {
	UserID    id.UserID
	Resource  string
	Action    models.Action
	HasAccess bool
}

func (SetUserPermission) RequiredPermission() models.Description { return managePermissions }

// SetRolePermission grants or revokes one permission held by a role.
type SetRolePermission struct {
	RoleID    id.RoleID
	Resource  string
	Action    models.Action
	HasAccess bool
}

func (SetRolePermission) RequiredPermission() models.Description { return managePermissions }

// ListCatalogue lists every permission the process declares.
type ListCatalogue struct{}

func (ListCatalogue) RequiredPermission() models.Description { return viewPermissions }

// GetUserPermissions reads a user's direct grants.
type GetUserPermissions struct {
	UserID id.UserID
}

func (GetUserPermissions) RequiredPermission() models.Description { return viewPermissions }

// GetRolePermissions reads a role's grants.
type GetRolePermissions struct {
	RoleID id.RoleID
}

func (GetRolePermissions) RequiredPermission() models.Description { return viewPermissions }

// ListAudits reads the newest audit records across all subjects.
type ListAudits struct {
	Limit int
}

func (ListAudits) RequiredPermission() models.Description { return viewPermissions }

// ListUserAudits reads the audit trail of one user's direct grants.
type ListUserAudits struct {
	UserID id.UserID
	Limit  int
}

func (ListUserAudits) RequiredPermission() models.Description { return viewPermissions }

// ListRoleAudits reads the audit trail of one role's grants.
type ListRoleAudits struct {
	RoleID id.RoleID
	Limit  int
}

func (ListRoleAudits) RequiredPermission() models.Description { return viewPermissions }

// ViewDataAccessLog reads data-access log entries about a user between two
// calendar dates.
type ViewDataAccessLog struct {
	UserID id.UserID
	From   time.Time
	To     time.Time
}

func (ViewDataAccessLog) RequiredPermission() models.Description { return viewDataAccessLog }
func (q ViewDataAccessLog) AccessedUserID() id.UserID            { return q.UserID }

// RegisterOperations adds the admin API's operations to b.
func RegisterOperations(b *registry.Builder) {
	registry.Register[SetUserPermission](b)
	registry.Register[SetRolePermission](b)
	registry.Register[ListCatalogue](b)
	registry.Register[GetUserPermissions](b)
	registry.Register[GetRolePermissions](b)
	registry.Register[ListAudits](b)
	registry.Register[ListUserAudits](b)
	registry.Register[ListRoleAudits](b)
	registry.Register[ViewDataAccessLog](b)
}

// bind attaches the handler's operations to d. Each runs only after the
// dispatcher's gate has granted it.
func (h *Handler) bind(d *gate.Dispatcher) error {
	return errors.Join(
		gate.Handle(d, h.setUserPermission),
		gate.Handle(d, h.setRolePermission),
		gate.Handle(d, h.listCatalogue),
		gate.Handle(d, h.getUserPermissions),
		gate.Handle(d, h.getRolePermissions),
		gate.Handle(d, h.listAudits),
		gate.Handle(d, h.listUserAudits),
		gate.Handle(d, h.listRoleAudits),
		gate.Handle(d, h.viewDataAccessLog),
	)
}

func (h *Handler) setUserPermission(ctx context.Context, c SetUserPermission) (MutationResponse, error) {
	res, err := h.mutator.SetUserPermission(ctx, c.UserID, c.Resource, c.Action, c.HasAccess, requestcontext.UserID(ctx))
	if err != nil {
		return MutationResponse{}, err
	}
	return fromMutation(res), nil
}

func (h *Handler) setRolePermission(ctx context.Context, c SetRolePermission) (MutationResponse, error) {
	res, err := h.mutator.SetRolePermission(ctx, c.RoleID, c.Resource, c.Action, c.HasAccess, requestcontext.UserID(ctx))
	if err != nil {
		return MutationResponse{}, err
	}
	return fromMutation(res), nil
}

func (h *Handler) listCatalogue(context.Context, ListCatalogue) (CatalogueResponse, error) {
	return fromDescriptions(h.catalogue.Descriptions()), nil
}

func (h *Handler) getUserPermissions(ctx context.Context, q GetUserPermissions) (PermissionListResponse, error) {
	perms, err := h.resolver.ResolveDirect(ctx, q.UserID)
	if err != nil {
		return PermissionListResponse{}, err
	}
	return fromEffective(perms), nil
}

func (h *Handler) getRolePermissions(ctx context.Context, q GetRolePermissions) (PermissionListResponse, error) {
	perms, err := h.resolver.ResolveForRole(ctx, q.RoleID)
	if err != nil {
		return PermissionListResponse{}, err
	}
	return fromEffective(perms), nil
}

func (h *Handler) listAudits(ctx context.Context, q ListAudits) (AuditListResponse, error) {
	audits, err := h.mutator.ListAudits(ctx, q.Limit)
	if err != nil {
		return AuditListResponse{}, err
	}
	return fromAudits(audits), nil
}

func (h *Handler) listUserAudits(ctx context.Context, q ListUserAudits) (AuditListResponse, error) {
	audits, err := h.mutator.ListAuditsForUser(ctx, q.UserID, q.Limit)
	if err != nil {
		return AuditListResponse{}, err
	}
	return fromAudits(audits), nil
}

func (h *Handler) listRoleAudits(ctx context.Context, q ListRoleAudits) (AuditListResponse, error) {
	audits, err := h.mutator.ListAuditsForRole(ctx, q.RoleID, q.Limit)
	if err != nil {
		return AuditListResponse{}, err
	}
	return fromAudits(audits), nil
}

func (h *Handler) viewDataAccessLog(ctx context.Context, q ViewDataAccessLog) (DataAccessLogListResponse, error) {
	entries, err := h.access.GetLogs(ctx, q.UserID, q.From, q.To)
	if err != nil {
		return DataAccessLogListResponse{}, err
	}
	return fromDataAccess(entries), nil
}
