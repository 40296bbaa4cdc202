package models

import (
	"strings"

	dErrors "permguard/pkg/domain-errors"
)

// Action is the kind of operation performed on a resource.
type Action string

const (
	ActionViewIndex   Action = "view_index"
	ActionViewDetails Action = "view_details"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionDownload    Action = "download"
	ActionUpload      Action = "upload"
	ActionExport      Action = "export"
	ActionImport      Action = "import"
	ActionAssign      Action = "assign"
	ActionReview      Action = "review"
	ActionApprove     Action = "approve"
	ActionReject      Action = "reject"
	ActionToggle      Action = "toggle"
)

// ActionCategory groups actions for display and filtering.
type ActionCategory string

const (
	ActionCategoryRead     ActionCategory = "read"
	ActionCategoryWrite    ActionCategory = "write"
	ActionCategoryTransfer ActionCategory = "transfer"
	ActionCategoryWorkflow ActionCategory = "workflow"
)

type actionInfo struct {
	category ActionCategory
	label    string
}

// actionTable is the source of truth for the known actions.
var actionTable = map[Action]actionInfo{
	ActionViewIndex:   {ActionCategoryRead, "View index"},
	ActionViewDetails: {ActionCategoryRead, "View details"},
	ActionCreate:      {ActionCategoryWrite, "Create"},
	ActionUpdate:      {ActionCategoryWrite, "Update"},
	ActionDelete:      {ActionCategoryWrite, "Delete"},
	ActionDownload:    {ActionCategoryTransfer, "Download"},
	ActionUpload:      {ActionCategoryTransfer, "Upload"},
	ActionExport:      {ActionCategoryTransfer, "Export"},
	ActionImport:      {ActionCategoryTransfer, "Import"},
	ActionAssign:      {ActionCategoryWorkflow, "Assign"},
	ActionReview:      {ActionCategoryWorkflow, "Review"},
	ActionApprove:     {ActionCategoryWorkflow, "Approve"},
	ActionReject:      {ActionCategoryWorkflow, "Reject"},
	ActionToggle:      {ActionCategoryWorkflow, "Toggle"},
}

// Actions returns every known action in declaration order.
func Actions() []Action {
	return []Action{
		ActionViewIndex, ActionViewDetails,
		ActionCreate, ActionUpdate, ActionDelete,
		ActionDownload, ActionUpload, ActionExport, ActionImport,
		ActionAssign, ActionReview, ActionApprove, ActionReject, ActionToggle,
	}
}

// ParseAction accepts the canonical snake_case form, case-insensitively.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown action")
	}
	return a, nil
}

func (a Action) String() string { return string(a) }

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	_, ok := actionTable[a]
	return ok
}

// Category returns the display group of a, or "" for unknown actions.
func (a Action) Category() ActionCategory {
	return actionTable[a].category
}

// Label returns the display name of a.
func (a Action) Label() string {
	if info, ok := actionTable[a]; ok {
		return info.label
	}
	return string(a)
}

// ExposesData reports whether the action hands record contents to the caller:
// viewing a list or a detail page, or taking a copy out through export or
// download. Only those accesses are logged.
func (a Action) ExposesData() bool {
	switch a {
	case ActionViewIndex, ActionViewDetails, ActionExport, ActionDownload:
		return true
	default:
		return false
	}
}
