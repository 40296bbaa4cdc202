package models

import (
	"time"

	id "permguard/pkg/domain"
)

// AuditRecord is the append-only twin of every policy change.
//
// FirstGrant marks a change that created the first record for its key. For
// those rows OldValue is !NewValue by convention and does not describe a
// stored prior state.
type AuditRecord struct {
	ID         id.AuditID
	Subject    Subject
	Resource   string
	Action     Action
	OldValue   bool
	NewValue   bool
	FirstGrant bool
	CreatedAt  time.Time
	CreatedBy  id.UserID
}

// MutationResult reports what a policy mutation did. Audit is nil when the
// requested value matched the stored one.
type MutationResult struct {
	Changed bool
	Audit   *AuditRecord
}

// DefaultAuditLimit caps audit listings when the caller gives no limit.
const DefaultAuditLimit = 1000

// AuditFilter narrows an audit listing. A nil Subject lists every subject.
type AuditFilter struct {
	Subject *Subject
	Limit   int
}
