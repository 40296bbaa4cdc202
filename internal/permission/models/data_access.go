package models

import (
	"time"

	"github.com/google/uuid"

	id "permguard/pkg/domain"
)

// AnonymizedUserID replaces both user references on a redacted log entry.
const AnonymizedUserID id.UserID = "anonymized"

// DataAccessLogEntry records that one category of a user's personal data was
// exposed to another user. Rows written for the same request share a group.
type DataAccessLogEntry struct {
	ID               uuid.UUID
	AccessedUserID   id.UserID
	AccessedByUserID id.UserID
	Action           Action
	DataCategory     DataCategory
	AccessGroupID    id.AccessGroupID
	CreatedAt        time.Time
	Anonymized       bool
}

// RetentionPolicy is the maximum age of data-access log entries for one
// category before they are anonymized or deleted.
type RetentionPolicy struct {
	Category DataCategory
	MaxAge   time.Duration
	Delete   bool
}
