package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	txcontext "permguard/pkg/platform/tx"
)

// PostgresDataAccessStore persists data-access log entries in PostgreSQL.
type PostgresDataAccessStore struct {
	db *sql.DB
}

func NewPostgresDataAccess(db *sql.DB) *PostgresDataAccessStore {
	return &PostgresDataAccessStore{db: db}
}

func (s *PostgresDataAccessStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// InsertBatch writes every entry with a single INSERT over unnest'ed arrays,
// so the batch lands atomically without an explicit transaction.
func (s *PostgresDataAccessStore) InsertBatch(ctx context.Context, entries []models.DataAccessLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	n := len(entries)
	ids := make([]string, n)
	accessed := make([]string, n)
	accessedBy := make([]string, n)
	actions := make([]string, n)
	categories := make([]string, n)
	groups := make([]string, n)
	createdAt := make([]string, n)
	for i, e := range entries {
		ids[i] = e.ID.String()
		accessed[i] = e.AccessedUserID.String()
		accessedBy[i] = e.AccessedByUserID.String()
		actions[i] = string(e.Action)
		categories[i] = string(e.DataCategory)
		groups[i] = e.AccessGroupID.String()
		createdAt[i] = e.CreatedAt.UTC().Format(time.RFC3339Nano)
	}

	query := `
		INSERT INTO data_access_logs (
			id, accessed_user_id, accessed_by_user_id, action,
			data_category, access_group_id, created_at
		)
		SELECT * FROM unnest(
			$1::uuid[], $2::text[], $3::text[], $4::text[],
			$5::text[], $6::uuid[], $7::timestamptz[]
		)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		pq.Array(ids), pq.Array(accessed), pq.Array(accessedBy), pq.Array(actions),
		pq.Array(categories), pq.Array(groups), pq.Array(createdAt))
	if err != nil {
		return fmt.Errorf("insert data access logs: %w", err)
	}
	return nil
}

func (s *PostgresDataAccessStore) ListForUser(ctx context.Context, userID id.UserID, from, to time.Time) ([]models.DataAccessLogEntry, error) {
	query := `
		SELECT id, accessed_user_id, accessed_by_user_id, action,
		       data_category, access_group_id, created_at, anonymized
		FROM data_access_logs
		WHERE accessed_user_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC, data_category
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, userID.String(), from, to)
	if err != nil {
		return nil, fmt.Errorf("list data access logs: %w", err)
	}
	defer rows.Close()

	var out []models.DataAccessLogEntry
	for rows.Next() {
		var (
			e                    models.DataAccessLogEntry
			accessed, accessedBy string
			action, category     string
			group                uuid.UUID
		)
		if err := rows.Scan(&e.ID, &accessed, &accessedBy, &action, &category, &group, &e.CreatedAt, &e.Anonymized); err != nil {
			return nil, fmt.Errorf("scan data access log: %w", err)
		}
		e.AccessedUserID = id.UserID(accessed)
		e.AccessedByUserID = id.UserID(accessedBy)
		e.Action = models.Action(action)
		e.DataCategory = models.DataCategory(category)
		e.AccessGroupID = id.AccessGroupID(group)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data access logs: %w", err)
	}
	return out, nil
}

func (s *PostgresDataAccessStore) AnonymizeOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	query := `
		UPDATE data_access_logs
		SET accessed_user_id = $3, accessed_by_user_id = $3, anonymized = TRUE
		WHERE data_category = $1 AND created_at < $2 AND NOT anonymized
	`
	res, err := s.execer(ctx).ExecContext(ctx, query, string(category), before, models.AnonymizedUserID.String())
	if err != nil {
		return 0, fmt.Errorf("anonymize data access logs: %w", err)
	}
	return res.RowsAffected()
}

func (s *PostgresDataAccessStore) DeleteOlderThan(ctx context.Context, category models.DataCategory, before time.Time) (int64, error) {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM data_access_logs WHERE data_category = $1 AND created_at < $2`,
		string(category), before)
	if err != nil {
		return 0, fmt.Errorf("delete data access logs: %w", err)
	}
	return res.RowsAffected()
}

var _ ports.DataAccessStore = (*PostgresDataAccessStore)(nil)
