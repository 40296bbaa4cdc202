package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"permguard/internal/permission/models"
	"permguard/internal/permission/ports"
	id "permguard/pkg/domain"
	"permguard/pkg/platform/sentinel"
	txcontext "permguard/pkg/platform/tx"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresStore persists grants and audits in PostgreSQL. Writes made inside
// RunInTx join the transaction carried in the context.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed permission store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const recordColumns = `id, subject_kind, subject_id, resource, action, has_access, created_at, created_by`

func (s *PostgresStore) ListForSubjects(ctx context.Context, userID id.UserID, roles []id.RoleID) ([]models.Record, error) {
	roleIDs := make([]string, len(roles))
	for i, r := range roles {
		roleIDs[i] = r.String()
	}
	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE (subject_kind = 'user' AND subject_id = $1)
		   OR (subject_kind = 'role' AND subject_id = ANY($2))
		ORDER BY resource, action, subject_kind DESC, subject_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, userID.String(), pq.Array(roleIDs))
	if err != nil {
		return nil, fmt.Errorf("list permission records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject models.Subject) ([]models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY resource, action
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, fmt.Errorf("list subject permission records: %w", err)
	}
	return scanRecords(rows)
}

func (s *PostgresStore) ListAudits(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultAuditLimit
	}

	var (
		rows *sql.Rows
		err  error
	)
	const columns = `id, subject_kind, subject_id, resource, action, old_value, new_value, first_grant, created_at, created_by`
	if filter.Subject != nil {
		rows, err = s.execer(ctx).QueryContext(ctx, `
			SELECT `+columns+`
			FROM permission_audits
			WHERE subject_kind = $1 AND subject_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		`, string(filter.Subject.Kind), filter.Subject.ID, limit)
	} else {
		rows, err = s.execer(ctx).QueryContext(ctx, `
			SELECT `+columns+`
			FROM permission_audits
			ORDER BY created_at DESC
			LIMIT $1
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list permission audits: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var (
			a       models.AuditRecord
			auditID uuid.UUID
			kind    string
			action  string
			actor   string
		)
		if err := rows.Scan(&auditID, &kind, &a.Subject.ID, &a.Resource, &action,
			&a.OldValue, &a.NewValue, &a.FirstGrant, &a.CreatedAt, &actor); err != nil {
			return nil, fmt.Errorf("scan permission audit: %w", err)
		}
		a.ID = id.AuditID(auditID)
		a.Subject.Kind = models.SubjectKind(kind)
		a.Action = models.Action(action)
		a.CreatedBy = id.UserID(actor)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission audits: %w", err)
	}
	return out, nil
}

// RunInTx opens a transaction and hands fn a context carrying it.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, store ports.TxStore) error) error {
	ctx, cancel, err := beginTx(ctx, defaultTxTimeout)
	if err != nil {
		return err
	}
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin permission tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), s); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return translateWriteError(err, "commit permission tx")
	}
	return nil
}

func (s *PostgresStore) FindRecord(ctx context.Context, subject models.Subject, key models.PermissionKey) (*models.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM permission_records
		WHERE subject_kind = $1 AND subject_id = $2 AND resource = $3 AND action = $4
		FOR UPDATE
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, string(subject.Kind), subject.ID, key.Resource, string(key.Action))
	r, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find permission record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, recordID uuid.UUID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM permission_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("delete permission record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete permission record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertRecord(ctx context.Context, r models.Record) error {
	query := `
		INSERT INTO permission_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		r.ID, string(r.Subject.Kind), r.Subject.ID, r.Resource, string(r.Action),
		r.HasAccess, r.CreatedAt, r.CreatedBy.String())
	if err != nil {
		return translateWriteError(err, "insert permission record")
	}
	return nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, a models.AuditRecord) error {
	query := `
		INSERT INTO permission_audits (
			id, subject_kind, subject_id, resource, action,
			old_value, new_value, first_grant, created_at, created_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.ID), string(a.Subject.Kind), a.Subject.ID, a.Resource, string(a.Action),
		a.OldValue, a.NewValue, a.FirstGrant, a.CreatedAt, a.CreatedBy.String())
	if err != nil {
		return translateWriteError(err, "append permission audit")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r      models.Record
		kind   string
		action string
		actor  string
	)
	if err := row.Scan(&r.ID, &kind, &r.Subject.ID, &r.Resource, &action, &r.HasAccess, &r.CreatedAt, &actor); err != nil {
		return nil, err
	}
	r.Subject.Kind = models.SubjectKind(kind)
	r.Action = models.Action(action)
	r.CreatedBy = id.UserID(actor)
	return &r, nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()
	var out []models.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan permission record: %w", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate permission records: %w", err)
	}
	return out, nil
}

// translateWriteError maps a unique violation to sentinel.ErrConflict.
func translateWriteError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%s: %w", op, sentinel.ErrConflict)
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ ports.Store   = (*PostgresStore)(nil)
	_ ports.StoreTx = (*PostgresStore)(nil)
	_ ports.TxStore = (*PostgresStore)(nil)
)
