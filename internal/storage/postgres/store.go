package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	"github.com/R3E-Network/credential_layer/internal/domain/credential"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

const (
	pqForeignKeyViolation = "23503"
	pqUniqueViolation     = "23505"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.CredentialStore = (*Store)(nil)
var _ storage.ReferenceStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func mapWriteError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqForeignKeyViolation, pqUniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrConstraint, pqErr.Message)
		}
	}
	return err
}

// --- CredentialStore --------------------------------------------------------

func (s *Store) CreateCredential(ctx context.Context, cred credential.Credential) (credential.Credential, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if cred.Status == "" {
		cred.Status = credential.StatusActive
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials (id, customer_id, vendor_id, access_key, secret_path, resource_user, labels, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, cred.ID, cred.CustomerID, cred.VendorID, cred.AccessKey, cred.SecretPath,
		toNullString(cred.ResourceUser), toNullString(cred.Labels), string(cred.Status), cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return credential.Credential{}, mapWriteError(err)
	}
	return cred, nil
}

func (s *Store) GetCredential(ctx context.Context, id string) (credential.Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, vendor_id, access_key, secret_path, resource_user, labels, status, created_at, updated_at
		FROM credentials
		WHERE id = $1
	`, id)

	cred, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return credential.Credential{}, storage.ErrNotFound
	}
	return cred, err
}

func (s *Store) ListCredentials(ctx context.Context, filter storage.CredentialFilter) ([]credential.Credential, error) {
	query := `
		SELECT id, customer_id, vendor_id, access_key, secret_path, resource_user, labels, status, created_at, updated_at
		FROM credentials
		WHERE status != 'deleted'`
	var (
		args []any
		n    int
	)
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if !filter.AllCustomers {
		if len(filter.CustomerIDs) == 0 {
			return nil, nil
		}
		query += " AND customer_id = ANY(" + arg(pq.Array(filter.CustomerIDs)) + ")"
	}
	if filter.CustomerID != nil {
		query += " AND customer_id = " + arg(*filter.CustomerID)
	}
	if filter.VendorID != nil {
		query += " AND vendor_id = " + arg(*filter.VendorID)
	}

	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []credential.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cred)
	}
	return result, rows.Err()
}

func (s *Store) UpdateCredential(ctx context.Context, id string, upd storage.CredentialUpdate) (credential.Credential, error) {
	sets := []string{}
	args := []any{id}
	n := 1
	set := func(column string, v any) {
		n++
		sets = append(sets, fmt.Sprintf("%s = $%d", column, n))
		args = append(args, v)
	}

	if upd.AccessKey != nil {
		set("access_key", *upd.AccessKey)
	}
	if upd.SecretPath != nil {
		set("secret_path", *upd.SecretPath)
	}
	if upd.ResourceUser != nil {
		set("resource_user", *upd.ResourceUser)
	}
	if upd.Labels != nil {
		set("labels", *upd.Labels)
	}
	if upd.Status != nil {
		set("status", string(*upd.Status))
	}
	if len(sets) == 0 {
		cred, err := s.GetCredential(ctx, id)
		if err != nil {
			return credential.Credential{}, err
		}
		if cred.Deleted() {
			return credential.Credential{}, storage.ErrNotFound
		}
		return cred, nil
	}
	set("updated_at", time.Now().UTC())

	// Deleted rows never match, so an update cannot resurrect one.
	query := fmt.Sprintf(`
		UPDATE credentials
		SET %s
		WHERE id = $1 AND status != 'deleted'
	`, strings.Join(sets, ", "))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return credential.Credential{}, mapWriteError(err)
	}
	if rowsAffected, _ := result.RowsAffected(); rowsAffected == 0 {
		return credential.Credential{}, storage.ErrNotFound
	}
	return s.GetCredential(ctx, id)
}

func (s *Store) SoftDeleteCredential(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET status = 'deleted', updated_at = $2
		WHERE id = $1 AND status != 'deleted'
	`, id, time.Now().UTC())
	if err != nil {
		return false, err
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

func (s *Store) ListSecretPaths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT secret_path FROM credentials WHERE secret_path != ''
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

// --- ReferenceStore ---------------------------------------------------------

func (s *Store) CustomerExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, "customers", id)
}

func (s *Store) VendorExists(ctx context.Context, id string) (bool, error) {
	return s.exists(ctx, "vendors", id)
}

func (s *Store) exists(ctx context.Context, table, id string) (bool, error) {
	var found bool
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table), id,
	).Scan(&found)
	return found, err
}

// --- PermissionStore --------------------------------------------------------

func (s *Store) CreateGrant(ctx context.Context, grant permission.Grant) (permission.Grant, error) {
	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grant.CreatedAt = now
	grant.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_permissions (id, user_id, customer_id, project_id, permission_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, grant.ID, grant.UserID, toNullString(grant.CustomerID), toNullString(grant.ProjectID),
		string(grant.Level), grant.CreatedAt, grant.UpdatedAt)
	if err != nil {
		return permission.Grant{}, mapWriteError(err)
	}
	return grant, nil
}

func (s *Store) GetGrant(ctx context.Context, id string) (permission.Grant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, customer_id, project_id, permission_type, created_at, updated_at
		FROM user_permissions
		WHERE id = $1
	`, id)

	grant, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return permission.Grant{}, storage.ErrNotFound
	}
	return grant, err
}

func (s *Store) ListGrantsForUser(ctx context.Context, userID string) ([]permission.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, customer_id, project_id, permission_type, created_at, updated_at
		FROM user_permissions
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []permission.Grant
	for rows.Next() {
		grant, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, grant)
	}
	return result, rows.Err()
}

func (s *Store) DeleteGrant(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM user_permissions WHERE id = $1
	`, id)
	if err != nil {
		return false, err
	}
	rowsAffected, _ := result.RowsAffected()
	return rowsAffected > 0, nil
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendAuditEntry(ctx context.Context, entry audit.Entry) (audit.Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, user_id, action, resource_type, resource_id, customer_id, project_id, vendor_id, credential_id, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, entry.ID, entry.UserID, string(entry.Action), entry.ResourceType, entry.ResourceID,
		toNullString(entry.CustomerID), toNullString(entry.ProjectID), toNullString(entry.VendorID),
		toNullString(entry.CredentialID), entry.Details, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return audit.Entry{}, mapWriteError(err)
	}
	return entry, nil
}

func (s *Store) ListAuditEntries(ctx context.Context, filter storage.AuditFilter) ([]audit.Entry, error) {
	query := `
		SELECT id, user_id, action, resource_type, resource_id, customer_id, project_id, vendor_id, credential_id, details, ip_address, user_agent, created_at
		FROM audit_logs
		WHERE 1=1`
	var (
		args []any
		n    int
	)
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.CustomerID != nil {
		query += " AND customer_id = " + arg(*filter.CustomerID)
	}
	if filter.CredentialID != nil {
		query += " AND credential_id = " + arg(*filter.CredentialID)
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT " + arg(limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			entry        audit.Entry
			action       string
			customerID   sql.NullString
			projectID    sql.NullString
			vendorID     sql.NullString
			credentialID sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.UserID, &action, &entry.ResourceType, &entry.ResourceID,
			&customerID, &projectID, &vendorID, &credentialID,
			&entry.Details, &entry.IPAddress, &entry.UserAgent, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Action = audit.Action(action)
		entry.CustomerID = fromNullString(customerID)
		entry.ProjectID = fromNullString(projectID)
		entry.VendorID = fromNullString(vendorID)
		entry.CredentialID = fromNullString(credentialID)
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- helpers ----------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (credential.Credential, error) {
	var (
		cred         credential.Credential
		resourceUser sql.NullString
		labels       sql.NullString
		status       string
	)
	if err := row.Scan(&cred.ID, &cred.CustomerID, &cred.VendorID, &cred.AccessKey, &cred.SecretPath,
		&resourceUser, &labels, &status, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return credential.Credential{}, err
	}
	cred.ResourceUser = fromNullString(resourceUser)
	cred.Labels = fromNullString(labels)
	cred.Status = credential.Status(status)
	return cred, nil
}

func scanGrant(row rowScanner) (permission.Grant, error) {
	var (
		grant      permission.Grant
		customerID sql.NullString
		projectID  sql.NullString
		level      string
	)
	if err := row.Scan(&grant.ID, &grant.UserID, &customerID, &projectID, &level, &grant.CreatedAt, &grant.UpdatedAt); err != nil {
		return permission.Grant{}, err
	}
	grant.CustomerID = fromNullString(customerID)
	grant.ProjectID = fromNullString(projectID)
	grant.Level = permission.Level(level)
	return grant, nil
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}
