// Package storage declares the persistence interfaces the services consume.
package storage

import (
	"context"
	"errors"

	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	"github.com/R3E-Network/credential_layer/internal/domain/credential"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
)

// ErrNotFound is returned when no row matches. Callers decide whether that
// is a 404 or another fault.
var ErrNotFound = errors.New("storage: not found")

// ErrConstraint is returned when a referential or uniqueness constraint
// rejects a write.
var ErrConstraint = errors.New("storage: constraint violation")

// CredentialFilter restricts a credential listing. CustomerIDs is the scope
// computed by the permission oracle; AllCustomers marks a wildcard grant.
// CustomerID and VendorID are explicit caller filters applied on top.
type CredentialFilter struct {
	CustomerIDs  []string
	AllCustomers bool
	CustomerID   *string
	VendorID     *string
	Limit        int
	Offset       int
}

// CredentialUpdate is a partial metadata update; nil fields are unchanged.
// The secret key itself never passes through the repository.
type CredentialUpdate struct {
	AccessKey    *string
	SecretPath   *string
	ResourceUser *string
	Labels       *string
	Status       *credential.Status
}

// CredentialStore persists credential metadata rows.
type CredentialStore interface {
	// CreateCredential inserts one row; ErrConstraint when the referenced
	// customer or vendor does not exist.
	CreateCredential(ctx context.Context, cred credential.Credential) (credential.Credential, error)

	// GetCredential returns the row regardless of status; ErrNotFound when
	// no row exists. The engine decides how deleted rows surface.
	GetCredential(ctx context.Context, id string) (credential.Credential, error)

	// ListCredentials returns non-deleted rows matching the filter, ordered
	// by creation time (newest first).
	ListCredentials(ctx context.Context, filter CredentialFilter) ([]credential.Credential, error)

	// UpdateCredential applies a partial update to a non-deleted row;
	// ErrNotFound when no such row matched. Deleted rows are never
	// resurrected.
	UpdateCredential(ctx context.Context, id string, upd CredentialUpdate) (credential.Credential, error)

	// SoftDeleteCredential sets status to deleted and reports whether a
	// non-deleted row was affected.
	SoftDeleteCredential(ctx context.Context, id string) (bool, error)

	// ListSecretPaths returns the secret-store paths referenced by every
	// row, deleted rows included, for the orphan sweeper.
	ListSecretPaths(ctx context.Context) ([]string, error)
}

// ReferenceStore answers the existence checks credential creation needs.
type ReferenceStore interface {
	CustomerExists(ctx context.Context, id string) (bool, error)
	VendorExists(ctx context.Context, id string) (bool, error)
}

// PermissionStore persists permission grants.
type PermissionStore interface {
	CreateGrant(ctx context.Context, grant permission.Grant) (permission.Grant, error)
	GetGrant(ctx context.Context, id string) (permission.Grant, error)
	ListGrantsForUser(ctx context.Context, userID string) ([]permission.Grant, error)
	DeleteGrant(ctx context.Context, id string) (bool, error)
}

// AuditFilter restricts an audit listing.
type AuditFilter struct {
	CustomerID   *string
	CredentialID *string
	Limit        int
}

// AuditStore appends and queries immutable audit entries.
type AuditStore interface {
	AppendAuditEntry(ctx context.Context, entry audit.Entry) (audit.Entry, error)
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]audit.Entry, error)
}
