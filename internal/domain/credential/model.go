// Package credential defines the credential metadata model. Secret material
// never appears here; rows carry only the secret-store path that addresses
// it.
package credential

import "time"

// Status is the lifecycle state of a credential.
type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
	// StatusDeleted marks a soft-deleted row kept for audit continuity.
	// Deleted rows are excluded from all default listings and lookups and
	// are never resurrected.
	StatusDeleted Status = "deleted"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusDisabled, StatusDeleted:
		return true
	}
	return false
}

// Credential is one registered access-key/secret-key pair for a vendor on
// behalf of a customer. SecretPath references the secret store record; the
// raw secret key is never persisted in the metadata store.
type Credential struct {
	ID           string
	CustomerID   string
	VendorID     string
	AccessKey    string
	SecretPath   string
	ResourceUser *string
	Labels       *string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Deleted reports whether the credential has been soft-deleted.
func (c Credential) Deleted() bool { return c.Status == StatusDeleted }

// Masked is the listing view of a credential: the access key is reduced to
// its visible prefix and the secret path is omitted entirely.
type Masked struct {
	ID           string
	CustomerID   string
	VendorID     string
	AccessKey    string
	ResourceUser *string
	Labels       *string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Context is the metadata-plus-path view returned to internal services that
// resolve the secret themselves. It never contains secret material.
type Context struct {
	Credential Credential
	SecretPath string
}

// Material is the plaintext pair returned by a reveal. It exists only in
// process memory on the way to the caller.
type Material struct {
	CredentialID string
	CustomerID   string
	VendorID     string
	AccessKey    string
	SecretKey    string
}

// Update is a partial update; nil fields are left unchanged.
type Update struct {
	AccessKey    *string
	SecretKey    *string
	ResourceUser *string
	Labels       *string
	Status       *Status
}

// Empty reports whether the update carries no changes.
func (u Update) Empty() bool {
	return u.AccessKey == nil && u.SecretKey == nil && u.ResourceUser == nil &&
		u.Labels == nil && u.Status == nil
}

// ChangedFields names the fields an update touches, for audit summaries.
// Secret values themselves are never recorded.
func (u Update) ChangedFields() []string {
	var fields []string
	if u.AccessKey != nil {
		fields = append(fields, "access_key")
	}
	if u.SecretKey != nil {
		fields = append(fields, "secret_key")
	}
	if u.ResourceUser != nil {
		fields = append(fields, "resource_user")
	}
	if u.Labels != nil {
		fields = append(fields, "labels")
	}
	if u.Status != nil {
		fields = append(fields, "status")
	}
	return fields
}
