// Package audit defines the immutable audit entry model.
package audit

import "time"

// Action identifies the privileged operation an entry records.
type Action string

const (
	ActionCreate  Action = "create_credential"
	ActionUpdate  Action = "update_credential"
	ActionDelete  Action = "delete_credential"
	ActionReveal  Action = "retrieve_credential_for_api"
	ActionContext Action = "use_credential"

	ActionGrantCreate Action = "create_permission"
	ActionGrantDelete Action = "delete_permission"
)

// Entry is one immutable record of a privileged operation. Entries are only
// ever appended; the engine never mutates or deletes them.
type Entry struct {
	ID           string
	UserID       string
	Action       Action
	ResourceType string
	ResourceID   string
	CustomerID   *string
	ProjectID    *string
	VendorID     *string
	CredentialID *string
	Details      string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}
