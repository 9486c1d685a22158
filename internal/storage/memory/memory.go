// Package memory is an in-memory implementation of the storage interfaces.
// It is safe for concurrent use and is primarily intended for tests and
// local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	"github.com/R3E-Network/credential_layer/internal/domain/credential"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

// Store holds all rows in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	customers   map[string]bool
	vendors     map[string]bool
	credentials map[string]credential.Credential
	grants      map[string]permission.Grant
	auditLog    []audit.Entry
}

var _ storage.CredentialStore = (*Store)(nil)
var _ storage.ReferenceStore = (*Store)(nil)
var _ storage.PermissionStore = (*Store)(nil)
var _ storage.AuditStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		customers:   make(map[string]bool),
		vendors:     make(map[string]bool),
		credentials: make(map[string]credential.Credential),
		grants:      make(map[string]permission.Grant),
	}
}

// RegisterCustomer records a customer id so referential checks pass.
func (s *Store) RegisterCustomer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[id] = true
}

// RegisterVendor records a vendor id so referential checks pass.
func (s *Store) RegisterVendor(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vendors[id] = true
}

// --- CredentialStore --------------------------------------------------------

func (s *Store) CreateCredential(_ context.Context, cred credential.Credential) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.customers[cred.CustomerID] {
		return credential.Credential{}, fmt.Errorf("%w: customer %s", storage.ErrConstraint, cred.CustomerID)
	}
	if !s.vendors[cred.VendorID] {
		return credential.Credential{}, fmt.Errorf("%w: vendor %s", storage.ErrConstraint, cred.VendorID)
	}

	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	if _, exists := s.credentials[cred.ID]; exists {
		return credential.Credential{}, fmt.Errorf("%w: credential %s", storage.ErrConstraint, cred.ID)
	}
	if cred.Status == "" {
		cred.Status = credential.StatusActive
	}
	now := time.Now().UTC()
	cred.CreatedAt = now
	cred.UpdatedAt = now

	s.credentials[cred.ID] = cred
	return cred, nil
}

func (s *Store) GetCredential(_ context.Context, id string) (credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[id]
	if !ok {
		return credential.Credential{}, storage.ErrNotFound
	}
	return cred, nil
}

func (s *Store) ListCredentials(_ context.Context, filter storage.CredentialFilter) ([]credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[string]bool, len(filter.CustomerIDs))
	for _, id := range filter.CustomerIDs {
		allowed[id] = true
	}

	var result []credential.Credential
	for _, cred := range s.credentials {
		if cred.Deleted() {
			continue
		}
		if !filter.AllCustomers && !allowed[cred.CustomerID] {
			continue
		}
		if filter.CustomerID != nil && cred.CustomerID != *filter.CustomerID {
			continue
		}
		if filter.VendorID != nil && cred.VendorID != *filter.VendorID {
			continue
		}
		result = append(result, cred)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return nil, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) UpdateCredential(_ context.Context, id string, upd storage.CredentialUpdate) (credential.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok || cred.Deleted() {
		return credential.Credential{}, storage.ErrNotFound
	}

	if upd.AccessKey != nil {
		cred.AccessKey = *upd.AccessKey
	}
	if upd.SecretPath != nil {
		cred.SecretPath = *upd.SecretPath
	}
	if upd.ResourceUser != nil {
		cred.ResourceUser = upd.ResourceUser
	}
	if upd.Labels != nil {
		cred.Labels = upd.Labels
	}
	if upd.Status != nil {
		cred.Status = *upd.Status
	}
	cred.UpdatedAt = time.Now().UTC()

	s.credentials[id] = cred
	return cred, nil
}

func (s *Store) SoftDeleteCredential(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.credentials[id]
	if !ok || cred.Deleted() {
		return false, nil
	}
	cred.Status = credential.StatusDeleted
	cred.UpdatedAt = time.Now().UTC()
	s.credentials[id] = cred
	return true, nil
}

func (s *Store) ListSecretPaths(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var paths []string
	for _, cred := range s.credentials {
		if cred.SecretPath != "" {
			paths = append(paths, cred.SecretPath)
		}
	}
	return paths, nil
}

// --- ReferenceStore ---------------------------------------------------------

func (s *Store) CustomerExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customers[id], nil
}

func (s *Store) VendorExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vendors[id], nil
}

// --- PermissionStore --------------------------------------------------------

func (s *Store) CreateGrant(_ context.Context, grant permission.Grant) (permission.Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if grant.CustomerID != nil && !s.customers[*grant.CustomerID] {
		return permission.Grant{}, fmt.Errorf("%w: customer %s", storage.ErrConstraint, *grant.CustomerID)
	}

	if grant.ID == "" {
		grant.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	grant.CreatedAt = now
	grant.UpdatedAt = now
	s.grants[grant.ID] = grant
	return grant, nil
}

func (s *Store) GetGrant(_ context.Context, id string) (permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[id]
	if !ok {
		return permission.Grant{}, storage.ErrNotFound
	}
	return grant, nil
}

func (s *Store) ListGrantsForUser(_ context.Context, userID string) ([]permission.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []permission.Grant
	for _, grant := range s.grants {
		if grant.UserID == userID {
			result = append(result, grant)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeleteGrant(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[id]; !ok {
		return false, nil
	}
	delete(s.grants, id)
	return true, nil
}

// --- AuditStore -------------------------------------------------------------

func (s *Store) AppendAuditEntry(_ context.Context, entry audit.Entry) (audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLog = append(s.auditLog, entry)
	return entry, nil
}

func (s *Store) ListAuditEntries(_ context.Context, filter storage.AuditFilter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var result []audit.Entry
	for i := len(s.auditLog) - 1; i >= 0 && len(result) < limit; i-- {
		entry := s.auditLog[i]
		if filter.CustomerID != nil && (entry.CustomerID == nil || *entry.CustomerID != *filter.CustomerID) {
			continue
		}
		if filter.CredentialID != nil && (entry.CredentialID == nil || *entry.CredentialID != *filter.CredentialID) {
			continue
		}
		result = append(result, entry)
	}
	return result, nil
}
