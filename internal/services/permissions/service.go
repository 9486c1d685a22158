// Package permissions implements the permission oracle: fail-closed scope
// checks backed by the grant store, plus grant administration.
package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

const resourceTypeGrant = "permission_grant"

// AuditRecorder appends grant administration entries. Implemented by the
// audit service.
type AuditRecorder interface {
	RecordBestEffort(ctx context.Context, entry audit.Entry)
}

// Service answers access questions for the lifecycle engine and manages
// grants for administrators.
type Service struct {
	grants  storage.PermissionStore
	auditor AuditRecorder
	logger  *logging.Logger
}

// New creates a permission service.
func New(grants storage.PermissionStore, auditor AuditRecorder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.NewDefault("permissions")
	}
	return &Service{grants: grants, auditor: auditor, logger: logger}
}

// CanAccess reports whether userID holds at least the required level on the
// given customer/project scope. No matching grant denies access.
func (s *Service) CanAccess(ctx context.Context, userID, customerID string, projectID *string, required permission.Level) (bool, error) {
	if userID == "" {
		return false, nil
	}

	grants, err := s.grants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return false, svcerr.Internal("list permission grants", err)
	}

	for _, grant := range grants {
		if grant.Matches(customerID, projectID) && grant.Level.AtLeast(required) {
			return true, nil
		}
	}
	return false, nil
}

// CustomerScope returns the customer ids userID may read. The second return
// is true when a wildcard grant covers every customer, in which case the id
// slice is empty.
func (s *Service) CustomerScope(ctx context.Context, userID string) ([]string, bool, error) {
	if userID == "" {
		return nil, false, nil
	}

	grants, err := s.grants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return nil, false, svcerr.Internal("list permission grants", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, grant := range grants {
		if !grant.Level.AtLeast(permission.LevelRead) {
			continue
		}
		if grant.CustomerID == nil {
			return nil, true, nil
		}
		if !seen[*grant.CustomerID] {
			seen[*grant.CustomerID] = true
			ids = append(ids, *grant.CustomerID)
		}
	}
	return ids, false, nil
}

// GrantInput describes a grant to create. A nil CustomerID or ProjectID is a
// wildcard over that dimension.
type GrantInput struct {
	UserID     string
	CustomerID *string
	ProjectID  *string
	Level      permission.Level
}

// CreateGrant stores a new grant. The caller must hold admin over the scope
// the grant covers; granting over the wildcard scope requires a wildcard
// admin grant.
func (s *Service) CreateGrant(ctx context.Context, callerID string, in GrantInput) (permission.Grant, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return permission.Grant{}, svcerr.BadRequest("user_id is required")
	}
	if !in.Level.Valid() {
		return permission.Grant{}, svcerr.BadRequest("permission_type must be read, write or admin")
	}

	allowed, err := s.callerAdminOver(ctx, callerID, in.CustomerID, in.ProjectID)
	if err != nil {
		return permission.Grant{}, err
	}
	if !allowed {
		return permission.Grant{}, svcerr.Forbidden("admin permission required to manage grants")
	}

	grant, err := s.grants.CreateGrant(ctx, permission.Grant{
		UserID:     in.UserID,
		CustomerID: in.CustomerID,
		ProjectID:  in.ProjectID,
		Level:      in.Level,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConstraint) {
			return permission.Grant{}, svcerr.ConstraintViolation("referenced customer does not exist", err)
		}
		return permission.Grant{}, svcerr.Internal("create permission grant", err)
	}

	s.auditor.RecordBestEffort(ctx, grantEntry(callerID, audit.ActionGrantCreate, grant))
	s.logger.WithFields(map[string]any{
		"grant_id": grant.ID,
		"user_id":  grant.UserID,
		"level":    grant.Level,
	}).Info("permission grant created")
	return grant, nil
}

// ListGrants returns the grants held by userID.
func (s *Service) ListGrants(ctx context.Context, userID string) ([]permission.Grant, error) {
	grants, err := s.grants.ListGrantsForUser(ctx, userID)
	if err != nil {
		return nil, svcerr.Internal("list permission grants", err)
	}
	return grants, nil
}

// DeleteGrant removes a grant. The caller must hold admin over the grant's
// scope.
func (s *Service) DeleteGrant(ctx context.Context, callerID, grantID string) (permission.Grant, error) {
	grant, err := s.grants.GetGrant(ctx, grantID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return permission.Grant{}, svcerr.NotFound("permission grant not found")
		}
		return permission.Grant{}, svcerr.Internal("load permission grant", err)
	}

	allowed, err := s.callerAdminOver(ctx, callerID, grant.CustomerID, grant.ProjectID)
	if err != nil {
		return permission.Grant{}, err
	}
	if !allowed {
		return permission.Grant{}, svcerr.Forbidden("admin permission required to manage grants")
	}

	deleted, err := s.grants.DeleteGrant(ctx, grantID)
	if err != nil {
		return permission.Grant{}, svcerr.Internal("delete permission grant", err)
	}
	if !deleted {
		return permission.Grant{}, svcerr.NotFound("permission grant not found")
	}

	s.auditor.RecordBestEffort(ctx, grantEntry(callerID, audit.ActionGrantDelete, grant))
	s.logger.WithField("grant_id", grantID).Info("permission grant deleted")
	return grant, nil
}

// grantEntry records who changed a grant, never what the grantee can now
// reach; the grant row itself carries that.
func grantEntry(callerID string, action audit.Action, grant permission.Grant) audit.Entry {
	details, _ := json.Marshal(map[string]any{
		"grantee": grant.UserID,
		"level":   grant.Level,
	})
	return audit.Entry{
		UserID:       callerID,
		Action:       action,
		ResourceType: resourceTypeGrant,
		ResourceID:   grant.ID,
		CustomerID:   grant.CustomerID,
		ProjectID:    grant.ProjectID,
		Details:      string(details),
	}
}

// callerAdminOver checks admin over a possibly-wildcard scope. A wildcard
// target scope is only coverable by a wildcard admin grant.
func (s *Service) callerAdminOver(ctx context.Context, callerID string, customerID, projectID *string) (bool, error) {
	if callerID == "" {
		return false, nil
	}
	if customerID != nil {
		return s.CanAccess(ctx, callerID, *customerID, projectID, permission.LevelAdmin)
	}

	grants, err := s.grants.ListGrantsForUser(ctx, callerID)
	if err != nil {
		return false, svcerr.Internal("list permission grants", err)
	}
	for _, grant := range grants {
		if grant.CustomerID == nil && grant.ProjectID == nil && grant.Level.AtLeast(permission.LevelAdmin) {
			return true, nil
		}
	}
	return false, nil
}
