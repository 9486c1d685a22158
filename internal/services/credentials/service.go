// Package credentials implements the credential lifecycle engine: create,
// list, context, reveal, update and delete over the metadata store and the
// secret store, with fail-closed permission checks and audited disclosure.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/credential_layer/internal/crypto"
	"github.com/R3E-Network/credential_layer/internal/domain/audit"
	"github.com/R3E-Network/credential_layer/internal/domain/credential"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
	"github.com/R3E-Network/credential_layer/internal/logging"
	"github.com/R3E-Network/credential_layer/internal/metrics"
	"github.com/R3E-Network/credential_layer/internal/secretstore"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

const (
	secretKeyField = "secret_key"
	accessKeyField = "access_key"

	resourceTypeCredential = "credential"

	defaultCallTimeout = 10 * time.Second
)

// PermissionOracle resolves whether a caller may act on a scope. Implemented
// by the permissions service.
type PermissionOracle interface {
	CanAccess(ctx context.Context, userID, customerID string, projectID *string, required permission.Level) (bool, error)
	CustomerScope(ctx context.Context, userID string) (ids []string, all bool, err error)
}

// AuditRecorder appends audit entries. Implemented by the audit service.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
	RecordBestEffort(ctx context.Context, entry audit.Entry)
}

// Caller identifies the already-authenticated principal invoking an
// operation. The engine treats UserID as an opaque fact.
type Caller struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// Config tunes the engine.
type Config struct {
	// PathPrefix namespaces every generated secret path.
	PathPrefix string
	// VisibleChars is the number of access-key characters listings expose.
	VisibleChars int
	// CallTimeout bounds each database or secret-store call.
	CallTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PathPrefix == "" {
		c.PathPrefix = "credentials"
	}
	if c.VisibleChars <= 0 {
		c.VisibleChars = crypto.DefaultVisibleChars
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaultCallTimeout
	}
	return c
}

// Service is the lifecycle engine. It is stateless between calls; all
// durable state lives in the repository and the secret store.
type Service struct {
	repo    storage.CredentialStore
	refs    storage.ReferenceStore
	secrets secretstore.Store
	cipher  *crypto.Cipher
	perms   PermissionOracle
	auditor AuditRecorder
	logger  *logging.Logger
	cfg     Config
}

// New creates the engine.
func New(
	repo storage.CredentialStore,
	refs storage.ReferenceStore,
	secrets secretstore.Store,
	cipher *crypto.Cipher,
	perms PermissionOracle,
	auditor AuditRecorder,
	logger *logging.Logger,
	cfg Config,
) *Service {
	if logger == nil {
		logger = logging.NewDefault("credentials")
	}
	return &Service{
		repo:    repo,
		refs:    refs,
		secrets: secrets,
		cipher:  cipher,
		perms:   perms,
		auditor: auditor,
		logger:  logger,
		cfg:     cfg.withDefaults(),
	}
}

func (s *Service) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// secretPath generates a fresh path for one credential generation. The
// trailing uuid makes every rotation land on a new path, so an in-flight
// update can never clobber the only copy of the previous secret.
func (s *Service) secretPath(customerID, credentialID string) string {
	return fmt.Sprintf("%s/%s/%s/%s", s.cfg.PathPrefix, customerID, credentialID, uuid.NewString())
}

func mapStorageErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return svcerr.UpstreamTimeout(op, err)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return svcerr.NotFound("credential not found")
	}
	if errors.Is(err, storage.ErrConstraint) {
		return svcerr.ConstraintViolation("referenced customer or vendor does not exist", err)
	}
	return svcerr.Internal(op, err)
}

// --- Create -----------------------------------------------------------------

// CreateInput describes a credential to register.
type CreateInput struct {
	CustomerID   string
	ProjectID    *string
	VendorID     string
	AccessKey    string
	SecretKey    string
	ResourceUser *string
	Labels       *string
}

func (in CreateInput) validate() error {
	switch {
	case strings.TrimSpace(in.CustomerID) == "":
		return svcerr.BadRequest("customer_id is required")
	case strings.TrimSpace(in.VendorID) == "":
		return svcerr.BadRequest("vendor_id is required")
	case in.AccessKey == "":
		return svcerr.BadRequest("access_key is required")
	case in.SecretKey == "":
		return svcerr.BadRequest("secret_key is required")
	}
	return nil
}

// Create registers a credential: the encrypted secret is written to a fresh
// secret-store path first, then the metadata row is inserted. On insert
// failure the secret write is rolled back so no orphan survives, and no row
// ever references a secret that was not written.
func (s *Service) Create(ctx context.Context, caller Caller, in CreateInput) (credential.Credential, error) {
	if err := in.validate(); err != nil {
		return credential.Credential{}, err
	}

	if err := s.requireAccess(ctx, caller, in.CustomerID, in.ProjectID, permission.LevelWrite); err != nil {
		return credential.Credential{}, err
	}

	checkCtx, cancel := s.callCtx(ctx)
	defer cancel()
	if ok, err := s.refs.CustomerExists(checkCtx, in.CustomerID); err != nil {
		return credential.Credential{}, mapStorageErr("check customer", err)
	} else if !ok {
		return credential.Credential{}, svcerr.ConstraintViolation("customer does not exist", nil).
			WithDetails("customer_id", in.CustomerID)
	}
	if ok, err := s.refs.VendorExists(checkCtx, in.VendorID); err != nil {
		return credential.Credential{}, mapStorageErr("check vendor", err)
	} else if !ok {
		return credential.Credential{}, svcerr.ConstraintViolation("vendor does not exist", nil).
			WithDetails("vendor_id", in.VendorID)
	}

	encrypted, err := s.cipher.EncryptString(in.SecretKey)
	if err != nil {
		return credential.Credential{}, err
	}

	credentialID := uuid.NewString()
	path := s.secretPath(in.CustomerID, credentialID)

	writeCtx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.secrets.Write(writeCtx, path, map[string]string{
		accessKeyField: in.AccessKey,
		secretKeyField: encrypted,
	}); err != nil {
		return credential.Credential{}, err
	}

	insertCtx, cancel := s.callCtx(ctx)
	defer cancel()
	created, err := s.repo.CreateCredential(insertCtx, credential.Credential{
		ID:           credentialID,
		CustomerID:   in.CustomerID,
		VendorID:     in.VendorID,
		AccessKey:    in.AccessKey,
		SecretPath:   path,
		ResourceUser: in.ResourceUser,
		Labels:       in.Labels,
		Status:       credential.StatusActive,
	})
	if err != nil {
		s.rollbackSecret(ctx, path)
		return credential.Credential{}, mapStorageErr("insert credential", err)
	}

	s.auditor.RecordBestEffort(ctx, s.entry(caller, audit.ActionCreate, created, ""))
	metrics.CredentialOps.WithLabelValues("create").Inc()

	s.logger.WithFields(map[string]any{
		"credential_id": created.ID,
		"customer_id":   created.CustomerID,
		"vendor_id":     created.VendorID,
	}).Info("credential created")
	return created, nil
}

// rollbackSecret best-effort deletes a secret written by a create that failed
// at the metadata insert. Delete is idempotent, so a concurrent sweep racing
// this is harmless.
func (s *Service) rollbackSecret(ctx context.Context, path string) {
	delCtx, cancel := s.callCtx(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.secrets.Delete(delCtx, path); err != nil {
		s.logger.WithError(err).WithField("path", path).
			Error("orphaned secret left behind after failed create; sweeper will reclaim it")
	}
}

// --- List -------------------------------------------------------------------

// ListFilter narrows a listing. CustomerID and VendorID are optional caller
// filters on top of the permission-derived scope.
type ListFilter struct {
	CustomerID *string
	VendorID   *string
	Limit      int
	Offset     int
}

// List returns the credentials visible to the caller with masked access keys.
// The permission oracle computes the visible customer scope; an explicit
// customer filter is intersected with it, never widened by it.
func (s *Service) List(ctx context.Context, caller Caller, filter ListFilter) ([]credential.Masked, error) {
	scopeIDs, all, err := s.perms.CustomerScope(ctx, caller.UserID)
	if err != nil {
		return nil, err
	}
	if !all && len(scopeIDs) == 0 {
		return []credential.Masked{}, nil
	}

	if filter.CustomerID != nil && !all {
		permitted := false
		for _, id := range scopeIDs {
			if id == *filter.CustomerID {
				permitted = true
				break
			}
		}
		if !permitted {
			return []credential.Masked{}, nil
		}
	}

	listCtx, cancel := s.callCtx(ctx)
	defer cancel()
	rows, err := s.repo.ListCredentials(listCtx, storage.CredentialFilter{
		CustomerIDs:  scopeIDs,
		AllCustomers: all,
		CustomerID:   filter.CustomerID,
		VendorID:     filter.VendorID,
		Limit:        filter.Limit,
		Offset:       filter.Offset,
	})
	if err != nil {
		return nil, mapStorageErr("list credentials", err)
	}

	masked := make([]credential.Masked, 0, len(rows))
	for _, row := range rows {
		masked = append(masked, credential.Masked{
			ID:           row.ID,
			CustomerID:   row.CustomerID,
			VendorID:     row.VendorID,
			AccessKey:    crypto.MaskAccessKey(row.AccessKey, s.cfg.VisibleChars),
			ResourceUser: row.ResourceUser,
			Labels:       row.Labels,
			Status:       row.Status,
			CreatedAt:    row.CreatedAt,
			UpdatedAt:    row.UpdatedAt,
		})
	}
	return masked, nil
}

// --- Context ----------------------------------------------------------------

// GetContext returns credential metadata plus the raw secret-store path
// without resolving the secret. Requires read on the credential's customer.
func (s *Service) GetContext(ctx context.Context, caller Caller, id string) (credential.Context, error) {
	cred, err := s.loadVisible(ctx, caller, id, permission.LevelRead)
	if err != nil {
		return credential.Context{}, err
	}
	if cred.Status != credential.StatusActive {
		return credential.Context{}, svcerr.NotActive(string(cred.Status))
	}

	s.auditor.RecordBestEffort(ctx, s.entry(caller, audit.ActionContext, cred, ""))
	return credential.Context{Credential: cred, SecretPath: cred.SecretPath}, nil
}

// --- Reveal -----------------------------------------------------------------

// RevealForAPICall returns the plaintext access-key/secret-key pair for an
// outbound vendor call. The audit entry is written synchronously before any
// secret material is returned; if it cannot be written the reveal fails.
func (s *Service) RevealForAPICall(ctx context.Context, caller Caller, id string) (credential.Material, error) {
	cred, err := s.loadVisible(ctx, caller, id, permission.LevelRead)
	if err != nil {
		return credential.Material{}, err
	}
	if cred.Status != credential.StatusActive {
		return credential.Material{}, svcerr.NotActive(string(cred.Status))
	}

	readCtx, cancel := s.callCtx(ctx)
	defer cancel()
	record, err := s.secrets.Read(readCtx, cred.SecretPath)
	if err != nil {
		if svcerr.CodeOf(err) == svcerr.CodeSecretNotFound {
			// A row pointing at a missing secret is an integrity fault; the
			// write-before-switch ordering should make this impossible.
			s.logger.WithFields(map[string]any{
				"credential_id": cred.ID,
				"path":          cred.SecretPath,
			}).Error("credential metadata references a missing secret record")
		}
		return credential.Material{}, err
	}

	secretKey, err := s.cipher.DecryptString(record[secretKeyField])
	if err != nil {
		return credential.Material{}, err
	}

	auditCtx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.auditor.Record(auditCtx, s.entry(caller, audit.ActionReveal, cred, "")); err != nil {
		return credential.Material{}, err
	}
	metrics.CredentialOps.WithLabelValues("reveal").Inc()

	return credential.Material{
		CredentialID: cred.ID,
		CustomerID:   cred.CustomerID,
		VendorID:     cred.VendorID,
		AccessKey:    cred.AccessKey,
		SecretKey:    secretKey,
	}, nil
}

// --- Update -----------------------------------------------------------------

// Update applies a partial update. A new secret key is written to a freshly
// generated path before the metadata row switches over, and the old path is
// deleted only after the switch commits, so a crash mid-rotation leaves at
// worst an orphaned old secret, never a row pointing at a missing one.
func (s *Service) Update(ctx context.Context, caller Caller, id string, upd credential.Update) (credential.Credential, error) {
	if upd.Empty() {
		return credential.Credential{}, svcerr.BadRequest("no fields to update")
	}
	if upd.Status != nil {
		if !upd.Status.Valid() || *upd.Status == credential.StatusDeleted {
			return credential.Credential{}, svcerr.BadRequest("status must be active or disabled")
		}
	}

	cred, err := s.loadVisible(ctx, caller, id, permission.LevelWrite)
	if err != nil {
		return credential.Credential{}, err
	}

	storeUpd := storage.CredentialUpdate{
		AccessKey:    upd.AccessKey,
		ResourceUser: upd.ResourceUser,
		Labels:       upd.Labels,
		Status:       upd.Status,
	}

	oldPath := cred.SecretPath
	var newPath string
	if upd.SecretKey != nil {
		encrypted, err := s.cipher.EncryptString(*upd.SecretKey)
		if err != nil {
			return credential.Credential{}, err
		}

		accessKey := cred.AccessKey
		if upd.AccessKey != nil {
			accessKey = *upd.AccessKey
		}

		newPath = s.secretPath(cred.CustomerID, cred.ID)
		writeCtx, cancel := s.callCtx(ctx)
		defer cancel()
		if err := s.secrets.Write(writeCtx, newPath, map[string]string{
			accessKeyField: accessKey,
			secretKeyField: encrypted,
		}); err != nil {
			return credential.Credential{}, err
		}
		storeUpd.SecretPath = &newPath
	}

	updCtx, cancel := s.callCtx(ctx)
	defer cancel()
	updated, err := s.repo.UpdateCredential(updCtx, cred.ID, storeUpd)
	if err != nil {
		if newPath != "" {
			s.rollbackSecret(ctx, newPath)
		}
		return credential.Credential{}, mapStorageErr("update credential", err)
	}

	if newPath != "" {
		delCtx, cancel := s.callCtx(context.WithoutCancel(ctx))
		defer cancel()
		if err := s.secrets.Delete(delCtx, oldPath); err != nil {
			// The row already points at the new secret; the stale one is a
			// recoverable orphan, not a user-visible failure.
			s.logger.WithError(err).WithFields(map[string]any{
				"credential_id": cred.ID,
				"path":          oldPath,
			}).Warn("stale secret left behind after rotation; sweeper will reclaim it")
		}
	}

	s.auditor.RecordBestEffort(ctx, s.entry(caller, audit.ActionUpdate, updated, changeSummary(upd)))
	metrics.CredentialOps.WithLabelValues("update").Inc()
	return updated, nil
}

// changeSummary names the touched fields for the audit trail. Secret values
// never appear here.
func changeSummary(upd credential.Update) string {
	summary, _ := json.Marshal(map[string]any{"changed_fields": upd.ChangedFields()})
	return string(summary)
}

// --- Delete -----------------------------------------------------------------

// Delete soft-deletes a credential. The audit entry is written synchronously
// before the row flips, so a deletion can never outrun its record. The
// secret-store record is intentionally left in place for recovery. Deleting
// an already-deleted credential returns NotFound so callers can detect
// double submission.
func (s *Service) Delete(ctx context.Context, caller Caller, id string) error {
	cred, err := s.loadVisible(ctx, caller, id, permission.LevelWrite)
	if err != nil {
		return err
	}

	auditCtx, cancel := s.callCtx(ctx)
	defer cancel()
	if err := s.auditor.Record(auditCtx, s.entry(caller, audit.ActionDelete, cred, "")); err != nil {
		return err
	}

	delCtx, cancel := s.callCtx(ctx)
	defer cancel()
	deleted, err := s.repo.SoftDeleteCredential(delCtx, cred.ID)
	if err != nil {
		return mapStorageErr("delete credential", err)
	}
	if !deleted {
		return svcerr.NotFound("credential not found")
	}

	metrics.CredentialOps.WithLabelValues("delete").Inc()
	s.logger.WithFields(map[string]any{
		"credential_id": cred.ID,
		"customer_id":   cred.CustomerID,
	}).Info("credential deleted")
	return nil
}

// --- helpers ----------------------------------------------------------------

// loadVisible loads a non-deleted credential and enforces the caller's
// permission on its customer. A deleted row reads as NotFound; permission is
// checked before existence is confirmed only when the row exists, so the 404
// never leaks scope information the caller could not have seen anyway.
func (s *Service) loadVisible(ctx context.Context, caller Caller, id string, required permission.Level) (credential.Credential, error) {
	getCtx, cancel := s.callCtx(ctx)
	defer cancel()
	cred, err := s.repo.GetCredential(getCtx, id)
	if err != nil {
		return credential.Credential{}, mapStorageErr("load credential", err)
	}
	if cred.Deleted() {
		return credential.Credential{}, svcerr.NotFound("credential not found")
	}
	if err := s.requireAccess(ctx, caller, cred.CustomerID, nil, required); err != nil {
		return credential.Credential{}, err
	}
	return cred, nil
}

func (s *Service) requireAccess(ctx context.Context, caller Caller, customerID string, projectID *string, required permission.Level) error {
	if caller.UserID == "" {
		return svcerr.Unauthorized("caller identity is required")
	}
	allowed, err := s.perms.CanAccess(ctx, caller.UserID, customerID, projectID, required)
	if err != nil {
		return err
	}
	if !allowed {
		return svcerr.Forbidden("insufficient permission for customer scope").
			WithDetails("customer_id", customerID)
	}
	return nil
}

func (s *Service) entry(caller Caller, action audit.Action, cred credential.Credential, details string) audit.Entry {
	customerID := cred.CustomerID
	vendorID := cred.VendorID
	credentialID := cred.ID
	return audit.Entry{
		UserID:       caller.UserID,
		Action:       action,
		ResourceType: resourceTypeCredential,
		ResourceID:   cred.ID,
		CustomerID:   &customerID,
		VendorID:     &vendorID,
		CredentialID: &credentialID,
		Details:      details,
		IPAddress:    caller.IPAddress,
		UserAgent:    caller.UserAgent,
	}
}
