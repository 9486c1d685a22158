package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/credential_layer/internal/domain/credential"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
	"github.com/R3E-Network/credential_layer/internal/httputil"
	"github.com/R3E-Network/credential_layer/internal/middleware"
	"github.com/R3E-Network/credential_layer/internal/services/credentials"
	"github.com/R3E-Network/credential_layer/internal/services/permissions"
	"github.com/R3E-Network/credential_layer/internal/storage"
)

const maxRequestBody = 1 << 20 // 1MiB

func (s *Server) caller(r *http.Request) credentials.Caller {
	return credentials.Caller{
		UserID:    middleware.UserID(r.Context()),
		IPAddress: httputil.ClientIP(r),
		UserAgent: r.UserAgent(),
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return svcerr.BadRequest("invalid JSON body")
	}
	return nil
}

// optional turns an empty or whitespace-only string into nil so handlers
// never pass "" where the engine expects absence.
func optional(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func queryParam(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return nil
	}
	return &v
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

// --- Credentials ------------------------------------------------------------

type credentialResponse struct {
	ID           string    `json:"id"`
	CustomerID   string    `json:"customer_id"`
	VendorID     string    `json:"vendor_id"`
	AccessKey    string    `json:"access_key"`
	ResourceUser *string   `json:"resource_user,omitempty"`
	Labels       *string   `json:"labels,omitempty"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toCredentialResponse(c credential.Credential) credentialResponse {
	return credentialResponse{
		ID:           c.ID,
		CustomerID:   c.CustomerID,
		VendorID:     c.VendorID,
		AccessKey:    c.AccessKey,
		ResourceUser: c.ResourceUser,
		Labels:       c.Labels,
		Status:       string(c.Status),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (s *Server) handleCreateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CustomerID   string  `json:"customer_id"`
		ProjectID    *string `json:"project_id"`
		VendorID     string  `json:"vendor_id"`
		AccessKey    string  `json:"access_key"`
		SecretKey    string  `json:"secret_key"`
		ResourceUser *string `json:"resource_user"`
		Labels       *string `json:"labels"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	cred, err := s.credentials.Create(r.Context(), s.caller(r), credentials.CreateInput{
		CustomerID:   req.CustomerID,
		ProjectID:    optional(req.ProjectID),
		VendorID:     req.VendorID,
		AccessKey:    req.AccessKey,
		SecretKey:    req.SecretKey,
		ResourceUser: optional(req.ResourceUser),
		Labels:       optional(req.Labels),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toCredentialResponse(cred))
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	listed, err := s.credentials.List(r.Context(), s.caller(r), credentials.ListFilter{
		CustomerID: queryParam(r, "customer_id"),
		VendorID:   queryParam(r, "vendor_id"),
		Limit:      queryInt(r, "limit"),
		Offset:     queryInt(r, "offset"),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	type item struct {
		ID           string    `json:"id"`
		CustomerID   string    `json:"customer_id"`
		VendorID     string    `json:"vendor_id"`
		AccessKey    string    `json:"access_key"`
		ResourceUser *string   `json:"resource_user,omitempty"`
		Labels       *string   `json:"labels,omitempty"`
		Status       string    `json:"status"`
		CreatedAt    time.Time `json:"created_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
	items := make([]item, 0, len(listed))
	for _, c := range listed {
		items = append(items, item{
			ID:           c.ID,
			CustomerID:   c.CustomerID,
			VendorID:     c.VendorID,
			AccessKey:    c.AccessKey,
			ResourceUser: c.ResourceUser,
			Labels:       c.Labels,
			Status:       string(c.Status),
			CreatedAt:    c.CreatedAt,
			UpdatedAt:    c.UpdatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"credentials": items})
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	cctx, err := s.credentials.GetContext(r.Context(), s.caller(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"credential":  toCredentialResponse(cctx.Credential),
		"secret_path": cctx.SecretPath,
	})
}

func (s *Server) handleReveal(w http.ResponseWriter, r *http.Request) {
	material, err := s.credentials.RevealForAPICall(r.Context(), s.caller(r), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"credential_id": material.CredentialID,
		"customer_id":   material.CustomerID,
		"vendor_id":     material.VendorID,
		"access_key":    material.AccessKey,
		"secret_key":    material.SecretKey,
	})
}

func (s *Server) handleUpdateCredential(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessKey    *string `json:"access_key"`
		SecretKey    *string `json:"secret_key"`
		ResourceUser *string `json:"resource_user"`
		Labels       *string `json:"labels"`
		Status       *string `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	upd := credential.Update{
		AccessKey:    optional(req.AccessKey),
		SecretKey:    optional(req.SecretKey),
		ResourceUser: optional(req.ResourceUser),
		Labels:       optional(req.Labels),
	}
	if status := optional(req.Status); status != nil {
		st := credential.Status(*status)
		upd.Status = &st
	}

	cred, err := s.credentials.Update(r.Context(), s.caller(r), mux.Vars(r)["id"], upd)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toCredentialResponse(cred))
}

func (s *Server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	if err := s.credentials.Delete(r.Context(), s.caller(r), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Permission grants ------------------------------------------------------

type grantResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	CustomerID *string   `json:"customer_id,omitempty"`
	ProjectID  *string   `json:"project_id,omitempty"`
	Level      string    `json:"permission_type"`
	CreatedAt  time.Time `json:"created_at"`
}

func toGrantResponse(g permission.Grant) grantResponse {
	return grantResponse{
		ID:         g.ID,
		UserID:     g.UserID,
		CustomerID: g.CustomerID,
		ProjectID:  g.ProjectID,
		Level:      string(g.Level),
		CreatedAt:  g.CreatedAt,
	}
}

func (s *Server) handleCreateGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     string  `json:"user_id"`
		CustomerID *string `json:"customer_id"`
		ProjectID  *string `json:"project_id"`
		Level      string  `json:"permission_type"`
	}
	if err := decodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	grant, err := s.permissions.CreateGrant(r.Context(), middleware.UserID(r.Context()), permissions.GrantInput{
		UserID:     req.UserID,
		CustomerID: optional(req.CustomerID),
		ProjectID:  optional(req.ProjectID),
		Level:      permission.Level(req.Level),
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toGrantResponse(grant))
}

func (s *Server) handleListGrants(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if target := queryParam(r, "user_id"); target != nil {
		userID = *target
	}

	grants, err := s.permissions.ListGrants(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	items := make([]grantResponse, 0, len(grants))
	for _, g := range grants {
		items = append(items, toGrantResponse(g))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"permissions": items})
}

func (s *Server) handleDeleteGrant(w http.ResponseWriter, r *http.Request) {
	if _, err := s.permissions.DeleteGrant(r.Context(), middleware.UserID(r.Context()), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Audit ------------------------------------------------------------------

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	filter := storage.AuditFilter{
		CustomerID:   queryParam(r, "customer_id"),
		CredentialID: queryParam(r, "credential_id"),
		Limit:        queryInt(r, "limit"),
	}

	// Audit access mirrors credential visibility: read on the customer scope
	// is required, and an unscoped query needs a wildcard grant.
	callerID := middleware.UserID(r.Context())
	if filter.CustomerID != nil {
		ok, err := s.permissions.CanAccess(r.Context(), callerID, *filter.CustomerID, nil, permission.LevelRead)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if !ok {
			httputil.WriteError(w, svcerr.Forbidden("insufficient permission for customer scope"))
			return
		}
	} else {
		_, all, err := s.permissions.CustomerScope(r.Context(), callerID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		if !all {
			httputil.WriteError(w, svcerr.Forbidden("unscoped audit queries require a wildcard grant"))
			return
		}
	}

	entries, err := s.audit.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	type item struct {
		ID           string    `json:"id"`
		UserID       string    `json:"user_id"`
		Action       string    `json:"action"`
		ResourceType string    `json:"resource_type"`
		ResourceID   string    `json:"resource_id"`
		CustomerID   *string   `json:"customer_id,omitempty"`
		VendorID     *string   `json:"vendor_id,omitempty"`
		CredentialID *string   `json:"credential_id,omitempty"`
		Details      string    `json:"details,omitempty"`
		IPAddress    string    `json:"ip_address,omitempty"`
		UserAgent    string    `json:"user_agent,omitempty"`
		CreatedAt    time.Time `json:"created_at"`
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		items = append(items, item{
			ID:           e.ID,
			UserID:       e.UserID,
			Action:       string(e.Action),
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			CustomerID:   e.CustomerID,
			VendorID:     e.VendorID,
			CredentialID: e.CredentialID,
			Details:      e.Details,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			CreatedAt:    e.CreatedAt,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": items})
}
