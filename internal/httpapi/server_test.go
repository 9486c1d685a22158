package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/credential_layer/internal/crypto"
	"github.com/R3E-Network/credential_layer/internal/domain/permission"
	"github.com/R3E-Network/credential_layer/internal/middleware"
	"github.com/R3E-Network/credential_layer/internal/secretstore"
	auditsvc "github.com/R3E-Network/credential_layer/internal/services/audit"
	"github.com/R3E-Network/credential_layer/internal/services/credentials"
	"github.com/R3E-Network/credential_layer/internal/services/permissions"
	"github.com/R3E-Network/credential_layer/internal/storage/memory"
)

var jwtSecret = []byte("test-secret")

func strPtr(s string) *string { return &s }

func signToken(t *testing.T, userID string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString(jwtSecret)
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T) (*mux.Router, *memory.Store) {
	t.Helper()

	store := memory.New()
	store.RegisterCustomer("cust-1")
	store.RegisterVendor("vendor-1")

	ctx := context.Background()
	for _, g := range []permission.Grant{
		{UserID: "admin", Level: permission.LevelAdmin},
		{UserID: "writer", CustomerID: strPtr("cust-1"), Level: permission.LevelWrite},
		{UserID: "reader", CustomerID: strPtr("cust-1"), Level: permission.LevelRead},
	} {
		_, err := store.CreateGrant(ctx, g)
		require.NoError(t, err)
	}

	cipher, err := crypto.NewCipher(crypto.KeyConfig{Environment: "development"})
	require.NoError(t, err)

	recorder := auditsvc.NewRecorder(store, nil)
	perms := permissions.New(store, recorder, nil)
	engine := credentials.New(store, store, secretstore.NewMemory(), cipher, perms, recorder, nil, credentials.Config{})

	srv := New(engine, perms, recorder, nil)
	auth := middleware.NewAuth(jwtSecret, nil, []string{"/health", "/metrics"})
	return srv.Router(auth), store
}

func doRequest(t *testing.T, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, payload)
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+signToken(t, userID))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func createCredential(t *testing.T, router http.Handler) map[string]any {
	t.Helper()
	rec := doRequest(t, router, http.MethodPost, "/api/v1/credentials", "writer", map[string]any{
		"customer_id": "cust-1",
		"vendor_id":   "vendor-1",
		"access_key":  "AK_12345",
		"secret_key":  "SK_67890",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func TestHealthIsUnauthenticated(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingTokenRejected(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/credentials", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body map[string]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body["error"]["code"])
}

func TestBadTokenRejected(t *testing.T) {
	router, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/credentials", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateAndListCredential(t *testing.T) {
	router, _ := newTestServer(t)
	created := createCredential(t, router)
	assert.Equal(t, "active", created["status"])

	rec := doRequest(t, router, http.MethodGet, "/api/v1/credentials", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Credentials []map[string]any `json:"credentials"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Credentials, 1)
	assert.Equal(t, "AK_1****", body.Credentials[0]["access_key"], "listing must mask the access key")
	assert.NotContains(t, rec.Body.String(), "SK_67890")
	assert.NotContains(t, rec.Body.String(), "secret_path")
}

func TestCreateForbiddenForReader(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/credentials", "reader", map[string]any{
		"customer_id": "cust-1",
		"vendor_id":   "vendor-1",
		"access_key":  "AK",
		"secret_key":  "SK",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestContextAndReveal(t *testing.T) {
	router, _ := newTestServer(t)
	created := createCredential(t, router)
	id := created["id"].(string)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/credentials/"+id+"/context", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cctx map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cctx))
	assert.NotEmpty(t, cctx["secret_path"])
	assert.NotContains(t, rec.Body.String(), "secret_key")

	rec = doRequest(t, router, http.MethodPost, "/api/v1/credentials/"+id+"/reveal", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var revealed map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revealed))
	assert.Equal(t, "AK_12345", revealed["access_key"])
	assert.Equal(t, "SK_67890", revealed["secret_key"])
}

func TestUpdateAndDeleteFlow(t *testing.T) {
	router, _ := newTestServer(t)
	created := createCredential(t, router)
	id := created["id"].(string)

	rec := doRequest(t, router, http.MethodPatch, "/api/v1/credentials/"+id, "writer", map[string]any{
		"secret_key": "SK_NEW",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPost, "/api/v1/credentials/"+id+"/reveal", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var revealed map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &revealed))
	assert.Equal(t, "SK_NEW", revealed["secret_key"])

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/credentials/"+id, "writer", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/credentials/"+id, "writer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "second delete surfaces NotFound")
}

func TestEmptyOptionalFieldsNormalizedToAbsent(t *testing.T) {
	router, store := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/credentials", "writer", map[string]any{
		"customer_id":   "cust-1",
		"vendor_id":     "vendor-1",
		"access_key":    "AK_12345",
		"secret_key":    "SK_67890",
		"resource_user": "",
		"labels":        "  ",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	row, err := store.GetCredential(context.Background(), created["id"].(string))
	require.NoError(t, err)
	assert.Nil(t, row.ResourceUser)
	assert.Nil(t, row.Labels)
}

func TestUpdateNormalizesEmptyOptionalFields(t *testing.T) {
	router, store := newTestServer(t)
	created := createCredential(t, router)
	id := created["id"].(string)

	rec := doRequest(t, router, http.MethodPatch, "/api/v1/credentials/"+id, "writer", map[string]any{
		"resource_user": "svc-account",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/credentials/"+id, "writer", map[string]any{
		"access_key":    "AK_NEW",
		"resource_user": "",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	row, err := store.GetCredential(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, row.ResourceUser)
	assert.Equal(t, "svc-account", *row.ResourceUser, "blank optional fields leave the stored value untouched")

	rec = doRequest(t, router, http.MethodPatch, "/api/v1/credentials/"+id, "writer", map[string]any{
		"resource_user": "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "an update of only blank fields carries no change")
}

func TestGrantAdministration(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doRequest(t, router, http.MethodPost, "/api/v1/permissions", "writer", map[string]any{
		"user_id":         "newbie",
		"customer_id":     "cust-1",
		"permission_type": "read",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/api/v1/permissions", "admin", map[string]any{
		"user_id":         "newbie",
		"customer_id":     "cust-1",
		"permission_type": "read",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var grant map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grant))
	grantID := grant["id"].(string)

	rec = doRequest(t, router, http.MethodGet, "/api/v1/permissions?user_id=newbie", "admin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), grantID)

	rec = doRequest(t, router, http.MethodDelete, "/api/v1/permissions/"+grantID, "admin", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAuditQueryScoping(t *testing.T) {
	router, _ := newTestServer(t)
	createCredential(t, router)

	rec := doRequest(t, router, http.MethodGet, "/api/v1/audit?customer_id=cust-1", "reader", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "create_credential")

	rec = doRequest(t, router, http.MethodGet, "/api/v1/audit", "reader", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "unscoped query needs a wildcard grant")

	rec = doRequest(t, router, http.MethodGet, "/api/v1/audit", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
