package secretstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{BaseURL: srv.URL, Token: "test-token", Mount: "secret"})
	require.NoError(t, err)
	return client
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Token: "t"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "http://vault:8200"})
	assert.Error(t, err)

	_, err = New(Config{BaseURL: "not a url", Token: "t"})
	assert.Error(t, err)
}

func TestWriteAndReadURLs(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]map[string]string

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Vault-Token")
		if r.Method == http.MethodPost {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"data": map[string]string{"secret_key": "sealed"}},
		})
	})

	err := client.Write(context.Background(), "credentials/cust-1/cred-1/gen-1", map[string]string{"secret_key": "sealed"})
	require.NoError(t, err)
	assert.Equal(t, "/v1/secret/data/credentials/cust-1/cred-1/gen-1", gotPath)
	assert.Equal(t, "test-token", gotToken)
	assert.Equal(t, "sealed", gotBody["data"]["secret_key"])

	record, err := client.Read(context.Background(), "credentials/cust-1/cred-1/gen-1")
	require.NoError(t, err)
	assert.Equal(t, "sealed", record["secret_key"])
}

func TestReadMissingSecret(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.Read(context.Background(), "credentials/cust-1/cred-1/gen-1")
	require.Error(t, err)
	assert.Equal(t, svcerr.CodeSecretNotFound, svcerr.CodeOf(err))
}

func TestDeleteIsIdempotent(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.Delete(context.Background(), "credentials/cust-1/cred-1/gen-1")
	assert.NoError(t, err)
	assert.Equal(t, "/v1/secret/metadata/credentials/cust-1/cred-1/gen-1", gotPath)
}

func TestAuthRejectionMapsToStoreAuth(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	err := client.Write(context.Background(), "p", map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Equal(t, svcerr.CodeStoreAuth, svcerr.CodeOf(err))
}

func TestServerErrorMapsToUnavailable(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Read(context.Background(), "p")
	require.Error(t, err)
	assert.Equal(t, svcerr.CodeStoreUnavailable, svcerr.CodeOf(err))
}

func TestSlowServerMapsToUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Read(ctx, "credentials/cust-1/cred-1/gen-1")
	require.Error(t, err)
	assert.Equal(t, svcerr.CodeUpstreamTimeout, svcerr.CodeOf(err))
}

func TestConnectionFailureMapsToUnavailable(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:1", Token: "t"})
	require.NoError(t, err)

	writeErr := client.Write(context.Background(), "p", map[string]string{"k": "v"})
	require.Error(t, writeErr)
	assert.Equal(t, svcerr.CodeStoreUnavailable, svcerr.CodeOf(writeErr))
}

func TestListReturnsKeys(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "LIST", r.Method)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"keys": []string{"cust-1/", "cust-2/"}},
		})
	})

	keys, err := client.List(context.Background(), "credentials")
	require.NoError(t, err)
	assert.Equal(t, []string{"cust-1/", "cust-2/"}, keys)
}

func TestListAbsentPrefix(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	keys, err := client.List(context.Background(), "credentials")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestNormalizePathStripsMount(t *testing.T) {
	var gotPath string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Write(context.Background(), "secret/credentials/c/1/g", map[string]string{"k": "v"}))
	assert.Equal(t, "/v1/secret/data/credentials/c/1/g", gotPath)
}

func TestMemoryListDirectChildren(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.Write(ctx, "credentials/c1/cred1/g1", map[string]string{"k": "v"}))
	require.NoError(t, mem.Write(ctx, "credentials/c1/cred2/g1", map[string]string{"k": "v"}))
	require.NoError(t, mem.Write(ctx, "credentials/c2/cred1/g1", map[string]string{"k": "v"}))

	customers, err := mem.List(ctx, "credentials")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1/", "c2/"}, customers)

	creds, err := mem.List(ctx, "credentials/c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"cred1/", "cred2/"}, creds)

	gens, err := mem.List(ctx, "credentials/c1/cred1")
	require.NoError(t, err)
	assert.Equal(t, []string{"g1"}, gens)
}
