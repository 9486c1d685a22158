// Package secretstore abstracts the path-addressed external secret backend
// holding encrypted credential material.
package secretstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
)

const (
	defaultTimeout     = 15 * time.Second
	defaultMaxBodySize = 1 << 20 // 1MiB

	tokenHeader = "X-Vault-Token"
)

// Store is the secret backend surface the engine consumes. Write is an
// idempotent upsert; Delete removes all versions and succeeds when the path
// is already absent; List enumerates keys below a prefix for the sweeper.
type Store interface {
	Write(ctx context.Context, path string, data map[string]string) error
	Read(ctx context.Context, path string) (map[string]string, error)
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Config configures the KV client.
type Config struct {
	// BaseURL is the base URL of the secret store (e.g. https://vault:8200).
	BaseURL string
	// Token authenticates every request.
	Token string
	// Mount is the KV v2 mount name, "secret" by default.
	Mount string
	// HTTPClient is used to execute requests; a default client with a
	// conservative timeout is used when nil.
	HTTPClient *http.Client
	// MaxBodyBytes caps response bodies to prevent memory exhaustion.
	MaxBodyBytes int64
}

// Client talks to a Vault-style KV v2 backend over HTTP.
type Client struct {
	baseURL      string
	token        string
	mount        string
	httpClient   *http.Client
	maxBodyBytes int64
}

var _ Store = (*Client)(nil)

// New creates a secret store client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("secretstore: BaseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("secretstore: BaseURL must be a valid URL")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("secretstore: BaseURL scheme must be http or https")
	}
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("secretstore: Token is required")
	}

	mount := strings.Trim(strings.TrimSpace(cfg.Mount), "/")
	if mount == "" {
		mount = "secret"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if client.Timeout == 0 {
		client.Timeout = defaultTimeout
	}

	maxBodyBytes := cfg.MaxBodyBytes
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultMaxBodySize
	}

	return &Client{
		baseURL:      baseURL,
		token:        strings.TrimSpace(cfg.Token),
		mount:        mount,
		httpClient:   client,
		maxBodyBytes: maxBodyBytes,
	}, nil
}

// normalizePath strips the mount prefix callers sometimes include, matching
// the KV v2 convention of addressing below the mount.
func (c *Client) normalizePath(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	return strings.TrimPrefix(path, c.mount+"/")
}

func (c *Client) dataURL(path string) string {
	return c.baseURL + "/v1/" + c.mount + "/data/" + escapePath(c.normalizePath(path))
}

func (c *Client) metadataURL(path string) string {
	return c.baseURL + "/v1/" + c.mount + "/metadata/" + escapePath(c.normalizePath(path))
}

func escapePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}

// Write upserts the secret record at path.
func (c *Client) Write(ctx context.Context, path string, data map[string]string) error {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return svcerr.Internal("encode secret payload", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.dataURL(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return c.statusError(resp, path)
}

// Read returns the secret record at path.
func (c *Client) Read(ctx context.Context, path string) (map[string]string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.dataURL(path), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, svcerr.SecretNotFound(path)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, path)
	}

	var out struct {
		Data struct {
			Data map[string]string `json:"data"`
		} `json:"data"`
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err := dec.Decode(&out); err != nil {
		return nil, svcerr.SecretStoreUnavailable(fmt.Errorf("decode response: %w", err))
	}
	if out.Data.Data == nil {
		return nil, svcerr.SecretNotFound(path)
	}
	return out.Data.Data, nil
}

// Delete removes all versions and metadata at path. Deleting an absent path
// is a no-op so rotation rollbacks never fail on a double delete.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.metadataURL(path), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return c.statusError(resp, path)
	}
}

// List enumerates keys directly below prefix. An absent prefix yields an
// empty list.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	resp, err := c.do(ctx, "LIST", c.metadataURL(prefix), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, prefix)
	}

	var out struct {
		Data struct {
			Keys []string `json:"keys"`
		} `json:"data"`
	}
	dec := json.NewDecoder(io.LimitReader(resp.Body, c.maxBodyBytes))
	if err := dec.Decode(&out); err != nil {
		return nil, svcerr.SecretStoreUnavailable(fmt.Errorf("decode response: %w", err))
	}
	return out.Data.Keys, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, svcerr.Internal("create request", err)
	}
	req.Header.Set(tokenHeader, c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, svcerr.UpstreamTimeout("secret store request", err)
		}
		return nil, svcerr.SecretStoreUnavailable(err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response, path string) error {
	msg := ""
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		msg = strings.TrimSpace(string(body))
	}
	err := fmt.Errorf("%s: %s", resp.Status, msg)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return svcerr.SecretStoreAuth(err).WithDetails("path", path)
	}
	return svcerr.SecretStoreUnavailable(err)
}
