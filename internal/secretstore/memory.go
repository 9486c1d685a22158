package secretstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	svcerr "github.com/R3E-Network/credential_layer/internal/errors"
)

// Memory is an in-memory Store for tests and local development. It is safe
// for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]string
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]string)}
}

func normalize(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Write upserts the record at path.
func (m *Memory) Write(_ context.Context, path string, data map[string]string) error {
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[normalize(path)] = cp
	return nil
}

// Read returns the record at path.
func (m *Memory) Read(_ context.Context, path string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.records[normalize(path)]
	if !ok {
		return nil, svcerr.SecretNotFound(path)
	}
	cp := make(map[string]string, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return cp, nil
}

// Delete removes the record at path; absent paths are a no-op.
func (m *Memory) Delete(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, normalize(path))
	return nil
}

// List returns the keys directly below prefix. Directory entries carry a
// trailing slash, matching KV v2 LIST semantics.
func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	prefix = normalize(prefix)
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var keys []string
	for path := range m.records {
		rest := path
		if prefix != "" {
			if !strings.HasPrefix(path, prefix+"/") {
				continue
			}
			rest = strings.TrimPrefix(path, prefix+"/")
		}
		key := rest
		if i := strings.Index(rest, "/"); i >= 0 {
			key = rest[:i+1]
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Len reports the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
