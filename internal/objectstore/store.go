// Package objectstore persists offloaded run payloads. The HTTP store talks
// to a presigned-upload gateway; the in-memory store backs tests and local
// development.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"runflow/backend/internal/runs"
)

// HTTPClient is the subset of http.Client the store uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPStore uploads payload bodies with a PUT per object. Object paths are
// keyed by run friendly id, so a retried trigger with a fresh id never
// overwrites a previous upload.
type HTTPStore struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	logger     *slog.Logger
}

// NewHTTPStore creates an HTTPStore against the given upload gateway.
func NewHTTPStore(baseURL, apiKey string, logger *slog.Logger) *HTTPStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// NewHTTPStoreWithClient creates an HTTPStore with a custom HTTP client.
func NewHTTPStoreWithClient(baseURL, apiKey string, client HTTPClient, logger *slog.Logger) *HTTPStore {
	store := NewHTTPStore(baseURL, apiKey, logger)
	store.httpClient = client
	return store
}

// Upload PUTs the object body under the environment's prefix.
func (s *HTTPStore) Upload(ctx context.Context, filename string, data []byte, contentType string, env *runs.RuntimeEnvironment) error {
	url := fmt.Sprintf("%s/%s/%s", s.baseURL, env.Slug, strings.TrimLeft(filename, "/"))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to upload %s: status %d", filename, resp.StatusCode)
	}

	s.logger.Debug("Uploaded object", "filename", filename, "size", len(data))
	return nil
}

// MemoryStore keeps uploads in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]StoredObject
}

// StoredObject is one in-memory upload.
type StoredObject struct {
	Data        []byte
	ContentType string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]StoredObject)}
}

// Upload stores the object under filename.
func (s *MemoryStore) Upload(ctx context.Context, filename string, data []byte, contentType string, env *runs.RuntimeEnvironment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	body := make([]byte, len(data))
	copy(body, data)
	s.objects[filename] = StoredObject{Data: body, ContentType: contentType}
	return nil
}

// Get returns a stored object.
func (s *MemoryStore) Get(filename string) (StoredObject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[filename]
	return obj, ok
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
