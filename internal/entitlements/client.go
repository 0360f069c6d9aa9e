// Package entitlements asks the billing collaborator whether an organization
// may trigger runs.
package entitlements

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"runflow/backend/internal/runs"
)

// HTTPClient is the subset of http.Client the client uses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client implements runs.EntitlementClient against the billing API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient HTTPClient
	logger     *slog.Logger
}

// New creates a Client for the given billing API base URL.
func New(baseURL, apiKey string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NewWithHTTPClient creates a Client with a custom HTTP client.
func NewWithHTTPClient(baseURL, apiKey string, httpClient HTTPClient, logger *slog.Logger) *Client {
	c := New(baseURL, apiKey, logger)
	c.httpClient = httpClient
	return c
}

// Get fetches the entitlement verdict for an organization. A 404 means the
// billing service does not know the organization; access is granted in that
// case (nil result).
func (c *Client) Get(ctx context.Context, organizationID pgtype.UUID) (*runs.EntitlementResult, error) {
	orgID := uuidToString(organizationID)
	url := fmt.Sprintf("%s/v1/organizations/%s/entitlement", c.baseURL, orgID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch entitlement for %s: %w", orgID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.logger.Debug("Organization unknown to billing, granting access", "organization_id", orgID)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("entitlement check for %s failed: status %d", orgID, resp.StatusCode)
	}

	var result runs.EntitlementResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode entitlement response: %w", err)
	}
	return &result, nil
}

func uuidToString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
