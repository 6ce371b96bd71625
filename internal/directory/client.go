package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/traveltour/important-info-api/internal/models"
	appErrors "github.com/traveltour/important-info-api/pkg/errors"
)

// User is one entry of the roster snapshot returned by the main API.
type User struct {
	ID   string          `json:"id"`
	Role models.UserRole `json:"role"`
}

type listUsersResponse struct {
	Success bool   `json:"success"`
	Users   []User `json:"users"`
}

// Client fetches the user roster from the main API. The roster service is
// best-effort: callers must tolerate errors and empty snapshots.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a directory client with a bounded request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// ListUsers returns the current roster, forwarding the caller's bearer token.
func (c *Client) ListUsers(ctx context.Context, bearerToken string) ([]User, error) {
	url := c.baseURL + "/api/auth/users"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "build directory request")
	}
	if bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+bearerToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "directory request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, appErrors.Wrap(
			fmt.Errorf("directory returned status %d", resp.StatusCode),
			appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "directory request rejected")
	}

	var payload listUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "decode directory response")
	}
	if !payload.Success {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "directory reported failure")
	}
	return payload.Users, nil
}
