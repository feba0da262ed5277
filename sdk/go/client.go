package hourlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Hourline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Claim represents the API claim model.
type Claim struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	OrgID         string   `json:"org_id"`
	Kind          string   `json:"kind"`
	EventID       string   `json:"event_id,omitempty"`
	Hours         float64  `json:"hours"`
	HoursAwarded  *float64 `json:"hours_awarded,omitempty"`
	ProofRef      string   `json:"proof_ref,omitempty"`
	Description   string   `json:"description,omitempty"`
	State         string   `json:"state"`
	ReviewerID    string   `json:"reviewer_id,omitempty"`
	ReviewComment string   `json:"review_comment,omitempty"`
	CreatedAt     string   `json:"created_at"`
	ReviewedAt    string   `json:"reviewed_at,omitempty"`
}

// Event represents a scheduled service event.
type Event struct {
	ID              string `json:"id"`
	OrgID           string `json:"org_id"`
	CoordinatorID   string `json:"coordinator_id"`
	Title           string `json:"title"`
	StartsAt        string `json:"starts_at"`
	Capacity        int    `json:"capacity"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// LeaderboardRow aggregates approved hours per actor.
type LeaderboardRow struct {
	ActorID     string  `json:"actor_id"`
	DisplayName string  `json:"display_name,omitempty"`
	OrgID       string  `json:"org_id,omitempty"`
	Hours       float64 `json:"hours"`
	Claims      int     `json:"claims"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedClaims wraps claim listings with cursors.
type PaginatedClaims struct {
	Items      []Claim `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// SubmitClaimInput is the request body for SubmitClaim.
type SubmitClaimInput struct {
	Kind        string   `json:"kind"`
	EventID     string   `json:"event_id,omitempty"`
	Hours       *float64 `json:"hours,omitempty"`
	ProofRef    string   `json:"proof_ref,omitempty"`
	Description string   `json:"description,omitempty"`
}

// SubmitClaim submits a new claim for the authenticated actor.
func (c *Client) SubmitClaim(ctx context.Context, in SubmitClaimInput) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodPost, "v1/claims", in, &resp)
	return resp, err
}

// Claims lists visible claims, optionally filtered by state.
func (c *Client) Claims(ctx context.Context, state string, limit int) ([]Claim, error) {
	page, err := c.ClaimsPage(ctx, state, limit, "")
	return page.Items, err
}

// ClaimsPage returns a paginated claim listing.
func (c *Client) ClaimsPage(ctx context.Context, state string, limit int, cursor string) (PaginatedClaims, error) {
	q := url.Values{}
	if state != "" {
		q.Set("state", state)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/claims"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedClaims
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetClaim fetches one claim by id.
func (c *Client) GetClaim(ctx context.Context, id string) (Claim, error) {
	var resp Claim
	err := c.do(ctx, http.MethodGet, "v1/claims/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ReviewClaim approves or rejects a pending claim.
func (c *Client) ReviewClaim(ctx context.Context, id, decision, comment string, hoursAwarded *float64) (Claim, error) {
	body := map[string]any{
		"decision": decision,
	}
	if comment != "" {
		body["comment"] = comment
	}
	if hoursAwarded != nil {
		body["hours_awarded"] = *hoursAwarded
	}
	var resp Claim
	err := c.do(ctx, http.MethodPost, "v1/claims/"+url.PathEscape(id)+"/review", body, &resp)
	return resp, err
}

// CreateEvent creates a scheduled event organized by the authenticated
// coordinator.
func (c *Client) CreateEvent(ctx context.Context, title, startsAt string, capacity int, durationMinutes *int) (Event, error) {
	body := map[string]any{
		"title":    title,
		"capacity": capacity,
	}
	if startsAt != "" {
		body["starts_at"] = startsAt
	}
	if durationMinutes != nil {
		body["duration_minutes"] = *durationMinutes
	}
	var resp Event
	err := c.do(ctx, http.MethodPost, "v1/events", body, &resp)
	return resp, err
}

// AddDelegate grants a student review authority over an event.
func (c *Client) AddDelegate(ctx context.Context, eventID, actorID string) error {
	body := map[string]any{"actor_id": actorID}
	return c.do(ctx, http.MethodPost, "v1/events/"+url.PathEscape(eventID)+"/delegates", body, nil)
}

// Leaderboard returns the approved-hours ranking.
func (c *Client) Leaderboard(ctx context.Context, orgID string, limit int) ([]LeaderboardRow, error) {
	q := url.Values{}
	if orgID != "" {
		q.Set("org_id", orgID)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := "v1/leaderboard"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []LeaderboardRow
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
