package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/migrate"
)

type testServer struct {
	URL    string
	Engine *engine.Engine
	client *http.Client
	close  func()
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	require.NoError(t, migrate.Migrate(conn))

	cfg := config.Default()
	cfg.Auth.AllowLegacyActorHeader = true
	e := engine.New(conn, cfg)

	ctx := context.Background()
	_, err = e.CreateOrg(ctx, "seed", "org-1", "Lincoln High")
	require.NoError(t, err)
	seed := []engine.RegisterActorOptions{
		{ID: "coord-1", OrgID: "org-1", Role: domain.RoleCoordinator},
		{ID: "stu-1", OrgID: "org-1", Role: domain.RoleStudent},
		{ID: "stu-2", OrgID: "org-1", Role: domain.RoleStudent},
		{ID: "adm-1", Role: domain.RoleAdmin},
	}
	for _, opts := range seed {
		_, err := e.RegisterActor(ctx, "seed", opts)
		require.NoError(t, err)
	}

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth: AuthConfig{
			AllowLegacyActorHeader: true,
			Logger:                 zap.NewNop(),
		},
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.close)
	return ts
}

func (s *testServer) doJSON(t *testing.T, method, path, actorID string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actorID != "" {
		req.Header.Set("X-Actor-Id", actorID)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func TestClaimRoundTrip(t *testing.T) {
	srv := newTestServer(t)

	res, data := srv.doJSON(t, http.MethodPost, "/v1/claims", "stu-1", map[string]any{
		"kind":  "other",
		"hours": 2.5,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.Equal(t, "pending", created.State)
	require.Equal(t, "stu-1", created.OwnerID)

	// Owner sees it in their listing.
	res, data = srv.doJSON(t, http.MethodGet, "/v1/claims", "stu-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page paginatedClaims
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)

	// Another student sees nothing.
	res, data = srv.doJSON(t, http.MethodGet, "/v1/claims", "stu-2", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &page))
	require.Empty(t, page.Items)

	// Coordinator approves.
	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "coord-1", map[string]any{
		"decision": "approved",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var reviewed ClaimResponse
	require.NoError(t, json.Unmarshal(data, &reviewed))
	require.Equal(t, "approved", reviewed.State)
	require.NotNil(t, reviewed.ReviewerID)

	// The decision is final: a second review conflicts.
	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "coord-1", map[string]any{
		"decision": "rejected",
		"comment":  "never mind",
	})
	require.Equal(t, http.StatusConflict, res.StatusCode)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "invalid_transition", envelope.Error.Code)

	// Admin sees the decided claim.
	res, data = srv.doJSON(t, http.MethodGet, "/v1/claims", "adm-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &page))
	require.Len(t, page.Items, 1)
}

func TestForbiddenIsGeneric(t *testing.T) {
	srv := newTestServer(t)

	res, data := srv.doJSON(t, http.MethodPost, "/v1/claims", "stu-1", map[string]any{
		"kind":  "other",
		"hours": 1,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(data, &created))

	// A peer student cannot review; the response reveals no rule detail.
	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "stu-2", map[string]any{
		"decision": "approved",
	})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "forbidden", envelope.Error.Code)
	require.Equal(t, "forbidden", envelope.Error.Message)

	// Admins get the same generic answer.
	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "adm-1", map[string]any{
		"decision": "approved",
	})
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "forbidden", envelope.Error.Code)
}

func TestRejectionWithoutCommentFails(t *testing.T) {
	srv := newTestServer(t)

	_, data := srv.doJSON(t, http.MethodPost, "/v1/claims", "stu-1", map[string]any{
		"kind":  "other",
		"hours": 1,
	})
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(data, &created))

	res, data := srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "coord-1", map[string]any{
		"decision": "rejected",
	})
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	require.Equal(t, "validation_failed", envelope.Error.Code)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	res, _ := srv.doJSON(t, http.MethodGet, "/v1/claims", "", nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Health stays open.
	res, _ = srv.doJSON(t, http.MethodGet, "/v1/health", "", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestDelegationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	res, data := srv.doJSON(t, http.MethodPost, "/v1/events", "coord-1", map[string]any{
		"id":               "ev-1",
		"title":            "Food bank shift",
		"duration_minutes": 120,
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = srv.doJSON(t, http.MethodPost, "/v1/events/ev-1/delegates", "coord-1", map[string]any{
		"actor_id": "stu-1",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	// Delegation promoted the student.
	res, data = srv.doJSON(t, http.MethodGet, "/v1/actors/stu-1", "coord-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var a ActorResponse
	require.NoError(t, json.Unmarshal(data, &a))
	require.Equal(t, "student_coordinator", a.Role)

	// A peer submits against the event; the delegate reviews it.
	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims", "stu-2", map[string]any{
		"kind":     "scheduled_event",
		"event_id": "ev-1",
	})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var created ClaimResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.Equal(t, 2.0, created.Hours)

	// Shadowed from the coordinator's listing.
	res, data = srv.doJSON(t, http.MethodGet, "/v1/claims", "coord-1", nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var page paginatedClaims
	require.NoError(t, json.Unmarshal(data, &page))
	require.Empty(t, page.Items)

	res, data = srv.doJSON(t, http.MethodPost, "/v1/claims/"+created.ID+"/review", "stu-1", map[string]any{
		"decision": "approved",
	})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
}
