// Package server exposes the claim lifecycle over HTTP. Every handler
// resolves the authenticated principal to a directory actor per request, so
// promotions and consent changes apply immediately.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/engine/access"
	"hourline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"forbidden"`
	Message string         `json:"message" example:"forbidden"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Hourline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Hourline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerOrgs(group, cfg.Engine)
	registerActors(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerClaims(group, cfg.Engine)
	registerLeaderboard(group, cfg.Engine)
	registerAuditLog(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps engine errors to the wire envelope. All authorization
// failures collapse into one generic forbidden response so callers cannot
// probe which rule fired or whether a hidden claim exists.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, engine.ErrConsentRequired) {
		return newAPIError(http.StatusForbidden, "consent_required", err.Error(), nil)
	}
	var fe access.ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", "forbidden", nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", "not found", nil)
	}
	if errors.Is(err, repo.ErrInvalidTransition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	}
	if errors.Is(err, repo.ErrMissingComment) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "unknown") ||
		strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") ||
		strings.Contains(lowered, "must"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// requireActor resolves the principal to a directory actor.
func requireActor(ctx context.Context, e *engine.Engine) (domain.Actor, huma.StatusError) {
	actorID, authErr := actorIDFromContext(ctx)
	if authErr != nil {
		return domain.Actor{}, authErr
	}
	actor, err := e.ResolveActor(ctx, actorID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Actor{}, newAPIError(http.StatusUnauthorized, "unauthorized", "unknown actor", nil)
		}
		return domain.Actor{}, handleError(err)
	}
	return actor, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerOrgs(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create organization",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, handleError(access.ForbiddenError{Reason: "only admins create organizations"})
		}
		o, err := e.CreateOrg(ctx, actor.ID, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List organizations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OrgResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOrgs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]OrgResponse, 0, len(items))
		for _, o := range items {
			res = append(res, orgResponse(o))
		}
		return &struct {
			Body []OrgResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerActors(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "register-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Register actor",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body RegisterActorRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		caller, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if caller.Role != domain.RoleAdmin && caller.Role != domain.RoleCoordinator {
			return nil, handleError(access.ForbiddenError{Reason: "role may not register actors"})
		}
		opts := engine.RegisterActorOptions{
			ID:          input.Body.ID,
			OrgID:       input.Body.OrgID,
			Role:        domain.Role(input.Body.Role),
			DisplayName: input.Body.DisplayName,
			Minor:       input.Body.Minor,
		}
		if caller.Role == domain.RoleCoordinator {
			// Coordinators onboard into their own organization only.
			if opts.OrgID != caller.OrgID || opts.Role == domain.RoleAdmin {
				return nil, handleError(access.ForbiddenError{Reason: "coordinator may not register outside their organization"})
			}
		}
		a, err := e.RegisterActor(ctx, caller.ID, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-actor",
		Method:      http.MethodGet,
		Path:        "/actors/{id}",
		Summary:     "Get actor",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		a, err := e.Repo.GetActor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current actor",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(actor)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-consent",
		Method:      http.MethodPut,
		Path:        "/actors/{id}/consent",
		Summary:     "Record guardian consent",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SetConsentRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetConsent(ctx, actor, input.ID, domain.ConsentStatus(input.Body.Status)); err != nil {
			return nil, handleError(err)
		}
		a, err := e.Repo.GetActor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})
}

func registerEvents(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-event",
		Method:        http.MethodPost,
		Path:          "/events",
		Summary:       "Create event",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateEventRequest `json:"body"`
	}) (*struct {
		Body EventResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d := engine.EventDraft{
			Title:           input.Body.Title,
			StartsAt:        stringOrEmpty(input.Body.StartsAt),
			Capacity:        input.Body.Capacity,
			DurationMinutes: input.Body.DurationMinutes,
		}
		if input.Body.ID != nil {
			d.ID = *input.Body.ID
		}
		evt, err := e.CreateEvent(ctx, actor, d)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body EventResponse `json:"body"`
		}{Body: eventResponse(evt)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		OrgID string `query:"org_id"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		orgID := input.OrgID
		if actor.Role != domain.RoleAdmin {
			orgID = actor.OrgID
		}
		items, err := e.Repo.ListEvents(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-delegate",
		Method:        http.MethodPost,
		Path:          "/events/{id}/delegates",
		Summary:       "Delegate event review authority",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string          `path:"id"`
		Body DelegateRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Delegate(ctx, actor, input.ID, input.Body.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-delegate",
		Method:      http.MethodDelete,
		Path:        "/events/{id}/delegates/{actor_id}",
		Summary:     "Revoke event delegation",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		ActorID string `path:"actor_id"`
	}) (*struct{}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Undelegate(ctx, actor, input.ID, input.ActorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-delegates",
		Method:      http.MethodGet,
		Path:        "/events/{id}/delegates",
		Summary:     "List event delegates",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []string `json:"body"`
	}, error) {
		if _, authErr := requireActor(ctx, e); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetEvent(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		ids, err := e.Repo.ListDelegatesFor(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if ids == nil {
			ids = []string{}
		}
		return &struct {
			Body []string `json:"body"`
		}{Body: ids}, nil
	})
}

func registerClaims(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-claim",
		Method:        http.MethodPost,
		Path:          "/claims",
		Summary:       "Submit claim",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SubmitClaimRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		d := engine.Draft{
			Kind:        domain.ClaimKind(input.Body.Kind),
			EventID:     stringOrEmpty(input.Body.EventID),
			Hours:       input.Body.Hours,
			ProofRef:    stringOrEmpty(input.Body.ProofRef),
			Description: stringOrEmpty(input.Body.Description),
		}
		c, err := e.Submit(ctx, actor, d)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-claims",
		Method:      http.MethodGet,
		Path:        "/claims",
		Summary:     "List visible claims",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		State   string `query:"state" enum:"pending,approved,rejected,"`
		Kind    string `query:"kind" enum:"scheduled_event,donation,ad_hoc_service,other,"`
		EventID string `query:"event_id"`
		OrgID   string `query:"org_id"`
		Search  string `query:"q"`
		Limit   int    `query:"limit" default:"50"`
		Cursor  string `query:"cursor"`
	}) (*struct {
		Body paginatedClaims `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		opts := engine.ListOptions{
			State:           domain.ClaimState(input.State),
			Kind:            domain.ClaimKind(input.Kind),
			EventID:         input.EventID,
			OrgID:           input.OrgID,
			Search:          input.Search,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		}
		claims, err := e.List(ctx, actor, opts)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedClaims{Items: []ClaimResponse{}}
		if len(claims) > limit {
			resp.NextCursor = composeCursor(claims[limit].CreatedAt, claims[limit].ID)
			claims = claims[:limit]
		}
		resp.Items = mapClaims(claims)
		return &struct {
			Body paginatedClaims `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-claim",
		Method:      http.MethodGet,
		Path:        "/claims/{id}",
		Summary:     "Get claim",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Get(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-claim",
		Method:      http.MethodPost,
		Path:        "/claims/{id}/review",
		Summary:     "Review claim",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ReviewClaimRequest `json:"body"`
	}) (*struct {
		Body ClaimResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.Review(ctx, actor, input.ID, domain.ClaimState(input.Body.Decision),
			stringOrEmpty(input.Body.Comment), input.Body.HoursAwarded)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ClaimResponse `json:"body"`
		}{Body: claimResponse(c)}, nil
	})
}

func registerLeaderboard(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/leaderboard",
		Summary:     "Approved-hours leaderboard",
	}, func(ctx context.Context, input *struct {
		OrgID string `query:"org_id"`
		Limit int    `query:"limit" default:"20"`
	}) (*struct {
		Body []LeaderboardRowResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		orgID := input.OrgID
		if actor.Role != domain.RoleAdmin {
			orgID = actor.OrgID
		}
		rows, err := e.Leaderboard(ctx, orgID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []LeaderboardRowResponse `json:"body"`
		}{Body: mapLeaderboard(rows)}, nil
	})
}

func registerAuditLog(api huma.API, e *engine.Engine) {
	type paginatedAudit struct {
		Items      []AuditEventResponse `json:"items"`
		NextCursor string               `json:"next_cursor,omitempty"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"org,actor,event,claim,"`
		EntityID   string `query:"entity_id"`
		OrgID      string `query:"org_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		orgID := input.OrgID
		switch actor.Role {
		case domain.RoleAdmin:
		case domain.RoleCoordinator:
			orgID = actor.OrgID
		default:
			return nil, handleError(access.ForbiddenError{Reason: "role may not read the audit log"})
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestAuditEventsFrom(ctx, limit+1, cursorID, orgID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []AuditEventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit].ID)
			items = items[:limit]
		}
		resp.Items = mapAuditEvents(items)
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAPIKeys(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/apikeys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin && actor.ID != input.Body.ActorID {
			return nil, handleError(access.ForbiddenError{Reason: "actor may only mint their own keys"})
		}
		secret := uuid.NewString()
		key := domain.APIKey{
			ID:      uuid.NewString(),
			ActorID: input.Body.ActorID,
			Name:    input.Body.Name,
			KeyHash: repo.HashAPIKey(secret),
		}
		if err := e.Repo.InsertAPIKey(ctx, nil, key); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetAPIKeyByHash(ctx, key.KeyHash)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{
			ID:        stored.ID,
			ActorID:   stored.ActorID,
			Name:      stored.Name,
			Key:       secret,
			CreatedAt: stored.CreatedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/apikeys",
		Summary:     "List API keys",
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		actorID := input.ActorID
		if actor.Role != domain.RoleAdmin {
			actorID = actor.ID
		}
		keys, err := e.Repo.ListAPIKeys(ctx, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]APIKeyResponse, 0, len(keys))
		for _, k := range keys {
			res = append(res, APIKeyResponse{
				ID:        k.ID,
				ActorID:   k.ActorID,
				Name:      k.Name,
				CreatedAt: k.CreatedAt,
			})
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/apikeys/{id}",
		Summary:     "Delete API key",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := requireActor(ctx, e)
		if authErr != nil {
			return nil, authErr
		}
		if actor.Role != domain.RoleAdmin {
			return nil, handleError(access.ForbiddenError{Reason: "only admins delete keys"})
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	buf, _ := io.ReadAll(req.Body)
	return buf
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Hourline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}
