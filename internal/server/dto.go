package server

import (
	"hourline/internal/domain"
)

type SubmitClaimRequest struct {
	Kind        string   `json:"kind" enum:"scheduled_event,donation,ad_hoc_service,other"`
	EventID     *string  `json:"event_id,omitempty"`
	Hours       *float64 `json:"hours,omitempty"`
	ProofRef    *string  `json:"proof_ref,omitempty"`
	Description *string  `json:"description,omitempty"`
}

type ReviewClaimRequest struct {
	Decision     string   `json:"decision" enum:"approved,rejected"`
	Comment      *string  `json:"comment,omitempty"`
	HoursAwarded *float64 `json:"hours_awarded,omitempty"`
}

type ClaimResponse struct {
	ID            string   `json:"id"`
	OwnerID       string   `json:"owner_id"`
	OrgID         string   `json:"org_id"`
	Kind          string   `json:"kind"`
	EventID       *string  `json:"event_id,omitempty"`
	Hours         float64  `json:"hours"`
	HoursAwarded  *float64 `json:"hours_awarded,omitempty"`
	ProofRef      *string  `json:"proof_ref,omitempty"`
	Description   string   `json:"description,omitempty"`
	State         string   `json:"state"`
	ReviewerID    *string  `json:"reviewer_id,omitempty"`
	ReviewComment *string  `json:"review_comment,omitempty"`
	CreatedAt     string   `json:"created_at"`
	ReviewedAt    *string  `json:"reviewed_at,omitempty"`
}

func claimResponse(c domain.Claim) ClaimResponse {
	return ClaimResponse{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		OrgID:         c.OrgID,
		Kind:          string(c.Kind),
		EventID:       c.EventID,
		Hours:         c.Hours,
		HoursAwarded:  c.HoursAwarded,
		ProofRef:      c.ProofRef,
		Description:   c.Description,
		State:         string(c.State),
		ReviewerID:    c.ReviewerID,
		ReviewComment: c.ReviewComment,
		CreatedAt:     c.CreatedAt,
		ReviewedAt:    c.ReviewedAt,
	}
}

func mapClaims(items []domain.Claim) []ClaimResponse {
	res := make([]ClaimResponse, 0, len(items))
	for _, c := range items {
		res = append(res, claimResponse(c))
	}
	return res
}

type paginatedClaims struct {
	Items      []ClaimResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type CreateOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type OrgResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at"`
}

func orgResponse(o domain.Organization) OrgResponse {
	return OrgResponse{ID: o.ID, Name: o.Name, CreatedAt: o.CreatedAt}
}

type RegisterActorRequest struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id,omitempty"`
	Role        string `json:"role" enum:"student,student_coordinator,coordinator,admin"`
	DisplayName string `json:"display_name,omitempty"`
	Minor       bool   `json:"minor,omitempty"`
}

type ActorResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id,omitempty"`
	Role        string `json:"role"`
	DisplayName string `json:"display_name,omitempty"`
	Minor       bool   `json:"minor"`
	Consent     string `json:"consent"`
	CreatedAt   string `json:"created_at"`
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:          a.ID,
		OrgID:       a.OrgID,
		Role:        string(a.Role),
		DisplayName: a.DisplayName,
		Minor:       a.Minor,
		Consent:     string(a.Consent),
		CreatedAt:   a.CreatedAt,
	}
}

type SetConsentRequest struct {
	Status string `json:"status" enum:"none,pending,approved"`
}

type CreateEventRequest struct {
	ID              *string `json:"id,omitempty"`
	Title           string  `json:"title"`
	StartsAt        *string `json:"starts_at,omitempty" format:"date-time"`
	Capacity        int     `json:"capacity,omitempty"`
	DurationMinutes *int    `json:"duration_minutes,omitempty"`
}

type EventResponse struct {
	ID              string `json:"id"`
	OrgID           string `json:"org_id"`
	CoordinatorID   string `json:"coordinator_id"`
	Title           string `json:"title"`
	StartsAt        string `json:"starts_at"`
	Capacity        int    `json:"capacity"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:              e.ID,
		OrgID:           e.OrgID,
		CoordinatorID:   e.CoordinatorID,
		Title:           e.Title,
		StartsAt:        e.StartsAt,
		Capacity:        e.Capacity,
		DurationMinutes: e.DurationMinutes,
		CreatedAt:       e.CreatedAt,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	res := make([]EventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, eventResponse(e))
	}
	return res
}

type DelegateRequest struct {
	ActorID string `json:"actor_id"`
}

type LeaderboardRowResponse struct {
	ActorID     string  `json:"actor_id"`
	DisplayName string  `json:"display_name,omitempty"`
	OrgID       string  `json:"org_id,omitempty"`
	Hours       float64 `json:"hours"`
	Claims      int     `json:"claims"`
}

func mapLeaderboard(rows []domain.LeaderboardRow) []LeaderboardRowResponse {
	res := make([]LeaderboardRowResponse, 0, len(rows))
	for _, r := range rows {
		res = append(res, LeaderboardRowResponse{
			ActorID:     r.ActorID,
			DisplayName: r.DisplayName,
			OrgID:       r.OrgID,
			Hours:       r.Hours,
			Claims:      r.Claims,
		})
	}
	return res
}

type AuditEventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func mapAuditEvents(items []domain.AuditEvent) []AuditEventResponse {
	res := make([]AuditEventResponse, 0, len(items))
	for _, e := range items {
		res = append(res, AuditEventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			OrgID:      e.OrgID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return res
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at"`
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
