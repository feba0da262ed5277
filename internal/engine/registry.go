package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"hourline/internal/audit"
	"hourline/internal/domain"
	"hourline/internal/engine/access"
	"hourline/internal/repo"
)

// CreateOrg registers an organization. Creating an existing organization is a
// no-op.
func (e *Engine) CreateOrg(ctx context.Context, actorID, orgID, name string) (domain.Organization, error) {
	if strings.TrimSpace(orgID) == "" {
		return domain.Organization{}, errors.New("organization id required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Organization{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureOrg(ctx, tx, orgID, name, e.now()); err != nil {
		return domain.Organization{}, err
	}
	if err := e.auditWriter().Append(ctx, tx, "org.created", orgID, "org", orgID, actorID, nil); err != nil {
		return domain.Organization{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Organization{}, err
	}
	return e.Repo.GetOrg(ctx, orgID)
}

// RegisterActorOptions describes a new actor record.
type RegisterActorOptions struct {
	ID          string
	OrgID       string
	Role        domain.Role
	DisplayName string
	Minor       bool
}

// RegisterActor creates an actor. Admins carry no organization; every other
// role must name an existing one.
func (e *Engine) RegisterActor(ctx context.Context, callerID string, opts RegisterActorOptions) (domain.Actor, error) {
	if strings.TrimSpace(opts.ID) == "" {
		return domain.Actor{}, errors.New("actor id required")
	}
	if !opts.Role.Valid() {
		return domain.Actor{}, fmt.Errorf("unknown role %q", opts.Role)
	}
	if opts.Role == domain.RoleAdmin {
		if opts.OrgID != "" {
			return domain.Actor{}, errors.New("admins are not scoped to an organization")
		}
	} else {
		if opts.OrgID == "" {
			return domain.Actor{}, errors.New("organization id required")
		}
		if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
			return domain.Actor{}, err
		}
	}
	a := domain.Actor{
		ID:          opts.ID,
		OrgID:       opts.OrgID,
		Role:        opts.Role,
		DisplayName: strings.TrimSpace(opts.DisplayName),
		Minor:       opts.Minor,
		Consent:     domain.ConsentNone,
		CreatedAt:   e.now(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Actor{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertActor(ctx, tx, a); err != nil {
		return domain.Actor{}, err
	}
	payload := audit.Payload{"role": string(a.Role), "minor": a.Minor}
	if err := e.auditWriter().Append(ctx, tx, "actor.registered", a.OrgID, "actor", a.ID, callerID, payload); err != nil {
		return domain.Actor{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Actor{}, err
	}
	return a, nil
}

// SetConsent records a guardian-consent decision for a minor. Only a
// coordinator of the same organization or an admin may record it.
func (e *Engine) SetConsent(ctx context.Context, actor domain.Actor, targetID string, status domain.ConsentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("unknown consent status %q", status)
	}
	target, err := e.Repo.GetActor(ctx, targetID)
	if err != nil {
		return err
	}
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleCoordinator:
		if actor.OrgID == "" || actor.OrgID != target.OrgID {
			return access.ForbiddenError{Reason: "actor may not record consent outside their organization"}
		}
	default:
		return access.ForbiddenError{Reason: "role may not record consent"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateActorConsent(ctx, tx, targetID, status); err != nil {
		return err
	}
	payload := audit.Payload{"status": string(status)}
	if err := e.auditWriter().Append(ctx, tx, "consent.updated", target.OrgID, "actor", targetID, actor.ID, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// EventDraft is the caller-supplied portion of a new event.
type EventDraft struct {
	ID              string
	Title           string
	StartsAt        string
	Capacity        int
	DurationMinutes *int
}

// CreateEvent creates a scheduled event organized by the acting coordinator.
func (e *Engine) CreateEvent(ctx context.Context, actor domain.Actor, d EventDraft) (domain.Event, error) {
	if actor.Role != domain.RoleCoordinator {
		return domain.Event{}, access.ForbiddenError{Reason: "only coordinators organize events"}
	}
	if strings.TrimSpace(d.Title) == "" {
		return domain.Event{}, errors.New("event title required")
	}
	if d.Capacity < 0 {
		return domain.Event{}, errors.New("capacity must not be negative")
	}
	if d.DurationMinutes != nil && *d.DurationMinutes <= 0 {
		return domain.Event{}, errors.New("duration must be positive")
	}
	evt := domain.Event{
		ID:              d.ID,
		OrgID:           actor.OrgID,
		CoordinatorID:   actor.ID,
		Title:           strings.TrimSpace(d.Title),
		StartsAt:        d.StartsAt,
		Capacity:        d.Capacity,
		DurationMinutes: d.DurationMinutes,
		CreatedAt:       e.now(),
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.StartsAt == "" {
		evt.StartsAt = evt.CreatedAt
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvent(ctx, tx, evt); err != nil {
		return domain.Event{}, err
	}
	payload := audit.Payload{"title": evt.Title, "starts_at": evt.StartsAt}
	if err := e.auditWriter().Append(ctx, tx, "event.created", evt.OrgID, "event", evt.ID, actor.ID, payload); err != nil {
		return domain.Event{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

// Delegate grants a student review authority over one event's claims. Only
// the organizing coordinator may delegate. A plain student is promoted to
// student-coordinator as a side effect; the promotion is reported but its
// failure does not undo the delegation.
func (e *Engine) Delegate(ctx context.Context, actor domain.Actor, eventID, delegateID string) error {
	evt, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if actor.ID != evt.CoordinatorID {
		return access.ForbiddenError{Reason: "only the organizing coordinator delegates"}
	}
	delegate, err := e.Directory.GetActor(ctx, delegateID)
	if err != nil {
		return err
	}
	if delegate.OrgID != evt.OrgID {
		return access.ForbiddenError{Reason: "delegate belongs to another organization"}
	}
	if delegate.Role == domain.RoleCoordinator || delegate.Role == domain.RoleAdmin {
		return fmt.Errorf("role %s cannot hold an event delegation", delegate.Role)
	}
	already, err := e.Repo.IsDelegate(ctx, eventID, delegateID)
	if err != nil {
		return err
	}
	if already {
		return nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.AddDelegation(ctx, tx, eventID, delegateID, e.now()); err != nil {
		return err
	}
	if err := e.auditWriter().Append(ctx, tx, "delegation.added", evt.OrgID, "event", eventID, actor.ID,
		audit.Payload{"delegate_id": delegateID}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if delegate.Role == domain.RoleStudent {
		if err := e.Directory.PromoteToCoordinatorRole(ctx, delegateID); err == nil {
			tx, err := e.DB.BeginTx(ctx, nil)
			if err == nil {
				_ = e.auditWriter().Append(ctx, tx, "actor.promoted", evt.OrgID, "actor", delegateID, actor.ID,
					audit.Payload{"role": string(domain.RoleStudentCoordinator)})
				_ = tx.Commit()
			}
		}
	}
	return nil
}

// Undelegate revokes an event delegation. Revocation does not demote the
// actor; they may still hold delegations on other events.
func (e *Engine) Undelegate(ctx context.Context, actor domain.Actor, eventID, delegateID string) error {
	evt, err := e.Repo.GetEvent(ctx, eventID)
	if err != nil {
		return err
	}
	if actor.ID != evt.CoordinatorID {
		return access.ForbiddenError{Reason: "only the organizing coordinator revokes delegations"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RemoveDelegation(ctx, tx, eventID, delegateID); err != nil {
		return err
	}
	if err := e.auditWriter().Append(ctx, tx, "delegation.removed", evt.OrgID, "event", eventID, actor.ID,
		audit.Payload{"delegate_id": delegateID}); err != nil {
		return err
	}
	return tx.Commit()
}

// Leaderboard ranks actors by credited hours from approved claims.
func (e *Engine) Leaderboard(ctx context.Context, orgID string, limit int) ([]domain.LeaderboardRow, error) {
	if limit <= 0 {
		limit = 20
	}
	return e.Repo.ApprovedHoursByActor(ctx, orgID, limit)
}

// ResolveActor loads the acting identity for a request.
func (e *Engine) ResolveActor(ctx context.Context, actorID string) (domain.Actor, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.Actor{}, repo.ErrNotFound
	}
	return e.Directory.GetActor(ctx, actorID)
}
