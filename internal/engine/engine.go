// Package engine orchestrates the claim lifecycle: submission, role-scoped
// listing, and the one-shot review transition. Every mutation runs in a
// transaction with its audit record.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"hourline/internal/audit"
	"hourline/internal/config"
	"hourline/internal/domain"
	"hourline/internal/engine/access"
	"hourline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config

	Directory Directory
	Consent   ConsentGate
	Proofs    ProofStore
	Notifier  Notifier

	Now func() time.Time
}

// New wires an Engine with SQL-backed collaborators over the given database.
func New(db *sql.DB, cfg *config.Config) *Engine {
	r := repo.Repo{DB: db}
	if cfg == nil {
		cfg = config.Default()
	}
	return &Engine{
		DB:        db,
		Repo:      r,
		Audit:     audit.Writer{DB: db},
		Config:    cfg,
		Directory: sqlDirectory{repo: r},
		Consent:   sqlConsentGate{repo: r, cfg: cfg},
		Proofs:    opaqueProofStore{},
		Now:       time.Now,
	}
}

func (e *Engine) now() string {
	nowFn := e.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return nowFn().UTC().Format(time.RFC3339)
}

// Draft is the caller-supplied portion of a new claim.
type Draft struct {
	Kind        domain.ClaimKind
	EventID     string
	Hours       *float64
	ProofRef    string
	Description string
}

// Submit creates a pending claim owned by the actor. Scheduled-event claims
// are bound to an event in the actor's organization; when the caller leaves
// hours unset, the event duration fills them in.
func (e *Engine) Submit(ctx context.Context, actor domain.Actor, d Draft) (domain.Claim, error) {
	if !d.Kind.Valid() {
		return domain.Claim{}, fmt.Errorf("unknown claim kind %q", d.Kind)
	}
	if actor.OrgID == "" {
		return domain.Claim{}, errors.New("actor has no organization to claim against")
	}
	if d.Hours != nil && *d.Hours < 0 {
		return domain.Claim{}, errors.New("hours must not be negative")
	}

	ok, err := e.Consent.CanSubmit(ctx, actor.ID)
	if err != nil {
		return domain.Claim{}, err
	}
	if !ok {
		return domain.Claim{}, ErrConsentRequired
	}

	c := domain.Claim{
		ID:          uuid.NewString(),
		OwnerID:     actor.ID,
		OrgID:       actor.OrgID,
		Kind:        d.Kind,
		Description: strings.TrimSpace(d.Description),
		State:       domain.StatePending,
		CreatedAt:   e.now(),
	}

	switch d.Kind {
	case domain.KindScheduledEvent:
		if d.EventID == "" {
			return domain.Claim{}, errors.New("scheduled_event claims require an event id")
		}
		evt, err := e.Repo.GetEvent(ctx, d.EventID)
		if err != nil {
			return domain.Claim{}, err
		}
		if evt.OrgID != actor.OrgID {
			return domain.Claim{}, access.ForbiddenError{Reason: "event belongs to another organization"}
		}
		c.EventID = &evt.ID
		switch {
		case d.Hours != nil && *d.Hours > 0:
			c.Hours = *d.Hours
		case evt.DurationMinutes != nil:
			c.Hours = float64(*evt.DurationMinutes) / 60.0
		default:
			return domain.Claim{}, errors.New("hours required: event has no scheduled duration")
		}
	default:
		if d.EventID != "" {
			return domain.Claim{}, fmt.Errorf("%s claims may not reference an event", d.Kind)
		}
		if d.Hours != nil {
			c.Hours = *d.Hours
		}
	}

	if e.Config.ProofRequired(d.Kind) && strings.TrimSpace(d.ProofRef) == "" {
		return domain.Claim{}, fmt.Errorf("proof reference required for %s claims", d.Kind)
	}
	if strings.TrimSpace(d.ProofRef) != "" {
		ref, err := e.Proofs.Capture(ctx, actor.ID, strings.TrimSpace(d.ProofRef))
		if err != nil {
			return domain.Claim{}, fmt.Errorf("capture proof: %w", err)
		}
		c.ProofRef = &ref
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertClaim(ctx, tx, c); err != nil {
		return domain.Claim{}, err
	}
	payload := audit.Payload{"kind": string(c.Kind), "hours": c.Hours}
	if c.EventID != nil {
		payload["event_id"] = *c.EventID
	}
	if err := e.auditWriter().Append(ctx, tx, "claim.submitted", c.OrgID, "claim", c.ID, actor.ID, payload); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	return c, nil
}

// ListOptions narrows a claim listing beyond what the actor's role already
// enforces.
type ListOptions struct {
	State           domain.ClaimState
	Kind            domain.ClaimKind
	EventID         string
	OrgID           string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// List returns the claims the actor may see, newest first. The role scoping
// happens twice: the query is narrowed up front, then each row passes through
// the visibility rules against a fresh delegation snapshot. Re-running the
// call re-evaluates against current state.
func (e *Engine) List(ctx context.Context, actor domain.Actor, opts ListOptions) ([]domain.Claim, error) {
	if opts.State != "" && !opts.State.Valid() {
		return nil, fmt.Errorf("unknown claim state %q", opts.State)
	}
	if opts.Kind != "" && !opts.Kind.Valid() {
		return nil, fmt.Errorf("unknown claim kind %q", opts.Kind)
	}
	f := repo.ClaimFilters{
		State:           opts.State,
		Kind:            opts.Kind,
		EventID:         opts.EventID,
		Search:          opts.Search,
		Limit:           opts.Limit,
		CursorCreatedAt: opts.CursorCreatedAt,
		CursorID:        opts.CursorID,
	}
	switch actor.Role {
	case domain.RoleStudent, domain.RoleStudentCoordinator:
		f.OwnerID = actor.ID
		f.OrgID = opts.OrgID
	case domain.RoleCoordinator:
		if actor.OrgID == "" {
			return []domain.Claim{}, nil
		}
		// A caller-supplied org filter intersects, it never widens.
		if opts.OrgID != "" && opts.OrgID != actor.OrgID {
			return []domain.Claim{}, nil
		}
		f.OrgID = actor.OrgID
	case domain.RoleAdmin:
		f.OrgID = opts.OrgID
		if opts.State != "" {
			if !opts.State.Decided() {
				return []domain.Claim{}, nil
			}
		} else {
			f.State = ""
			f.States = []domain.ClaimState{domain.StateApproved, domain.StateRejected}
		}
	default:
		return nil, fmt.Errorf("unknown role %q", actor.Role)
	}

	delegations, err := e.Repo.AllDelegations(ctx)
	if err != nil {
		return nil, err
	}
	snap := access.NewSnapshot(delegations)

	if opts.Limit <= 0 {
		claims, err := e.Repo.ListClaims(ctx, f)
		if err != nil {
			return nil, err
		}
		visible := make([]domain.Claim, 0, len(claims))
		for _, c := range claims {
			if access.Visible(actor, c, snap) {
				visible = append(visible, c)
			}
		}
		return visible, nil
	}

	// Shadowing can thin a page below the requested limit, so keep scanning
	// past dropped rows until the window fills or the table runs out.
	visible := make([]domain.Claim, 0, opts.Limit)
	for {
		page, err := e.Repo.ListClaims(ctx, f)
		if err != nil {
			return nil, err
		}
		for _, c := range page {
			if !access.Visible(actor, c, snap) {
				continue
			}
			visible = append(visible, c)
			if len(visible) == opts.Limit {
				return visible, nil
			}
		}
		if len(page) < f.Limit {
			return visible, nil
		}
		last := page[len(page)-1]
		f.CursorCreatedAt = last.CreatedAt
		f.CursorID = last.ID
	}
}

// Review transitions a pending claim to approved or rejected. The decision is
// final: the store-level conditional write guarantees at most one reviewer
// wins even under concurrent attempts. HoursAwarded may accompany approval of
// an open-ended claim to set the credited hours.
func (e *Engine) Review(ctx context.Context, actor domain.Actor, claimID string, decision domain.ClaimState, comment string, hoursAwarded *float64) (domain.Claim, error) {
	if !decision.Decided() {
		return domain.Claim{}, fmt.Errorf("decision must be approved or rejected, got %q", decision)
	}
	if decision == domain.StateRejected && strings.TrimSpace(comment) == "" {
		return domain.Claim{}, repo.ErrMissingComment
	}
	c, err := e.Repo.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	// A decided claim conflicts for everyone; authorization is only a
	// question while the claim is still open.
	if c.State.Decided() {
		return domain.Claim{}, repo.ErrInvalidTransition
	}
	delegations, err := e.Repo.AllDelegations(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	if err := access.CheckReview(actor, c, access.NewSnapshot(delegations)); err != nil {
		return domain.Claim{}, err
	}
	if hoursAwarded != nil {
		if decision != domain.StateApproved {
			return domain.Claim{}, errors.New("hours award applies only on approval")
		}
		if c.Kind != domain.KindOther {
			return domain.Claim{}, errors.New("hours award applies only to open-ended claims")
		}
		if *hoursAwarded < 0 {
			return domain.Claim{}, errors.New("hours award must not be negative")
		}
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Claim{}, err
	}
	defer tx.Rollback()
	updated, err := e.Repo.SetClaimState(ctx, tx, claimID, decision, actor.ID, strings.TrimSpace(comment), hoursAwarded, e.now())
	if err != nil {
		return domain.Claim{}, err
	}
	evtType := "claim.approved"
	if decision == domain.StateRejected {
		evtType = "claim.rejected"
	}
	payload := audit.Payload{"reviewer_id": actor.ID, "hours": updated.CreditedHours()}
	if updated.ReviewComment != nil {
		payload["comment"] = *updated.ReviewComment
	}
	if err := e.auditWriter().Append(ctx, tx, evtType, updated.OrgID, "claim", updated.ID, actor.ID, payload); err != nil {
		return domain.Claim{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Claim{}, err
	}
	if e.Notifier != nil {
		e.Notifier.ClaimReviewed(ctx, updated)
	}
	return updated, nil
}

// Get returns one claim, subject to the actor's visibility. An invisible
// claim and a missing claim are indistinguishable to the caller.
func (e *Engine) Get(ctx context.Context, actor domain.Actor, claimID string) (domain.Claim, error) {
	c, err := e.Repo.GetClaim(ctx, claimID)
	if err != nil {
		return domain.Claim{}, err
	}
	delegations, err := e.Repo.AllDelegations(ctx)
	if err != nil {
		return domain.Claim{}, err
	}
	snap := access.NewSnapshot(delegations)
	if !access.Visible(actor, c, snap) {
		// Delegates may inspect claims they can review even though their
		// own listing shows only personal submissions.
		if !access.CanReview(actor, c, snap) {
			return domain.Claim{}, repo.ErrNotFound
		}
	}
	return c, nil
}

func (e *Engine) auditWriter() audit.Writer {
	w := e.Audit
	if w.DB == nil {
		w.DB = e.DB
	}
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}
