package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/domain"
	"hourline/internal/engine"
	"hourline/internal/engine/access"
	"hourline/internal/migrate"
	"hourline/internal/repo"
)

type testEnv struct {
	Engine *engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateOrg(ctx, "seed", "org-1", "Lincoln High"); err != nil {
		t.Fatalf("create org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func (env testEnv) register(t *testing.T, id string, role domain.Role, minor bool) domain.Actor {
	t.Helper()
	orgID := "org-1"
	if role == domain.RoleAdmin {
		orgID = ""
	}
	a, err := env.Engine.RegisterActor(env.Ctx, "seed", engine.RegisterActorOptions{
		ID: id, OrgID: orgID, Role: role, Minor: minor,
	})
	if err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return a
}

func (env testEnv) createEvent(t *testing.T, coord domain.Actor, id string, durationMinutes int) domain.Event {
	t.Helper()
	d := engine.EventDraft{ID: id, Title: "Park cleanup", Capacity: 10}
	if durationMinutes > 0 {
		d.DurationMinutes = &durationMinutes
	}
	evt, err := env.Engine.CreateEvent(env.Ctx, coord, d)
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	return evt
}

func floatPtr(v float64) *float64 { return &v }

func TestSubmitEventClaimInheritsDuration(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 90)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{
		Kind:    domain.KindScheduledEvent,
		EventID: "ev-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if c.State != domain.StatePending {
		t.Fatalf("new claim should be pending, got %s", c.State)
	}
	if c.Hours != 1.5 {
		t.Fatalf("hours should derive from event duration, got %v", c.Hours)
	}
	if c.EventID == nil || *c.EventID != "ev-1" {
		t.Fatalf("claim should reference the event")
	}
}

func TestSubmitEventClaimWithoutDurationNeedsHours(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 0)

	_, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "ev-1"})
	if err == nil {
		t.Fatalf("expected error when neither hours nor duration is available")
	}

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{
		Kind: domain.KindScheduledEvent, EventID: "ev-1", Hours: floatPtr(2),
	})
	if err != nil {
		t.Fatalf("submit with hours: %v", err)
	}
	if c.Hours != 2 {
		t.Fatalf("explicit hours should win, got %v", c.Hours)
	}
}

func TestSubmitUnknownEvent(t *testing.T) {
	env := newTestEnv(t)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	_, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "nope"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDonationRequiresProof(t *testing.T) {
	env := newTestEnv(t)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	_, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindDonation, Hours: floatPtr(1)})
	if err == nil {
		t.Fatalf("donation without proof should fail")
	}

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{
		Kind: domain.KindDonation, Hours: floatPtr(1), ProofRef: "receipt-42",
	})
	if err != nil {
		t.Fatalf("donation with proof: %v", err)
	}
	if c.ProofRef == nil || *c.ProofRef != "receipt-42" {
		t.Fatalf("proof ref should be recorded")
	}
}

func TestMinorNeedsConsent(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	minor := env.register(t, "kid-1", domain.RoleStudent, true)

	_, err := env.Engine.Submit(env.Ctx, minor, engine.Draft{Kind: domain.KindAdHocService, Hours: floatPtr(1), ProofRef: "photo"})
	if !errors.Is(err, engine.ErrConsentRequired) {
		t.Fatalf("expected consent error, got %v", err)
	}

	if err := env.Engine.SetConsent(env.Ctx, coord, "kid-1", domain.ConsentApproved); err != nil {
		t.Fatalf("set consent: %v", err)
	}
	if _, err := env.Engine.Submit(env.Ctx, minor, engine.Draft{Kind: domain.KindAdHocService, Hours: floatPtr(1), ProofRef: "photo"}); err != nil {
		t.Fatalf("submit after consent: %v", err)
	}
}

func TestReviewLifecycle(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 60)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "ev-1"})
	if err != nil {
		t.Fatal(err)
	}

	approved, err := env.Engine.Review(env.Ctx, coord, c.ID, domain.StateApproved, "good work", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.State != domain.StateApproved {
		t.Fatalf("state should be approved, got %s", approved.State)
	}
	if approved.ReviewerID == nil || *approved.ReviewerID != "coord-1" {
		t.Fatalf("reviewer should be recorded")
	}
	if approved.ReviewedAt == nil {
		t.Fatalf("reviewed_at should be set")
	}

	// The decision is final.
	_, err = env.Engine.Review(env.Ctx, coord, c.ID, domain.StateRejected, "changed my mind", nil)
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestRejectionRequiresComment(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(3)})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.Review(env.Ctx, coord, c.ID, domain.StateRejected, "  ", nil)
	if !errors.Is(err, repo.ErrMissingComment) {
		t.Fatalf("expected missing comment, got %v", err)
	}

	rejected, err := env.Engine.Review(env.Ctx, coord, c.ID, domain.StateRejected, "no evidence provided", nil)
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.ReviewComment == nil || *rejected.ReviewComment != "no evidence provided" {
		t.Fatalf("rejection comment should be stored")
	}
}

func TestReviewUnknownClaimIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)

	_, err := env.Engine.Review(env.Ctx, coord, "missing", domain.StateApproved, "", nil)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentReviewsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	coordA := env.register(t, "coord-1", domain.RoleCoordinator, false)
	coordB := env.register(t, "coord-2", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)
	// One connection keeps SQLite out of busy territory; the goroutines
	// still race up to the conditional write.
	env.Engine.DB.SetMaxOpenConns(1)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(2)})
	if err != nil {
		t.Fatal(err)
	}

	attempts := []struct {
		reviewer domain.Actor
		decision domain.ClaimState
		comment  string
	}{
		{coordA, domain.StateApproved, ""},
		{coordB, domain.StateRejected, "duplicate"},
	}
	errs := make(chan error, len(attempts))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, attempt := range attempts {
		attempt := attempt
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.Engine.Review(env.Ctx, attempt.reviewer, c.ID, attempt.decision, attempt.comment, nil)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repo.ErrInvalidTransition):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one review should win, got %d", wins)
	}

	final, err := env.Engine.Repo.GetClaim(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !final.State.Decided() {
		t.Fatalf("claim should be decided, got %s", final.State)
	}
}

func TestDecidedClaimReviewIsConflict(t *testing.T) {
	env := newTestEnv(t)
	coordA := env.register(t, "coord-1", domain.RoleCoordinator, false)
	coordB := env.register(t, "coord-2", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(1)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Review(env.Ctx, coordA, c.ID, domain.StateApproved, "", nil); err != nil {
		t.Fatal(err)
	}

	// A later reviewer gets the transition conflict, not an authorization
	// failure: the caller may re-fetch and see the final state.
	_, err = env.Engine.Review(env.Ctx, coordB, c.ID, domain.StateRejected, "too late", nil)
	if !errors.Is(err, repo.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	var fe access.ForbiddenError
	if errors.As(err, &fe) {
		t.Fatalf("conflict must not surface as forbidden")
	}
}

func TestDelegationFlow(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	delegate := env.register(t, "stu-1", domain.RoleStudent, false)
	peer := env.register(t, "stu-2", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 60)

	if err := env.Engine.Delegate(env.Ctx, coord, "ev-1", "stu-1"); err != nil {
		t.Fatalf("delegate: %v", err)
	}

	// Delegation promotes the student.
	promoted, err := env.Engine.Repo.GetActor(env.Ctx, "stu-1")
	if err != nil {
		t.Fatal(err)
	}
	if promoted.Role != domain.RoleStudentCoordinator {
		t.Fatalf("delegate should be promoted, got %s", promoted.Role)
	}
	delegate = promoted

	peerClaim, err := env.Engine.Submit(env.Ctx, peer, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "ev-1"})
	if err != nil {
		t.Fatal(err)
	}

	// Coordinator listing no longer includes the delegated event's claims.
	visible, err := env.Engine.List(env.Ctx, coord, engine.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range visible {
		if c.ID == peerClaim.ID {
			t.Fatalf("delegated event claim should be hidden from the coordinator")
		}
	}

	// Coordinator cannot review it either.
	var fe access.ForbiddenError
	_, err = env.Engine.Review(env.Ctx, coord, peerClaim.ID, domain.StateApproved, "", nil)
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden, got %v", err)
	}

	// The delegate reviews it.
	if _, err := env.Engine.Review(env.Ctx, delegate, peerClaim.ID, domain.StateApproved, "", nil); err != nil {
		t.Fatalf("delegate review: %v", err)
	}

	// The delegate's own submission goes back to the coordinator.
	ownClaim, err := env.Engine.Submit(env.Ctx, delegate, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "ev-1"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.Review(env.Ctx, delegate, ownClaim.ID, domain.StateApproved, "", nil)
	if !errors.As(err, &fe) {
		t.Fatalf("self-review should be forbidden, got %v", err)
	}
	if _, err := env.Engine.Review(env.Ctx, coord, ownClaim.ID, domain.StateApproved, "", nil); err != nil {
		t.Fatalf("coordinator should review the delegate's own claim: %v", err)
	}
}

func TestDelegateOnlyByOrganizer(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	other := env.register(t, "coord-2", domain.RoleCoordinator, false)
	env.register(t, "stu-1", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 60)

	var fe access.ForbiddenError
	if err := env.Engine.Delegate(env.Ctx, other, "ev-1", "stu-1"); !errors.As(err, &fe) {
		t.Fatalf("only the organizing coordinator may delegate, got %v", err)
	}
}

func TestCoordinatorLimitedListSkipsShadowed(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	env.register(t, "stu-1", domain.RoleStudent, false)
	peer := env.register(t, "stu-2", domain.RoleStudent, false)
	env.createEvent(t, coord, "ev-1", 60)
	if err := env.Engine.Delegate(env.Ctx, coord, "ev-1", "stu-1"); err != nil {
		t.Fatal(err)
	}

	older, err := env.Engine.Submit(env.Ctx, peer, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(1)})
	if err != nil {
		t.Fatal(err)
	}
	// Newer claim lands on the delegated event, hidden from the coordinator.
	env.Engine.Now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	if _, err := env.Engine.Submit(env.Ctx, peer, engine.Draft{Kind: domain.KindScheduledEvent, EventID: "ev-1"}); err != nil {
		t.Fatal(err)
	}

	// The limit counts visible claims; a shadowed row at the head of the
	// window must not produce an empty page.
	got, err := env.Engine.List(env.Ctx, coord, engine.ListOptions{Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != older.ID {
		t.Fatalf("expected the older visible claim, got %+v", got)
	}
}

func TestListOrgFilterIntersects(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	if _, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(1)}); err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.List(env.Ctx, coord, engine.ListOptions{OrgID: "org-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("coordinator filtering on a foreign org should see nothing, got %d", len(got))
	}

	got, err = env.Engine.List(env.Ctx, stu, engine.ListOptions{OrgID: "org-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("student filtering on a foreign org should see nothing, got %d", len(got))
	}

	got, err = env.Engine.List(env.Ctx, stu, engine.ListOptions{OrgID: "org-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("own-org filter should keep the claim, got %d", len(got))
	}
}

func TestAdminVisibilityAndReview(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)
	admin := env.register(t, "adm-1", domain.RoleAdmin, false)

	pending, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(1)})
	if err != nil {
		t.Fatal(err)
	}
	decided, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(2)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Review(env.Ctx, coord, decided.ID, domain.StateApproved, "", nil); err != nil {
		t.Fatal(err)
	}

	visible, err := env.Engine.List(env.Ctx, admin, engine.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0].ID != decided.ID {
		t.Fatalf("admin should see exactly the decided claim, got %d", len(visible))
	}

	// Asking for pending yields nothing rather than an error.
	none, err := env.Engine.List(env.Ctx, admin, engine.ListOptions{State: domain.StatePending})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Fatalf("admin pending listing should be empty")
	}

	var fe access.ForbiddenError
	if _, err := env.Engine.Review(env.Ctx, admin, pending.ID, domain.StateApproved, "", nil); !errors.As(err, &fe) {
		t.Fatalf("admins must not review, got %v", err)
	}
}

func TestHoursAwardOnOpenEndedClaim(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	c, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Description: "organized book drive"})
	if err != nil {
		t.Fatal(err)
	}

	approved, err := env.Engine.Review(env.Ctx, coord, c.ID, domain.StateApproved, "", floatPtr(4.5))
	if err != nil {
		t.Fatalf("approve with award: %v", err)
	}
	if approved.CreditedHours() != 4.5 {
		t.Fatalf("credited hours should come from the award, got %v", approved.CreditedHours())
	}

	// Awards never apply to fixed-hours kinds.
	c2, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindAdHocService, Hours: floatPtr(2), ProofRef: "photo"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Review(env.Ctx, coord, c2.ID, domain.StateApproved, "", floatPtr(9)); err == nil {
		t.Fatalf("hours award on ad_hoc_service should fail")
	}
}

func TestLeaderboardCountsApprovedOnly(t *testing.T) {
	env := newTestEnv(t)
	coord := env.register(t, "coord-1", domain.RoleCoordinator, false)
	stu := env.register(t, "stu-1", domain.RoleStudent, false)

	approved, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(3)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Review(env.Ctx, coord, approved.ID, domain.StateApproved, "", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.Submit(env.Ctx, stu, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(5)}); err != nil {
		t.Fatal(err)
	}

	rows, err := env.Engine.Leaderboard(env.Ctx, "org-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected one leaderboard row, got %d", len(rows))
	}
	if rows[0].ActorID != "stu-1" || rows[0].Hours != 3 || rows[0].Claims != 1 {
		t.Fatalf("unexpected leaderboard row: %+v", rows[0])
	}
}

func TestGetRespectsVisibility(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "coord-1", domain.RoleCoordinator, false)
	stuA := env.register(t, "stu-1", domain.RoleStudent, false)
	stuB := env.register(t, "stu-2", domain.RoleStudent, false)

	c, err := env.Engine.Submit(env.Ctx, stuA, engine.Draft{Kind: domain.KindOther, Hours: floatPtr(1)})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.Engine.Get(env.Ctx, stuA, c.ID); err != nil {
		t.Fatalf("owner should read their claim: %v", err)
	}
	// A hidden claim and a missing one are indistinguishable.
	if _, err := env.Engine.Get(env.Ctx, stuB, c.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for invisible claim, got %v", err)
	}
}
