package access_test

import (
	"testing"

	"hourline/internal/domain"
	"hourline/internal/engine/access"
)

func strPtr(s string) *string { return &s }

func actor(id, org string, role domain.Role) domain.Actor {
	return domain.Actor{ID: id, OrgID: org, Role: role}
}

func eventClaim(id, owner, org, eventID string, state domain.ClaimState) domain.Claim {
	return domain.Claim{
		ID: id, OwnerID: owner, OrgID: org,
		Kind: domain.KindScheduledEvent, EventID: strPtr(eventID),
		State: state,
	}
}

func donationClaim(id, owner, org string, state domain.ClaimState) domain.Claim {
	return domain.Claim{ID: id, OwnerID: owner, OrgID: org, Kind: domain.KindDonation, State: state}
}

func TestStudentSeesOnlyOwnClaims(t *testing.T) {
	snap := access.NewSnapshot(nil)
	student := actor("stu-1", "org-1", domain.RoleStudent)
	own := donationClaim("c1", "stu-1", "org-1", domain.StatePending)
	other := donationClaim("c2", "stu-2", "org-1", domain.StatePending)

	if !access.Visible(student, own, snap) {
		t.Fatalf("student should see their own claim")
	}
	if access.Visible(student, other, snap) {
		t.Fatalf("student should not see another student's claim")
	}
}

func TestStudentCoordinatorOwnClaimsOnly(t *testing.T) {
	// Being a delegate grants review authority, not listing visibility.
	snap := access.NewSnapshot([]domain.Delegation{{EventID: "ev-1", ActorID: "sc-1"}})
	sc := actor("sc-1", "org-1", domain.RoleStudentCoordinator)
	peer := eventClaim("c1", "stu-2", "org-1", "ev-1", domain.StatePending)

	if access.Visible(sc, peer, snap) {
		t.Fatalf("delegate listing should still cover only personal submissions")
	}
	if !access.CanReview(sc, peer, snap) {
		t.Fatalf("delegate should be able to review the event's claims")
	}
}

func TestCoordinatorOrgScope(t *testing.T) {
	snap := access.NewSnapshot(nil)
	coord := actor("coord-1", "org-1", domain.RoleCoordinator)

	if !access.Visible(coord, donationClaim("c1", "stu-1", "org-1", domain.StatePending), snap) {
		t.Fatalf("coordinator should see org claims")
	}
	if access.Visible(coord, donationClaim("c2", "stu-9", "org-2", domain.StatePending), snap) {
		t.Fatalf("coordinator should not see claims outside their org")
	}
}

func TestDelegationShadowsCoordinator(t *testing.T) {
	snap := access.NewSnapshot([]domain.Delegation{{EventID: "ev-1", ActorID: "sc-1"}})
	coord := actor("coord-1", "org-1", domain.RoleCoordinator)

	shadowed := eventClaim("c1", "stu-2", "org-1", "ev-1", domain.StatePending)
	if access.Visible(coord, shadowed, snap) {
		t.Fatalf("delegated event claims should be hidden from the coordinator")
	}
	if access.CanReview(coord, shadowed, snap) {
		t.Fatalf("coordinator should not review delegated event claims")
	}

	// The delegate's own submission escapes the shadow: the delegate cannot
	// review it, so the coordinator keeps oversight.
	carveOut := eventClaim("c2", "sc-1", "org-1", "ev-1", domain.StatePending)
	if !access.Visible(coord, carveOut, snap) {
		t.Fatalf("delegate's own submission should stay visible to the coordinator")
	}
	if !access.CanReview(coord, carveOut, snap) {
		t.Fatalf("coordinator should review the delegate's own submission")
	}

	// Claims on undelegated events stay with the coordinator.
	plain := eventClaim("c3", "stu-2", "org-1", "ev-2", domain.StatePending)
	if !access.Visible(coord, plain, snap) {
		t.Fatalf("undelegated event claims should be visible")
	}
}

func TestDelegateNeverReviewsOwnClaim(t *testing.T) {
	snap := access.NewSnapshot([]domain.Delegation{{EventID: "ev-1", ActorID: "sc-1"}})
	sc := actor("sc-1", "org-1", domain.RoleStudentCoordinator)
	own := eventClaim("c1", "sc-1", "org-1", "ev-1", domain.StatePending)

	if access.CanReview(sc, own, snap) {
		t.Fatalf("self-review must be forbidden even for the event's delegate")
	}
}

func TestDelegateScopeIsPerEvent(t *testing.T) {
	snap := access.NewSnapshot([]domain.Delegation{{EventID: "ev-1", ActorID: "sc-1"}})
	sc := actor("sc-1", "org-1", domain.RoleStudentCoordinator)

	otherEvent := eventClaim("c1", "stu-2", "org-1", "ev-2", domain.StatePending)
	if access.CanReview(sc, otherEvent, snap) {
		t.Fatalf("delegation must not extend to other events")
	}
	donation := donationClaim("c2", "stu-2", "org-1", domain.StatePending)
	if access.CanReview(sc, donation, snap) {
		t.Fatalf("delegation must not extend to non-event claims")
	}
}

func TestAdminSeesDecidedOnly(t *testing.T) {
	snap := access.NewSnapshot(nil)
	admin := actor("adm-1", "", domain.RoleAdmin)

	if access.Visible(admin, donationClaim("c1", "stu-1", "org-1", domain.StatePending), snap) {
		t.Fatalf("admin should not see pending claims")
	}
	if !access.Visible(admin, donationClaim("c2", "stu-1", "org-1", domain.StateApproved), snap) {
		t.Fatalf("admin should see approved claims")
	}
	if !access.Visible(admin, donationClaim("c3", "stu-1", "org-2", domain.StateRejected), snap) {
		t.Fatalf("admin should see rejected claims across orgs")
	}
}

func TestAdminNeverReviews(t *testing.T) {
	snap := access.NewSnapshot(nil)
	admin := actor("adm-1", "", domain.RoleAdmin)
	pending := donationClaim("c1", "stu-1", "org-1", domain.StatePending)

	if access.CanReview(admin, pending, snap) {
		t.Fatalf("admin must never hold review authority")
	}
}

func TestDecidedClaimsAreNotReviewable(t *testing.T) {
	snap := access.NewSnapshot(nil)
	coord := actor("coord-1", "org-1", domain.RoleCoordinator)

	if access.CanReview(coord, donationClaim("c1", "stu-1", "org-1", domain.StateApproved), snap) {
		t.Fatalf("approved claims are final")
	}
	if access.CanReview(coord, donationClaim("c2", "stu-1", "org-1", domain.StateRejected), snap) {
		t.Fatalf("rejected claims are final")
	}
}

func TestCheckReviewReturnsForbidden(t *testing.T) {
	snap := access.NewSnapshot(nil)
	student := actor("stu-1", "org-1", domain.RoleStudent)
	claim := donationClaim("c1", "stu-2", "org-1", domain.StatePending)

	err := access.CheckReview(student, claim, snap)
	if err == nil {
		t.Fatalf("expected forbidden error")
	}
	if _, ok := err.(access.ForbiddenError); !ok {
		t.Fatalf("expected ForbiddenError, got %T", err)
	}
}
