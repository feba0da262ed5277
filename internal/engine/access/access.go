// Package access holds the visibility and review-authorization rules. The
// rules are pure functions over an actor, a claim, and a delegation snapshot,
// so they evaluate deterministically and test without a database.
package access

import (
	"fmt"

	"hourline/internal/domain"
)

// ForbiddenError indicates a visibility or transition rule failed. Callers at
// the transport boundary collapse every reason into one generic outcome so
// the response does not reveal whether the claim exists.
type ForbiddenError struct {
	Reason string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// Snapshot is a point-in-time view of the delegation registry.
type Snapshot struct {
	DelegatesByEvent map[string]map[string]struct{}
}

func NewSnapshot(delegations []domain.Delegation) Snapshot {
	byEvent := map[string]map[string]struct{}{}
	for _, d := range delegations {
		set, ok := byEvent[d.EventID]
		if !ok {
			set = map[string]struct{}{}
			byEvent[d.EventID] = set
		}
		set[d.ActorID] = struct{}{}
	}
	return Snapshot{DelegatesByEvent: byEvent}
}

func (s Snapshot) IsDelegate(eventID, actorID string) bool {
	_, ok := s.DelegatesByEvent[eventID][actorID]
	return ok
}

func (s Snapshot) HasDelegates(eventID string) bool {
	return len(s.DelegatesByEvent[eventID]) > 0
}

// Visible decides whether the actor may see the claim. Exactly one branch
// applies per role:
//
//   - Students and student-coordinators see only their own claims; a
//     student-coordinator's personal submissions are not visible to
//     themselves in any reviewer capacity.
//   - Coordinators see claims in their organization unless the claim is
//     delegation-shadowed (see shadowed).
//   - Admins see decided claims only, never pending ones.
func Visible(actor domain.Actor, c domain.Claim, reg Snapshot) bool {
	switch actor.Role {
	case domain.RoleStudent, domain.RoleStudentCoordinator:
		return c.OwnerID == actor.ID
	case domain.RoleCoordinator:
		if actor.OrgID == "" || c.OrgID != actor.OrgID {
			return false
		}
		return !shadowed(c, reg)
	case domain.RoleAdmin:
		return c.State.Decided()
	}
	return false
}

// shadowed reports whether a claim's day-to-day review has moved to event
// delegates and is therefore hidden from the coordinator's listing. A claim
// escapes the shadow when it is not tied to a delegated event, or when its
// owner is themself a delegate of that event: the delegate cannot review
// their own work, so the coordinator keeps oversight of those submissions.
func shadowed(c domain.Claim, reg Snapshot) bool {
	if c.Kind != domain.KindScheduledEvent || c.EventID == nil {
		return false
	}
	if !reg.HasDelegates(*c.EventID) {
		return false
	}
	if reg.IsDelegate(*c.EventID, c.OwnerID) {
		return false
	}
	return true
}

// CanReview decides whether the actor may transition the claim out of
// pending. Self-review is forbidden unconditionally.
func CanReview(actor domain.Actor, c domain.Claim, reg Snapshot) bool {
	if c.State != domain.StatePending {
		return false
	}
	if c.OwnerID == actor.ID {
		return false
	}
	switch actor.Role {
	case domain.RoleCoordinator:
		if actor.OrgID == "" || c.OrgID != actor.OrgID {
			return false
		}
		return !shadowed(c, reg)
	case domain.RoleStudent, domain.RoleStudentCoordinator:
		if c.Kind != domain.KindScheduledEvent || c.EventID == nil {
			return false
		}
		return reg.IsDelegate(*c.EventID, actor.ID)
	case domain.RoleAdmin:
		// Admins audit outcomes; they never make the call.
		return false
	}
	return false
}

// CheckReview wraps CanReview with a typed error for the engine.
func CheckReview(actor domain.Actor, c domain.Claim, reg Snapshot) error {
	if CanReview(actor, c, reg) {
		return nil
	}
	return ForbiddenError{Reason: "actor may not review this claim"}
}
