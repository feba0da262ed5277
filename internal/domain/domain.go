package domain

// Role is the closed set of actor roles. Visibility and review rules switch
// exhaustively over this type; adding a role is a compile-visible change.
type Role string

const (
	RoleStudent            Role = "student"
	RoleStudentCoordinator Role = "student_coordinator"
	RoleCoordinator        Role = "coordinator"
	RoleAdmin              Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStudentCoordinator, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

type ClaimKind string

const (
	KindScheduledEvent ClaimKind = "scheduled_event"
	KindDonation       ClaimKind = "donation"
	KindAdHocService   ClaimKind = "ad_hoc_service"
	KindOther          ClaimKind = "other"
)

func (k ClaimKind) Valid() bool {
	switch k {
	case KindScheduledEvent, KindDonation, KindAdHocService, KindOther:
		return true
	}
	return false
}

type ClaimState string

const (
	StatePending  ClaimState = "pending"
	StateApproved ClaimState = "approved"
	StateRejected ClaimState = "rejected"
)

func (s ClaimState) Valid() bool {
	switch s {
	case StatePending, StateApproved, StateRejected:
		return true
	}
	return false
}

// Decided reports whether the state is a terminal review outcome.
func (s ClaimState) Decided() bool {
	return s == StateApproved || s == StateRejected
}

type ConsentStatus string

const (
	ConsentNone     ConsentStatus = "none"
	ConsentPending  ConsentStatus = "pending"
	ConsentApproved ConsentStatus = "approved"
)

func (c ConsentStatus) Valid() bool {
	switch c {
	case ConsentNone, ConsentPending, ConsentApproved:
		return true
	}
	return false
}

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Actor is the resolved caller identity. Role and organization are mutated by
// registration/promotion flows and only read by the lifecycle engine.
type Actor struct {
	ID          string        `json:"id"`
	OrgID       string        `json:"org_id,omitempty"`
	Role        Role          `json:"role" enum:"student,student_coordinator,coordinator,admin"`
	DisplayName string        `json:"display_name,omitempty"`
	Minor       bool          `json:"minor"`
	Consent     ConsentStatus `json:"consent" enum:"none,pending,approved"`
	CreatedAt   string        `json:"created_at" format:"date-time"`
}

// Event is a scheduled service event. Owned by the coordinator who created
// it; its organization is the organizing coordinator's organization.
type Event struct {
	ID              string `json:"id"`
	OrgID           string `json:"org_id"`
	CoordinatorID   string `json:"coordinator_id"`
	Title           string `json:"title"`
	StartsAt        string `json:"starts_at" format:"date-time"`
	Capacity        int    `json:"capacity"`
	DurationMinutes *int   `json:"duration_minutes,omitempty"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

// Delegation grants a student review authority over claims for one event.
type Delegation struct {
	EventID   string `json:"event_id"`
	ActorID   string `json:"actor_id"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Claim is a submitted request for service-hour credit. ReviewerID and
// ReviewedAt are both nil exactly while State is pending; a rejection always
// carries a non-empty ReviewComment.
type Claim struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	OrgID         string     `json:"org_id"`
	Kind          ClaimKind  `json:"kind" enum:"scheduled_event,donation,ad_hoc_service,other"`
	EventID       *string    `json:"event_id,omitempty"`
	Hours         float64    `json:"hours"`
	HoursAwarded  *float64   `json:"hours_awarded,omitempty"`
	ProofRef      *string    `json:"proof_ref,omitempty"`
	Description   string     `json:"description,omitempty"`
	State         ClaimState `json:"state" enum:"pending,approved,rejected"`
	ReviewerID    *string    `json:"reviewer_id,omitempty"`
	ReviewComment *string    `json:"review_comment,omitempty"`
	CreatedAt     string     `json:"created_at" format:"date-time"`
	ReviewedAt    *string    `json:"reviewed_at,omitempty" format:"date-time"`
}

// CreditedHours returns the hours that count toward totals once approved:
// the reviewer's awarded value when set, else the submitted hours.
func (c Claim) CreditedHours() float64 {
	if c.HoursAwarded != nil {
		return *c.HoursAwarded
	}
	return c.Hours
}

type AuditEvent struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	OrgID      string `json:"org_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// LeaderboardRow aggregates approved claim hours for one actor.
type LeaderboardRow struct {
	ActorID     string  `json:"actor_id"`
	DisplayName string  `json:"display_name,omitempty"`
	OrgID       string  `json:"org_id,omitempty"`
	Hours       float64 `json:"hours"`
	Claims      int     `json:"claims"`
}
