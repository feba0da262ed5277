package engine

import (
	"context"
	"errors"

	"hourline/internal/config"
	"hourline/internal/domain"
	"hourline/internal/repo"
)

// ErrConsentRequired is returned when a minor without approved guardian
// consent attempts a submission.
var ErrConsentRequired = errors.New("guardian consent required before submitting claims")

// Directory resolves actor identities and applies role promotions. The
// engine only ever reads roles; promotion is reported here as a side effect
// of delegation.
type Directory interface {
	GetActor(ctx context.Context, id string) (domain.Actor, error)
	PromoteToCoordinatorRole(ctx context.Context, id string) error
}

// ConsentGate answers whether an actor is currently allowed to submit.
type ConsentGate interface {
	CanSubmit(ctx context.Context, actorID string) (bool, error)
}

// ProofStore captures an opaque proof reference at submission time. The
// engine never interprets proof contents.
type ProofStore interface {
	Capture(ctx context.Context, actorID, ref string) (string, error)
}

// Notifier receives review outcomes as a fire-and-forget downstream fact.
type Notifier interface {
	ClaimReviewed(ctx context.Context, c domain.Claim)
}

type sqlDirectory struct {
	repo repo.Repo
}

func (d sqlDirectory) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	return d.repo.GetActor(ctx, id)
}

func (d sqlDirectory) PromoteToCoordinatorRole(ctx context.Context, id string) error {
	return d.repo.UpdateActorRole(ctx, nil, id, domain.RoleStudentCoordinator)
}

type sqlConsentGate struct {
	repo repo.Repo
	cfg  *config.Config
}

func (g sqlConsentGate) CanSubmit(ctx context.Context, actorID string) (bool, error) {
	if g.cfg != nil && !g.cfg.Consent.EnforceMinors {
		return true, nil
	}
	a, err := g.repo.GetActor(ctx, actorID)
	if err != nil {
		return false, err
	}
	if !a.Minor {
		return true, nil
	}
	return a.Consent == domain.ConsentApproved, nil
}

// opaqueProofStore records references verbatim.
type opaqueProofStore struct{}

func (opaqueProofStore) Capture(ctx context.Context, actorID, ref string) (string, error) {
	return ref, nil
}
