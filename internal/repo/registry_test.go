package repo_test

import (
	"context"
	"database/sql"
	"testing"

	"hourline/internal/domain"
	"hourline/internal/repo"
)

func seedEvent(t *testing.T, r repo.Repo, ctx context.Context, id string) {
	t.Helper()
	inTx(t, r, func(tx *sql.Tx) error {
		return r.InsertEvent(ctx, tx, domain.Event{
			ID:            id,
			OrgID:         "org-1",
			CoordinatorID: "coord-1",
			Title:         "Event " + id,
			StartsAt:      "2026-03-01T09:00:00Z",
			CreatedAt:     "2026-03-01T00:00:00Z",
		})
	})
}

func TestDelegationQueries(t *testing.T) {
	r, ctx := newTestRepo(t)
	seedEvent(t, r, ctx, "ev-1")
	seedEvent(t, r, ctx, "ev-2")

	inTx(t, r, func(tx *sql.Tx) error {
		return r.AddDelegation(ctx, tx, "ev-1", "stu-1", "2026-03-01T00:00:00Z")
	})
	// Re-adding the same pair is a no-op.
	inTx(t, r, func(tx *sql.Tx) error {
		return r.AddDelegation(ctx, tx, "ev-1", "stu-1", "2026-03-02T00:00:00Z")
	})

	ids, err := r.ListDelegatesFor(ctx, "ev-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != "stu-1" {
		t.Fatalf("unexpected delegates: %v", ids)
	}

	ok, err := r.IsDelegate(ctx, "ev-1", "stu-1")
	if err != nil || !ok {
		t.Fatalf("stu-1 should be a delegate for ev-1: ok=%v err=%v", ok, err)
	}
	ok, err = r.IsDelegate(ctx, "ev-2", "stu-1")
	if err != nil || ok {
		t.Fatalf("delegation must not extend to ev-2: ok=%v err=%v", ok, err)
	}

	set, err := r.EventsWithAnyDelegate(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, found := set["ev-1"]; !found {
		t.Fatalf("ev-1 should have a delegate")
	}
	if _, found := set["ev-2"]; found {
		t.Fatalf("ev-2 should have no delegate")
	}

	all, err := r.AllDelegations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].EventID != "ev-1" || all[0].ActorID != "stu-1" {
		t.Fatalf("unexpected delegation rows: %+v", all)
	}

	inTx(t, r, func(tx *sql.Tx) error {
		return r.RemoveDelegation(ctx, tx, "ev-1", "stu-1")
	})
	ok, err = r.IsDelegate(ctx, "ev-1", "stu-1")
	if err != nil || ok {
		t.Fatalf("delegation should be revoked: ok=%v err=%v", ok, err)
	}
}
