package repo

import (
	"context"
	"database/sql"

	"hourline/internal/domain"
)

const eventColumns = `id,org_id,coordinator_id,title,starts_at,capacity,duration_minutes,created_at`

func (r Repo) InsertEvent(ctx context.Context, tx *sql.Tx, e domain.Event) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO events(`+eventColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.OrgID, e.CoordinatorID, e.Title, e.StartsAt, e.Capacity, nullableIntPtr(e.DurationMinutes), e.CreatedAt)
	return err
}

func (r Repo) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var e domain.Event
	var duration sql.NullInt64
	err := r.DB.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=?`, id).
		Scan(&e.ID, &e.OrgID, &e.CoordinatorID, &e.Title, &e.StartsAt, &e.Capacity, &duration, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if duration.Valid {
		d := int(duration.Int64)
		e.DurationMinutes = &d
	}
	return e, nil
}

func (r Repo) ListEvents(ctx context.Context, orgID string) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	query += ` ORDER BY starts_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var duration sql.NullInt64
		if err := rows.Scan(&e.ID, &e.OrgID, &e.CoordinatorID, &e.Title, &e.StartsAt, &e.Capacity, &duration, &e.CreatedAt); err != nil {
			return nil, err
		}
		if duration.Valid {
			d := int(duration.Int64)
			e.DurationMinutes = &d
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) AddDelegation(ctx context.Context, tx *sql.Tx, eventID, actorID, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO delegations(event_id, actor_id, created_at) VALUES (?,?,?)`,
		eventID, actorID, now)
	return err
}

func (r Repo) RemoveDelegation(ctx context.Context, tx *sql.Tx, eventID, actorID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM delegations WHERE event_id=? AND actor_id=?`, eventID, actorID)
	return err
}

func (r Repo) ListDelegatesFor(ctx context.Context, eventID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT actor_id FROM delegations WHERE event_id=? ORDER BY actor_id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) IsDelegate(ctx context.Context, eventID, actorID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM delegations WHERE event_id=? AND actor_id=? LIMIT 1`, eventID, actorID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// EventsWithAnyDelegate returns the set of event ids that have at least one
// delegate.
func (r Repo) EventsWithAnyDelegate(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT event_id FROM delegations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[string]struct{}{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = struct{}{}
	}
	return set, rows.Err()
}

// AllDelegations returns every (event, delegate) pair. Delegation tables are
// small administrative data; the engine loads them as a snapshot per call.
func (r Repo) AllDelegations(ctx context.Context) ([]domain.Delegation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT event_id, actor_id, created_at FROM delegations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Delegation
	for rows.Next() {
		var d domain.Delegation
		if err := rows.Scan(&d.EventID, &d.ActorID, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}
