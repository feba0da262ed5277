package repo

import (
	"context"
	"database/sql"

	"hourline/internal/domain"
)

const actorColumns = `id,org_id,role,display_name,minor,consent,created_at`

func (r Repo) InsertActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO actors(`+actorColumns+`) VALUES (?,?,?,?,?,?,?)`,
		a.ID, nullable(a.OrgID), string(a.Role), nullable(a.DisplayName), boolToInt(a.Minor), string(a.Consent), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var orgID, displayName sql.NullString
	var role, consent string
	var minor int
	err := r.DB.QueryRowContext(ctx, `SELECT `+actorColumns+` FROM actors WHERE id=?`, id).
		Scan(&a.ID, &orgID, &role, &displayName, &minor, &consent, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if orgID.Valid {
		a.OrgID = orgID.String
	}
	if displayName.Valid {
		a.DisplayName = displayName.String
	}
	a.Role = domain.Role(role)
	a.Consent = domain.ConsentStatus(consent)
	a.Minor = minor != 0
	return a, nil
}

func (r Repo) ListActors(ctx context.Context, orgID string) ([]domain.Actor, error) {
	query := `SELECT ` + actorColumns + ` FROM actors`
	var args []any
	if orgID != "" {
		query += ` WHERE org_id=?`
		args = append(args, orgID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var orgID, displayName sql.NullString
		var role, consent string
		var minor int
		if err := rows.Scan(&a.ID, &orgID, &role, &displayName, &minor, &consent, &a.CreatedAt); err != nil {
			return nil, err
		}
		if orgID.Valid {
			a.OrgID = orgID.String
		}
		if displayName.Valid {
			a.DisplayName = displayName.String
		}
		a.Role = domain.Role(role)
		a.Consent = domain.ConsentStatus(consent)
		a.Minor = minor != 0
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateActorRole(ctx context.Context, tx *sql.Tx, id string, role domain.Role) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE actors SET role=? WHERE id=?`, string(role), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateActorConsent(ctx context.Context, tx *sql.Tx, id string, consent domain.ConsentStatus) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE actors SET consent=? WHERE id=?`, string(consent), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
