package repo

import (
	"context"
	"database/sql"
	"strings"

	"hourline/internal/domain"
)

const claimColumns = `id,owner_id,org_id,kind,event_id,hours,hours_awarded,proof_ref,description,state,reviewer_id,review_comment,created_at,reviewed_at`

func (r Repo) InsertClaim(ctx context.Context, tx *sql.Tx, c domain.Claim) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO claims(`+claimColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.OrgID, string(c.Kind), nullableStringPtr(c.EventID), c.Hours, nullableFloatPtr(c.HoursAwarded),
		nullableStringPtr(c.ProofRef), nullable(c.Description), string(c.State),
		nullableStringPtr(c.ReviewerID), nullableStringPtr(c.ReviewComment), c.CreatedAt, nullableStringPtr(c.ReviewedAt))
	return err
}

func (r Repo) GetClaim(ctx context.Context, id string) (domain.Claim, error) {
	return scanClaim(r.DB.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id=?`, id))
}

func (r Repo) GetClaimTx(ctx context.Context, tx *sql.Tx, id string) (domain.Claim, error) {
	return scanClaim(tx.QueryRowContext(ctx, `SELECT `+claimColumns+` FROM claims WHERE id=?`, id))
}

type claimScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row claimScanner) (domain.Claim, error) {
	var c domain.Claim
	var kind, state string
	var eventID, proofRef, description, reviewerID, reviewComment, reviewedAt sql.NullString
	var hoursAwarded sql.NullFloat64
	err := row.Scan(&c.ID, &c.OwnerID, &c.OrgID, &kind, &eventID, &c.Hours, &hoursAwarded,
		&proofRef, &description, &state, &reviewerID, &reviewComment, &c.CreatedAt, &reviewedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Kind = domain.ClaimKind(kind)
	c.State = domain.ClaimState(state)
	if eventID.Valid {
		c.EventID = &eventID.String
	}
	if hoursAwarded.Valid {
		c.HoursAwarded = &hoursAwarded.Float64
	}
	if proofRef.Valid {
		c.ProofRef = &proofRef.String
	}
	if description.Valid {
		c.Description = description.String
	}
	if reviewerID.Valid {
		c.ReviewerID = &reviewerID.String
	}
	if reviewComment.Valid {
		c.ReviewComment = &reviewComment.String
	}
	if reviewedAt.Valid {
		c.ReviewedAt = &reviewedAt.String
	}
	return c, nil
}

type ClaimFilters struct {
	OwnerID         string
	OrgID           string
	State           domain.ClaimState
	States          []domain.ClaimState
	Kind            domain.ClaimKind
	EventID         string
	Search          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListClaims returns newest-first claims matching the filters. Re-running the
// query re-evaluates against current store state; no snapshot is held.
func (r Repo) ListClaims(ctx context.Context, f ClaimFilters) ([]domain.Claim, error) {
	var clauses []string
	var args []any
	if f.OwnerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, f.OwnerID)
	}
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, string(f.State))
	}
	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, s := range f.States {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		clauses = append(clauses, "state IN ("+strings.Join(placeholders, ",")+")")
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.EventID != "" {
		clauses = append(clauses, "event_id=?")
		args = append(args, f.EventID)
	}
	if f.Search != "" {
		clauses = append(clauses, "description LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Search)+"%")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + claimColumns + ` FROM claims ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SetClaimState performs the single atomic review write: the row is updated
// only if it is still pending, so concurrent reviews resolve to exactly one
// winner. The loser observes ErrInvalidTransition.
func (r Repo) SetClaimState(ctx context.Context, tx *sql.Tx, id string, newState domain.ClaimState, reviewerID, comment string, hoursAwarded *float64, reviewedAt string) (domain.Claim, error) {
	if !newState.Decided() {
		return domain.Claim{}, ErrInvalidTransition
	}
	if newState == domain.StateRejected && strings.TrimSpace(comment) == "" {
		return domain.Claim{}, ErrMissingComment
	}
	res, err := tx.ExecContext(ctx, `UPDATE claims
SET state=?, reviewer_id=?, review_comment=?, hours_awarded=COALESCE(?, hours_awarded), reviewed_at=?
WHERE id=? AND state=?`,
		string(newState), reviewerID, nullable(comment), nullableFloatPtr(hoursAwarded), reviewedAt,
		id, string(domain.StatePending))
	if err != nil {
		return domain.Claim{}, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Claim{}, err
	}
	if affected == 0 {
		if _, err := r.GetClaimTx(ctx, tx, id); err != nil {
			return domain.Claim{}, err
		}
		return domain.Claim{}, ErrInvalidTransition
	}
	return r.GetClaimTx(ctx, tx, id)
}

// ApprovedHoursByActor aggregates credited hours from approved claims.
func (r Repo) ApprovedHoursByActor(ctx context.Context, orgID string, limit int) ([]domain.LeaderboardRow, error) {
	clauses := []string{"c.state=?"}
	args := []any{string(domain.StateApproved)}
	if orgID != "" {
		clauses = append(clauses, "c.org_id=?")
		args = append(args, orgID)
	}
	query := `SELECT c.owner_id, COALESCE(a.display_name,''), c.org_id,
SUM(COALESCE(c.hours_awarded, c.hours)), COUNT(*)
FROM claims c
LEFT JOIN actors a ON a.id=c.owner_id
WHERE ` + strings.Join(clauses, " AND ") + `
GROUP BY c.owner_id, c.org_id
ORDER BY SUM(COALESCE(c.hours_awarded, c.hours)) DESC, c.owner_id ASC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LeaderboardRow
	for rows.Next() {
		var row domain.LeaderboardRow
		if err := rows.Scan(&row.ActorID, &row.DisplayName, &row.OrgID, &row.Hours, &row.Claims); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
