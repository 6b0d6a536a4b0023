package pickup

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repo persists authorization records in Postgres.
type Repo struct {
	db *sql.DB
}

// NewRepo creates a repo.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db}
}

const authorizedColumns = `
	id, org_id, child_id, person_type, name, relationship, phone, photo_url,
	id_document_url, valid_from, valid_until, allowed_days, time_restriction,
	restrictions, status, verified_by, verified_at, pickup_count,
	last_pickup_at, created_at, updated_at`

// GuardiansForChild returns the guardians tied to a child via the family
// relationship, active or not; callers filter on Active.
func (r *Repo) GuardiansForChild(ctx context.Context, orgID, childID string) ([]Guardian, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, child_id, name, relationship, phone, photo_url, status
		FROM guardians
		WHERE org_id = $1 AND child_id = $2
	`, orgID, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var guardians []Guardian
	for rows.Next() {
		g, err := scanGuardian(rows)
		if err != nil {
			return nil, err
		}
		guardians = append(guardians, g)
	}
	return guardians, rows.Err()
}

// GuardianByID returns one guardian, nil when absent.
func (r *Repo) GuardianByID(ctx context.Context, orgID, childID, personID string) (*Guardian, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, child_id, name, relationship, phone, photo_url, status
		FROM guardians
		WHERE org_id = $1 AND child_id = $2 AND id = $3
	`, orgID, childID, personID)
	g, err := scanGuardian(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}

// AuthorizedForChild returns the non-deactivated third-party and
// emergency-contact records for a child. Currency (expiry, weekday) is
// evaluated by the caller so the same rows serve listing and validation.
func (r *Repo) AuthorizedForChild(ctx context.Context, orgID, childID string) ([]AuthorizedPickup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+authorizedColumns+`
		FROM authorized_pickups
		WHERE org_id = $1 AND child_id = $2 AND status <> 'deactivated'
	`, orgID, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []AuthorizedPickup
	for rows.Next() {
		rec, err := scanAuthorized(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// AuthorizedByID returns one authorization record, nil when absent.
func (r *Repo) AuthorizedByID(ctx context.Context, orgID, personID string) (*AuthorizedPickup, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+authorizedColumns+`
		FROM authorized_pickups
		WHERE org_id = $1 AND id = $2
	`, orgID, personID)
	rec, err := scanAuthorized(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Create inserts a new authorization record in the active state.
func (r *Repo) Create(ctx context.Context, rec AuthorizedPickup) (AuthorizedPickup, error) {
	if rec.ChildID == "" || rec.Name == "" {
		return AuthorizedPickup{}, errors.New("child id and name required")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PersonType == "" {
		rec.PersonType = TypeAuthorized
	}
	if rec.Status == "" {
		rec.Status = StateActive
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO authorized_pickups (
			id, org_id, child_id, person_type, name, relationship, phone,
			photo_url, id_document_url, valid_from, valid_until, allowed_days,
			time_restriction, restrictions, status
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		RETURNING created_at, updated_at
	`, rec.ID, rec.OrgID, rec.ChildID, string(rec.PersonType), rec.Name, rec.Relationship,
		nullStr(rec.Phone), nullStr(rec.PhotoURL), nullStr(rec.IDDocumentURL),
		rec.ValidFrom, rec.ValidUntil, joinDays(rec.AllowedDays),
		nullStr(rec.TimeRestriction), nullStr(rec.Restrictions), string(rec.Status))
	if err := row.Scan(&rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return AuthorizedPickup{}, err
	}
	return rec, nil
}

// SetStatus moves a record between lifecycle states. Deactivation is the soft
// delete; rows stay for the audit trail.
func (r *Repo) SetStatus(ctx context.Context, orgID, personID string, status LifecycleState) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE authorized_pickups
		SET status = $3, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, personID, string(status))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkVerified records that staff checked the person's ID documents.
func (r *Repo) MarkVerified(ctx context.Context, orgID, personID, verifiedBy string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE authorized_pickups
		SET verified_by = $3, verified_at = NOW(), updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, personID, verifiedBy)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage bumps the pickup counter after a completed checkout.
func (r *Repo) IncrementUsage(ctx context.Context, orgID, personID string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE authorized_pickups
		SET pickup_count = pickup_count + 1, last_pickup_at = $3, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, personID, usedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuardian(row rowScanner) (Guardian, error) {
	var g Guardian
	var phone, photo sql.NullString
	var status string
	if err := row.Scan(&g.ID, &g.OrgID, &g.ChildID, &g.Name, &g.Relationship, &phone, &photo, &status); err != nil {
		return Guardian{}, err
	}
	g.Phone = phone.String
	g.PhotoURL = photo.String
	g.Active = status == "active"
	return g, nil
}

func scanAuthorized(row rowScanner) (AuthorizedPickup, error) {
	var rec AuthorizedPickup
	var personType, status string
	var phone, photo, idDoc, days, timeRestr, restr, verifiedBy sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.OrgID, &rec.ChildID, &personType, &rec.Name, &rec.Relationship,
		&phone, &photo, &idDoc, &rec.ValidFrom, &rec.ValidUntil, &days,
		&timeRestr, &restr, &status, &verifiedBy, &rec.VerifiedAt,
		&rec.PickupCount, &rec.LastPickupAt, &rec.CreatedAt, &rec.UpdatedAt,
	); err != nil {
		return AuthorizedPickup{}, err
	}
	rec.PersonType = PersonType(personType)
	rec.Status = LifecycleState(status)
	rec.Phone = phone.String
	rec.PhotoURL = photo.String
	rec.IDDocumentURL = idDoc.String
	rec.AllowedDays = splitDays(days.String)
	rec.TimeRestriction = timeRestr.String
	rec.Restrictions = restr.String
	rec.VerifiedBy = verifiedBy.String
	return rec, nil
}

// allowed_days is stored as a comma-separated list of lowercase day names.
func joinDays(days []string) sql.NullString {
	if len(days) == 0 {
		return sql.NullString{}
	}
	cleaned := make([]string, 0, len(days))
	for _, d := range days {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			cleaned = append(cleaned, d)
		}
	}
	return sql.NullString{String: strings.Join(cleaned, ","), Valid: true}
}

func splitDays(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	days := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			days = append(days, p)
		}
	}
	return days
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
