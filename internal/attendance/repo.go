package attendance

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// CheckOutUpdate carries the fields written by a checkout.
type CheckOutUpdate struct {
	CheckOutTime       time.Time
	CheckedOutBy       string
	PickupName         string
	PickupRelationship string
	PickupPersonID     string
	PickupPersonType   string
	PickupVerified     bool
	VerificationMethod string
}

// Repository is the persistence boundary of the session tracker.
type Repository interface {
	UpsertCheckIn(ctx context.Context, s Session) (Session, error)
	UpsertAbsence(ctx context.Context, s Session) (Session, error)
	// CompleteCheckOut atomically closes the open session for
	// (org, child, date). It returns nil when there is no open session —
	// either no check-in happened or the session is already checked out.
	CompleteCheckOut(ctx context.Context, orgID, childID string, date time.Time, upd CheckOutUpdate) (*Session, error)
	GetByChildDate(ctx context.Context, orgID, childID string, date time.Time) (*Session, error)
	GetSession(ctx context.Context, orgID, id string) (*Session, error)
	ListByDate(ctx context.Context, orgID string, date time.Time) ([]Session, error)
	ListByChild(ctx context.Context, orgID, childID string, from, to time.Time) ([]Session, error)
	CountEnrolled(ctx context.Context, orgID string) (int, error)
	MarkHoursRecorded(ctx context.Context, orgID, id string) error
}

// PostgresRepository persists attendance sessions in Postgres. The unique
// index on (org_id, child_id, attendance_date) is the atomic unit: all writes
// go through upserts or conditional updates keyed on it, never read-then-write.
type PostgresRepository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `
	id, org_id, child_id, classroom_id, attendance_date, status,
	check_in_time, check_out_time, checked_in_by, checked_out_by,
	drop_off_name, drop_off_relationship, drop_off_guardian_id,
	pickup_name, pickup_relationship, pickup_person_id, pickup_person_type,
	pickup_verified, verification_method, hours_recorded, created_at, updated_at`

// UpsertCheckIn inserts today's session or updates an existing row (e.g. a
// prior absence mark) in place. An already-set check_in_time is kept so a
// duplicate check-in does not move the morning timestamp.
func (r *PostgresRepository) UpsertCheckIn(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (
			id, org_id, child_id, classroom_id, attendance_date, status,
			check_in_time, checked_in_by,
			drop_off_name, drop_off_relationship, drop_off_guardian_id
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (org_id, child_id, attendance_date) DO UPDATE SET
			classroom_id = EXCLUDED.classroom_id,
			status = EXCLUDED.status,
			check_in_time = COALESCE(attendance_sessions.check_in_time, EXCLUDED.check_in_time),
			checked_in_by = EXCLUDED.checked_in_by,
			drop_off_name = EXCLUDED.drop_off_name,
			drop_off_relationship = EXCLUDED.drop_off_relationship,
			drop_off_guardian_id = EXCLUDED.drop_off_guardian_id,
			updated_at = NOW()
		RETURNING `+sessionColumns+`
	`, s.ID, s.OrgID, s.ChildID, s.ClassroomID, dateOnly(s.Date), s.Status,
		s.CheckInTime, nullStr(s.CheckedInBy),
		nullStr(s.DropOffName), nullStr(s.DropOffRelationship), nullStr(s.DropOffGuardianID))
	return scanSession(row)
}

// UpsertAbsence records an absence without touching any check-in/out times.
// Calling it twice for the same (child, date) is a no-op on the second call.
func (r *PostgresRepository) UpsertAbsence(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_sessions (id, org_id, child_id, classroom_id, attendance_date, status)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (org_id, child_id, attendance_date) DO UPDATE SET
			status = EXCLUDED.status,
			updated_at = NOW()
		RETURNING `+sessionColumns+`
	`, s.ID, s.OrgID, s.ChildID, s.ClassroomID, dateOnly(s.Date), s.Status)
	return scanSession(row)
}

func (r *PostgresRepository) CompleteCheckOut(ctx context.Context, orgID, childID string, date time.Time, upd CheckOutUpdate) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE attendance_sessions SET
			check_out_time = $4,
			checked_out_by = $5,
			pickup_name = $6,
			pickup_relationship = $7,
			pickup_person_id = $8,
			pickup_person_type = $9,
			pickup_verified = $10,
			verification_method = $11,
			updated_at = NOW()
		WHERE org_id = $1 AND child_id = $2 AND attendance_date = $3
			AND check_in_time IS NOT NULL
			AND check_in_time <= $4
			AND check_out_time IS NULL
		RETURNING `+sessionColumns+`
	`, orgID, childID, dateOnly(date), upd.CheckOutTime, nullStr(upd.CheckedOutBy),
		nullStr(upd.PickupName), nullStr(upd.PickupRelationship),
		nullStr(upd.PickupPersonID), nullStr(upd.PickupPersonType),
		upd.PickupVerified, nullStr(upd.VerificationMethod))
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetByChildDate(ctx context.Context, orgID, childID string, date time.Time) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE org_id = $1 AND child_id = $2 AND attendance_date = $3
	`, orgID, childID, dateOnly(date))
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, orgID, id string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE org_id = $1 AND id = $2
	`, orgID, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *PostgresRepository) ListByDate(ctx context.Context, orgID string, date time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE org_id = $1 AND attendance_date = $2
		ORDER BY child_id
	`, orgID, dateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) ListByChild(ctx context.Context, orgID, childID string, from, to time.Time) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM attendance_sessions
		WHERE org_id = $1 AND child_id = $2 AND attendance_date BETWEEN $3 AND $4
		ORDER BY attendance_date DESC
	`, orgID, childID, dateOnly(from), dateOnly(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (r *PostgresRepository) CountEnrolled(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM children WHERE org_id = $1 AND enrolled = TRUE
	`, orgID).Scan(&count)
	return count, err
}

func (r *PostgresRepository) MarkHoursRecorded(ctx context.Context, orgID, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE attendance_sessions
		SET hours_recorded = TRUE, updated_at = NOW()
		WHERE org_id = $1 AND id = $2
	`, orgID, id)
	return err
}

// ListChildren returns the enrolled roster for an org.
func (r *PostgresRepository) ListChildren(ctx context.Context, orgID string) ([]Child, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, name, classroom_id, enrolled, created_at
		FROM children
		WHERE org_id = $1 AND enrolled = TRUE
		ORDER BY name
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []Child
	for rows.Next() {
		var c Child
		var classroom sql.NullString
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &classroom, &c.Enrolled, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ClassroomID = classroom.String
		children = append(children, c)
	}
	return children, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	var classroom, checkedInBy, checkedOutBy sql.NullString
	var dropName, dropRel, dropGuardian sql.NullString
	var pickName, pickRel, pickID, pickType, verifMethod sql.NullString
	if err := row.Scan(
		&s.ID, &s.OrgID, &s.ChildID, &classroom, &s.Date, &s.Status,
		&s.CheckInTime, &s.CheckOutTime, &checkedInBy, &checkedOutBy,
		&dropName, &dropRel, &dropGuardian,
		&pickName, &pickRel, &pickID, &pickType,
		&s.PickupVerified, &verifMethod, &s.HoursRecorded, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	s.ClassroomID = classroom.String
	s.CheckedInBy = checkedInBy.String
	s.CheckedOutBy = checkedOutBy.String
	s.DropOffName = dropName.String
	s.DropOffRelationship = dropRel.String
	s.DropOffGuardianID = dropGuardian.String
	s.PickupName = pickName.String
	s.PickupRelationship = pickRel.String
	s.PickupPersonID = pickID.String
	s.PickupPersonType = pickType.String
	return s, nil
}

func collectSessions(rows *sql.Rows) ([]Session, error) {
	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// dateOnly truncates to midnight in the timestamp's own location. The facility
// clock runs in FACILITY_TZ, so the local calendar date keys the session; a
// UTC truncation would split an east-of-UTC day across two rows.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
