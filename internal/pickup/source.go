package pickup

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"
)

// ErrNotFound is returned when the claimed person has no record for the child.
var ErrNotFound = errors.New("pickup person not found")

// Source answers authorization questions for a child. Two implementations
// exist: one backed by the database's stored procedures and one that runs the
// equivalent rules client-side. A startup probe picks the stored-procedure
// source when the procedures are installed; at runtime an RPC failure falls
// back to the local source for that call, so a store-side regression degrades
// to slower answers rather than to denials.
type Source interface {
	ListAuthorized(ctx context.Context, orgID, childID string) ([]Person, error)
	Validate(ctx context.Context, orgID, childID string, personType PersonType, personID string) (ValidationResult, error)
}

// Store is the row-level access the local source and registry need.
type Store interface {
	GuardiansForChild(ctx context.Context, orgID, childID string) ([]Guardian, error)
	GuardianByID(ctx context.Context, orgID, childID, personID string) (*Guardian, error)
	AuthorizedForChild(ctx context.Context, orgID, childID string) ([]AuthorizedPickup, error)
	AuthorizedByID(ctx context.Context, orgID, personID string) (*AuthorizedPickup, error)
}

// localSource applies the authorization rules in-process over plain row reads.
type localSource struct {
	store Store
	now   func() time.Time
}

// NewLocalSource builds the client-side rule source. now is injectable so the
// decision is reproducible in tests; pass nil for wall-clock time.
func NewLocalSource(store Store, now func() time.Time) Source {
	if now == nil {
		now = time.Now
	}
	return &localSource{store: store, now: now}
}

func (s *localSource) ListAuthorized(ctx context.Context, orgID, childID string) ([]Person, error) {
	guardians, err := s.store.GuardiansForChild(ctx, orgID, childID)
	if err != nil {
		return nil, err
	}
	people := make([]Person, 0, len(guardians))
	for _, g := range guardians {
		if g.Active {
			people = append(people, g.normalize())
		}
	}

	records, err := s.store.AuthorizedForChild(ctx, orgID, childID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, rec := range records {
		if rec.CurrentlyValid(now) {
			people = append(people, rec.normalize())
		}
	}
	return people, nil
}

func (s *localSource) Validate(ctx context.Context, orgID, childID string, personType PersonType, personID string) (ValidationResult, error) {
	switch personType {
	case TypeGuardian:
		g, err := s.store.GuardianByID(ctx, orgID, childID, personID)
		if err != nil {
			return ValidationResult{}, err
		}
		if g == nil {
			return ValidationResult{IsValid: false, PersonType: personType, Message: msgNotFound}, nil
		}
		if !g.Active {
			return ValidationResult{
				IsValid:      false,
				PersonType:   personType,
				PersonName:   g.Name,
				Relationship: g.Relationship,
				Message:      msgGuardianInactive,
			}, nil
		}
		return ValidationResult{
			IsValid:      true,
			PersonType:   personType,
			PersonName:   g.Name,
			Relationship: g.Relationship,
			PhotoURL:     g.PhotoURL,
			Message:      msgGuardianValid,
		}, nil

	case TypeAuthorized, TypeEmergencyContact:
		rec, err := s.store.AuthorizedByID(ctx, orgID, personID)
		if err != nil {
			return ValidationResult{}, err
		}
		if rec == nil || rec.ChildID != childID || rec.PersonType != personType {
			return ValidationResult{IsValid: false, PersonType: personType, Message: msgNotFound}, nil
		}
		if reason := rec.validityFailure(s.now()); reason != "" {
			return ValidationResult{
				IsValid:      false,
				PersonType:   personType,
				PersonName:   rec.Name,
				Relationship: rec.Relationship,
				PhotoURL:     rec.PhotoURL,
				Message:      reason,
			}, nil
		}
		res := ValidationResult{
			IsValid:      true,
			PersonType:   personType,
			PersonName:   rec.Name,
			Relationship: rec.Relationship,
			PhotoURL:     rec.PhotoURL,
			Restrictions: rec.Restrictions,
			Message:      msgPersonValid,
		}
		if personType == TypeEmergencyContact {
			// Lower trust tier: advisory only, not a hard block.
			if res.Restrictions != "" {
				res.Restrictions += "; "
			}
			res.Restrictions += advisoryEmergency
			res.Message = msgEmergencyValid
		}
		return res, nil

	default:
		return ValidationResult{IsValid: false, PersonType: personType, Message: msgUnknownType}, nil
	}
}

// rpcSource delegates to the database's stored procedures.
type rpcSource struct {
	db *sql.DB
}

// NewRPCSource builds the stored-procedure source.
func NewRPCSource(db *sql.DB) Source {
	return &rpcSource{db: db}
}

func (s *rpcSource) ListAuthorized(ctx context.Context, orgID, childID string) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT person_id, person_type, name, relationship, phone, photo_present, id_document_present, restrictions
		FROM get_authorized_pickups_for_child($1, $2)
	`, orgID, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var people []Person
	for rows.Next() {
		var p Person
		var phone, restrictions sql.NullString
		if err := rows.Scan(&p.PersonID, &p.PersonType, &p.Name, &p.Relationship, &phone, &p.PhotoPresent, &p.IDDocumentPresent, &restrictions); err != nil {
			return nil, err
		}
		p.Phone = phone.String
		p.Restrictions = restrictions.String
		people = append(people, p)
	}
	return people, rows.Err()
}

func (s *rpcSource) Validate(ctx context.Context, orgID, childID string, personType PersonType, personID string) (ValidationResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT is_valid, person_name, relationship, photo_url, restrictions, message
		FROM validate_pickup_person($1, $2, $3, $4)
	`, orgID, childID, string(personType), personID)

	var res ValidationResult
	var name, rel, photo, restrictions, message sql.NullString
	if err := row.Scan(&res.IsValid, &name, &rel, &photo, &restrictions, &message); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ValidationResult{IsValid: false, PersonType: personType, Message: msgNotFound}, nil
		}
		return ValidationResult{}, err
	}
	res.PersonType = personType
	res.PersonName = name.String
	res.Relationship = rel.String
	res.PhotoURL = photo.String
	res.Restrictions = restrictions.String
	res.Message = message.String
	return res, nil
}

// fallbackSource tries the primary source and falls back to the secondary when
// the primary errors. A negative answer from the primary is final; only
// transport/store failures trigger the fallback.
type fallbackSource struct {
	primary   Source
	secondary Source
}

func (s *fallbackSource) ListAuthorized(ctx context.Context, orgID, childID string) ([]Person, error) {
	people, err := s.primary.ListAuthorized(ctx, orgID, childID)
	if err != nil {
		log.Printf("pickup: rpc list failed, using local rules: %v", err)
		return s.secondary.ListAuthorized(ctx, orgID, childID)
	}
	return people, nil
}

func (s *fallbackSource) Validate(ctx context.Context, orgID, childID string, personType PersonType, personID string) (ValidationResult, error) {
	res, err := s.primary.Validate(ctx, orgID, childID, personType, personID)
	if err != nil {
		log.Printf("pickup: rpc validate failed, using local rules: %v", err)
		return s.secondary.Validate(ctx, orgID, childID, personType, personID)
	}
	return res, nil
}

// SelectSource probes the database once at startup and returns the
// stored-procedure source (with local fallback) when both procedures are
// installed, or the local source otherwise.
func SelectSource(ctx context.Context, db *sql.DB, store Store, now func() time.Time) Source {
	local := NewLocalSource(store, now)
	if db == nil || !probeRPC(ctx, db) {
		log.Println("pickup: authorization procedures not available, using local rules")
		return local
	}
	return &fallbackSource{primary: NewRPCSource(db), secondary: local}
}

func probeRPC(ctx context.Context, db *sql.DB) bool {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM pg_proc
		WHERE proname IN ('get_authorized_pickups_for_child', 'validate_pickup_person')
	`).Scan(&count)
	if err != nil {
		return false
	}
	return count >= 2
}
