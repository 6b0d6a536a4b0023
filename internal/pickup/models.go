package pickup

import (
	"strings"
	"time"
)

// PersonType distinguishes the three kinds of people who may appear at pickup.
type PersonType string

const (
	TypeGuardian         PersonType = "guardian"
	TypeAuthorized       PersonType = "authorized"
	TypeEmergencyContact PersonType = "emergency_contact"
)

// LifecycleState is the lifecycle of an authorization record. Records are
// never hard-deleted while history exists; deactivation is the soft delete.
type LifecycleState string

const (
	StateActive      LifecycleState = "active"
	StateSuspended   LifecycleState = "suspended"
	StateDeactivated LifecycleState = "deactivated"
)

// Guardian is a legal parent/custodian, implicitly authorized while active.
type Guardian struct {
	ID           string
	OrgID        string
	ChildID      string
	Name         string
	Relationship string
	Phone        string
	PhotoURL     string
	Active       bool
}

// AuthorizedPickup is an explicit authorization record: a third party or an
// emergency contact, with an optional validity window and day restrictions.
type AuthorizedPickup struct {
	ID              string
	OrgID           string
	ChildID         string
	PersonType      PersonType
	Name            string
	Relationship    string
	Phone           string
	PhotoURL        string
	IDDocumentURL   string
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	AllowedDays     []string
	TimeRestriction string
	Restrictions    string
	Status          LifecycleState
	VerifiedBy      string
	VerifiedAt      *time.Time
	PickupCount     int
	LastPickupAt    *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Person is the normalized view returned by the registry, regardless of the
// underlying record kind.
type Person struct {
	PersonID          string     `json:"person_id"`
	PersonType        PersonType `json:"person_type"`
	Name              string     `json:"name"`
	Relationship      string     `json:"relationship"`
	Phone             string     `json:"phone,omitempty"`
	PhotoPresent      bool       `json:"photo_present"`
	IDDocumentPresent bool       `json:"id_document_present"`
	Restrictions      string     `json:"restrictions,omitempty"`
}

// ValidationResult is the validator's answer. Message is operator-facing text
// shown at the front desk, in both the allow and deny cases.
type ValidationResult struct {
	IsValid      bool       `json:"is_valid"`
	PersonType   PersonType `json:"person_type"`
	PersonName   string     `json:"person_name,omitempty"`
	Relationship string     `json:"relationship,omitempty"`
	PhotoURL     string     `json:"photo_url,omitempty"`
	Restrictions string     `json:"restrictions,omitempty"`
	Message      string     `json:"message"`
}

// Operator-facing messages. The product ships in Spanish.
const (
	msgGuardianValid     = "Tutor autorizado para el retiro"
	msgGuardianInactive  = "Tutor inactivo"
	msgPersonValid       = "Persona autorizada para el retiro"
	msgEmergencyValid    = "Contacto de emergencia autorizado"
	msgExpiredOrInactive = "Autorización expirada o inactiva"
	msgDayNotAllowed     = "No autorizado para retirar el día de hoy"
	msgNotFound          = "Persona no registrada para este niño"
	msgUnknownType       = "Tipo de persona no reconocido"

	advisoryEmergency = "Contacto de emergencia: requiere confirmación de identidad en persona"
)

// CurrentlyValid reports whether the record satisfies the currency invariant
// at the given instant: active, inside the validity window, and allowed today.
func (p AuthorizedPickup) CurrentlyValid(now time.Time) bool {
	return p.validityFailure(now) == ""
}

// validityFailure returns the operator-facing denial message, or "" when the
// record is currently valid. Window bounds are compared at date granularity:
// valid_until on today's date still admits the pickup.
func (p AuthorizedPickup) validityFailure(now time.Time) string {
	if p.Status != StateActive {
		return msgExpiredOrInactive
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if p.ValidFrom != nil {
		from := p.ValidFrom
		if time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, now.Location()).After(today) {
			return msgExpiredOrInactive
		}
	}
	if p.ValidUntil != nil {
		until := p.ValidUntil
		if time.Date(until.Year(), until.Month(), until.Day(), 0, 0, 0, 0, now.Location()).Before(today) {
			return msgExpiredOrInactive
		}
	}
	if len(p.AllowedDays) > 0 && !dayAllowed(p.AllowedDays, now) {
		return msgDayNotAllowed
	}
	return ""
}

func dayAllowed(allowed []string, now time.Time) bool {
	weekday := strings.ToLower(now.Weekday().String())
	for _, d := range allowed {
		if strings.ToLower(strings.TrimSpace(d)) == weekday {
			return true
		}
	}
	return false
}

// normalize converts an authorization record to the registry's view.
func (p AuthorizedPickup) normalize() Person {
	restrictions := p.Restrictions
	if p.PersonType == TypeEmergencyContact {
		if restrictions != "" {
			restrictions += "; "
		}
		restrictions += advisoryEmergency
	}
	return Person{
		PersonID:          p.ID,
		PersonType:        p.PersonType,
		Name:              p.Name,
		Relationship:      p.Relationship,
		Phone:             p.Phone,
		PhotoPresent:      p.PhotoURL != "",
		IDDocumentPresent: p.IDDocumentURL != "",
		Restrictions:      restrictions,
	}
}

func (g Guardian) normalize() Person {
	return Person{
		PersonID:     g.ID,
		PersonType:   TypeGuardian,
		Name:         g.Name,
		Relationship: g.Relationship,
		Phone:        g.Phone,
		PhotoPresent: g.PhotoURL != "",
	}
}
