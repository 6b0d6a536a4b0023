package attendance

import (
	"time"

	"daycare/internal/hours"
	"daycare/internal/pickup"
)

// Session statuses.
const (
	StatusPresent = "present"
	StatusAbsent  = "absent"
	StatusLate    = "late"
	StatusSick    = "sick"
)

// Session is the single per-child-per-day attendance record, spanning
// check-in to check-out. Rows are never deleted; an absence is a session with
// no times.
type Session struct {
	ID           string     `json:"id"`
	OrgID        string     `json:"org_id"`
	ChildID      string     `json:"child_id"`
	ClassroomID  string     `json:"classroom_id"`
	Date         time.Time  `json:"date"`
	Status       string     `json:"status"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
	CheckedInBy  string     `json:"checked_in_by,omitempty"`
	CheckedOutBy string     `json:"checked_out_by,omitempty"`

	DropOffName         string `json:"drop_off_name,omitempty"`
	DropOffRelationship string `json:"drop_off_relationship,omitempty"`
	DropOffGuardianID   string `json:"drop_off_guardian_id,omitempty"`

	PickupName         string `json:"pickup_name,omitempty"`
	PickupRelationship string `json:"pickup_relationship,omitempty"`
	PickupPersonID     string `json:"pickup_person_id,omitempty"`
	PickupPersonType   string `json:"pickup_person_type,omitempty"`
	PickupVerified     bool   `json:"pickup_verified"`
	VerificationMethod string `json:"verification_method,omitempty"`

	HoursRecorded bool      `json:"hours_recorded"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DropOffInfo identifies who delivered the child. Drop-off is recorded but not
// authorization-checked; the gate is on pickup only.
type DropOffInfo struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	GuardianID   string `json:"guardian_id,omitempty"`
}

// PickupInfo identifies who is taking the child. When PersonID and PersonType
// are set the person must pass validation before the checkout is written.
type PickupInfo struct {
	Name         string `json:"name"`
	Relationship string `json:"relationship"`
	PersonID     string `json:"person_id,omitempty"`
	PersonType   string `json:"person_type,omitempty"`
	Method       string `json:"method,omitempty"`
}

// CheckInInput carries one check-in request.
type CheckInInput struct {
	ChildID     string       `json:"child_id"`
	ClassroomID string       `json:"classroom_id"`
	CheckedInBy string       `json:"checked_in_by,omitempty"`
	DropOff     *DropOffInfo `json:"drop_off,omitempty"`
}

// CheckOutInput carries one check-out request.
type CheckOutInput struct {
	ChildID      string      `json:"child_id"`
	CheckedOutBy string      `json:"checked_out_by,omitempty"`
	Pickup       *PickupInfo `json:"pickup,omitempty"`
	Verified     bool        `json:"-"`
}

// CheckOutResult is returned by CheckOut. ProgramHours and Warnings are
// advisory; their absence or content never indicates checkout failure.
type CheckOutResult struct {
	Session      Session       `json:"session"`
	ProgramHours *hours.Result `json:"program_hours,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// CheckOutOutcome is the never-throws composite result: validation failures
// and precondition violations land in Error with Success=false.
type CheckOutOutcome struct {
	Success      bool                     `json:"success"`
	Session      *Session                 `json:"session,omitempty"`
	ProgramHours *hours.Result            `json:"program_hours,omitempty"`
	Validation   *pickup.ValidationResult `json:"validation,omitempty"`
	Warnings     []string                 `json:"warnings,omitempty"`
	Error        string                   `json:"error,omitempty"`
}

// DailyStats aggregates one day for an org. Children with no session row yet
// count toward Absent (and NoRecord) rather than being dropped.
type DailyStats struct {
	Date            string `json:"date"`
	TotalEnrolled   int    `json:"total_enrolled"`
	Present         int    `json:"present"`
	Absent          int    `json:"absent"`
	Late            int    `json:"late"`
	Sick            int    `json:"sick"`
	NoRecord        int    `json:"no_record"`
	CheckedOut      int    `json:"checked_out"`
	PendingCheckout int    `json:"pending_checkout"`
	VerifiedPickups int    `json:"verified_pickups"`
}

// Child is the roster entry used for enrollment counts.
type Child struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Name        string    `json:"name"`
	ClassroomID string    `json:"classroom_id"`
	Enrolled    bool      `json:"enrolled"`
	CreatedAt   time.Time `json:"created_at"`
}
