package attendance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"daycare/internal/hours"
	"daycare/internal/pickup"
	"daycare/internal/queue"
)

// ErrNoOpenSession is the hard precondition failure for checkout: either no
// check-in happened today or the child is already checked out.
var ErrNoOpenSession = errors.New("no check-in found for today")

// HoursRecorder is the external program-hours boundary. Recording is a
// best-effort side effect of checkout; the tracker never lets a failure here
// propagate past a committed checkout.
type HoursRecorder interface {
	RecordProgramHours(ctx context.Context, req hours.Request) (*hours.Result, error)
}

// PickupValidator decides whether a claimed person may pick a child up.
type PickupValidator interface {
	Validate(ctx context.Context, orgID, childID string, personType pickup.PersonType, personID string) (pickup.ValidationResult, error)
}

// UsageRecorder tracks how often an authorization record is exercised.
type UsageRecorder interface {
	IncrementUsage(ctx context.Context, orgID, personID string, usedAt time.Time) error
}

// Tracker owns the one-session-per-child-per-day record and its state
// transitions.
type Tracker struct {
	repo      Repository
	validator PickupValidator
	recorder  HoursRecorder
	usage     UsageRecorder
	q         queue.Queue
	now       func() time.Time
}

// NewTracker creates the session tracker. validator, recorder, usage and q are
// optional; nil disables the corresponding side effect.
func NewTracker(repo Repository, validator PickupValidator, recorder HoursRecorder, usage UsageRecorder, q queue.Queue, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{repo: repo, validator: validator, recorder: recorder, usage: usage, q: q, now: now}
}

// CheckIn opens (or reopens from an absence mark) today's session. Drop-off
// identity is recorded without an authorization check; the gate is on pickup.
func (t *Tracker) CheckIn(ctx context.Context, orgID string, in CheckInInput) (Session, error) {
	if in.ChildID == "" {
		return Session{}, errors.New("child id required")
	}
	if in.ClassroomID == "" {
		return Session{}, errors.New("classroom id required")
	}
	now := t.now()
	s := Session{
		OrgID:       orgID,
		ChildID:     in.ChildID,
		ClassroomID: in.ClassroomID,
		Date:        now,
		Status:      StatusPresent,
		CheckInTime: &now,
		CheckedInBy: in.CheckedInBy,
	}
	if in.DropOff != nil {
		s.DropOffName = in.DropOff.Name
		s.DropOffRelationship = in.DropOff.Relationship
		s.DropOffGuardianID = in.DropOff.GuardianID
	}
	return t.repo.UpsertCheckIn(ctx, s)
}

// CheckOut closes today's open session and records the pickup identity.
// Precondition: a checked-in, not-yet-checked-out session exists for today;
// otherwise ErrNoOpenSession. The tracker does not re-validate the pickup
// person — CheckOutWithData runs the validator before calling here.
//
// After the write commits, program hours are recorded best-effort: failures
// are logged, queued for the worker to retry, and surfaced as warnings only.
func (t *Tracker) CheckOut(ctx context.Context, orgID string, in CheckOutInput) (CheckOutResult, error) {
	if in.ChildID == "" {
		return CheckOutResult{}, errors.New("child id required")
	}
	now := t.now()
	upd := CheckOutUpdate{
		CheckOutTime: now,
		CheckedOutBy: in.CheckedOutBy,
	}
	if in.Pickup != nil {
		upd.PickupName = in.Pickup.Name
		upd.PickupRelationship = in.Pickup.Relationship
		upd.PickupPersonID = in.Pickup.PersonID
		upd.PickupPersonType = in.Pickup.PersonType
		upd.PickupVerified = in.Verified
		upd.VerificationMethod = in.Pickup.Method
	}

	sess, err := t.repo.CompleteCheckOut(ctx, orgID, in.ChildID, now, upd)
	if err != nil {
		return CheckOutResult{}, fmt.Errorf("checkout: %w", err)
	}
	if sess == nil {
		return CheckOutResult{}, ErrNoOpenSession
	}

	res := CheckOutResult{Session: *sess}
	res.ProgramHours, res.Warnings = t.recordHours(ctx, *sess)

	if t.usage != nil && in.Pickup != nil && in.Pickup.PersonID != "" && in.Pickup.PersonType != string(pickup.TypeGuardian) {
		if err := t.usage.IncrementUsage(ctx, orgID, in.Pickup.PersonID, now); err != nil {
			log.Printf("attendance: usage increment failed for %s: %v", in.Pickup.PersonID, err)
		}
	}
	return res, nil
}

// CheckOutWithData is the composite operation behind the checkout screen: it
// validates the claimed pickup person first and refuses to write when the
// person fails validation. It never returns an error; every failure mode is a
// Success=false outcome with an operator-facing message.
func (t *Tracker) CheckOutWithData(ctx context.Context, orgID string, in CheckOutInput) CheckOutOutcome {
	if in.Pickup != nil && in.Pickup.PersonID != "" && in.Pickup.PersonType != "" {
		if t.validator == nil {
			return CheckOutOutcome{Success: false, Error: "pickup validation unavailable"}
		}
		vres, err := t.validator.Validate(ctx, orgID, in.ChildID, pickup.PersonType(in.Pickup.PersonType), in.Pickup.PersonID)
		if err != nil {
			return CheckOutOutcome{Success: false, Error: fmt.Sprintf("pickup validation unavailable: %v", err)}
		}
		if !vres.IsValid {
			// No partial checkout: the session row stays untouched.
			return CheckOutOutcome{Success: false, Validation: &vres, Error: vres.Message}
		}
		in.Verified = true
		if in.Pickup.Method == "" {
			in.Pickup.Method = "authorized_person_check"
		}
		if in.Pickup.Name == "" {
			in.Pickup.Name = vres.PersonName
		}
		if in.Pickup.Relationship == "" {
			in.Pickup.Relationship = vres.Relationship
		}
		res, err := t.CheckOut(ctx, orgID, in)
		if err != nil {
			return CheckOutOutcome{Success: false, Validation: &vres, Error: err.Error()}
		}
		return CheckOutOutcome{
			Success:      true,
			Session:      &res.Session,
			ProgramHours: res.ProgramHours,
			Validation:   &vres,
			Warnings:     res.Warnings,
		}
	}

	res, err := t.CheckOut(ctx, orgID, in)
	if err != nil {
		return CheckOutOutcome{Success: false, Error: err.Error()}
	}
	return CheckOutOutcome{Success: true, Session: &res.Session, ProgramHours: res.ProgramHours, Warnings: res.Warnings}
}

// MarkAbsent records an absence for the given date. Idempotent: repeating the
// call leaves a single row in the same final state.
func (t *Tracker) MarkAbsent(ctx context.Context, orgID, childID, classroomID string, date time.Time, status string) (Session, error) {
	if childID == "" {
		return Session{}, errors.New("child id required")
	}
	switch status {
	case "":
		status = StatusAbsent
	case StatusAbsent, StatusSick, StatusLate:
	default:
		return Session{}, fmt.Errorf("invalid absence status %q", status)
	}
	if date.IsZero() {
		date = t.now()
	}
	return t.repo.UpsertAbsence(ctx, Session{
		OrgID:       orgID,
		ChildID:     childID,
		ClassroomID: classroomID,
		Date:        date,
		Status:      status,
	})
}

// GetByDate returns all sessions for one day.
func (t *Tracker) GetByDate(ctx context.Context, orgID string, date time.Time) ([]Session, error) {
	return t.repo.ListByDate(ctx, orgID, date)
}

// GetByChild returns a child's sessions in [from, to].
func (t *Tracker) GetByChild(ctx context.Context, orgID, childID string, from, to time.Time) ([]Session, error) {
	if childID == "" {
		return nil, errors.New("child id required")
	}
	return t.repo.ListByChild(ctx, orgID, childID, from, to)
}

// GetDailyStats aggregates one day. The roster and session reads are two
// sequential queries; a child enrolled but without a session row yet is
// counted as absent with no record, so skew between the reads cannot produce
// negative or double counts.
func (t *Tracker) GetDailyStats(ctx context.Context, orgID string, date time.Time) (DailyStats, error) {
	if date.IsZero() {
		date = t.now()
	}
	enrolled, err := t.repo.CountEnrolled(ctx, orgID)
	if err != nil {
		return DailyStats{}, fmt.Errorf("daily stats: %w", err)
	}
	sessions, err := t.repo.ListByDate(ctx, orgID, date)
	if err != nil {
		return DailyStats{}, fmt.Errorf("daily stats: %w", err)
	}

	stats := DailyStats{
		Date:          date.Format("2006-01-02"),
		TotalEnrolled: enrolled,
	}
	for _, s := range sessions {
		switch s.Status {
		case StatusPresent:
			stats.Present++
		case StatusAbsent:
			stats.Absent++
		case StatusLate:
			stats.Late++
			stats.Present++
		case StatusSick:
			stats.Sick++
		}
		if s.CheckOutTime != nil {
			stats.CheckedOut++
		} else if s.CheckInTime != nil {
			stats.PendingCheckout++
		}
		if s.PickupVerified {
			stats.VerifiedPickups++
		}
	}
	if extra := enrolled - len(sessions); extra > 0 {
		stats.NoRecord = extra
		stats.Absent += extra
	}
	return stats, nil
}

// recordHours calls the program-hours service for a closed session. Never
// returns an error and never panics out: a reporting failure must not unwind
// a checkout that already happened.
func (t *Tracker) recordHours(ctx context.Context, s Session) (result *hours.Result, warnings []string) {
	if t.recorder == nil || s.CheckInTime == nil || s.CheckOutTime == nil {
		return nil, nil
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("attendance: program hours recorder panicked for session %s: %v", s.ID, r)
			result = nil
			warnings = append(warnings, "program hours not recorded")
			t.enqueueRetry(ctx, s)
		}
	}()

	res, err := t.recorder.RecordProgramHours(ctx, hours.Request{
		OrgID:        s.OrgID,
		ChildID:      s.ChildID,
		AttendanceID: s.ID,
		CheckInTime:  *s.CheckInTime,
		CheckOutTime: *s.CheckOutTime,
		Date:         s.Date.Format("2006-01-02"),
	})
	if err != nil {
		log.Printf("attendance: program hours recording failed for session %s: %v", s.ID, err)
		t.enqueueRetry(ctx, s)
		return nil, []string{"program hours not recorded"}
	}
	if len(res.Errors) > 0 {
		warnings = append(warnings, res.Errors...)
	} else if err := t.repo.MarkHoursRecorded(ctx, s.OrgID, s.ID); err != nil {
		log.Printf("attendance: mark hours recorded failed for session %s: %v", s.ID, err)
	}
	return res, warnings
}

// enqueueRetry hands a failed recording to the worker. Best-effort as well.
func (t *Tracker) enqueueRetry(ctx context.Context, s Session) {
	if t.q == nil {
		return
	}
	evt, err := json.Marshal(queue.CheckoutEvent{
		OrgID:        s.OrgID,
		AttendanceID: s.ID,
		ChildID:      s.ChildID,
		EnqueuedAt:   t.now().UTC(),
	})
	if err != nil {
		return
	}
	if err := t.q.Publish(ctx, queue.Message{Type: "checkout", Body: evt}); err != nil {
		log.Printf("attendance: checkout retry enqueue failed for session %s: %v", s.ID, err)
	}
}
