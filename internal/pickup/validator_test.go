package pickup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"daycare/internal/pickup"
)

// fakeStore is an in-memory pickup.Store.
type fakeStore struct {
	guardians  []pickup.Guardian
	authorized []pickup.AuthorizedPickup

	guardianErr   error
	authorizedErr error
}

func (s *fakeStore) GuardiansForChild(_ context.Context, orgID, childID string) ([]pickup.Guardian, error) {
	if s.guardianErr != nil {
		return nil, s.guardianErr
	}
	var out []pickup.Guardian
	for _, g := range s.guardians {
		if g.OrgID == orgID && g.ChildID == childID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (s *fakeStore) GuardianByID(_ context.Context, orgID, childID, personID string) (*pickup.Guardian, error) {
	if s.guardianErr != nil {
		return nil, s.guardianErr
	}
	for _, g := range s.guardians {
		if g.OrgID == orgID && g.ChildID == childID && g.ID == personID {
			copied := g
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) AuthorizedForChild(_ context.Context, orgID, childID string) ([]pickup.AuthorizedPickup, error) {
	if s.authorizedErr != nil {
		return nil, s.authorizedErr
	}
	var out []pickup.AuthorizedPickup
	for _, rec := range s.authorized {
		if rec.OrgID == orgID && rec.ChildID == childID && rec.Status != pickup.StateDeactivated {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *fakeStore) AuthorizedByID(_ context.Context, orgID, personID string) (*pickup.AuthorizedPickup, error) {
	if s.authorizedErr != nil {
		return nil, s.authorizedErr
	}
	for _, rec := range s.authorized {
		if rec.OrgID == orgID && rec.ID == personID {
			copied := rec
			return &copied, nil
		}
	}
	return nil, nil
}

func datePtr(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

// fixedNow is a Tuesday.
var fixedNow = time.Date(2024, time.March, 5, 10, 30, 0, 0, time.UTC)

func newValidator(store *fakeStore, now time.Time) *pickup.Validator {
	src := pickup.NewLocalSource(store, func() time.Time { return now })
	return pickup.NewValidator(src)
}

func TestValidateExpiredAlwaysInvalid(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "c1",
		PersonType: pickup.TypeAuthorized,
		Name:       "Ana Flores", Relationship: "tía",
		Status:     pickup.StateActive,
		ValidUntil: datePtr(2024, time.February, 1),
	}}}
	v := newValidator(store, fixedNow)

	res, err := v.Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("expired record must be invalid")
	}
	if res.Message != "Autorización expirada o inactiva" {
		t.Fatalf("unexpected message: %q", res.Message)
	}
}

func TestValidateActiveNoExpiryValid(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "c1",
		PersonType: pickup.TypeAuthorized,
		Name:       "Ana Flores", Relationship: "tía",
		Status:     pickup.StateActive,
	}}}
	v := newValidator(store, fixedNow)

	res, err := v.Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("expected valid, got message %q", res.Message)
	}
	if res.PersonName != "Ana Flores" {
		t.Fatalf("expected person name in result, got %q", res.PersonName)
	}
	if res.Message == "" {
		t.Fatal("message must be set on success too")
	}
}

func TestValidateDayOfWeekRestriction(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "c1",
		PersonType:  pickup.TypeAuthorized,
		Name:        "Ana Flores",
		Status:      pickup.StateActive,
		AllowedDays: []string{"monday"},
	}}}

	// 2024-03-05 is a Tuesday.
	res, err := newValidator(store, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("monday-only record must be invalid on Tuesday")
	}

	// 2024-03-04 is a Monday.
	monday := time.Date(2024, time.March, 4, 10, 30, 0, 0, time.UTC)
	res, err = newValidator(store, monday).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("monday-only record must be valid on Monday, got %q", res.Message)
	}
}

func TestValidateLifecycleStates(t *testing.T) {
	for _, state := range []pickup.LifecycleState{pickup.StateSuspended, pickup.StateDeactivated} {
		store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
			ID: "p1", OrgID: "org1", ChildID: "c1",
			PersonType: pickup.TypeAuthorized,
			Name:       "Ana Flores",
			Status:     state,
		}}}
		res, err := newValidator(store, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", state, err)
		}
		if res.IsValid {
			t.Fatalf("%s record must be invalid", state)
		}
	}
}

func TestValidateGuardian(t *testing.T) {
	store := &fakeStore{guardians: []pickup.Guardian{
		{ID: "g1", OrgID: "org1", ChildID: "c1", Name: "María Pérez", Relationship: "madre", Active: true},
		{ID: "g2", OrgID: "org1", ChildID: "c1", Name: "Luis Pérez", Relationship: "padre", Active: false},
	}}
	v := newValidator(store, fixedNow)

	res, err := v.Validate(context.Background(), "org1", "c1", pickup.TypeGuardian, "g1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("active guardian must be valid, got %q", res.Message)
	}

	res, err = v.Validate(context.Background(), "org1", "c1", pickup.TypeGuardian, "g2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("inactive guardian must be invalid")
	}
}

func TestValidateEmergencyContactAdvisory(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "c1",
		PersonType: pickup.TypeEmergencyContact,
		Name:       "Rosa Díaz", Relationship: "vecina",
		Status: pickup.StateActive,
	}}}
	res, err := newValidator(store, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeEmergencyContact, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.IsValid {
		t.Fatalf("active emergency contact must be valid, got %q", res.Message)
	}
	if res.Restrictions == "" {
		t.Fatal("emergency contact result must carry the in-person confirmation advisory")
	}
}

func TestValidateUnknownTypeDenied(t *testing.T) {
	res, err := newValidator(&fakeStore{}, fixedNow).Validate(context.Background(), "org1", "c1", "janitor", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("unknown person type must never be valid")
	}
	if res.Message == "" {
		t.Fatal("denial must carry an explicit message")
	}
}

func TestValidateNotFound(t *testing.T) {
	res, err := newValidator(&fakeStore{}, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("unknown person must be invalid")
	}
}

func TestValidateWrongChildDenied(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "other-child",
		PersonType: pickup.TypeAuthorized,
		Name:       "Ana Flores",
		Status:     pickup.StateActive,
	}}}
	res, err := newValidator(store, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsValid {
		t.Fatal("record for a different child must not authorize this pickup")
	}
}

func TestValidateDeterministic(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{{
		ID: "p1", OrgID: "org1", ChildID: "c1",
		PersonType: pickup.TypeAuthorized,
		Name:       "Ana Flores",
		Status:     pickup.StateActive,
		ValidUntil: datePtr(2024, time.April, 1),
	}}}
	v := newValidator(store, fixedNow)

	first, err := v.Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := v.Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("validation is not deterministic: %+v vs %+v", first, second)
	}
}

func TestValidateStoreError(t *testing.T) {
	store := &fakeStore{authorizedErr: errors.New("connection refused")}
	_, err := newValidator(store, fixedNow).Validate(context.Background(), "org1", "c1", pickup.TypeAuthorized, "p1")
	if err == nil {
		t.Fatal("store failure with no fallback must propagate")
	}
}
