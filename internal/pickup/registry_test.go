package pickup_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"daycare/internal/pickup"
)

// failingSource simulates the stored-procedure source being unreachable.
type failingSource struct{}

func (failingSource) ListAuthorized(context.Context, string, string) ([]pickup.Person, error) {
	return nil, errors.New("rpc unreachable")
}

func (failingSource) Validate(context.Context, string, string, pickup.PersonType, string) (pickup.ValidationResult, error) {
	return pickup.ValidationResult{}, errors.New("rpc unreachable")
}

func TestRegistryUnionFiltersExpired(t *testing.T) {
	store := &fakeStore{
		guardians: []pickup.Guardian{
			{ID: "g1", OrgID: "org1", ChildID: "c1", Name: "María Pérez", Relationship: "madre", Active: true},
			{ID: "g2", OrgID: "org1", ChildID: "c1", Name: "Luis Pérez", Relationship: "padre", Active: false},
		},
		authorized: []pickup.AuthorizedPickup{
			{
				ID: "p1", OrgID: "org1", ChildID: "c1",
				PersonType: pickup.TypeAuthorized, Name: "Ana Flores",
				Status: pickup.StateActive, PhotoURL: "https://cdn/x.jpg",
			},
			{
				ID: "p2", OrgID: "org1", ChildID: "c1",
				PersonType: pickup.TypeAuthorized, Name: "Expirada",
				Status: pickup.StateActive, ValidUntil: datePtr(2024, time.January, 1),
			},
			{
				ID: "p3", OrgID: "org1", ChildID: "c1",
				PersonType: pickup.TypeEmergencyContact, Name: "Rosa Díaz",
				Status: pickup.StateActive,
			},
		},
	}
	src := pickup.NewLocalSource(store, func() time.Time { return fixedNow })
	reg := pickup.NewRegistry(src, store, nil)

	people, err := reg.ListAuthorizedFor(context.Background(), "org1", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(people) != 3 {
		t.Fatalf("expected active guardian + valid third party + emergency contact, got %d: %+v", len(people), people)
	}
	byID := map[string]pickup.Person{}
	for _, p := range people {
		byID[p.PersonID] = p
	}
	if _, ok := byID["g2"]; ok {
		t.Fatal("inactive guardian must not be listed")
	}
	if _, ok := byID["p2"]; ok {
		t.Fatal("expired record must not be listed")
	}
	if !byID["p1"].PhotoPresent {
		t.Fatal("photo presence must be reported")
	}
	if byID["p3"].Restrictions == "" {
		t.Fatal("emergency contact must carry the advisory restriction")
	}
}

func TestRegistryDegradesToGuardiansOnly(t *testing.T) {
	store := &fakeStore{guardians: []pickup.Guardian{
		{ID: "g1", OrgID: "org1", ChildID: "c1", Name: "María Pérez", Relationship: "madre", Active: true},
	}}
	reg := pickup.NewRegistry(failingSource{}, store, nil)

	people, err := reg.ListAuthorizedFor(context.Background(), "org1", "c1")
	if err != nil {
		t.Fatalf("guardian fallback should succeed: %v", err)
	}
	if len(people) != 1 || people[0].PersonID != "g1" {
		t.Fatalf("expected guardian-only list, got %+v", people)
	}
}

func TestRegistryErrorsWhenGuardiansUnreadable(t *testing.T) {
	store := &fakeStore{guardianErr: errors.New("connection refused")}
	reg := pickup.NewRegistry(failingSource{}, store, nil)

	if _, err := reg.ListAuthorizedFor(context.Background(), "org1", "c1"); err == nil {
		t.Fatal("total store failure must surface an error, never an empty allow-all list")
	}
}

// verifyRecorder captures verification writes.
type verifyRecorder struct {
	calls []string
}

func (v *verifyRecorder) MarkVerified(_ context.Context, orgID, personID, verifiedBy string) error {
	v.calls = append(v.calls, orgID+"|"+personID+"|"+verifiedBy)
	return nil
}

func TestRegistryVerifyRecordsStaffCheck(t *testing.T) {
	store := &fakeStore{authorized: []pickup.AuthorizedPickup{
		{ID: "p1", OrgID: "org1", ChildID: "c1", PersonType: pickup.TypeAuthorized, Name: "Ana Flores", Status: pickup.StateActive},
	}}
	rec := &verifyRecorder{}
	reg := pickup.NewRegistry(failingSource{}, store, rec)

	if err := reg.Verify(context.Background(), "org1", "p1", "staff-7"); err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if len(rec.calls) != 1 || rec.calls[0] != "org1|p1|staff-7" {
		t.Fatalf("verifier identity not recorded: %v", rec.calls)
	}
}

func TestRegistryVerifyUnknownPerson(t *testing.T) {
	rec := &verifyRecorder{}
	reg := pickup.NewRegistry(failingSource{}, &fakeStore{}, rec)

	if err := reg.Verify(context.Background(), "org1", "nope", "staff-7"); !errors.Is(err, pickup.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatal("no verification may be written for an unknown person")
	}
}

func TestRegistryVerifyRequiresVerifier(t *testing.T) {
	reg := pickup.NewRegistry(failingSource{}, &fakeStore{}, &verifyRecorder{})
	if err := reg.Verify(context.Background(), "org1", "p1", ""); err == nil {
		t.Fatal("missing verifier identity must be rejected")
	}
}
