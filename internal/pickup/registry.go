package pickup

import (
	"context"
	"fmt"
	"log"
)

// VerifyStore is the write access staff identity verification needs.
type VerifyStore interface {
	MarkVerified(ctx context.Context, orgID, personID, verifiedBy string) error
}

// Registry is the source of truth for who may remove a child from the
// facility. Listing is read-only; the single write is the staff verification
// mark on an authorization record.
type Registry struct {
	src    Source
	store  Store
	verify VerifyStore
}

// NewRegistry builds a registry over the selected source. store is the plain
// row access used for the degraded guardian-only path; verify may be nil when
// verification is not wired.
func NewRegistry(src Source, store Store, verify VerifyStore) *Registry {
	return &Registry{src: src, store: store, verify: verify}
}

// ListAuthorizedFor returns the union of active guardians and currently-valid
// third-party/emergency-contact records for a child, normalized.
//
// If the authorization records cannot be read it degrades to a guardian-only
// list derived directly from the family relationship. Absence of data is never
// interpreted as "anyone allowed": when even guardians cannot be read the
// error is returned.
func (r *Registry) ListAuthorizedFor(ctx context.Context, orgID, childID string) ([]Person, error) {
	if childID == "" {
		return nil, fmt.Errorf("child id required")
	}
	people, err := r.src.ListAuthorized(ctx, orgID, childID)
	if err == nil {
		return people, nil
	}
	log.Printf("pickup: authorized list failed for child %s, degrading to guardians only: %v", childID, err)

	guardians, gerr := r.store.GuardiansForChild(ctx, orgID, childID)
	if gerr != nil {
		return nil, fmt.Errorf("list authorized pickups: %w", err)
	}
	people = make([]Person, 0, len(guardians))
	for _, g := range guardians {
		if g.Active {
			people = append(people, g.normalize())
		}
	}
	return people, nil
}

// Verify records that staff checked the person's identity documents against
// the authorization record. The record must exist for the org; guardians are
// verified through the family relationship, not here.
func (r *Registry) Verify(ctx context.Context, orgID, personID, verifiedBy string) error {
	if personID == "" || verifiedBy == "" {
		return fmt.Errorf("person id and verifier required")
	}
	if r.verify == nil {
		return fmt.Errorf("verification not configured")
	}
	rec, err := r.store.AuthorizedByID(ctx, orgID, personID)
	if err != nil {
		return err
	}
	if rec == nil {
		return ErrNotFound
	}
	return r.verify.MarkVerified(ctx, orgID, personID, verifiedBy)
}
