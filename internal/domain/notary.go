package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// NotaryAssignment is either Unassigned or Assigned(notaryID).
type NotaryAssignment struct {
	id       uuid.UUID
	assigned bool
}

// Unassigned is the empty notary slot.
func Unassigned() NotaryAssignment {
	return NotaryAssignment{}
}

// AssignedTo binds the slot to a notary.
func AssignedTo(id uuid.UUID) NotaryAssignment {
	if id == uuid.Nil {
		return Unassigned()
	}
	return NotaryAssignment{id: id, assigned: true}
}

// NotaryFromPtr converts a nullable column into the variant.
func NotaryFromPtr(id *uuid.UUID) NotaryAssignment {
	if id == nil {
		return Unassigned()
	}
	return AssignedTo(*id)
}

// Get returns the assigned notary, if any.
func (n NotaryAssignment) Get() (uuid.UUID, bool) {
	return n.id, n.assigned
}

// IsAssigned reports whether a notary holds the slot.
func (n NotaryAssignment) IsAssigned() bool {
	return n.assigned
}

// Is reports whether the slot is held by id.
func (n NotaryAssignment) Is(id uuid.UUID) bool {
	return n.assigned && n.id == id
}

// Ptr converts the variant into a nullable column value.
func (n NotaryAssignment) Ptr() *uuid.UUID {
	if !n.assigned {
		return nil
	}
	id := n.id
	return &id
}

// ClaimOutcome is the result of resolving a notarize call against the slot.
type ClaimOutcome int

const (
	// ClaimHeld means the caller is already the assigned notary.
	ClaimHeld ClaimOutcome = iota
	// ClaimTaken means the slot was empty and the caller takes it.
	ClaimTaken
	// ClaimRefused means another notary holds the slot.
	ClaimRefused
)

// Claim resolves the slot for a notary attempting to act on the document.
func (n NotaryAssignment) Claim(notaryID uuid.UUID) (NotaryAssignment, ClaimOutcome) {
	switch {
	case !n.assigned:
		return AssignedTo(notaryID), ClaimTaken
	case n.id == notaryID:
		return n, ClaimHeld
	default:
		return n, ClaimRefused
	}
}

func (n NotaryAssignment) String() string {
	if !n.assigned {
		return "unassigned"
	}
	return fmt.Sprintf("assigned(%s)", n.id)
}

// MarshalJSON renders the slot as the notary id or null.
func (n NotaryAssignment) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Ptr())
}

// UnmarshalJSON accepts a notary id or null.
func (n *NotaryAssignment) UnmarshalJSON(data []byte) error {
	var id *uuid.UUID
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*n = NotaryFromPtr(id)
	return nil
}
