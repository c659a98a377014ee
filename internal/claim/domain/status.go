package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a claim.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusSubmitted     Status = "submitted"
	StatusApproved      Status = "approved"
	StatusExported      Status = "exported"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
)

// transitions is the only authority on legal claim status changes.
var transitions = map[Status][]Status{
	StatusDraft:         {StatusSubmitted},
	StatusSubmitted:     {StatusApproved},
	StatusApproved:      {StatusExported, StatusPartiallyPaid, StatusPaid},
	StatusExported:      {StatusPartiallyPaid, StatusPaid},
	StatusPartiallyPaid: {StatusPaid},
	StatusPaid:          {},
}

// CanTransitionTo reports whether next is reachable from s in one step.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError reports a claim state machine precondition violation.
type TransitionError struct {
	ClaimID   snowflake.ID
	Current   Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("claim %s: illegal transition %s -> %s", e.ClaimID, e.Current, e.Requested)
}

// Transition moves the claim to next or returns a TransitionError.
func (c *Claim) Transition(next Status) error {
	if !c.Status.CanTransitionTo(next) {
		return &TransitionError{ClaimID: c.ID, Current: c.Status, Requested: next}
	}
	c.Status = next
	return nil
}
