package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Status is the lifecycle state of a unit ledger entry.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusSubmitted Status = "submitted"
	StatusVerified  Status = "verified"
	StatusApproved  Status = "approved"
	StatusInvoiced  Status = "invoiced"
	StatusPaid      Status = "paid"
	StatusDisputed  Status = "disputed"
)

// transitions is the only authority on legal status changes. Disputed is
// a side-state reachable from the three review states and resolved back
// to approved or draft.
var transitions = map[Status][]Status{
	StatusDraft:     {StatusSubmitted},
	StatusSubmitted: {StatusVerified, StatusDisputed},
	StatusVerified:  {StatusApproved, StatusDisputed},
	StatusApproved:  {StatusInvoiced, StatusDisputed},
	StatusInvoiced:  {StatusPaid},
	StatusPaid:      {},
	StatusDisputed:  {StatusApproved, StatusDraft},
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

// TransitionError reports a state machine precondition violation with
// enough context to render an actionable message upstream.
type TransitionError struct {
	EntryID   snowflake.ID
	Current   Status
	Requested Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("unit entry %s: illegal transition %s -> %s", e.EntryID, e.Current, e.Requested)
}

// Transition moves the entry to next or returns a TransitionError. It is
// the single gate through which all status changes flow.
func (e *Entry) Transition(next Status) error {
	if !e.Status.CanTransitionTo(next) {
		return &TransitionError{EntryID: e.ID, Current: e.Status, Requested: next}
	}
	e.Status = next
	return nil
}
