package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// DisputeAction is the resolution applied to a disputed entry.
type DisputeAction string

const (
	DisputeAccept   DisputeAction = "accept"
	DisputeAdjust   DisputeAction = "adjust"
	DisputeVoid     DisputeAction = "void"
	DisputeResubmit DisputeAction = "resubmit"
)

type CreateEntryRequest struct {
	CompanyID         snowflake.ID
	JobID             snowflake.ID
	UtilityID         snowflake.ID
	ItemCode          string
	Quantity          float64
	WorkDate          time.Time
	Location          Location
	Photos            []Photo
	PhotoWaived       bool
	PhotoWaivedReason string
	PerformedBy       PerformedBy
}

type ListEntriesRequest struct {
	CompanyID      snowflake.ID
	JobID          *snowflake.ID
	Status         *Status
	WorkDateFrom   *time.Time
	WorkDateTo     *time.Time
	IncludeDeleted bool
}

type DisputeRequest struct {
	Reason   string
	Category string
}

type ResolveDisputeRequest struct {
	Action           DisputeAction
	AdjustedQuantity *float64
	Notes            string
}

// Service drives the entry lifecycle. Claim linkage (approved→invoiced)
// and payment settlement (invoiced→paid) are performed by the claim
// module, never directly through this interface.
type Service interface {
	CreateEntry(ctx context.Context, req CreateEntryRequest) (Entry, error)
	GetByID(ctx context.Context, id snowflake.ID) (Entry, error)
	ListEntries(ctx context.Context, req ListEntriesRequest) ([]Entry, error)
	ListUnbilled(ctx context.Context, companyID snowflake.ID) ([]Entry, error)
	Submit(ctx context.Context, id snowflake.ID) (Entry, error)
	Verify(ctx context.Context, id snowflake.ID, notes string) (Entry, error)
	Approve(ctx context.Context, id snowflake.ID) (Entry, error)
	Dispute(ctx context.Context, id snowflake.ID, req DisputeRequest) (Entry, error)
	ResolveDispute(ctx context.Context, id snowflake.ID, req ResolveDisputeRequest) (Entry, error)
}

// ValidationError reports a missing or invalid required field. It is
// surfaced to the caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

var (
	ErrEntryNotFound       = errors.New("entry_not_found")
	ErrEntryDeleted        = errors.New("entry_deleted")
	ErrNotDisputed         = errors.New("entry_not_disputed")
	ErrMissingActor        = errors.New("missing_actor")
	ErrActorNotEntrant     = errors.New("actor_not_entrant")
	ErrRoleForbidden       = errors.New("role_forbidden")
	ErrAdjustmentUnchanged = errors.New("adjusted_quantity_unchanged")
)
