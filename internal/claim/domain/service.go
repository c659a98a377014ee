package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ExportFormat names one of the supported ERP export renderings.
type ExportFormat string

const (
	ExportFormatOracle ExportFormat = "oracle"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatFBDI   ExportFormat = "fbdi"
)

type CreateClaimRequest struct {
	CompanyID     snowflake.ID
	UnitIDs       []snowflake.ID
	ClaimType     ClaimType
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	RetentionRate float64
	TaxRate       float64
}

type RecordPaymentRequest struct {
	AmountCents     int64
	PaymentDate     time.Time
	PaymentMethod   string
	ReferenceNumber string
}

type AddAdjustmentRequest struct {
	Description string
	AmountCents int64
	Reason      string
}

type ListClaimsRequest struct {
	CompanyID   snowflake.ID
	Status      *Status
	ClaimType   *ClaimType
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

type ExportRequest struct {
	Format     ExportFormat
	ExternalID string
}

// ExportArtifact is the rendered payload handed to the external caller
// for transmission; this core never talks to the ERP itself.
type ExportArtifact struct {
	Format      ExportFormat
	ContentType string
	Filename    string
	Body        []byte
}

// Service aggregates approved unit entries into claims and drives the
// claim lifecycle through payment and export.
type Service interface {
	CreateClaim(ctx context.Context, req CreateClaimRequest) (Claim, error)
	GetByID(ctx context.Context, id snowflake.ID) (Claim, error)
	ListClaims(ctx context.Context, req ListClaimsRequest) ([]Claim, error)
	SubmitClaim(ctx context.Context, id snowflake.ID) (Claim, error)
	ApproveClaim(ctx context.Context, id snowflake.ID) (Claim, error)
	DeleteClaim(ctx context.Context, id snowflake.ID) error
	AddAdjustment(ctx context.Context, id snowflake.ID, req AddAdjustmentRequest) (Claim, error)
	RecordPayment(ctx context.Context, id snowflake.ID, req RecordPaymentRequest) (Claim, error)
	Export(ctx context.Context, id snowflake.ID, req ExportRequest) (ExportArtifact, error)
}

// IneligibleUnitsError reports a partial or zero match on claim creation.
// The entire operation is aborted; no claim is created and no unit is
// touched.
type IneligibleUnitsError struct {
	Requested int
	Eligible  int
}

func (e *IneligibleUnitsError) Error() string {
	return fmt.Sprintf("claim aggregation: %d of %d requested units are eligible", e.Eligible, e.Requested)
}

// ValidationError reports a missing or invalid required field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

var (
	ErrClaimNotFound          = errors.New("claim_not_found")
	ErrClaimNotDraft          = errors.New("claim_not_draft")
	ErrClaimNumberExhausted   = errors.New("claim_number_exhausted")
	ErrInvalidPaymentAmount   = errors.New("invalid_payment_amount")
	ErrMissingActor           = errors.New("missing_actor")
	ErrRoleForbidden          = errors.New("role_forbidden")
	ErrOverCredited           = errors.New("adjustments_exceed_total")
	ErrUnsupportedFormat      = errors.New("unsupported_export_format")
	ErrEntryLinkageIncomplete = errors.New("entry_linkage_incomplete")
)
