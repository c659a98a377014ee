// Package domain contains the claim, an aggregated invoice built from
// approved unit ledger entries, with its financial derivation rules and
// lifecycle states.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"gorm.io/datatypes"
)

// ClaimType classifies the billing purpose of a claim.
type ClaimType string

const (
	ClaimTypeProgress        ClaimType = "progress"
	ClaimTypeFinal           ClaimType = "final"
	ClaimTypeRetention       ClaimType = "retention"
	ClaimTypeChangeOrder     ClaimType = "change_order"
	ClaimTypeTimeAndMaterial ClaimType = "time_and_material"
)

// Valid reports whether the claim type is one of the known values.
func (t ClaimType) Valid() bool {
	switch t {
	case ClaimTypeProgress, ClaimTypeFinal, ClaimTypeRetention,
		ClaimTypeChangeOrder, ClaimTypeTimeAndMaterial:
		return true
	}
	return false
}

// LineItem is an immutable snapshot of one contributing unit entry, taken
// at aggregation time. It is never re-read from the live entry.
type LineItem struct {
	EntryID           snowflake.ID `json:"entry_id"`
	JobID             snowflake.ID `json:"job_id"`
	ItemCode          string       `json:"item_code"`
	Description       string       `json:"description"`
	Unit              string       `json:"unit"`
	Quantity          float64      `json:"quantity"`
	UnitPriceCents    int64        `json:"unit_price_cents"`
	TotalCents        int64        `json:"total_cents"`
	WorkDate          time.Time    `json:"work_date"`
	PhotoCount        int          `json:"photo_count"`
	HasGPS            bool         `json:"has_gps"`
	GPSQuality        string       `json:"gps_quality"`
	PerformedByTier   string       `json:"performed_by_tier"`
	SubContractorID   string       `json:"sub_contractor_id,omitempty"`
	SubContractorName string       `json:"sub_contractor_name,omitempty"`
	WorkCategory      string       `json:"work_category"`
}

// SnapshotLineItem copies the billable fields of an entry into a line
// item.
func SnapshotLineItem(entry ledgerdomain.Entry) LineItem {
	item := LineItem{
		EntryID:           entry.ID,
		JobID:             entry.JobID,
		ItemCode:          entry.ItemCode,
		Description:       entry.Description,
		Unit:              entry.Unit,
		Quantity:          entry.Quantity,
		UnitPriceCents:    entry.UnitPriceCents,
		TotalCents:        entry.TotalCents,
		WorkDate:          entry.WorkDate,
		PhotoCount:        len(entry.Photos),
		HasGPS:            entry.Location.HasFix(),
		GPSQuality:        entry.Location.Quality(),
		PerformedByTier:   string(entry.PerformedBy.Tier),
		SubContractorName: entry.PerformedBy.SubContractorName,
		WorkCategory:      string(entry.PerformedBy.WorkCategory),
	}
	if entry.PerformedBy.SubContractorID != nil {
		item.SubContractorID = entry.PerformedBy.SubContractorID.String()
	}
	return item
}

// Adjustment is a signed claim-level amount correction; credits are
// negative.
type Adjustment struct {
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Reason      string    `json:"reason"`
	AddedBy     string    `json:"added_by"`
	AddedAt     time.Time `json:"added_at"`
}

// Payment is one payment received against the claim.
type Payment struct {
	AmountCents     int64     `json:"amount_cents"`
	PaymentDate     time.Time `json:"payment_date"`
	PaymentMethod   string    `json:"payment_method"`
	ReferenceNumber string    `json:"reference_number,omitempty"`
	RecordedBy      string    `json:"recorded_by"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// ChangeLogEntry is one row of the append-only claim action trail.
type ChangeLogEntry struct {
	Action  string         `json:"action"`
	ActorID string         `json:"actor_id"`
	At      time.Time      `json:"at"`
	Details map[string]any `json:"details,omitempty"`
}

// OracleExport tracks the most recent ERP export of the claim.
type OracleExport struct {
	ExportedAt   *time.Time `json:"exported_at,omitempty" gorm:"column:oracle_exported_at"`
	ExportedBy   string     `json:"exported_by,omitempty" gorm:"column:oracle_exported_by"`
	ExportFormat string     `json:"export_format,omitempty" gorm:"column:oracle_export_format"`
	ExportStatus string     `json:"export_status,omitempty" gorm:"column:oracle_export_status"`
	ExternalID   string     `json:"external_id,omitempty" gorm:"column:oracle_external_id"`
}

// Claim is an aggregated invoice. All monetary fields are minor units;
// the financial invariant is re-derived on every persist.
type Claim struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	CompanyID snowflake.ID `json:"company_id" gorm:"not null;index"`

	ClaimNumber string    `json:"claim_number" gorm:"type:text;not null;uniqueIndex:ux_claims_number"`
	ClaimYear   int       `json:"claim_year" gorm:"not null"`
	ClaimSeq    int       `json:"claim_seq" gorm:"not null"`
	ClaimType   ClaimType `json:"claim_type" gorm:"type:text;not null;default:'progress'"`
	Status      Status    `json:"status" gorm:"type:text;not null;default:'draft';index"`

	JobIDs    datatypes.JSONSlice[snowflake.ID] `json:"job_ids" gorm:"type:jsonb"`
	LineItems datatypes.JSONSlice[LineItem]     `json:"line_items" gorm:"type:jsonb"`

	Adjustments          datatypes.JSONSlice[Adjustment] `json:"adjustments" gorm:"type:jsonb"`
	SubtotalCents        int64                           `json:"subtotal_cents" gorm:"not null;default:0"`
	RetentionRate        float64                         `json:"retention_rate" gorm:"type:numeric(6,4);not null;default:0"`
	RetentionCents       int64                           `json:"retention_cents" gorm:"not null;default:0"`
	TaxRate              float64                         `json:"tax_rate" gorm:"type:numeric(6,4);not null;default:0"`
	TaxCents             int64                           `json:"tax_cents" gorm:"not null;default:0"`
	AdjustmentTotalCents int64                           `json:"adjustment_total_cents" gorm:"not null;default:0"`
	TotalCents           int64                           `json:"total_cents" gorm:"not null;default:0"`
	AmountDueCents       int64                           `json:"amount_due_cents" gorm:"not null;default:0"`

	Payments        datatypes.JSONSlice[Payment] `json:"payments" gorm:"type:jsonb"`
	TotalPaidCents  int64                        `json:"total_paid_cents" gorm:"not null;default:0"`
	BalanceDueCents int64                        `json:"balance_due_cents" gorm:"not null;default:0"`

	PeriodStart *time.Time `json:"period_start"`
	PeriodEnd   *time.Time `json:"period_end"`

	Oracle    OracleExport                        `json:"oracle" gorm:"embedded"`
	ChangeLog datatypes.JSONSlice[ChangeLogEntry] `json:"change_log" gorm:"type:jsonb"`

	SubmittedBy  string     `json:"submitted_by" gorm:"type:text"`
	SubmittedAt  *time.Time `json:"submitted_at"`
	ApprovedBy   string     `json:"approved_by" gorm:"type:text"`
	ApprovedAt   *time.Time `json:"approved_at"`
	PaidInFullAt *time.Time `json:"paid_in_full_at"`

	CreatedBy string    `json:"created_by" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Claim) TableName() string { return "claims" }

// EntryIDs returns the ids of the unit entries captured in the line item
// snapshot.
func (c Claim) EntryIDs() []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(c.LineItems))
	for _, item := range c.LineItems {
		ids = append(ids, item.EntryID)
	}
	return ids
}

// AppendChange appends one action to the claim's append-only trail.
func (c *Claim) AppendChange(action, actorID string, at time.Time, details map[string]any) {
	c.ChangeLog = append(c.ChangeLog, ChangeLogEntry{
		Action:  action,
		ActorID: actorID,
		At:      at,
		Details: details,
	})
}
