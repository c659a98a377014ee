// Package domain contains the unit ledger entry, one quantity of
// unit-priced field work with its locked rate and verification evidence,
// and its lifecycle state machine.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	"gorm.io/datatypes"
)

// MaxAutoSubmitAccuracy is the worst GPS accuracy (same units as the
// reading, lower is better) that still auto-submits a freshly created
// entry.
const MaxAutoSubmitAccuracy = 100.0

// Tier is the contractual relationship of the work performer.
type Tier string

const (
	TierPrime    Tier = "prime"
	TierSub      Tier = "sub"
	TierSubOfSub Tier = "sub_of_sub"
)

// Valid reports whether the tier is one of the known values.
func (t Tier) Valid() bool {
	return t == TierPrime || t == TierSub || t == TierSubOfSub
}

// Location is the GPS fix captured with the work record.
type Location struct {
	Latitude  float64  `json:"latitude" gorm:"column:location_latitude"`
	Longitude float64  `json:"longitude" gorm:"column:location_longitude"`
	Accuracy  float64  `json:"accuracy" gorm:"column:location_accuracy"`
	Altitude  *float64 `json:"altitude,omitempty" gorm:"column:location_altitude"`
}

// HasFix reports whether a usable GPS fix was captured.
func (l Location) HasFix() bool {
	return l.Latitude != 0 || l.Longitude != 0
}

// Quality buckets the fix accuracy for claim line reporting. A fix
// without a reported accuracy cannot be graded and counts as poor,
// matching its exclusion from auto-submit.
func (l Location) Quality() string {
	switch {
	case !l.HasFix():
		return "none"
	case l.Accuracy <= 0:
		return "poor"
	case l.Accuracy <= 50:
		return "high"
	case l.Accuracy <= MaxAutoSubmitAccuracy:
		return "acceptable"
	default:
		return "poor"
	}
}

// PerformedBy identifies who performed the work.
type PerformedBy struct {
	Tier              Tier                `json:"tier" gorm:"column:performed_tier"`
	SubContractorID   *snowflake.ID       `json:"sub_contractor_id,omitempty" gorm:"column:performed_sub_contractor_id"`
	SubContractorName string              `json:"sub_contractor_name,omitempty" gorm:"column:performed_sub_contractor_name"`
	WorkCategory      ratedomain.Category `json:"work_category" gorm:"column:performed_work_category"`
	CrewSize          *int                `json:"crew_size,omitempty" gorm:"column:performed_crew_size"`
}

// Photo is a reference to evidence stored externally; bytes are never
// inspected here.
type Photo struct {
	URL        string    `json:"url"`
	Key        string    `json:"key,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
	UploadedBy string    `json:"uploaded_by,omitempty"`
}

// Adjustment records one quantity correction applied through dispute
// resolution.
type Adjustment struct {
	QuantityBefore    float64   `json:"quantity_before"`
	QuantityAfter     float64   `json:"quantity_after"`
	TotalCentsBefore  int64     `json:"total_cents_before"`
	TotalCentsAfter   int64     `json:"total_cents_after"`
	Reason            string    `json:"reason"`
	AdjustedBy        string    `json:"adjusted_by"`
	AdjustedAt        time.Time `json:"adjusted_at"`
	DisputeResolution string    `json:"dispute_resolution,omitempty"`
}

// Entry is a digital receipt: one quantity of billable work. The rate is
// snapshotted at creation; later catalog edits never change it.
type Entry struct {
	ID        snowflake.ID `json:"id" gorm:"primaryKey"`
	CompanyID snowflake.ID `json:"company_id" gorm:"not null;index:ix_unit_entries_billing"`
	JobID     snowflake.ID `json:"job_id" gorm:"not null;index"`
	UtilityID snowflake.ID `json:"utility_id" gorm:"not null"`

	// Rate snapshot, locked at creation.
	RateItemID     snowflake.ID        `json:"rate_item_id" gorm:"not null"`
	ItemCode       string              `json:"item_code" gorm:"type:text;not null"`
	Description    string              `json:"description" gorm:"type:text"`
	Unit           string              `json:"unit" gorm:"type:text;not null"`
	UnitPriceCents int64               `json:"unit_price_cents" gorm:"not null"`
	Category       ratedomain.Category `json:"category" gorm:"type:text;not null"`

	Quantity    float64     `json:"quantity" gorm:"not null"`
	TotalCents  int64       `json:"total_cents" gorm:"not null"`
	WorkDate    time.Time   `json:"work_date" gorm:"not null"`
	Location    Location    `json:"location" gorm:"embedded"`
	PerformedBy PerformedBy `json:"performed_by" gorm:"embedded"`

	Photos            datatypes.JSONSlice[Photo] `json:"photos" gorm:"type:jsonb"`
	PhotoWaived       bool                       `json:"photo_waived" gorm:"not null;default:false"`
	PhotoWaivedReason string                     `json:"photo_waived_reason" gorm:"type:text"`

	Status  Status        `json:"status" gorm:"type:text;not null;default:'draft';index:ix_unit_entries_billing"`
	ClaimID *snowflake.ID `json:"claim_id" gorm:"index:ix_unit_entries_billing"`

	Adjustments datatypes.JSONSlice[Adjustment] `json:"adjustments" gorm:"type:jsonb"`

	SubmittedAt *time.Time `json:"submitted_at"`
	VerifiedBy  string     `json:"verified_by" gorm:"type:text"`
	VerifiedAt  *time.Time `json:"verified_at"`
	VerifyNotes string     `json:"verify_notes" gorm:"type:text"`
	ApprovedBy  string     `json:"approved_by" gorm:"type:text"`
	ApprovedAt  *time.Time `json:"approved_at"`

	IsDisputed          bool       `json:"is_disputed" gorm:"not null;default:false"`
	DisputeReason       string     `json:"dispute_reason" gorm:"type:text"`
	DisputeCategory     string     `json:"dispute_category" gorm:"type:text"`
	DisputedBy          string     `json:"disputed_by" gorm:"type:text"`
	DisputedAt          *time.Time `json:"disputed_at"`
	StatusBeforeDispute Status     `json:"status_before_dispute" gorm:"type:text"`
	DisputeResolution   string     `json:"dispute_resolution" gorm:"type:text"`
	DisputeResolvedBy   string     `json:"dispute_resolved_by" gorm:"type:text"`
	DisputeResolvedAt   *time.Time `json:"dispute_resolved_at"`

	IsDeleted bool       `json:"is_deleted" gorm:"not null;default:false"`
	DeletedAt *time.Time `json:"deleted_at"`
	DeletedBy string     `json:"deleted_by" gorm:"type:text"`

	CreatedBy string    `json:"created_by" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Entry) TableName() string { return "unit_entries" }

// TotalFor computes the billable total for a quantity at the locked rate,
// rounded to the nearest cent.
func TotalFor(quantity float64, unitPriceCents int64) int64 {
	return int64(math.Round(quantity * float64(unitPriceCents)))
}

// HasEvidence reports whether the entry carries a photo or an explicit
// waiver.
func (e Entry) HasEvidence() bool {
	return len(e.Photos) > 0 || (e.PhotoWaived && e.PhotoWaivedReason != "")
}

// Billable reports whether the entry is eligible for claim aggregation:
// approved, unlinked, not soft-deleted.
func (e Entry) Billable() bool {
	return e.Status == StatusApproved && e.ClaimID == nil && !e.IsDeleted
}
