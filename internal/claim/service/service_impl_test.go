package service

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/clock"
	"github.com/fieldbill/fieldbill/internal/config"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type claimTestEnv struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock *clock.FakeClock
	svc   claimdomain.Service

	companyID snowflake.ID
	jobID     snowflake.ID
	utilityID snowflake.ID
}

func newClaimTestEnv(t *testing.T) *claimTestEnv {
	t.Helper()

	dbConn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&ledgerdomain.Entry{},
		&claimdomain.Claim{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:    dbConn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Cfg: config.Config{
			Oracle: config.OracleConfig{
				VendorID:     "300000001",
				VendorSiteID: "300000002",
				BusinessUnit: "US Construction BU",
				PaymentTerms: "NET30",
			},
		},
	})

	return &claimTestEnv{
		db:    dbConn,
		node:  node,
		clock: fake,
		svc:   svc,

		companyID: node.Generate(),
		jobID:     node.Generate(),
		utilityID: node.Generate(),
	}
}

func (env *claimTestEnv) asRole(role actor.Role) context.Context {
	return actor.WithActor(context.Background(), actor.Actor{
		ID:   "user-" + string(role),
		Name: "Test " + string(role),
		Role: role,
	})
}

// seedApprovedEntry inserts one approved, unlinked entry ready for
// aggregation.
func (env *claimTestEnv) seedApprovedEntry(t *testing.T, quantity float64, unitPriceCents int64) ledgerdomain.Entry {
	t.Helper()

	entry := ledgerdomain.Entry{
		ID:             env.node.Generate(),
		CompanyID:      env.companyID,
		JobID:          env.jobID,
		UtilityID:      env.utilityID,
		RateItemID:     env.node.Generate(),
		ItemCode:       "TRENCH-100",
		Description:    "Trench excavation, per linear foot",
		Unit:           "LF",
		UnitPriceCents: unitPriceCents,
		Category:       ratedomain.CategoryUnderground,
		Quantity:       quantity,
		TotalCents:     ledgerdomain.TotalFor(quantity, unitPriceCents),
		WorkDate:       time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Location: ledgerdomain.Location{
			Latitude:  37.7749,
			Longitude: -122.4194,
			Accuracy:  15,
		},
		PerformedBy: ledgerdomain.PerformedBy{
			Tier:         ledgerdomain.TierPrime,
			WorkCategory: ratedomain.CategoryUnderground,
		},
		Photos: []ledgerdomain.Photo{{
			URL:        "https://media.example.com/evidence.jpg",
			CapturedAt: time.Date(2026, 3, 15, 11, 0, 0, 0, time.UTC),
		}},
		Status:    ledgerdomain.StatusApproved,
		CreatedBy: "user-field",
		CreatedAt: env.clock.Now(),
		UpdatedAt: env.clock.Now(),
	}
	require.NoError(t, env.db.Create(&entry).Error)
	return entry
}

func (env *claimTestEnv) createClaim(t *testing.T, entryIDs ...snowflake.ID) claimdomain.Claim {
	t.Helper()
	claim, err := env.svc.CreateClaim(env.asRole(actor.RolePM), claimdomain.CreateClaimRequest{
		CompanyID:     env.companyID,
		UnitIDs:       entryIDs,
		ClaimType:     claimdomain.ClaimTypeProgress,
		RetentionRate: 0.10,
	})
	require.NoError(t, err)
	return claim
}

func (env *claimTestEnv) approvedClaim(t *testing.T, entryIDs ...snowflake.ID) claimdomain.Claim {
	t.Helper()
	claim := env.createClaim(t, entryIDs...)
	_, err := env.svc.SubmitClaim(env.asRole(actor.RolePM), claim.ID)
	require.NoError(t, err)
	approved, err := env.svc.ApproveClaim(env.asRole(actor.RolePM), claim.ID)
	require.NoError(t, err)
	return approved
}

func TestCreateClaimAggregatesAndLinks(t *testing.T) {
	env := newClaimTestEnv(t)
	first := env.seedApprovedEntry(t, 200, 2500)  // $5,000.00
	second := env.seedApprovedEntry(t, 120, 2500) // $3,000.00

	claim := env.createClaim(t, first.ID, second.ID)

	assert.Equal(t, claimdomain.StatusDraft, claim.Status)
	assert.Equal(t, int64(800000), claim.SubtotalCents)
	// 10% retention on $8,000.00.
	assert.Equal(t, int64(80000), claim.RetentionCents)
	assert.Equal(t, int64(800000), claim.TotalCents)
	assert.Equal(t, int64(720000), claim.AmountDueCents)
	assert.Equal(t, int64(720000), claim.BalanceDueCents)
	require.Len(t, claim.LineItems, 2)
	require.Len(t, claim.JobIDs, 1)

	// Both entries are now invoiced and linked.
	var linked []ledgerdomain.Entry
	require.NoError(t, env.db.Where("claim_id = ?", claim.ID).Find(&linked).Error)
	require.Len(t, linked, 2)
	for _, entry := range linked {
		assert.Equal(t, ledgerdomain.StatusInvoiced, entry.Status)
	}
}

func TestCreateClaimNumberFormat(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)

	claim := env.createClaim(t, entry.ID)
	assert.Regexp(t, regexp.MustCompile(`^CLM-2026-00001-\d{3}$`), claim.ClaimNumber)
	assert.Equal(t, 2026, claim.ClaimYear)
	assert.Equal(t, 1, claim.ClaimSeq)

	second := env.seedApprovedEntry(t, 10, 2500)
	next := env.createClaim(t, second.ID)
	assert.Regexp(t, regexp.MustCompile(`^CLM-2026-00002-\d{3}$`), next.ClaimNumber)
	assert.Equal(t, 2, next.ClaimSeq)
}

// seedNumberBlocker occupies a claim number without advancing the year
// sequence, so the next creation computes the same sequence and can
// only differ in its random suffix.
func (env *claimTestEnv) seedNumberBlocker(t *testing.T, suffix int) claimdomain.Claim {
	t.Helper()
	blocker := claimdomain.Claim{
		ID:          env.node.Generate(),
		CompanyID:   env.companyID,
		ClaimNumber: fmt.Sprintf("CLM-2026-00001-%03d", suffix),
		ClaimYear:   2026,
		ClaimSeq:    0,
		ClaimType:   claimdomain.ClaimTypeProgress,
		Status:      claimdomain.StatusDraft,
		CreatedBy:   "user-pm",
		CreatedAt:   env.clock.Now(),
		UpdatedAt:   env.clock.Now(),
	}
	require.NoError(t, env.db.Create(&blocker).Error)
	return blocker
}

func TestCreateClaimNumberRetriesPastCollision(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)

	blocker := env.seedNumberBlocker(t, 123)

	claim := env.createClaim(t, entry.ID)
	assert.Equal(t, 1, claim.ClaimSeq)
	assert.Regexp(t, regexp.MustCompile(`^CLM-2026-00001-\d{3}$`), claim.ClaimNumber)
	assert.NotEqual(t, blocker.ClaimNumber, claim.ClaimNumber)
}

func TestCreateClaimNumberExhausted(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)

	// Every 3-digit suffix of the next sequence is taken, so each of
	// the bounded retries hits a unique violation.
	for suffix := 0; suffix < 1000; suffix++ {
		env.seedNumberBlocker(t, suffix)
	}

	_, err := env.svc.CreateClaim(env.asRole(actor.RolePM), claimdomain.CreateClaimRequest{
		CompanyID: env.companyID,
		UnitIDs:   []snowflake.ID{entry.ID},
		ClaimType: claimdomain.ClaimTypeProgress,
	})
	require.ErrorIs(t, err, claimdomain.ErrClaimNumberExhausted)

	// The failed aggregation leaves the entry billable.
	var got ledgerdomain.Entry
	require.NoError(t, env.db.First(&got, "id = ?", entry.ID).Error)
	assert.Equal(t, ledgerdomain.StatusApproved, got.Status)
	assert.Nil(t, got.ClaimID)
}

func TestCreateClaimAllOrNothing(t *testing.T) {
	env := newClaimTestEnv(t)
	eligible := env.seedApprovedEntry(t, 10, 2500)

	draft := env.seedApprovedEntry(t, 5, 2500)
	require.NoError(t, env.db.Model(&ledgerdomain.Entry{}).
		Where("id = ?", draft.ID).
		Update("status", ledgerdomain.StatusDraft).Error)

	_, err := env.svc.CreateClaim(env.asRole(actor.RolePM), claimdomain.CreateClaimRequest{
		CompanyID: env.companyID,
		UnitIDs:   []snowflake.ID{eligible.ID, draft.ID},
	})
	var ineligibleErr *claimdomain.IneligibleUnitsError
	require.ErrorAs(t, err, &ineligibleErr)
	assert.Equal(t, 2, ineligibleErr.Requested)
	assert.Equal(t, 1, ineligibleErr.Eligible)

	// Nothing was created and the eligible unit was not touched.
	var claimCount int64
	require.NoError(t, env.db.Model(&claimdomain.Claim{}).Count(&claimCount).Error)
	assert.Zero(t, claimCount)

	var untouched ledgerdomain.Entry
	require.NoError(t, env.db.First(&untouched, "id = ?", eligible.ID).Error)
	assert.Equal(t, ledgerdomain.StatusApproved, untouched.Status)
	assert.Nil(t, untouched.ClaimID)
}

func TestCreateClaimRejectsDoubleBilling(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)
	env.createClaim(t, entry.ID)

	_, err := env.svc.CreateClaim(env.asRole(actor.RolePM), claimdomain.CreateClaimRequest{
		CompanyID: env.companyID,
		UnitIDs:   []snowflake.ID{entry.ID},
	})
	var ineligibleErr *claimdomain.IneligibleUnitsError
	require.ErrorAs(t, err, &ineligibleErr)
}

func TestCreateClaimRequiresApproverRole(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)

	_, err := env.svc.CreateClaim(env.asRole(actor.RoleGF), claimdomain.CreateClaimRequest{
		CompanyID: env.companyID,
		UnitIDs:   []snowflake.ID{entry.ID},
	})
	assert.ErrorIs(t, err, claimdomain.ErrRoleForbidden)
}

func TestDeleteClaimReleasesUnits(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)
	claim := env.createClaim(t, entry.ID)

	require.NoError(t, env.svc.DeleteClaim(env.asRole(actor.RolePM), claim.ID))

	_, err := env.svc.GetByID(context.Background(), claim.ID)
	assert.ErrorIs(t, err, claimdomain.ErrClaimNotFound)

	var released ledgerdomain.Entry
	require.NoError(t, env.db.First(&released, "id = ?", entry.ID).Error)
	assert.Equal(t, ledgerdomain.StatusApproved, released.Status)
	assert.Nil(t, released.ClaimID)
}

func TestDeleteClaimOnlyDraft(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)
	claim := env.createClaim(t, entry.ID)

	_, err := env.svc.SubmitClaim(env.asRole(actor.RolePM), claim.ID)
	require.NoError(t, err)

	err = env.svc.DeleteClaim(env.asRole(actor.RolePM), claim.ID)
	assert.ErrorIs(t, err, claimdomain.ErrClaimNotDraft)
}

func TestAddAdjustmentRecomputesAndRejectsOverCredit(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500) // $250.00
	claim := env.createClaim(t, entry.ID)

	adjusted, err := env.svc.AddAdjustment(env.asRole(actor.RolePM), claim.ID, claimdomain.AddAdjustmentRequest{
		Description: "fuel surcharge",
		AmountCents: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), adjusted.AdjustmentTotalCents)
	assert.Equal(t, int64(30000), adjusted.TotalCents)

	_, err = env.svc.AddAdjustment(env.asRole(actor.RolePM), claim.ID, claimdomain.AddAdjustmentRequest{
		Description: "credit exceeding the claim",
		AmountCents: -40000,
	})
	assert.ErrorIs(t, err, claimdomain.ErrOverCredited)

	// The rejected credit must not have been persisted.
	reloaded, err := env.svc.GetByID(context.Background(), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30000), reloaded.TotalCents)
	assert.Len(t, reloaded.Adjustments, 1)
}

func TestSubmitAndApproveLifecycle(t *testing.T) {
	env := newClaimTestEnv(t)
	entry := env.seedApprovedEntry(t, 10, 2500)
	claim := env.createClaim(t, entry.ID)

	submitted, err := env.svc.SubmitClaim(env.asRole(actor.RolePM), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claimdomain.StatusSubmitted, submitted.Status)
	require.NotNil(t, submitted.SubmittedAt)

	_, err = env.svc.ApproveClaim(env.asRole(actor.RoleGF), claim.ID)
	assert.ErrorIs(t, err, claimdomain.ErrRoleForbidden)

	approved, err := env.svc.ApproveClaim(env.asRole(actor.RoleAdmin), claim.ID)
	require.NoError(t, err)
	assert.Equal(t, claimdomain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)

	// The change log carries the full trail.
	actions := make([]string, 0, len(approved.ChangeLog))
	for _, change := range approved.ChangeLog {
		actions = append(actions, change.Action)
	}
	assert.Equal(t, []string{"claim.created", "claim.submitted", "claim.approved"}, actions)
}

func TestListClaimsFilters(t *testing.T) {
	env := newClaimTestEnv(t)
	first := env.seedApprovedEntry(t, 10, 2500)
	second := env.seedApprovedEntry(t, 20, 2500)

	claim := env.createClaim(t, first.ID)
	env.createClaim(t, second.ID)

	_, err := env.svc.SubmitClaim(env.asRole(actor.RolePM), claim.ID)
	require.NoError(t, err)

	all, err := env.svc.ListClaims(context.Background(), claimdomain.ListClaimsRequest{
		CompanyID: env.companyID,
	})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	submitted := claimdomain.StatusSubmitted
	filtered, err := env.svc.ListClaims(context.Background(), claimdomain.ListClaimsRequest{
		CompanyID: env.companyID,
		Status:    &submitted,
	})
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, claim.ID, filtered[0].ID)
}
