package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/fieldbill/fieldbill/internal/actor"
	"github.com/fieldbill/fieldbill/internal/clock"
	ratedomain "github.com/fieldbill/fieldbill/internal/ratecatalog/domain"
	ratecatalogservice "github.com/fieldbill/fieldbill/internal/ratecatalog/service"
	ledgerdomain "github.com/fieldbill/fieldbill/internal/unitledger/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testEnv struct {
	db      *gorm.DB
	node    *snowflake.Node
	clock   *clock.FakeClock
	rateSvc ratedomain.Service
	svc     ledgerdomain.Service

	companyID snowflake.ID
	utilityID snowflake.ID
	jobID     snowflake.ID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dbConn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, dbConn.AutoMigrate(
		&ratedomain.RateCatalog{},
		&ratedomain.RateItem{},
		&ledgerdomain.Entry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	rateSvc := ratecatalogservice.NewService(ratecatalogservice.Params{
		DB:    dbConn,
		Log:   log,
		GenID: node,
		Clock: fake,
	})
	svc := NewService(Params{
		DB:      dbConn,
		Log:     log,
		GenID:   node,
		Clock:   fake,
		RateSvc: rateSvc,
	})

	env := &testEnv{
		db:      dbConn,
		node:    node,
		clock:   fake,
		rateSvc: rateSvc,
		svc:     svc,

		companyID: node.Generate(),
		utilityID: node.Generate(),
		jobID:     node.Generate(),
	}
	env.seedCatalog(t)
	return env
}

// seedCatalog activates one price book with a single $25.00 per foot
// trenching rate.
func (env *testEnv) seedCatalog(t *testing.T) {
	t.Helper()
	ctx := env.asRole(actor.RoleAdmin)

	catalog, err := env.rateSvc.CreateCatalog(ctx, ratedomain.CreateCatalogRequest{
		CompanyID:     env.companyID,
		UtilityID:     env.utilityID,
		Name:          "2026 Unit Price Book",
		EffectiveDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	_, err = env.rateSvc.AddItem(ctx, ratedomain.AddItemRequest{
		CatalogID:      catalog.ID,
		ItemCode:       "TRENCH-100",
		Description:    "Trench excavation, per linear foot",
		Category:       ratedomain.CategoryUnderground,
		Unit:           "LF",
		UnitPriceCents: 2500,
		RequiresPhoto:  true,
		RequiresGPS:    true,
	})
	require.NoError(t, err)

	_, err = env.rateSvc.ActivateCatalog(ctx, catalog.ID)
	require.NoError(t, err)
}

func (env *testEnv) asRole(role actor.Role) context.Context {
	return actor.WithActor(context.Background(), actor.Actor{
		ID:   "user-" + string(role),
		Name: "Test " + string(role),
		Role: role,
	})
}

func (env *testEnv) createRequest() ledgerdomain.CreateEntryRequest {
	return ledgerdomain.CreateEntryRequest{
		CompanyID: env.companyID,
		JobID:     env.jobID,
		UtilityID: env.utilityID,
		ItemCode:  "TRENCH-100",
		Quantity:  200,
		WorkDate:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Location: ledgerdomain.Location{
			Latitude:  37.7749,
			Longitude: -122.4194,
			Accuracy:  12,
		},
		Photos: []ledgerdomain.Photo{{
			URL:        "https://media.example.com/trench-1.jpg",
			CapturedAt: time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC),
		}},
		PerformedBy: ledgerdomain.PerformedBy{
			Tier:         ledgerdomain.TierPrime,
			WorkCategory: ratedomain.CategoryUnderground,
		},
	}
}

func TestCreateEntryLocksRateAndComputesTotal(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	entry, err := env.svc.CreateEntry(ctx, env.createRequest())
	require.NoError(t, err)

	assert.Equal(t, "TRENCH-100", entry.ItemCode)
	assert.Equal(t, int64(2500), entry.UnitPriceCents)
	// 200 LF at $25.00.
	assert.Equal(t, int64(500000), entry.TotalCents)
	assert.Equal(t, "high", entry.Location.Quality())
}

func TestCreateEntryAutoSubmitsWithEvidenceAndFix(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	entry, err := env.svc.CreateEntry(ctx, env.createRequest())
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusSubmitted, entry.Status)
	require.NotNil(t, entry.SubmittedAt)
}

func TestCreateEntryStaysDraftWithPoorAccuracy(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	req := env.createRequest()
	req.Location.Accuracy = 150
	entry, err := env.svc.CreateEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusDraft, entry.Status)
	assert.Equal(t, "poor", entry.Location.Quality())
}

func TestCreateEntryStaysDraftWithUnreportedAccuracy(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	req := env.createRequest()
	req.Location.Accuracy = 0
	entry, err := env.svc.CreateEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusDraft, entry.Status)
	assert.Equal(t, "poor", entry.Location.Quality())
}

func TestCreateEntryStaysDraftWithoutEvidence(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	req := env.createRequest()
	req.Photos = nil
	entry, err := env.svc.CreateEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusDraft, entry.Status)

	// A waiver with a reason counts as evidence.
	req = env.createRequest()
	req.Photos = nil
	req.PhotoWaived = true
	req.PhotoWaivedReason = "pre-energization, no access"
	entry, err = env.svc.CreateEntry(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusSubmitted, entry.Status)
}

func TestCreateEntryUnknownItemCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := env.asRole(actor.RoleField)

	req := env.createRequest()
	req.ItemCode = "NO-SUCH-CODE"
	_, err := env.svc.CreateEntry(ctx, req)
	assert.ErrorIs(t, err, ratedomain.ErrRateNotFound)
}

func TestSubmitOnlyByEntrant(t *testing.T) {
	env := newTestEnv(t)
	fieldCtx := env.asRole(actor.RoleField)

	req := env.createRequest()
	req.Photos = nil
	entry, err := env.svc.CreateEntry(fieldCtx, req)
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.StatusDraft, entry.Status)

	_, err = env.svc.Submit(env.asRole(actor.RoleGF), entry.ID)
	assert.ErrorIs(t, err, ledgerdomain.ErrActorNotEntrant)

	submitted, err := env.svc.Submit(fieldCtx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusSubmitted, submitted.Status)
}

func TestVerifyRequiresVerifierRole(t *testing.T) {
	env := newTestEnv(t)
	entry, err := env.svc.CreateEntry(env.asRole(actor.RoleField), env.createRequest())
	require.NoError(t, err)

	_, err = env.svc.Verify(env.asRole(actor.RoleField), entry.ID, "")
	assert.ErrorIs(t, err, ledgerdomain.ErrRoleForbidden)

	verified, err := env.svc.Verify(env.asRole(actor.RoleGF), entry.ID, "quantities match staking sheet")
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusVerified, verified.Status)
	require.NotNil(t, verified.VerifiedAt)
}

func TestApproveRequiresApproverRole(t *testing.T) {
	env := newTestEnv(t)
	entry, err := env.svc.CreateEntry(env.asRole(actor.RoleField), env.createRequest())
	require.NoError(t, err)

	verified, err := env.svc.Verify(env.asRole(actor.RoleQA), entry.ID, "")
	require.NoError(t, err)

	_, err = env.svc.Approve(env.asRole(actor.RoleGF), verified.ID)
	assert.ErrorIs(t, err, ledgerdomain.ErrRoleForbidden)

	approved, err := env.svc.Approve(env.asRole(actor.RolePM), verified.ID)
	require.NoError(t, err)
	assert.Equal(t, ledgerdomain.StatusApproved, approved.Status)
}

func TestIllegalTransitionsRejected(t *testing.T) {
	env := newTestEnv(t)
	entry, err := env.svc.CreateEntry(env.asRole(actor.RoleField), env.createRequest())
	require.NoError(t, err)
	require.Equal(t, ledgerdomain.StatusSubmitted, entry.Status)

	// Approve straight from submitted skips verification.
	_, err = env.svc.Approve(env.asRole(actor.RolePM), entry.ID)
	var transitionErr *ledgerdomain.TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, ledgerdomain.StatusSubmitted, transitionErr.Current)
	assert.Equal(t, ledgerdomain.StatusApproved, transitionErr.Requested)

	// Submit again is also illegal.
	_, err = env.svc.Submit(env.asRole(actor.RoleField), entry.ID)
	require.ErrorAs(t, err, &transitionErr)
}

func TestListUnbilledExcludesLinkedAndDeleted(t *testing.T) {
	env := newTestEnv(t)
	fieldCtx := env.asRole(actor.RoleField)

	first, err := env.svc.CreateEntry(fieldCtx, env.createRequest())
	require.NoError(t, err)
	second, err := env.svc.CreateEntry(fieldCtx, env.createRequest())
	require.NoError(t, err)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		_, err = env.svc.Verify(env.asRole(actor.RoleGF), id, "")
		require.NoError(t, err)
		_, err = env.svc.Approve(env.asRole(actor.RolePM), id)
		require.NoError(t, err)
	}

	unbilled, err := env.svc.ListUnbilled(context.Background(), env.companyID)
	require.NoError(t, err)
	assert.Len(t, unbilled, 2)

	claimID := env.node.Generate()
	require.NoError(t, env.db.Exec(
		`UPDATE unit_entries SET status = ?, claim_id = ? WHERE id = ?`,
		ledgerdomain.StatusInvoiced, claimID, first.ID,
	).Error)

	unbilled, err = env.svc.ListUnbilled(context.Background(), env.companyID)
	require.NoError(t, err)
	require.Len(t, unbilled, 1)
	assert.Equal(t, second.ID, unbilled[0].ID)
}
