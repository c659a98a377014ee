package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecomputeDerivesInvariant(t *testing.T) {
	claim := Claim{
		SubtotalCents:  1000000, // $10,000.00
		RetentionCents: 100000,  // 10% retention
		TaxCents:       0,
	}
	claim.Adjustments = append(claim.Adjustments, Adjustment{
		Description: "rework credit",
		AmountCents: -50000,
	})
	claim.Payments = append(claim.Payments, Payment{
		AmountCents: 400000,
		PaymentDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	claim.Recompute()

	assert.Equal(t, int64(-50000), claim.AdjustmentTotalCents)
	assert.Equal(t, int64(950000), claim.TotalCents)
	assert.Equal(t, int64(850000), claim.AmountDueCents)
	assert.Equal(t, int64(400000), claim.TotalPaidCents)
	assert.Equal(t, int64(450000), claim.BalanceDueCents)
}

func TestRecomputeIdempotent(t *testing.T) {
	claim := Claim{
		SubtotalCents:  123456,
		RetentionCents: 12346,
		TaxCents:       9876,
		Adjustments:    []Adjustment{{AmountCents: -500}, {AmountCents: 1500}},
		Payments:       []Payment{{AmountCents: 20000}},
	}
	claim.Recompute()
	first := claim
	claim.Recompute()
	assert.Equal(t, first.TotalCents, claim.TotalCents)
	assert.Equal(t, first.AmountDueCents, claim.AmountDueCents)
	assert.Equal(t, first.BalanceDueCents, claim.BalanceDueCents)
	assert.Equal(t, first.AdjustmentTotalCents, claim.AdjustmentTotalCents)
	assert.Equal(t, first.TotalPaidCents, claim.TotalPaidCents)
}

func TestRateAmountRounding(t *testing.T) {
	// 10% of $100.00
	assert.Equal(t, int64(1000), RateAmount(10000, 0.10))
	// 8.25% of $33.33 is 274.9725 cents, rounds to 275.
	assert.Equal(t, int64(275), RateAmount(3333, 0.0825))
	assert.Equal(t, int64(0), RateAmount(3333, 0))
}

func TestVerificationMetricsRoundHalfUp(t *testing.T) {
	claim := Claim{LineItems: []LineItem{
		{PhotoCount: 2, HasGPS: true, GPSQuality: "high"},
		{PhotoCount: 1, HasGPS: true, GPSQuality: "acceptable"},
		{PhotoCount: 0, HasGPS: false, GPSQuality: "none"},
	}}
	m := claim.Verification()

	assert.Equal(t, 3, m.TotalUnits)
	assert.Equal(t, 2, m.UnitsWithPhotos)
	// 2 of 3 is 66.67%, rounds half-up to 67.
	assert.Equal(t, 67, m.PhotoComplianceRate)
	assert.Equal(t, 2, m.UnitsWithGPS)
	assert.Equal(t, 1, m.HighQualityGPS)
	assert.Equal(t, 67, m.GPSComplianceRate)
}

func TestVerificationMetricsEmptyClaim(t *testing.T) {
	m := Claim{}.Verification()
	assert.Equal(t, 0, m.TotalUnits)
	assert.Equal(t, 0, m.PhotoComplianceRate)
	assert.Equal(t, 0, m.GPSComplianceRate)
}

func TestCategoryAndTierTotals(t *testing.T) {
	claim := Claim{LineItems: []LineItem{
		{WorkCategory: "underground", PerformedByTier: "prime", TotalCents: 500000},
		{WorkCategory: "underground", PerformedByTier: "sub", TotalCents: 250000},
		{WorkCategory: "overhead", PerformedByTier: "prime", TotalCents: 100000},
	}}

	byCategory := claim.CategoryTotals()
	assert.Equal(t, int64(750000), byCategory["underground"])
	assert.Equal(t, int64(100000), byCategory["overhead"])

	byTier := claim.TierTotals()
	assert.Equal(t, int64(600000), byTier["prime"])
	assert.Equal(t, int64(250000), byTier["sub"])
}

func TestClaimTransitions(t *testing.T) {
	legal := []struct {
		from, to Status
	}{
		{StatusDraft, StatusSubmitted},
		{StatusSubmitted, StatusApproved},
		{StatusApproved, StatusExported},
		{StatusApproved, StatusPartiallyPaid},
		{StatusApproved, StatusPaid},
		{StatusExported, StatusPartiallyPaid},
		{StatusExported, StatusPaid},
		{StatusPartiallyPaid, StatusPaid},
	}
	for _, tc := range legal {
		claim := Claim{Status: tc.from}
		assert.NoError(t, claim.Transition(tc.to), "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.to, claim.Status)
	}

	illegal := []struct {
		from, to Status
	}{
		{StatusDraft, StatusApproved},
		{StatusDraft, StatusPaid},
		{StatusSubmitted, StatusExported},
		{StatusPaid, StatusDraft},
		{StatusPaid, StatusPartiallyPaid},
		{StatusExported, StatusDraft},
	}
	for _, tc := range illegal {
		claim := Claim{Status: tc.from}
		err := claim.Transition(tc.to)
		var transitionErr *TransitionError
		assert.ErrorAs(t, err, &transitionErr, "%s -> %s", tc.from, tc.to)
		assert.Equal(t, tc.from, claim.Status)
	}
}
