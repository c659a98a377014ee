package domain

import "math"

// Recompute derives the claim's financial fields from its components.
// It is invoked before every persist and is idempotent: repeating it on
// an unchanged claim yields identical totals.
//
//	adjustmentTotal = Σ adjustments.amount (signed; credits negative)
//	totalAmount     = subtotal + adjustmentTotal + taxAmount
//	amountDue       = totalAmount − retentionAmount
//	balanceDue      = amountDue − totalPaid
func (c *Claim) Recompute() {
	var adjustmentTotal int64
	for _, adjustment := range c.Adjustments {
		adjustmentTotal += adjustment.AmountCents
	}
	c.AdjustmentTotalCents = adjustmentTotal

	var totalPaid int64
	for _, payment := range c.Payments {
		totalPaid += payment.AmountCents
	}
	c.TotalPaidCents = totalPaid

	c.TotalCents = c.SubtotalCents + c.AdjustmentTotalCents + c.TaxCents
	c.AmountDueCents = c.TotalCents - c.RetentionCents
	c.BalanceDueCents = c.AmountDueCents - c.TotalPaidCents
}

// RateAmount applies a fractional rate to an amount, rounded to the
// nearest cent.
func RateAmount(amountCents int64, rate float64) int64 {
	if rate == 0 {
		return 0
	}
	return int64(math.Round(float64(amountCents) * rate))
}

// VerificationMetrics summarises evidence compliance across the line item
// snapshot.
type VerificationMetrics struct {
	TotalUnits          int `json:"total_units"`
	UnitsWithPhotos     int `json:"units_with_photos"`
	PhotoComplianceRate int `json:"photo_compliance_rate"`
	UnitsWithGPS        int `json:"units_with_gps"`
	HighQualityGPS      int `json:"high_quality_gps"`
	GPSComplianceRate   int `json:"gps_compliance_rate"`
}

// LineItemCount returns the number of snapshotted lines.
func (c Claim) LineItemCount() int { return len(c.LineItems) }

// Verification recomputes evidence metrics from the line items; it is
// never cached independently of them.
func (c Claim) Verification() VerificationMetrics {
	m := VerificationMetrics{TotalUnits: len(c.LineItems)}
	for _, item := range c.LineItems {
		if item.PhotoCount > 0 {
			m.UnitsWithPhotos++
		}
		if item.HasGPS {
			m.UnitsWithGPS++
		}
		if item.GPSQuality == "high" {
			m.HighQualityGPS++
		}
	}
	m.PhotoComplianceRate = percent(m.UnitsWithPhotos, m.TotalUnits)
	m.GPSComplianceRate = percent(m.UnitsWithGPS, m.TotalUnits)
	return m
}

// CategoryTotals sums line totals grouped by work category.
func (c Claim) CategoryTotals() map[string]int64 {
	totals := make(map[string]int64)
	for _, item := range c.LineItems {
		totals[item.WorkCategory] += item.TotalCents
	}
	return totals
}

// TierTotals sums line totals grouped by performer tier.
func (c Claim) TierTotals() map[string]int64 {
	totals := make(map[string]int64)
	for _, item := range c.LineItems {
		totals[item.PerformedByTier] += item.TotalCents
	}
	return totals
}

// percent rounds half-up to the nearest integer percent.
func percent(part, whole int) int {
	if whole == 0 {
		return 0
	}
	return int(math.Floor(100*float64(part)/float64(whole) + 0.5))
}
