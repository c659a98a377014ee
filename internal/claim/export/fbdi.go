package export

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"time"

	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/config"
	"github.com/google/uuid"
)

// FBDIRenderer emits the Oracle File-Based Data Import bundle: a zip
// holding the AP invoice interface sheet and the matching invoice line
// interface sheet, ready for the FBDI loader.
type FBDIRenderer struct{}

var fbdiInvoiceHeader = []string{
	"INVOICE_ID", "INVOICE_NUM", "INVOICE_DATE", "VENDOR_ID",
	"VENDOR_SITE_ID", "OPERATING_UNIT", "INVOICE_AMOUNT",
	"INVOICE_CURRENCY_CODE", "TERMS_NAME", "DESCRIPTION", "GROUP_ID",
}

var fbdiLineHeader = []string{
	"INVOICE_ID", "LINE_NUMBER", "LINE_TYPE_LOOKUP_CODE", "AMOUNT",
	"QUANTITY_INVOICED", "UNIT_PRICE", "ITEM_DESCRIPTION",
	"INVENTORY_ITEM_NUM",
}

func (FBDIRenderer) Render(claim claimdomain.Claim, profile config.OracleConfig) (claimdomain.ExportArtifact, error) {
	return renderFBDI([]claimdomain.Claim{claim}, profile, claim.ClaimNumber)
}

// RenderBatch bundles several claims into one FBDI import under a
// shared batch group id.
func RenderBatch(claims []claimdomain.Claim, profile config.OracleConfig) (claimdomain.ExportArtifact, error) {
	return renderFBDI(claims, profile, fmt.Sprintf("FBDI-%s", uuid.NewString()))
}

func renderFBDI(claims []claimdomain.Claim, profile config.OracleConfig, name string) (claimdomain.ExportArtifact, error) {
	groupID := uuid.NewString()

	var invoices, lines bytes.Buffer
	iw := csv.NewWriter(&invoices)
	lw := csv.NewWriter(&lines)
	if err := iw.Write(fbdiInvoiceHeader); err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	if err := lw.Write(fbdiLineHeader); err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	for _, claim := range claims {
		invoiceDate := claim.CreatedAt
		if claim.ApprovedAt != nil {
			invoiceDate = *claim.ApprovedAt
		}
		err := iw.Write([]string{
			claim.ID.String(),
			claim.ClaimNumber,
			invoiceDate.Format(time.DateOnly),
			profile.VendorID,
			profile.VendorSiteID,
			profile.BusinessUnit,
			money(claim.AmountDueCents),
			"USD",
			profile.PaymentTerms,
			fmt.Sprintf("%s claim %s", claim.ClaimType, claim.ClaimNumber),
			groupID,
		})
		if err != nil {
			return claimdomain.ExportArtifact{}, err
		}
		for i, item := range claim.LineItems {
			err := lw.Write([]string{
				claim.ID.String(),
				fmt.Sprintf("%d", i+1),
				"ITEM",
				money(item.TotalCents),
				quantity(item.Quantity),
				money(item.UnitPriceCents),
				item.Description,
				item.ItemCode,
			})
			if err != nil {
				return claimdomain.ExportArtifact{}, err
			}
		}
	}
	iw.Flush()
	lw.Flush()
	if err := iw.Error(); err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	if err := lw.Error(); err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	var bundle bytes.Buffer
	zw := zip.NewWriter(&bundle)
	for _, entry := range []struct {
		name string
		body []byte
	}{
		{"ApInvoicesInterface.csv", invoices.Bytes()},
		{"ApInvoiceLinesInterface.csv", lines.Bytes()},
	} {
		f, err := zw.Create(entry.name)
		if err != nil {
			return claimdomain.ExportArtifact{}, err
		}
		if _, err := f.Write(entry.body); err != nil {
			return claimdomain.ExportArtifact{}, err
		}
	}
	if err := zw.Close(); err != nil {
		return claimdomain.ExportArtifact{}, err
	}

	return claimdomain.ExportArtifact{
		Format:      claimdomain.ExportFormatFBDI,
		ContentType: "application/zip",
		Filename:    fmt.Sprintf("%s-fbdi.zip", name),
		Body:        bundle.Bytes(),
	}, nil
}
