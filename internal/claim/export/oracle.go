package export

import (
	"encoding/json"
	"fmt"
	"time"

	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/config"
)

// OracleRenderer emits the AP invoice JSON payload consumed by the
// Oracle Fusion payables REST endpoint.
type OracleRenderer struct{}

type oracleInvoice struct {
	InvoiceNumber   string              `json:"InvoiceNumber"`
	InvoiceDate     string              `json:"InvoiceDate"`
	VendorID        string              `json:"VendorId"`
	VendorSiteID    string              `json:"VendorSiteId"`
	BusinessUnit    string              `json:"BusinessUnit"`
	InvoiceAmount   string              `json:"InvoiceAmount"`
	InvoiceCurrency string              `json:"InvoiceCurrency"`
	PaymentTerms    string              `json:"PaymentTerms"`
	Description     string              `json:"Description"`
	InvoiceLines    []oracleInvoiceLine `json:"invoiceLines"`
}

type oracleInvoiceLine struct {
	LineNumber  int    `json:"LineNumber"`
	LineType    string `json:"LineType"`
	Amount      string `json:"Amount"`
	Description string `json:"Description"`
	Quantity    string `json:"Quantity"`
	UnitPrice   string `json:"UnitPrice"`
	ItemCode    string `json:"ItemCode"`
}

func (OracleRenderer) Render(claim claimdomain.Claim, profile config.OracleConfig) (claimdomain.ExportArtifact, error) {
	invoiceDate := claim.CreatedAt
	if claim.ApprovedAt != nil {
		invoiceDate = *claim.ApprovedAt
	}

	payload := oracleInvoice{
		InvoiceNumber:   claim.ClaimNumber,
		InvoiceDate:     invoiceDate.Format(time.DateOnly),
		VendorID:        profile.VendorID,
		VendorSiteID:    profile.VendorSiteID,
		BusinessUnit:    profile.BusinessUnit,
		InvoiceAmount:   money(claim.AmountDueCents),
		InvoiceCurrency: "USD",
		PaymentTerms:    profile.PaymentTerms,
		Description:     fmt.Sprintf("%s claim %s", claim.ClaimType, claim.ClaimNumber),
	}
	for i, item := range claim.LineItems {
		payload.InvoiceLines = append(payload.InvoiceLines, oracleInvoiceLine{
			LineNumber:  i + 1,
			LineType:    "ITEM",
			Amount:      money(item.TotalCents),
			Description: item.Description,
			Quantity:    quantity(item.Quantity),
			UnitPrice:   money(item.UnitPriceCents),
			ItemCode:    item.ItemCode,
		})
	}

	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	return claimdomain.ExportArtifact{
		Format:      claimdomain.ExportFormatOracle,
		ContentType: "application/json",
		Filename:    fmt.Sprintf("%s.json", claim.ClaimNumber),
		Body:        body,
	}, nil
}
