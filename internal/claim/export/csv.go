package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/config"
)

// CSVRenderer emits the flat line-item sheet used for manual review
// and spreadsheet import. One row per line item, fixed column order.
type CSVRenderer struct{}

var csvHeader = []string{
	"Line#", "ItemCode", "Description", "Quantity", "Unit", "UnitPrice",
	"TotalAmount", "WorkDate", "PhotoCount", "HasGPS", "Tier",
	"SubContractor", "WorkCategory",
}

func (CSVRenderer) Render(claim claimdomain.Claim, _ config.OracleConfig) (claimdomain.ExportArtifact, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	for i, item := range claim.LineItems {
		row := []string{
			strconv.Itoa(i + 1),
			item.ItemCode,
			item.Description,
			quantity(item.Quantity),
			item.Unit,
			money(item.UnitPriceCents),
			money(item.TotalCents),
			item.WorkDate.Format(time.DateOnly),
			strconv.Itoa(item.PhotoCount),
			strconv.FormatBool(item.HasGPS),
			item.PerformedByTier,
			item.SubContractorName,
			item.WorkCategory,
		}
		if err := w.Write(row); err != nil {
			return claimdomain.ExportArtifact{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return claimdomain.ExportArtifact{}, err
	}
	return claimdomain.ExportArtifact{
		Format:      claimdomain.ExportFormatCSV,
		ContentType: "text/csv",
		Filename:    fmt.Sprintf("%s.csv", claim.ClaimNumber),
		Body:        buf.Bytes(),
	}, nil
}
