// Package export renders approved claims into the payload formats the
// downstream Oracle integration accepts. Rendering is pure: the caller
// owns persistence and transmission.
package export

import (
	"fmt"

	claimdomain "github.com/fieldbill/fieldbill/internal/claim/domain"
	"github.com/fieldbill/fieldbill/internal/config"
)

// Renderer produces an export artifact for a claim in one format.
type Renderer interface {
	Render(claim claimdomain.Claim, profile config.OracleConfig) (claimdomain.ExportArtifact, error)
}

// ForFormat returns the renderer for the requested format.
func ForFormat(format claimdomain.ExportFormat) (Renderer, error) {
	switch format {
	case claimdomain.ExportFormatOracle:
		return OracleRenderer{}, nil
	case claimdomain.ExportFormatCSV:
		return CSVRenderer{}, nil
	case claimdomain.ExportFormatFBDI:
		return FBDIRenderer{}, nil
	default:
		return nil, claimdomain.ErrUnsupportedFormat
	}
}

// money renders minor units as a plain decimal with two places,
// e.g. 123456 -> "1234.56", -50 -> "-0.50".
func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// quantity renders a unit quantity without trailing zero noise.
func quantity(q float64) string {
	s := fmt.Sprintf("%.4f", q)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
