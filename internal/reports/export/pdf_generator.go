package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	"carbon-scribe/mrv-registry/internal/apperrors"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/projects"
)

// PDFColor represents an RGB color
type PDFColor struct {
	R int
	G int
	B int
}

// PDFOptions configures certificate rendering
type PDFOptions struct {
	PageSize       string
	Orientation    string // portrait, landscape
	Title          string
	Issuer         string
	DateFormat     string
	FontFamily     string
	FontSize       float64
	TitleFontSize  float64
	AccentColor    PDFColor
	AlternateColor PDFColor
	Margin         float64
}

// DefaultPDFOptions returns default PDF options
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		PageSize:       "A4",
		Orientation:    "landscape",
		Title:          "Certificate of Carbon Credit Retirement",
		Issuer:         "CarbonScribe MRV Registry",
		DateFormat:     "2006-01-02 15:04 MST",
		FontFamily:     "Arial",
		FontSize:       11,
		TitleFontSize:  22,
		AccentColor:    PDFColor{R: 46, G: 125, B: 50},
		AlternateColor: PDFColor{R: 242, G: 242, B: 242},
		Margin:         20,
	}
}

// RetirementCertificate renders proof that a credit was retired. Credits in
// any other state are refused.
func RetirementCertificate(credit *credits.Credit, project *projects.Project, opts PDFOptions) ([]byte, error) {
	if credit.Status != credits.StatusRetired {
		return nil, apperrors.Transition("credit", "certify", string(credit.Status))
	}

	orientation := "P"
	if opts.Orientation == "landscape" {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", opts.PageSize, "")
	pdf.SetMargins(opts.Margin, opts.Margin, opts.Margin)
	pdf.SetAutoPageBreak(true, opts.Margin)
	pdf.SetTitle(opts.Title, true)
	pdf.SetAuthor(opts.Issuer, true)
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	pdf.SetDrawColor(opts.AccentColor.R, opts.AccentColor.G, opts.AccentColor.B)
	pdf.SetLineWidth(1.2)
	pdf.Rect(opts.Margin/2, opts.Margin/2, pageW-opts.Margin, pageH-opts.Margin, "D")

	pdf.SetFont(opts.FontFamily, "B", opts.TitleFontSize)
	pdf.SetTextColor(opts.AccentColor.R, opts.AccentColor.G, opts.AccentColor.B)
	pdf.CellFormat(0, 14, opts.Title, "", 1, "C", false, 0, "")

	pdf.SetFont(opts.FontFamily, "", opts.FontSize+2)
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(4)
	pdf.MultiCell(0, 7, fmt.Sprintf(
		"This certifies that %s tCO2e of verified carbon credits from project \"%s\" were permanently retired and can no longer be transferred.",
		formatAmount(credit.Amount), project.Name), "", "C", false)
	pdf.Ln(6)

	rows := [][2]string{
		{"Credit ID", credit.ID},
		{"Project ID", project.ID},
		{"Vintage", credit.Vintage},
		{"Methodology", credit.Methodology},
		{"Retired By", credit.RetiredBy},
		{"Retired At", formatTime(credit.RetiredAt, opts.DateFormat)},
		{"Reason", credit.RetirementReason},
		{"Evidence Digest", credit.Metadata.EvidenceDigest},
		{"Ledger Transaction", credit.LedgerTxRef},
	}
	labelW := 55.0
	valueW := pageW - 2*opts.Margin - labelW
	for i, row := range rows {
		if row[1] == "" {
			continue
		}
		fill := i%2 == 1
		pdf.SetFillColor(opts.AlternateColor.R, opts.AlternateColor.G, opts.AlternateColor.B)
		pdf.SetFont(opts.FontFamily, "B", opts.FontSize)
		pdf.CellFormat(labelW, 8, row[0], "1", 0, "L", fill, 0, "")
		pdf.SetFont(opts.FontFamily, "", opts.FontSize)
		pdf.CellFormat(valueW, 8, row[1], "1", 1, "L", fill, 0, "")
	}

	pdf.Ln(8)
	pdf.SetFont(opts.FontFamily, "I", opts.FontSize-2)
	pdf.SetTextColor(110, 110, 110)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued by %s on %s", opts.Issuer, time.Now().UTC().Format(opts.DateFormat)), "", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.3f", v)
}

func formatTime(t *time.Time, layout string) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
