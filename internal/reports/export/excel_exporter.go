package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"carbon-scribe/mrv-registry/internal/credits"
)

const (
	SummarySheet = "Summary"
	CreditsSheet = "Credits"

	amountFormat = "#,##0.000"
)

// CreditColumns is the header row of the credits sheet.
var CreditColumns = []string{
	"Credit ID", "Project ID", "Amount (tCO2e)", "Vintage", "Methodology", "Status",
	"Evidence Digest", "Issued To", "Issued At", "Retired By", "Retired At", "Retirement Reason",
}

// ExcelStyleConfig defines style for cells
type ExcelStyleConfig struct {
	FontBold  bool
	FontSize  int
	FontColor string
	FillColor string
	Alignment string
	Border    bool
}

var headerStyle = ExcelStyleConfig{
	FontBold:  true,
	FontSize:  11,
	FillColor: "4472C4",
	FontColor: "FFFFFF",
	Alignment: "center",
	Border:    true,
}

// Workbook builds a multi-sheet XLSX document.
type Workbook struct {
	file        *excelize.File
	headerStyle int
	amountStyle int
	dateStyle   int
	sheets      int
}

// NewWorkbook creates an empty workbook with the shared cell styles.
func NewWorkbook() (*Workbook, error) {
	file := excelize.NewFile()
	w := &Workbook{file: file}

	var err error
	if w.headerStyle, err = createStyle(file, headerStyle); err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	numFmt := amountFormat
	if w.amountStyle, err = file.NewStyle(&excelize.Style{CustomNumFmt: &numFmt}); err != nil {
		return nil, fmt.Errorf("failed to create number style: %w", err)
	}
	dateFmt := "yyyy-mm-dd hh:mm:ss"
	if w.dateStyle, err = file.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt}); err != nil {
		return nil, fmt.Errorf("failed to create date style: %w", err)
	}
	return w, nil
}

// AddSheet writes a header row and data rows to a new sheet. The first
// sheet added replaces the default one.
func (w *Workbook) AddSheet(name string, columns []string, rows [][]any) error {
	if w.sheets == 0 {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	w.sheets++

	widths := make([]float64, len(columns))
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := w.file.SetCellValue(name, cell, col); err != nil {
			return err
		}
		if err := w.file.SetCellStyle(name, cell, cell, w.headerStyle); err != nil {
			return err
		}
		widths[i] = estimateCellWidth(col)
	}

	for r, row := range rows {
		for i, val := range row {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if err := w.setCellValue(name, cell, val); err != nil {
				return fmt.Errorf("failed to set cell value: %w", err)
			}
			if i < len(widths) {
				widths[i] = max(widths[i], estimateCellWidth(val))
			}
		}
	}

	if err := w.file.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return err
	}
	if len(rows) > 0 {
		lastCol, _ := excelize.CoordinatesToCellName(len(columns), len(rows)+1)
		if err := w.file.AutoFilter(name, "A1:"+lastCol, nil); err != nil {
			return err
		}
	}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		// Min width 10, max width 70
		if err := w.file.SetColWidth(name, col, col, min(max(width, 10), 70)); err != nil {
			return err
		}
	}
	return nil
}

// Bytes serializes the workbook and releases it.
func (w *Workbook) Bytes() ([]byte, error) {
	defer w.file.Close()
	buf, err := w.file.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *Workbook) setCellValue(sheet, cell string, val any) error {
	switch v := val.(type) {
	case nil:
		return w.file.SetCellValue(sheet, cell, "")
	case *time.Time:
		if v == nil {
			return w.file.SetCellValue(sheet, cell, "")
		}
		return w.setCellValue(sheet, cell, *v)
	case time.Time:
		if v.IsZero() {
			return w.file.SetCellValue(sheet, cell, "")
		}
		if err := w.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		return w.file.SetCellStyle(sheet, cell, cell, w.dateStyle)
	case float64:
		if err := w.file.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		return w.file.SetCellStyle(sheet, cell, cell, w.amountStyle)
	default:
		return w.file.SetCellValue(sheet, cell, v)
	}
}

// CreditSummaryWorkbook renders per-state totals and the credit register
// as an XLSX document.
func CreditSummaryWorkbook(summary credits.Summary, list []credits.Credit) ([]byte, error) {
	w, err := NewWorkbook()
	if err != nil {
		return nil, err
	}

	summaryRows := make([][]any, 0, len(credits.Statuses)+1)
	for _, st := range credits.Statuses {
		totals := summary.ByStatus[st]
		summaryRows = append(summaryRows, []any{string(st), totals.Count, totals.Amount})
	}
	summaryRows = append(summaryRows, []any{"total", summary.TotalCredits, summary.TotalAmount})
	if err := w.AddSheet(SummarySheet, []string{"Status", "Credits", "Amount (tCO2e)"}, summaryRows); err != nil {
		return nil, err
	}

	rows := make([][]any, 0, len(list))
	for _, c := range list {
		rows = append(rows, []any{
			c.ID, c.ProjectID, c.Amount, c.Vintage, c.Methodology, string(c.Status),
			c.Metadata.EvidenceDigest, c.IssuedTo, c.IssuedAt, c.RetiredBy, c.RetiredAt, c.RetirementReason,
		})
	}
	if err := w.AddSheet(CreditsSheet, CreditColumns, rows); err != nil {
		return nil, err
	}
	return w.Bytes()
}

// createStyle creates an Excel style from config
func createStyle(file *excelize.File, config ExcelStyleConfig) (int, error) {
	style := &excelize.Style{
		Font: &excelize.Font{
			Bold:  config.FontBold,
			Size:  float64(config.FontSize),
			Color: config.FontColor,
		},
	}
	if config.FillColor != "" {
		style.Fill = excelize.Fill{
			Type:    "pattern",
			Pattern: 1,
			Color:   []string{config.FillColor},
		}
	}
	if config.Alignment != "" {
		style.Alignment = &excelize.Alignment{Horizontal: config.Alignment}
	}
	if config.Border {
		style.Border = []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
		}
	}
	return file.NewStyle(style)
}

// estimateCellWidth estimates the display width of a cell value
func estimateCellWidth(val any) float64 {
	if val == nil {
		return 0
	}
	// Rough estimate: 1 character = 1 unit width, plus padding
	return float64(len(fmt.Sprintf("%v", val))) * 1.2
}
