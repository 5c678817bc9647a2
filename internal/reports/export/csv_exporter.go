package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"carbon-scribe/mrv-registry/internal/credits"
)

// WriteCreditsCSV writes the credit register with the same columns as the
// workbook's credits sheet.
func WriteCreditsCSV(w io.Writer, list []credits.Credit) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(CreditColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, c := range list {
		record := []string{
			c.ID,
			c.ProjectID,
			strconv.FormatFloat(c.Amount, 'f', -1, 64),
			c.Vintage,
			c.Methodology,
			string(c.Status),
			c.Metadata.EvidenceDigest,
			c.IssuedTo,
			formatTime(c.IssuedAt, time.RFC3339),
			c.RetiredBy,
			formatTime(c.RetiredAt, time.RFC3339),
			c.RetirementReason,
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
