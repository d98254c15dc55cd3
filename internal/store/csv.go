package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/ashureev/alertbot/internal/domain"
)

// FeedbackHeader is the fixed column order of tabular feedback exports.
var FeedbackHeader = []string{
	"CustomerId",
	"ECN",
	"XAID",
	"OriginalPromptMessage",
	"SessionId",
	"Timestamp",
	"SatisfactoryMessage",
	"Reason",
}

// WriteFeedbackCSV writes the header row followed by one row per record.
func WriteFeedbackCSV(w io.Writer, rows []domain.Feedback) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FeedbackHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, f := range rows {
		record := []string{
			f.CustomerID,
			f.ECN,
			f.XAID,
			f.OriginalPromptMessage,
			f.SessionID,
			f.Timestamp.UTC().Format(time.RFC3339),
			f.SatisfactoryMessage,
			f.Reason,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
