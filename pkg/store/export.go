package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/secureattend/secureattend/pkg/privacy"
)

// exportLimit caps the number of rows one CSV export pulls.
const exportLimit = 10000

// ExportCSV writes attendance rows for a date (or all dates when empty)
// to w. With anonymize set, user ids and names are replaced by stable
// pseudonyms. Returns the number of data rows written.
func (s *Store) ExportCSV(w io.Writer, date string, anonymize bool) (int, error) {
	records, err := s.Attendance(date, "", exportLimit)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	header := []string{"ID", "UserID", "Name", "RegNo", "Timestamp", "Date", "Time",
		"Liveness", "Emotion", "Engagement", "Confidence", "LedgerHash", "Location"}
	if err := cw.Write(header); err != nil {
		return 0, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		userID, name, regno := rec.UserID, rec.Name, rec.RegistrationNumber
		if anonymize {
			userID = privacy.AnonymizeID(rec.UserID)
			name = privacy.AnonymizeID(rec.Name)
			regno = privacy.AnonymizeID(rec.RegistrationNumber)
		}

		row := []string{
			strconv.FormatInt(rec.ID, 10),
			userID,
			name,
			regno,
			rec.Timestamp.Format("2006-01-02 15:04:05"),
			rec.Date,
			rec.Time,
			strconv.FormatFloat(rec.LivenessScore, 'f', 3, 64),
			rec.Emotion,
			strconv.FormatFloat(rec.EngagementScore, 'f', 2, 64),
			strconv.FormatFloat(rec.Confidence, 'f', 4, 64),
			rec.LedgerHash,
			rec.Location,
		}
		if err := cw.Write(row); err != nil {
			return 0, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return len(records), cw.Error()
}
