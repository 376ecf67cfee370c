package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderCSV renders stale transactions as CSV string.
func RenderCSV(rows []StaleTransactionRow) string {
	var sb strings.Builder

	sb.WriteString("id,local_id,api_type,transaction_type,hash,submitted_at,age_seconds\n")
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%d\n",
			r.ID,
			r.LocalID,
			r.APIType,
			r.Type,
			r.Hash,
			r.SubmittedAt.UTC().Format(time.RFC3339),
			int64(r.Age.Seconds()),
		))
	}

	return sb.String()
}
