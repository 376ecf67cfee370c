package reporting

import (
	"fmt"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	sb.WriteString("# Reconciliation Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	sb.WriteString("## Checkpoint\n\n")
	if r.Checkpoint != nil {
		sb.WriteString("| Height | Hash | Parent |\n")
		sb.WriteString("|--------|------|--------|\n")
		sb.WriteString(fmt.Sprintf("| %d | %s | %s |\n", r.Checkpoint.Height, r.Checkpoint.Hash, r.Checkpoint.Parent))
	} else {
		sb.WriteString("No blocks processed yet.\n")
	}
	sb.WriteString("\n")

	writeCounts(&sb, "Transactions", r.TransactionCounts)
	writeCounts(&sb, "Demands", r.DemandCounts)
	writeCounts(&sb, "Match2s", r.Match2Counts)

	sb.WriteString(fmt.Sprintf("## Stale Transactions (submitted > %s)\n\n", r.StaleAfter))
	if len(r.StaleTransactions) > 0 {
		sb.WriteString("| ID | Local ID | API Type | Type | Hash | Submitted | Age |\n")
		sb.WriteString("|----|----------|----------|------|------|-----------|-----|\n")
		for _, tx := range r.StaleTransactions {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
				tx.ID, tx.LocalID, tx.APIType, tx.Type, tx.Hash,
				tx.SubmittedAt.UTC().Format(time.RFC3339), tx.Age.Truncate(time.Second)))
		}
	} else {
		sb.WriteString("No stale transactions.\n")
	}
	sb.WriteString("\n")

	if len(r.ArchivedEvents) > 0 {
		sb.WriteString("## Archived Events\n\n")
		sb.WriteString("| Process | Count |\n")
		sb.WriteString("|---------|-------|\n")
		for _, e := range r.ArchivedEvents {
			name := e.Process
			if name == "" {
				name = "(failed)"
			}
			sb.WriteString(fmt.Sprintf("| %s | %d |\n", name, e.Count))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func writeCounts(sb *strings.Builder, title string, rows []StateCountRow) {
	sb.WriteString(fmt.Sprintf("## %s\n\n", title))
	if len(rows) == 0 {
		sb.WriteString("None.\n\n")
		return
	}
	sb.WriteString("| State | Count |\n")
	sb.WriteString("|-------|-------|\n")
	for _, c := range rows {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", c.State, c.Count))
	}
	sb.WriteString("\n")
}
