package commands

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/internal/coordinator"
)

// ═══════════════════════════════════════════════════════════
// Common Formatting Utilities
// 모든 커맨드가 동일한 출력 포맷을 사용하도록 통일
// ═══════════════════════════════════════════════════════════

// PrintSeparator prints a visual separator
func PrintSeparator() {
	fmt.Println("───────────────────────────────────────────────────────────")
}

// PrintDoubleSeparator prints a double-line separator
func PrintDoubleSeparator() {
	fmt.Println("═══════════════════════════════════════════════════════════")
}

// PrintSuccess prints a success message
func PrintSuccess(message string) {
	fmt.Printf("✅ %s\n", message)
}

// PrintError prints an error message
func PrintError(message string) {
	fmt.Printf("❌ %s\n", message)
}

// PrintWarning prints a warning message
func PrintWarning(message string) {
	fmt.Printf("⚠️  %s\n", message)
}

// PrintKeyValue prints key-value pairs
func PrintKeyValue(key string, value string, keyWidth int) {
	fmt.Printf("   %-*s : %s\n", keyWidth, key, value)
}

// PrintTableHeader prints a table header
func PrintTableHeader(columns []string, widths []int) {
	PrintTableRow(columns, widths)

	totalWidth := 0
	for i, width := range widths {
		totalWidth += width
		if i < len(widths)-1 {
			totalWidth += 2 // spacing
		}
	}
	fmt.Println(strings.Repeat("─", totalWidth))
}

// PrintTableRow prints a table row
func PrintTableRow(values []string, widths []int) {
	for i, val := range values {
		fmt.Printf("%-*s", widths[i], val)
		if i < len(values)-1 {
			fmt.Print("  ")
		}
	}
	fmt.Println()
}

// PrintRunReport prints the summary of one run
func PrintRunReport(outcome *coordinator.RunOutcome) {
	b := outcome.Batch

	fmt.Println()
	PrintDoubleSeparator()
	fmt.Printf("  ETL Run %s\n", b.ScheduledFor.Format("2006-01-02 15:04 MST"))
	PrintSeparator()
	PrintKeyValue("Batch", b.BatchID, 11)
	PrintKeyValue("Status", string(b.Status), 11)
	PrintKeyValue("Attempts", strconv.Itoa(b.AttemptCount), 11)
	PrintKeyValue("Duration", outcome.Duration.Round(time.Millisecond).String(), 11)
	PrintKeyValue("Rows", strconv.Itoa(b.RowsWritten), 11)
	PrintKeyValue("Partitions", formatPartitions(b.PartitionKeys()), 11)
	if outcome.Holdings > 0 {
		PrintKeyValue("Holdings", strconv.Itoa(outcome.Holdings), 11)
	}
	PrintSeparator()

	if len(outcome.Sources) > 0 {
		fmt.Println()
		widths := []int{10, 8, 8, 40}
		PrintTableHeader([]string{"SOURCE", "RECORDS", "TRIES", "ERROR"}, widths)
		for _, s := range outcome.Sources {
			PrintTableRow([]string{string(s.Source), strconv.Itoa(s.Records), strconv.Itoa(s.Attempts), s.Error}, widths)
		}
	}

	if q := outcome.Quality; q != nil {
		fmt.Println()
		fmt.Printf("Quality: %d/%d admitted (%.1f%%)\n", q.Admitted, q.Total, q.AdmissionRate()*100)
		flags := make([]string, 0, len(q.Flags))
		for f, n := range q.Flags {
			flags = append(flags, fmt.Sprintf("%s=%d", f, n))
		}
		sort.Strings(flags)
		if len(flags) > 0 {
			fmt.Printf("   flags: %s\n", strings.Join(flags, ", "))
		}
	}

	if t := outcome.Transform; t != nil {
		fmt.Printf("Transform: %d rows from %d records (%d skipped)\n", t.Rows, t.Input, t.Skipped)
		for _, a := range t.Anomalies {
			fmt.Printf("   • %s %s %s: %s\n", a.Source, a.Symbol, a.Date, a.Reason)
		}
	}

	if h := outcome.HoldingsReport; h != nil {
		fmt.Printf("Holdings: %d positions from %d lots (%d skipped)\n", h.Rows, h.Input, h.Skipped)
		for _, a := range h.Anomalies {
			fmt.Printf("   • %s %s %s: %s\n", a.Source, a.Symbol, a.Date, a.Reason)
		}
	}

	fmt.Println()
	if b.Status == contracts.BatchSucceeded {
		PrintSuccess(fmt.Sprintf("Run succeeded: %d rows across %d partition(s)", b.RowsWritten, len(b.PartitionsTouched)))
		return
	}
	PrintError("Run failed: " + b.Error)
}

// PrintBatches prints audit records as a table
func PrintBatches(batches []*contracts.LoadBatch) {
	widths := []int{36, 17, 9, 4, 6, 24}
	PrintTableHeader([]string{"BATCH", "SCHEDULED", "STATUS", "TRY", "ROWS", "PARTITIONS"}, widths)
	for _, b := range batches {
		PrintTableRow([]string{
			b.BatchID,
			b.ScheduledFor.UTC().Format("2006-01-02 15:04"),
			string(b.Status),
			strconv.Itoa(b.AttemptCount),
			strconv.Itoa(b.RowsWritten),
			formatPartitions(b.PartitionKeys()),
		}, widths)
	}
}

// formatPartitions collapses long partition lists to first..last
func formatPartitions(keys []string) string {
	switch len(keys) {
	case 0:
		return "-"
	case 1, 2, 3:
		return strings.Join(keys, ", ")
	default:
		return fmt.Sprintf("%s .. %s (%d)", keys[0], keys[len(keys)-1], len(keys))
	}
}
