package store

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/tmshv/rfpharvest/internal"
)

const summaryRule = 80

// WriteSummary prints a human readable report of art: a per-source table
// followed by every record.
func WriteSummary(w io.Writer, art internal.Artifact) error {
	bw := bufio.NewWriter(w)
	rule := strings.Repeat("=", summaryRule)

	fmt.Fprintln(bw, rule)
	fmt.Fprintln(bw, "RFP GATHERING SUMMARY")
	fmt.Fprintln(bw, rule)
	fmt.Fprintf(bw, "Run: %s\n", art.RunID)
	fmt.Fprintf(bw, "Collected at: %s\n", art.CollectedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(bw, "Total RFPs Found: %d (duplicates dropped: %d)\n", art.TotalRFPs, art.Duplicates)
	if art.Simulated {
		fmt.Fprintln(bw, "WARNING: contains simulated placeholder records")
	}
	fmt.Fprintln(bw)

	rows := [][]string{{"Source", "Accepted", "Rejected", "Duplicates", "Status"}}
	for _, name := range art.SourceNames() {
		rep := art.Sources[name]
		rows = append(rows, []string{
			name,
			strconv.Itoa(rep.Accepted),
			strconv.Itoa(rep.Rejected),
			strconv.Itoa(rep.Duplicates),
			sourceStatus(rep),
		})
	}
	for _, line := range alignTable(rows) {
		fmt.Fprintln(bw, line)
	}
	fmt.Fprintln(bw)

	for i, rfp := range art.RFPs {
		title := rfp.Title
		if rfp.Simulated {
			title += " [SIMULATED]"
		}
		due := rfp.DueDate
		if due == "" {
			due = "unknown"
		}
		fmt.Fprintf(bw, "%d. %s\n", i+1, title)
		fmt.Fprintf(bw, "   Agency: %s\n", rfp.Agency)
		fmt.Fprintf(bw, "   Posted: %s | Due: %s\n", rfp.PostedDate, due)
		fmt.Fprintf(bw, "   Notice ID: %s\n", rfp.NoticeID)
		fmt.Fprintf(bw, "   Source: %s\n", rfp.Source)
		fmt.Fprintf(bw, "   URL: %s\n", rfp.URL)
		fmt.Fprintln(bw)
	}
	fmt.Fprintln(bw, rule)

	return bw.Flush()
}

func sourceStatus(rep internal.SourceReport) string {
	var status []string
	switch {
	case rep.Incomplete:
		status = append(status, "incomplete")
	case rep.Error != nil:
		status = append(status, "error: "+*rep.Error)
	default:
		status = append(status, "ok")
	}
	if rep.Simulated {
		status = append(status, "simulated")
	}
	return strings.Join(status, ", ")
}

// alignTable pads cells to the display width of the widest cell in each
// column, so wide runes in source names line up.
func alignTable(rows [][]string) []string {
	if len(rows) == 0 {
		return nil
	}
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	lines := make([]string, 0, len(rows)+1)
	for r, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i > 0 {
				sb.WriteString("  ")
			}
			if i == len(row)-1 {
				sb.WriteString(cell)
				continue
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		lines = append(lines, sb.String())
		if r == 0 {
			var sep strings.Builder
			for i, w := range widths {
				if i > 0 {
					sep.WriteString("  ")
				}
				sep.WriteString(strings.Repeat("-", w))
			}
			lines = append(lines, sep.String())
		}
	}
	return lines
}
