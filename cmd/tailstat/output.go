package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/coffersTech/tailstat/internal/engine"
	"github.com/olekukonko/tablewriter"
)

func writeReport(w io.Writer, r *engine.Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	writeTables(w, r)
	return nil
}

func writeTables(w io.Writer, r *engine.Report) {
	summary := tablewriter.NewWriter(w)
	summary.SetHeader([]string{"Metric", "Value"})
	summary.SetAlignment(tablewriter.ALIGN_LEFT)
	summary.Append([]string{"Total lines", strconv.FormatInt(r.TotalLines, 10)})
	summary.Append([]string{"Valid records", strconv.FormatInt(r.ValidRecords, 10)})
	for _, reason := range engine.Reasons {
		summary.Append([]string{"Errors: " + string(reason), strconv.FormatInt(r.ErrorsByReason[reason], 10)})
	}
	if r.Excluded > 0 {
		summary.Append([]string{"Excluded by filter", strconv.FormatInt(r.Excluded, 10)})
	}
	mode := string(r.Mode)
	if r.Mode == engine.ModeStreaming {
		mode = fmt.Sprintf("%s (±%g)", r.Mode, r.ErrorBound)
	}
	summary.Append([]string{"Mode", mode})
	if r.Clamped > 0 {
		summary.Append([]string{"Clamped values", strconv.FormatInt(r.Clamped, 10)})
	}
	if r.Interrupted {
		summary.Append([]string{"Interrupted", "yes"})
	}
	summary.Render()

	if r.NoData {
		fmt.Fprintln(w, "No valid records.")
		return
	}

	pct := tablewriter.NewWriter(w)
	pct.SetHeader([]string{"Quantile", "Latency"})
	pct.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, p := range r.Percentiles {
		pct.Append([]string{formatQuantile(p.Quantile), formatLatency(p.Value)})
	}
	pct.Append([]string{"min", formatLatency(r.Min)})
	pct.Append([]string{"mean", formatLatency(r.Mean)})
	pct.Append([]string{"max", formatLatency(r.Max)})
	pct.Render()

	top := tablewriter.NewWriter(w)
	top.SetHeader([]string{"#", "Latency", "Line"})
	top.SetAutoWrapText(false)
	for i, rec := range r.Top {
		top.Append([]string{strconv.Itoa(i + 1), formatLatency(rec.Latency), rec.Raw})
	}
	top.Render()

	hist := tablewriter.NewWriter(w)
	hist.SetHeader([]string{"Le", "Count"})
	hist.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, b := range r.Histogram {
		if b.Count > 0 {
			hist.Append([]string{b.Le, strconv.FormatInt(b.Count, 10)})
		}
	}
	hist.Render()
}

func formatQuantile(q float64) string {
	return "p" + strconv.FormatFloat(q*100, 'f', -1, 64)
}

func formatLatency(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
