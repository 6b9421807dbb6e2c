package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/review"
)

const timeLayout = "2006-01-02 15:04"

func printReport(out io.Writer, r *ingest.Report) {
	fmt.Fprintf(out, "Parsed %d rows: %d valid, %d invalid\n", r.Parsed, r.Accepted, r.ParseFailed)
	fmt.Fprintf(out, "Uploaded %d, failed %d (%s)\n", r.Uploaded, r.UploadFailed, r.Duration.Round(time.Millisecond))

	if len(r.RowFailures) > 0 {
		fmt.Fprintln(out, "\nInvalid rows:")
		for _, f := range r.RowFailures {
			fmt.Fprintf(out, "  %v\n", f)
		}
	}
	if len(r.UploadFailures) > 0 {
		fmt.Fprintln(out, "\nUpload failures:")
		for _, f := range r.UploadFailures {
			fmt.Fprintf(out, "  %v\n", f)
		}
	}
}

func printSnapshot(out io.Writer, snap review.Snapshot, query string, filter review.RiskFilter) {
	if snap.Err != nil {
		fmt.Fprintf(out, "Connection error: could not load transactions (%v)\n", snap.Err)
		return
	}

	view := review.DeriveView(snap.Transactions, query, filter)
	printStats(out, view.Stats)
	fmt.Fprintln(out)

	if len(view.Transactions) == 0 {
		if len(snap.Transactions) == 0 {
			fmt.Fprintln(out, "No transactions yet. Import a CSV file to get started.")
		} else {
			fmt.Fprintln(out, "No transactions match the current filters.")
		}
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tRISK\tSCORE\tAMOUNT\tPAYEE\tREFERENCE\tTIME\tSTATUS")
	for _, tx := range view.Transactions {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%s\t%s\t%s\t%s\t%s\n",
			shortID(tx.ID),
			strings.ToUpper(string(tx.RiskLevel)),
			tx.RiskScore,
			money(decimal.NewFromFloat(tx.Amount)),
			truncate(tx.Payee, 28),
			truncate(tx.Reference, 28),
			tx.Timestamp.Format(timeLayout),
			status(tx.Status),
		)
	}
	tw.Flush()
}

func printStats(out io.Writer, s review.Stats) {
	fmt.Fprintf(out, "At risk:    %s\n", money(s.AtRisk))
	fmt.Fprintf(out, "Fraud rate: %d%%\n", s.FraudRate())
	fmt.Fprintf(out, "High: %d  Medium: %d  Low: %d  Total: %d\n", s.High, s.Medium, s.Low, s.Total)
}

func printTransactionLine(out io.Writer, tx domain.Transaction) {
	fmt.Fprintf(out, "%s  %s  %s  %s (%s risk, %.2f)\n",
		tx.ID, money(decimal.NewFromFloat(tx.Amount)), tx.Payee, tx.Reference, tx.RiskLevel, tx.RiskScore)
}

func printDetail(out io.Writer, d *domain.TransactionDetail, trail []domain.AuditEntry) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", d.ID)
	fmt.Fprintf(tw, "Amount\t%s\n", money(decimal.NewFromFloat(d.Amount)))
	fmt.Fprintf(tw, "Payee\t%s\n", d.Payee)
	fmt.Fprintf(tw, "Reference\t%s\n", d.Reference)
	fmt.Fprintf(tw, "Time\t%s\n", d.Timestamp.Format(timeLayout))
	fmt.Fprintf(tw, "New payee\t%t\n", d.PayeeIsNew)
	fmt.Fprintf(tw, "Risk\t%s (%.2f)\n", strings.ToUpper(string(d.RiskLevel)), d.RiskScore)
	fmt.Fprintf(tw, "Confidence\t%d%%\n", d.Confidence)
	fmt.Fprintf(tw, "Status\t%s\n", status(d.Status))
	tw.Flush()

	fmt.Fprintf(out, "\n%s\n", d.Explanation)
	if len(d.RiskFactors) > 0 {
		fmt.Fprintln(out, "\nRisk factors:")
		for _, f := range d.RiskFactors {
			fmt.Fprintf(out, "  %s\n", f)
		}
	}
	fmt.Fprintf(out, "\nRecommended action: %s\n", d.RecommendedAction)

	fmt.Fprintln(out, "\nAudit trail:")
	if len(trail) == 0 {
		fmt.Fprintln(out, "  (empty)")
		return
	}
	for _, e := range trail {
		fmt.Fprintf(out, "  %s  %-8s  %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Action, e.Details)
	}
}

func money(d decimal.Decimal) string {
	return "£" + d.StringFixed(2)
}

func status(s domain.Disposition) string {
	if s == "" {
		return string(domain.DispositionPending)
	}
	return string(s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
