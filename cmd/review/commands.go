package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/client"
	"github.com/opensource-finance/kestrel/internal/disposition"
	"github.com/opensource-finance/kestrel/internal/ingest"
	"github.com/opensource-finance/kestrel/internal/review"
)

func (a *app) importCmd(ctx context.Context, args []string) error {
	fs := a.flagSet("import")
	file := fs.String("file", "", "CSV file to upload")
	concurrency := fs.Int("concurrency", a.cfg.Console.IngestConcurrency, "parallel create calls")
	rate := fs.Float64("rate", a.cfg.Console.IngestRate, "max create calls per second (0 = unlimited)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *file == "" {
		return fmt.Errorf("%w: import requires -file", errUsage)
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	pipeline := ingest.NewPipeline(a.api,
		ingest.WithConcurrency(*concurrency),
		ingest.WithRateLimit(*rate),
		ingest.WithLogger(a.logger),
	)

	fmt.Fprintf(a.out, "Importing %s...\n", *file)
	report, err := pipeline.Ingest(ctx, string(raw))
	if report != nil {
		printReport(a.out, report)
	}
	if err != nil {
		return err
	}

	if report.ReturnToCollection() {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.Console.ReturnDelay):
		}
		fmt.Fprintln(a.out)
		return a.renderOnce(ctx, "", review.FilterAll)
	}
	return nil
}

func (a *app) listCmd(ctx context.Context, args []string, watch bool) error {
	name := "list"
	if watch {
		name = "watch"
	}
	fs := a.flagSet(name)
	query := fs.String("q", "", "search payee or reference")
	risk := fs.String("risk", string(review.FilterAll), "risk filter: all, high, medium, low")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	filter, err := review.ParseRiskFilter(*risk)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	if !watch {
		return a.renderOnce(ctx, *query, filter)
	}

	w := review.NewWatcher(a.api, a.cfg.Console.RefreshInterval, a.cfg.Console.PageSize, a.logger)
	w.Run(ctx, func(snap review.Snapshot) {
		fmt.Fprint(a.out, "\033[H\033[2J")
		printSnapshot(a.out, snap, *query, filter)
		fmt.Fprintf(a.out, "\nRefreshed %s, every %s. Ctrl-C to exit.\n",
			snap.FetchedAt.Format("15:04:05"), a.cfg.Console.RefreshInterval)
	})
	return nil
}

func (a *app) renderOnce(ctx context.Context, query string, filter review.RiskFilter) error {
	w := review.NewWatcher(a.api, a.cfg.Console.RefreshInterval, a.cfg.Console.PageSize, a.logger)
	snap := w.Fetch(ctx)
	printSnapshot(a.out, snap, query, filter)
	return snap.Err
}

func (a *app) showCmd(ctx context.Context, args []string) error {
	fs := a.flagSet("show")
	id := fs.String("id", "", "transaction id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: show requires -id", errUsage)
	}
	return a.printDetail(ctx, *id)
}

func (a *app) printDetail(ctx context.Context, id string) error {
	detail, err := a.api.GetTransaction(ctx, id)
	if err != nil {
		return describe(err)
	}
	trail, err := a.api.AuditTrail(ctx, id)
	if err != nil {
		return describe(err)
	}
	printDetail(a.out, detail, trail)
	return nil
}

func (a *app) disposeCmd(ctx context.Context, cmd string, args []string) error {
	fs := a.flagSet(cmd)
	id := fs.String("id", "", "transaction id")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: %s requires -id", errUsage, cmd)
	}

	detail, err := a.api.GetTransaction(ctx, *id)
	if err != nil {
		return describe(err)
	}

	reloaded := make(chan struct{})
	var desk *disposition.Desk
	desk = disposition.NewDesk(a.api,
		disposition.WithLogger(a.logger),
		disposition.WithNotifier(disposition.NotifierFunc(func(n disposition.Notification) {
			// Failures surface through Confirm's error.
			if n.Kind == disposition.NotifySuccess {
				fmt.Fprintf(a.out, "✓ %s\n", n.Message)
			}
		})),
		disposition.WithReload(func(ctx context.Context, txID string) {
			defer close(reloaded)
			d, err := a.api.GetTransaction(ctx, txID)
			if err != nil {
				a.logger.Warn("reload failed", "tx_id", txID, "error", err)
				return
			}
			if m, ok := desk.Lookup(txID); ok {
				m.Update(d.Transaction)
			}
			trail, err := a.api.AuditTrail(ctx, txID)
			if err != nil {
				a.logger.Warn("reload failed", "tx_id", txID, "error", err)
				return
			}
			fmt.Fprintln(a.out)
			printDetail(a.out, d, trail)
		}, a.cfg.Console.ReloadDelay),
	)
	defer desk.Close()

	machine := desk.Machine(detail.Transaction)
	prompt, err := machine.Request(disposition.Action(cmd))
	if err != nil {
		return err
	}

	printTransactionLine(a.out, detail.Transaction)
	if prompt.Warning != "" {
		fmt.Fprintf(a.out, "⚠ %s\n", prompt.Warning)
	}

	if !*yes && !a.confirm(prompt.Message) {
		fmt.Fprintln(a.out, "Cancelled.")
		return machine.Cancel()
	}

	if err := machine.Confirm(ctx); err != nil {
		return describe(err)
	}

	select {
	case <-reloaded:
	case <-ctx.Done():
	case <-time.After(a.cfg.Console.ReloadDelay + a.cfg.Console.RequestTimeout):
		a.logger.Warn("reload did not complete", "tx_id", *id)
	}
	return nil
}

func (a *app) flagCmd(ctx context.Context, args []string) error {
	fs := a.flagSet("flag")
	id := fs.String("id", "", "transaction id")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("%w: flag requires -id", errUsage)
	}

	if err := a.api.MarkForReview(ctx, *id); err != nil {
		return describe(err)
	}
	fmt.Fprintln(a.out, "✓ Transaction flagged for review")
	return nil
}

// confirm asks a yes/no question on the input stream. Anything but y or yes is no.
func (a *app) confirm(question string) bool {
	fmt.Fprintf(a.out, "%s [y/N] ", question)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// describe turns client errors into reviewer-facing messages.
func describe(err error) error {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, client.ErrNotFound):
		return errors.New("transaction not found")
	case errors.As(err, &apiErr):
		return fmt.Errorf("server rejected the request (%d): %s", apiErr.Status, apiErr.Detail)
	case errors.Is(err, disposition.ErrAlreadyDisposed):
		return err
	default:
		return fmt.Errorf("connection error: %w", err)
	}
}
