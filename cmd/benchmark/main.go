// Benchmark tool for measuring Kestrel's risk scoring against labelled data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/labelled.csv -url http://localhost:8000
//
// The CSV uses the import format (amount, payee, reference, timestamp,
// payee_is_new) plus an is_fraud column holding 1/true for fraud. This tool:
//  1. Reads and validates the labelled rows
//  2. Creates each transaction through the API, which scores it
//  3. Compares the assigned risk level with the fraud label
//  4. Reports precision, recall, F1-score and the confusion matrix
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/client"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/ingest"
)

// ColIsFraud is the label column.
const ColIsFraud = "is_fraud"

// LabelledRecord is a validated row and its ground truth.
type LabelledRecord struct {
	Line    int
	Record  domain.CanonicalRecord
	IsFraud bool
}

func main() {
	csvPath := flag.String("csv", "", "Path to labelled CSV file")
	baseURL := flag.String("url", "http://localhost:8000", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	alertLevel := flag.String("alert-level", "high", "Lowest risk level counted as an alert (high or medium)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/labelled.csv [-url http://localhost:8000]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	threshold := domain.RiskLevel(*alertLevel)
	if threshold != domain.RiskHigh && threshold != domain.RiskMedium {
		fmt.Printf("ERROR: -alert-level must be high or medium, got %q\n", *alertLevel)
		os.Exit(1)
	}

	fmt.Println("KESTREL BENCHMARK - Labelled Fraud Detection")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Alert level:  %s\n", threshold)
	fmt.Println()

	api := client.New(*baseURL, client.WithTimeout(10*time.Second))
	if err := api.Health(context.Background()); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	file, err := os.Open(*csvPath)
	if err != nil {
		fmt.Printf("ERROR: Failed to open CSV: %v\n", err)
		os.Exit(1)
	}
	records, skipped, err := readLabelled(file, *limit)
	file.Close()
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions (%d invalid rows skipped)\n", len(records), skipped)
	if len(records) == 0 {
		os.Exit(1)
	}

	fraudCount := 0
	for _, r := range records {
		if r.IsFraud {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(records)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(records)-fraudCount, 100*float64(len(records)-fraudCount)/float64(len(records)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(context.Background(), api, records, threshold, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(os.Stdout, metrics, duration)
}

// readLabelled parses a labelled CSV. Rows that fail import validation are
// counted in skipped rather than aborting the run.
func readLabelled(r io.Reader, limit int) (records []LabelledRecord, skipped int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex[ColIsFraud]; !ok {
		return nil, 0, fmt.Errorf("missing %s column", ColIsFraud)
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			skipped++
			continue
		}

		row := make(map[string]string, len(colIndex))
		for name, i := range colIndex {
			if i < len(record) {
				row[name] = record[i]
			}
		}

		rec, err := ingest.Validate(row)
		if err != nil {
			skipped++
			continue
		}

		label := strings.ToLower(strings.TrimSpace(row[ColIsFraud]))
		records = append(records, LabelledRecord{
			Line:    line,
			Record:  rec,
			IsFraud: label == "1" || label == "true",
		})

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, skipped, nil
}

func runBenchmark(ctx context.Context, api ingest.Creator, records []LabelledRecord, threshold domain.RiskLevel, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}
	if numWorkers < 1 {
		numWorkers = 1
	}

	work := make(chan LabelledRecord, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for r := range work {
				start := time.Now()
				tx, err := api.CreateTransaction(ctx, r.Record)
				metrics.observeLatency(time.Since(start))

				if err != nil {
					metrics.observeError()
					if verbose {
						fmt.Printf("ERROR: line %d -> %v\n", r.Line, err)
					}
					continue
				}

				predicted := isAlert(tx.RiskLevel, threshold)
				metrics.observe(predicted, r.IsFraud)

				if verbose {
					mark := "✓"
					if predicted != r.IsFraud {
						mark = "✗"
					}
					fmt.Printf("%s line %-6d | Amount: £%12.2f | Fraud: %-5v | Kestrel: %-6s (%.2f)\n",
						mark, r.Line, r.Record.Amount, r.IsFraud, tx.RiskLevel, tx.RiskScore)
				}
			}
		}()
	}

	for _, r := range records {
		work <- r
	}
	close(work)

	wg.Wait()

	return metrics
}

// isAlert reports whether level is at or above threshold.
func isAlert(level, threshold domain.RiskLevel) bool {
	switch threshold {
	case domain.RiskMedium:
		return level == domain.RiskHigh || level == domain.RiskMedium
	default:
		return level == domain.RiskHigh
	}
}
