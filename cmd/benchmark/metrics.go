package main

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Metrics tracks benchmark results. All counters are updated atomically.
type Metrics struct {
	TruePositives  atomic.Int64 // Fraud scored as an alert
	FalsePositives atomic.Int64 // Non-fraud scored as an alert
	TrueNegatives  atomic.Int64 // Non-fraud below the alert level
	FalseNegatives atomic.Int64 // Fraud below the alert level (missed fraud!)

	TotalProcessed atomic.Int64
	TotalFraud     atomic.Int64
	TotalNonFraud  atomic.Int64
	TotalErrors    atomic.Int64

	ProcessingTimeMs atomic.Int64
}

func (m *Metrics) observeLatency(d time.Duration) {
	m.ProcessingTimeMs.Add(d.Milliseconds())
	m.TotalProcessed.Add(1)
}

func (m *Metrics) observeError() {
	m.TotalErrors.Add(1)
}

func (m *Metrics) observe(predicted, actual bool) {
	if actual {
		m.TotalFraud.Add(1)
	} else {
		m.TotalNonFraud.Add(1)
	}

	switch {
	case predicted && actual:
		m.TruePositives.Add(1)
	case predicted && !actual:
		m.FalsePositives.Add(1)
	case !predicted && !actual:
		m.TrueNegatives.Add(1)
	default:
		m.FalseNegatives.Add(1)
	}
}

// Scores are the derived detection metrics.
type Scores struct {
	Precision float64
	Recall    float64
	F1        float64
	Accuracy  float64
}

// Scores derives precision, recall, F1 and accuracy. Undefined ratios are 0.
func (m *Metrics) Scores() Scores {
	tp := float64(m.TruePositives.Load())
	fp := float64(m.FalsePositives.Load())
	tn := float64(m.TrueNegatives.Load())
	fn := float64(m.FalseNegatives.Load())

	var s Scores
	if tp+fp > 0 {
		s.Precision = tp / (tp + fp)
	}
	if tp+fn > 0 {
		s.Recall = tp / (tp + fn)
	}
	if s.Precision+s.Recall > 0 {
		s.F1 = 2 * (s.Precision * s.Recall) / (s.Precision + s.Recall)
	}
	if total := tp + tn + fp + fn; total > 0 {
		s.Accuracy = (tp + tn) / total
	}
	return s
}

func printResults(out io.Writer, m *Metrics, duration time.Duration) {
	fmt.Fprintln(out, "\nBENCHMARK RESULTS")

	fmt.Fprintf(out, "\nDATASET STATISTICS\n")
	fmt.Fprintf(out, "   Total Processed:  %d\n", m.TotalProcessed.Load())
	fmt.Fprintf(out, "   Total Fraud:      %d\n", m.TotalFraud.Load())
	fmt.Fprintf(out, "   Total Non-Fraud:  %d\n", m.TotalNonFraud.Load())
	fmt.Fprintf(out, "   Errors:           %d\n", m.TotalErrors.Load())

	fmt.Fprintf(out, "\nCONFUSION MATRIX\n")
	fmt.Fprintln(out, "                        Predicted")
	fmt.Fprintln(out, "                    ALERT       CLEAR")
	fmt.Fprintln(out, "              ┌──────────┬──────────┐")
	fmt.Fprintf(out, "   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives.Load(), m.FalseNegatives.Load())
	fmt.Fprintln(out, "              ├──────────┼──────────┤")
	fmt.Fprintf(out, "          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives.Load(), m.TrueNegatives.Load())
	fmt.Fprintln(out, "              └──────────┴──────────┘")

	s := m.Scores()
	fmt.Fprintf(out, "\nDETECTION METRICS\n")
	fmt.Fprintf(out, "   Precision:  %.4f  (of alerts, how many were actual fraud)\n", s.Precision)
	fmt.Fprintf(out, "   Recall:     %.4f  (of fraud, how many did we catch)\n", s.Recall)
	fmt.Fprintf(out, "   F1-Score:   %.4f\n", s.F1)
	fmt.Fprintf(out, "   Accuracy:   %.4f\n", s.Accuracy)

	fmt.Fprintf(out, "\nPERFORMANCE\n")
	fmt.Fprintf(out, "   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if n := m.TotalProcessed.Load(); n > 0 {
		avgMs := float64(m.ProcessingTimeMs.Load()) / float64(n)
		tps := float64(n) / duration.Seconds()
		fmt.Fprintf(out, "   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Fprintf(out, "   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Fprintln(out)
}
