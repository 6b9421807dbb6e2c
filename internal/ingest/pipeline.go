package ingest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Creator submits one canonical record to persistence.
type Creator interface {
	CreateTransaction(ctx context.Context, rec domain.CanonicalRecord) (*domain.Transaction, error)
}

// Report summarizes one ingestion run.
//
// Parsed counts data rows read. Accepted is Parsed minus ParseFailed, and
// Uploaded plus UploadFailed always equals Accepted.
type Report struct {
	Parsed       int
	ParseFailed  int
	Accepted     int
	Uploaded     int
	UploadFailed int

	RowFailures    []RowFailure
	UploadFailures []RowFailure

	// Created holds the persisted transactions in input order.
	Created []domain.Transaction

	Duration time.Duration
}

// ReturnToCollection reports whether the caller should go back to the
// collection view once the run is over.
func (r *Report) ReturnToCollection() bool {
	return r != nil && r.Uploaded > 0
}

// Pipeline parses, validates and submits CSV batches.
type Pipeline struct {
	creator     Creator
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
	tracer      trace.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithConcurrency bounds the number of in-flight create calls.
// Values below 1 are treated as 1, which submits rows strictly in order.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
	}
}

// WithRateLimit caps create calls per second. A non-positive rate disables the cap.
func WithRateLimit(perSecond float64) Option {
	return func(p *Pipeline) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the logger used for per-row diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline that submits through creator.
func NewPipeline(creator Creator, opts ...Option) *Pipeline {
	p := &Pipeline{
		creator:     creator,
		concurrency: 1,
		logger:      slog.Default(),
		tracer:      otel.Tracer("kestrel/ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type dataRow struct {
	line   int
	fields map[string]string
}

type acceptedRow struct {
	line int
	rec  domain.CanonicalRecord
}

type outcome struct {
	tx  *domain.Transaction
	err error
}

// Ingest runs one batch. Structural failures (ErrEmptyFile,
// *MissingColumnsError, ErrNoValidRows) are returned before any create call;
// with ErrNoValidRows the report is still returned so the row failures can be
// shown. Row failures never abort the batch and nothing is rolled back.
func (p *Pipeline) Ingest(ctx context.Context, rawText string) (*Report, error) {
	ctx, span := p.tracer.Start(ctx, "ingest.batch")
	defer span.End()
	start := time.Now()

	rows, err := parse(rawText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	report := &Report{Parsed: len(rows)}
	accepted := make([]acceptedRow, 0, len(rows))
	for _, row := range rows {
		rec, err := Validate(row.fields)
		if err != nil {
			report.ParseFailed++
			report.RowFailures = append(report.RowFailures, RowFailure{Line: row.line, Err: err})
			p.logger.Warn("row rejected", "line", row.line, "error", err)
			continue
		}
		accepted = append(accepted, acceptedRow{line: row.line, rec: rec})
	}
	report.Accepted = len(accepted)

	span.SetAttributes(
		attribute.Int("ingest.parsed", report.Parsed),
		attribute.Int("ingest.parse_failed", report.ParseFailed),
	)

	if len(accepted) == 0 {
		span.SetStatus(codes.Error, ErrNoValidRows.Error())
		report.Duration = time.Since(start)
		return report, ErrNoValidRows
	}

	outcomes := p.submit(ctx, accepted)
	for i, o := range outcomes {
		if o.err != nil {
			report.UploadFailed++
			report.UploadFailures = append(report.UploadFailures, RowFailure{Line: accepted[i].line, Err: o.err})
			continue
		}
		report.Uploaded++
		report.Created = append(report.Created, *o.tx)
	}
	report.Duration = time.Since(start)

	span.SetAttributes(
		attribute.Int("ingest.uploaded", report.Uploaded),
		attribute.Int("ingest.upload_failed", report.UploadFailed),
	)

	p.logger.Info("ingestion complete",
		"parsed", report.Parsed,
		"parse_failed", report.ParseFailed,
		"uploaded", report.Uploaded,
		"upload_failed", report.UploadFailed,
		"duration_ms", report.Duration.Milliseconds(),
	)

	return report, nil
}

// submit issues one create call per accepted row. With a limit of 1 the
// errgroup blocks in Go until the previous call returns, so rows are sent in order.
func (p *Pipeline) submit(ctx context.Context, rows []acceptedRow) []outcome {
	outcomes := make([]outcome, len(rows))

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i := range rows {
		g.Go(func() error {
			outcomes[i] = p.submitOne(ctx, rows[i])
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (p *Pipeline) submitOne(ctx context.Context, row acceptedRow) outcome {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			p.logger.Warn("row upload skipped", "line", row.line, "error", err)
			return outcome{err: err}
		}
	}

	tx, err := p.creator.CreateTransaction(ctx, row.rec)
	if err == nil && tx == nil {
		err = errors.New("create returned no transaction")
	}
	if err != nil {
		p.logger.Warn("row upload failed", "line", row.line, "error", err)
		return outcome{err: err}
	}

	p.logger.Debug("row uploaded", "line", row.line, "tx_id", tx.ID)
	return outcome{tx: tx}
}

// parse splits rawText into header-keyed rows. Values are split on every
// comma; quoted fields are not supported by the import format.
func parse(rawText string) ([]dataRow, error) {
	type numbered struct {
		n    int
		text string
	}

	var lines []numbered
	for i, line := range strings.Split(rawText, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, numbered{n: i + 1, text: line})
	}
	if len(lines) < 2 {
		return nil, ErrEmptyFile
	}

	header := strings.Split(strings.TrimPrefix(lines[0].text, "\ufeff"), ",")
	present := make(map[string]bool, len(header))
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(h))
		present[header[i]] = true
	}

	var missing []string
	for _, col := range RequiredColumns {
		if !present[col] {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Columns: missing}
	}

	rows := make([]dataRow, 0, len(lines)-1)
	for _, line := range lines[1:] {
		values := strings.Split(line.text, ",")
		fields := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(values) {
				fields[h] = strings.TrimSpace(values[i])
			} else {
				fields[h] = ""
			}
		}
		rows = append(rows, dataRow{line: line.n, fields: fields})
	}
	return rows, nil
}
