package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/api"
	"github.com/opensource-finance/kestrel/internal/client"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

const batch = `amount,payee,reference,timestamp,payee_is_new
2500,Unknown Co,URGENT transfer,2025-01-15T22:05:00,true
42.50,Grocer,weekly shop,2025-01-15T11:00:00,false
abc,Broken,row,2025-01-15T11:00:00,false
`

type harness struct {
	app *app
	out *bytes.Buffer
	cfg *domain.Config
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()

	dir := t.TempDir()
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: filepath.Join(dir, "review.db")})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine, err := scoring.NewEngine(domain.DefaultScoringConfig())
	require.NoError(t, err)

	srv := api.NewServer(domain.ServerConfig{}, repo, nil, nil, engine, time.Minute, "test")
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	cfg := domain.DefaultConfig()
	cfg.Console.APIURL = ts.URL
	cfg.Console.ReturnDelay = time.Millisecond
	cfg.Console.ReloadDelay = time.Millisecond

	out := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := newApp(cfg, client.New(ts.URL), strings.NewReader(stdin), out, logger)
	return &harness{app: a, out: out, cfg: cfg}
}

func (h *harness) run(t *testing.T, args ...string) error {
	t.Helper()
	h.out.Reset()
	return h.app.run(context.Background(), args)
}

func writeBatch(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func firstID(t *testing.T, h *harness, risk string) string {
	t.Helper()
	page, err := h.app.api.ListTransactions(context.Background(), 1, 100)
	require.NoError(t, err)
	for _, tx := range page.Items {
		if string(tx.RiskLevel) == risk {
			return tx.ID
		}
	}
	t.Fatalf("no %s risk transaction", risk)
	return ""
}

func TestUsage(t *testing.T) {
	h := newHarness(t, "")
	assert.ErrorIs(t, h.run(t), errUsage)
	assert.ErrorIs(t, h.run(t, "bogus"), errUsage)
	assert.ErrorIs(t, h.run(t, "show"), errUsage)
	assert.ErrorIs(t, h.run(t, "list", "-risk", "extreme"), errUsage)
}

func TestImportThenList(t *testing.T) {
	h := newHarness(t, "")

	err := h.run(t, "import", "-file", writeBatch(t, batch))
	require.NoError(t, err)

	out := h.out.String()
	assert.Contains(t, out, "Parsed 3 rows: 2 valid, 1 invalid")
	assert.Contains(t, out, "Uploaded 2, failed 0")
	assert.Contains(t, out, "line 4:")
	// Returned to the dashboard after the upload.
	assert.Contains(t, out, "At risk:    £2500.00")
	assert.Contains(t, out, "Fraud rate: 50%")

	require.NoError(t, h.run(t, "list", "-risk", "low"))
	assert.Contains(t, h.out.String(), "Grocer")
	assert.NotContains(t, h.out.String(), "Unknown Co")

	require.NoError(t, h.run(t, "list", "-q", "nothing-matches"))
	assert.Contains(t, h.out.String(), "No transactions match the current filters.")
}

func TestImportStructuralError(t *testing.T) {
	h := newHarness(t, "")
	err := h.run(t, "import", "-file", writeBatch(t, "amount,payee\n1,x\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required columns: reference, timestamp")
}

func TestListEmpty(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "list"))
	assert.Contains(t, h.out.String(), "No transactions yet.")
}

func TestShow(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "import", "-file", writeBatch(t, batch)))

	id := firstID(t, h, "high")
	require.NoError(t, h.run(t, "show", "-id", id))

	out := h.out.String()
	assert.Contains(t, out, "1. New Payee - ")
	assert.Contains(t, out, "Transaction created with amount £2500.00")

	err := h.run(t, "show", "-id", "missing")
	require.Error(t, err)
	assert.Equal(t, "transaction not found", err.Error())
}

func TestRejectLowRiskWithConfirmation(t *testing.T) {
	h := newHarness(t, "y\n")
	require.NoError(t, h.run(t, "import", "-file", writeBatch(t, batch)))

	id := firstID(t, h, "low")
	require.NoError(t, h.run(t, "reject", "-id", id))

	out := h.out.String()
	assert.Contains(t, out, "This transaction was scored low risk")
	assert.Contains(t, out, "[y/N]")
	assert.Contains(t, out, "✓ Transaction marked as fraud")
	assert.Contains(t, out, "Marked as fraud by reviewer")

	// Terminal once disposed.
	err := h.run(t, "approve", "-id", id, "-yes")
	require.Error(t, err)
}

func TestApproveDeclined(t *testing.T) {
	h := newHarness(t, "n\n")
	require.NoError(t, h.run(t, "import", "-file", writeBatch(t, batch)))

	id := firstID(t, h, "high")
	require.NoError(t, h.run(t, "approve", "-id", id))
	assert.Contains(t, h.out.String(), "Cancelled.")

	detail, err := h.app.api.GetTransaction(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.DispositionPending, detail.Status)
}

func TestFlag(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run(t, "import", "-file", writeBatch(t, batch)))

	id := firstID(t, h, "high")
	require.NoError(t, h.run(t, "flag", "-id", id))
	assert.Contains(t, h.out.String(), "flagged for review")

	trail, err := h.app.api.AuditTrail(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, domain.AuditReviewed, trail[1].Action)
}
