// Package client talks to the Kestrel persistence API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotFound is returned when the API answers 404.
var ErrNotFound = errors.New("transaction not found")

// APIError is a non-2xx response. Detail is the server's "detail" field when present.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("api error: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api error: %d: %s", e.Status, e.Detail)
}

// Client is an HTTP client for the persistence API. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New creates a client for baseURL, e.g. "http://localhost:8000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout:   15 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateTransaction posts one canonical record.
func (c *Client) CreateTransaction(ctx context.Context, rec domain.CanonicalRecord) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := c.do(ctx, http.MethodPost, "/transactions", rec, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListTransactions fetches one page of the collection, newest first.
func (c *Client) ListTransactions(ctx context.Context, page, pageSize int) (*domain.Page, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))

	var p domain.Page
	if err := c.do(ctx, http.MethodGet, "/transactions?"+q.Encode(), nil, &p); err != nil {
		return nil, err
	}
	if p.Items == nil {
		p.Items = []domain.Transaction{}
	}
	return &p, nil
}

// GetTransaction fetches a transaction with its explanation.
func (c *Client) GetTransaction(ctx context.Context, id string) (*domain.TransactionDetail, error) {
	var d domain.TransactionDetail
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Approve marks the transaction as legitimate.
func (c *Client) Approve(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/transactions/"+url.PathEscape(id)+"/approve", nil, nil)
}

// Reject marks the transaction as fraud.
func (c *Client) Reject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/transactions/"+url.PathEscape(id)+"/reject", nil, nil)
}

// MarkForReview flags the transaction for further review without disposing it.
func (c *Client) MarkForReview(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/transactions/"+url.PathEscape(id)+"/review", nil, nil)
}

// AuditTrail fetches the transaction's audit entries, oldest first.
func (c *Client) AuditTrail(ctx context.Context, id string) ([]domain.AuditEntry, error) {
	var trail domain.AuditTrail
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id)+"/audit", nil, &trail); err != nil {
		return nil, err
	}
	return trail.Entries, nil
}

// Health checks the API's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}

	apiErr := &APIError{Status: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && len(body.Detail) > 0 {
		var s string
		if json.Unmarshal(body.Detail, &s) == nil {
			apiErr.Detail = s
		} else {
			apiErr.Detail = string(body.Detail)
		}
	}
	return apiErr
}
