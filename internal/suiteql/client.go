package suiteql

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	queryPath      = "/services/rest/query/v1/suiteql"
	defaultTimeout = 90 * time.Second
	maxErrorBody   = 64 << 10
)

// Observer receives per-query outcomes, typically for metrics.
type Observer interface {
	ObserveQuery(name string, kind string, elapsed time.Duration)
}

// Options tune the HTTP client.
type Options struct {
	// BaseURL overrides the account host, mostly for tests.
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *slog.Logger
	Observer       Observer
	PageSize       int
	MaxRows        int
	DefaultTimeout time.Duration
}

// Client executes SuiteQL over the REST query endpoint.
type Client struct {
	baseURL        string
	http           *http.Client
	signer         *Signer
	logger         *slog.Logger
	observer       Observer
	pageSize       int
	maxRows        int
	defaultTimeout time.Duration
}

// NewClient constructs a client for the account in creds.
func NewClient(creds Credentials, opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://" + creds.Host()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.DefaultTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Client{
		baseURL:        base,
		http:           httpClient,
		signer:         NewSigner(creds),
		logger:         logger,
		observer:       opts.Observer,
		pageSize:       pageSize,
		maxRows:        opts.MaxRows,
		defaultTimeout: timeout,
	}
}

// Execute runs q and follows pages until the result set is exhausted.
func (c *Client) Execute(ctx context.Context, q Query) ([]Row, error) {
	ctx, cancel := c.withTimeout(ctx, q)
	defer cancel()
	return Paginate(ctx, c, q, c.pageSize, c.maxRows)
}

// ExecutePage fetches one window of q.
func (c *Client) ExecutePage(ctx context.Context, q Query, offset, limit int) ([]Row, error) {
	ctx, cancel := c.withTimeout(ctx, q)
	defer cancel()

	start := time.Now()
	rows, err := c.fetch(ctx, q, offset, limit)
	kind := "ok"
	if err != nil {
		kind = string(KindOf(err))
	}
	if c.observer != nil {
		c.observer.ObserveQuery(q.Name, kind, time.Since(start))
	}
	return rows, err
}

func (c *Client) withTimeout(ctx context.Context, q Query) (context.Context, context.CancelFunc) {
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

type queryResponse struct {
	Items   []map[string]any `json:"items"`
	HasMore bool             `json:"hasMore"`
}

type errorResponse struct {
	Title   string `json:"title"`
	Status  int    `json:"status"`
	Details []struct {
		Detail string `json:"detail"`
		Code   string `json:"o:errorCode"`
	} `json:"o:errorDetails"`
}

func (c *Client) fetch(ctx context.Context, q Query, offset, limit int) ([]Row, error) {
	text, err := Render(q)
	if err != nil {
		return nil, &Error{Kind: KindOther, Detail: "render query", Err: err}
	}
	body, err := json.Marshal(map[string]string{"q": text})
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: err}
	}

	target, err := url.Parse(c.baseURL + queryPath)
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: err}
	}
	params := target.Query()
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	target.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindOther, Err: err}
	}
	correlationID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "transient")
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("Authorization", c.signer.Authorization(http.MethodPost, target))

	logger := c.logger.With(slog.String("query", q.Name), slog.String("correlation_id", correlationID), slog.Int("offset", offset))
	if q.Book != nil {
		logger = logger.With(slog.Int64("book", *q.Book))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("suiteql request failed", slog.Any("error", err))
		return nil, &Error{Kind: KindOther, Detail: "transport", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		qerr := classifyResponse(resp.StatusCode, raw)
		logger.Warn("suiteql query rejected", slog.Int("status", resp.StatusCode), slog.String("kind", string(qerr.Kind)), slog.String("detail", qerr.Detail))
		return nil, qerr
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var payload queryResponse
	if err := dec.Decode(&payload); err != nil {
		return nil, &Error{Kind: KindOther, Status: resp.StatusCode, Detail: "decode response", Err: err}
	}
	rows := make([]Row, 0, len(payload.Items))
	for _, item := range payload.Items {
		row := make(Row, len(item))
		for k, v := range item {
			if k == "links" {
				continue
			}
			row[strings.ToLower(k)] = v
		}
		rows = append(rows, row)
	}
	logger.Debug("suiteql page fetched", slog.Int("rows", len(rows)), slog.Bool("has_more", payload.HasMore))
	return rows, nil
}

var (
	rateLimitMarkers   = []string{"CONCURRENCY_LIMIT_EXCEEDED", "SSS_REQUEST_LIMIT_EXCEEDED", "REQUEST_LIMIT_EXCEEDED", "TOO MANY REQUESTS"}
	permissionMarkers  = []string{"INSUFFICIENT_PERMISSION", "INVALID_LOGIN", "PERMISSION", "NOT AUTHORIZED"}
	unavailableMarkers = []string{"WAS NOT FOUND", "NOT FOUND", "UNKNOWN IDENTIFIER", "INVALID OR UNSUPPORTED SEARCH", "FEATURE IS NOT ENABLED", "FEATURE_DISABLED"}
)

// classifyResponse maps a non-2xx response onto an error kind.
func classifyResponse(status int, raw []byte) *Error {
	var parsed errorResponse
	detail := strings.TrimSpace(string(raw))
	if json.Unmarshal(raw, &parsed) == nil {
		var parts []string
		for _, d := range parsed.Details {
			if d.Code != "" {
				parts = append(parts, d.Code)
			}
			if d.Detail != "" {
				parts = append(parts, d.Detail)
			}
		}
		if len(parts) == 0 && parsed.Title != "" {
			parts = append(parts, parsed.Title)
		}
		if len(parts) > 0 {
			detail = strings.Join(parts, ": ")
		}
	}
	upper := strings.ToUpper(detail)

	kind := KindOther
	switch {
	case status == http.StatusTooManyRequests || containsAny(upper, rateLimitMarkers):
		kind = KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden || containsAny(upper, permissionMarkers):
		kind = KindPermissionDenied
	case status == http.StatusBadRequest && containsAny(upper, unavailableMarkers):
		kind = KindFeatureUnavailable
	}
	return &Error{Kind: kind, Status: status, Detail: detail, Err: errors.New(http.StatusText(status))}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// String renders the client for logs without secrets.
func (c *Client) String() string {
	return fmt.Sprintf("suiteql.Client(%s)", c.baseURL)
}
