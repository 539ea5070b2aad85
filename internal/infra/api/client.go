// Package api implements the explorer HTTP client used to fetch pages of a
// resource list.
package api

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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/xphere-collector/internal/domain/collection"
)

// DefaultTimeout bounds a single page request.
const DefaultTimeout = 15 * time.Second

// maxErrorBody caps how much of a non-2xx body ends up in an error message.
const maxErrorBody = 512

var _ collection.PageFetcher = (*Client)(nil)

// Client fetches resource pages from the explorer API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a client for the API rooted at baseURL. Requests time
// out after timeout (DefaultTimeout when zero) and are traced through an
// otelhttp transport.
func NewClient(baseURL string, timeout time.Duration, tracer trace.Tracer, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid api base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q: scheme and host are required", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		userAgent: "xphere-collector",
		tracer:    tracer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// pageURL builds endpoint?pageParam=page&sizeParam=size.
func (c *Client) pageURL(res collection.Resource, page int) string {
	u := *c.baseURL
	u.Path = u.Path + "/" + strings.TrimLeft(res.Endpoint, "/")

	size := res.PageSize
	if size <= 0 {
		size = collection.DefaultPageSize
	}
	q := url.Values{}
	q.Set(res.PageParam, strconv.Itoa(page))
	q.Set(res.SizeParam, strconv.Itoa(size))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage requests one page and returns its rows. A nil or empty slice
// means the remote has no more data.
func (c *Client) FetchPage(ctx context.Context, res collection.Resource, page int) ([]collection.Record, error) {
	ctx, span := c.tracer.Start(ctx, "api_client.fetch_page",
		trace.WithAttributes(
			attribute.String("resource", res.Name),
			attribute.Int("page", page),
		))
	defer span.End()

	target := c.pageURL(res, page)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to build request")
		return nil, collection.NewMalformedError(res.Name, page, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, collection.NewTransientError(res.Name, page, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		err := fmt.Errorf("non-2xx response: %s", strings.TrimSpace(string(data)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "non-2xx response")
		return nil, collection.NewTransientError(res.Name, page, resp.StatusCode, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read body")
		return nil, collection.NewTransientError(res.Name, page, resp.StatusCode, fmt.Errorf("failed to read body: %w", err))
	}

	rows, err := DecodePage(res, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed response")
		return nil, collection.NewMalformedError(res.Name, page, err)
	}

	span.SetAttributes(attribute.Int("rows_count", len(rows)))
	return rows, nil
}

// DecodePage extracts the rows of a page body. The body must be a JSON
// object holding the resource's rows field or its fallback; a null or empty
// array yields no rows.
func DecodePage(res collection.Resource, body []byte) ([]collection.Record, error) {
	var envelope map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if envelope == nil {
		return nil, errors.New("response is not a JSON object")
	}

	primary, hasPrimary := envelope[res.RowsField]
	if hasPrimary && !isEmptyArray(primary) {
		return decodeRows(res.RowsField, primary)
	}

	if res.FallbackRowsField != "" {
		if fallback, ok := envelope[res.FallbackRowsField]; ok {
			return decodeRows(res.FallbackRowsField, fallback)
		}
	}

	if !hasPrimary {
		return nil, fmt.Errorf("response has no %q field", res.RowsField)
	}
	return decodeRows(res.RowsField, primary)
}

func isEmptyArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return true
	}
	if len(trimmed) < 2 || trimmed[0] != '[' {
		return false
	}
	return len(bytes.TrimSpace(trimmed[1:len(trimmed)-1])) == 0
}

func decodeRows(field string, raw json.RawMessage) ([]collection.Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, fmt.Errorf("field %q is not an array", field)
	}

	var rows []collection.Record
	if err := json.Unmarshal(trimmed, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %q rows: %w", field, err)
	}
	return rows, nil
}
