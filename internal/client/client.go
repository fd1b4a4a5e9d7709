// Package client provides an HTTP client for the wikibatch server.
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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/wikibatch/internal/metrics"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/server"
	"github.com/raphaelgruber/wikibatch/internal/service"
	"github.com/raphaelgruber/wikibatch/internal/store"
)

// Error is a non-2xx response from the server.
type Error struct {
	Status   int
	Response server.ErrorResponse
}

func (e *Error) Error() string {
	if e.Response.Message != "" {
		return fmt.Sprintf("%s (%d): %s", e.Response.Error, e.Status, e.Response.Message)
	}
	return fmt.Sprintf("server error: %d", e.Status)
}

// Client talks to the batch API as one user.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// New creates a client for the server at baseURL acting as user.
func New(baseURL, user string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8484"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		user:       user,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// do sends a request and decodes a JSON response into result, if non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// send issues a request and returns the response of a 2xx status. The
// caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, readError(resp)
	}
	return resp, nil
}

func (c *Client) setHeaders(h http.Header) {
	h.Set(server.RequestIDHeader, uuid.NewString())
	if c.user != "" {
		h.Set(server.UserHeader, c.user)
	}
}

func readError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if json.Unmarshal(body, &apiErr.Response) != nil {
		apiErr.Response.Message = strings.TrimSpace(string(body))
	}
	return apiErr
}

// IsParseError returns the parse errors of a rejected submission.
func IsParseError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && len(e.Response.Errors) > 0 {
		return e, true
	}
	return nil, false
}

// =============================================================================
// BATCHES
// =============================================================================

// Submit stores a new batch.
func (c *Client) Submit(ctx context.Context, req service.SubmitRequest) (*models.Batch, error) {
	var b models.Batch
	if err := c.do(ctx, http.MethodPost, "/api/batches", req, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Preview parses a script on the server without storing it.
func (c *Client) Preview(ctx context.Context, script string, syntax models.Syntax) ([]models.Command, error) {
	var resp server.PreviewResponse
	err := c.do(ctx, http.MethodPost, "/api/batches/preview", server.PreviewRequest{Script: script, Syntax: syntax}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Commands, nil
}

// List returns batches matching f, newest first.
func (c *Client) List(ctx context.Context, f store.BatchFilter) ([]models.Summary, error) {
	q := url.Values{}
	if f.Owner != "" {
		q.Set("owner", f.Owner)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.Offset > 0 {
		q.Set("offset", strconv.Itoa(f.Offset))
	}

	var resp server.ListResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/api/batches", q), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Batches, nil
}

// Get returns one batch with its counts.
func (c *Client) Get(ctx context.Context, id int64) (*models.Summary, error) {
	var sum models.Summary
	if err := c.do(ctx, http.MethodGet, batchPath(id, ""), nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// Commands returns one page of a batch's commands.
func (c *Client) Commands(ctx context.Context, id int64, q service.CommandQuery) (*service.CommandPage, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", strconv.Itoa(q.PageSize))
	}
	if q.OnlyErrors {
		v.Set("only_errors", "true")
	}

	var page service.CommandPage
	if err := c.do(ctx, http.MethodGet, withQuery(batchPath(id, "/commands"), v), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Allow authorizes a previewed batch.
func (c *Client) Allow(ctx context.Context, id int64) (*models.Batch, error) {
	return c.action(ctx, batchPath(id, "/allow"))
}

// Stop requests a stop between units.
func (c *Client) Stop(ctx context.Context, id int64) (*models.Batch, error) {
	return c.action(ctx, batchPath(id, "/stop"))
}

// Restart resumes a stopped or blocked batch.
func (c *Client) Restart(ctx context.Context, id int64) (*models.Batch, error) {
	return c.action(ctx, batchPath(id, "/restart"))
}

// Rerun retries the failed commands of a finished batch.
func (c *Client) Rerun(ctx context.Context, id int64, uncombine bool) (*models.Batch, error) {
	path := batchPath(id, "/rerun")
	if uncombine {
		path += "?uncombine=true"
	}
	return c.action(ctx, path)
}

func (c *Client) action(ctx context.Context, path string) (*models.Batch, error) {
	var b models.Batch
	if err := c.do(ctx, http.MethodPost, path, nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// Report copies the batch's CSV report to w.
func (c *Client) Report(ctx context.Context, id int64, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, batchPath(id, "/report"), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read report: %w", err)
	}
	return nil
}

// Stats returns the server's runtime statistics.
func (c *Client) Stats(ctx context.Context) (*metrics.Snapshot, error) {
	var snap metrics.Snapshot
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// =============================================================================
// EVENTS
// =============================================================================

// Watch streams status events of a batch until the server reports it has
// settled, ctx is cancelled or onEvent returns an error.
func (c *Client) Watch(ctx context.Context, id int64, onEvent func(models.BatchEvent) error) error {
	wsURL := c.baseURL + batchPath(id, "/events")
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	c.setHeaders(header)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusSwitchingProtocols {
				return readError(resp)
			}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON on cancellation.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev models.BatchEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		if ev.Type == "error" {
			return fmt.Errorf("batch %d events: %s", id, ev.Error)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Type == "done" {
			return nil
		}
	}
}

func batchPath(id int64, suffix string) string {
	return "/api/batches/" + strconv.FormatInt(id, 10) + suffix
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
