// Package wikibase applies batch edits through the Wikibase REST API.
package wikibase

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
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/models"
)

const restPath = "/w/rest.php/wikibase/v1"

// Config describes one knowledge base and the credentials used against it.
type Config struct {
	// URL is the site root, e.g. https://www.wikidata.org.
	URL string
	// Token is sent as a bearer token.
	Token     string
	UserAgent string
	// Tool names the EditGroups tool for the summary tag; empty disables it.
	Tool string
	// VerifyValueTypes checks statement values against property data types
	// before editing.
	VerifyValueTypes bool
	Timeout          time.Duration
}

// Client is an engine.Adapter for one knowledge base.
type Client struct {
	cfg        Config
	restURL    string
	actionURL  string
	conv       converter
	httpClient *http.Client

	lookups    singleflight.Group
	mu         sync.RWMutex
	dataTypes  map[string]string // property id -> data type
	valueTypes map[string]string // data type -> value type
}

// New creates a client for the knowledge base at cfg.URL.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.URL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "wikibatch/1.0"
	}
	return &Client{
		cfg:        cfg,
		restURL:    base + restPath,
		actionURL:  base + "/w/api.php",
		conv:       converter{conceptBase: strings.Replace(base, "https://", "http://", 1) + "/entity/"},
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dataTypes:  map[string]string{},
	}
}

// apiErrorBody is the REST API's error payload.
type apiErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// statusError classifies a non-2xx response.
func statusError(status int, body []byte) *engine.APIError {
	var payload apiErrorBody
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		msg = payload.Message
	}

	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return engine.NewTransientError(status, msg)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return engine.NewPermanentError(models.ErrCodeUnauthorized, status, msg)
	case isSitelinkError(payload):
		return engine.NewPermanentError(models.ErrCodeSitelinkInvalid, status, msg)
	}
	return engine.NewPermanentError(models.ErrCodeAPIUserError, status, msg)
}

func isSitelinkError(p apiErrorBody) bool {
	if strings.Contains(p.Message, "'site_id'") {
		return true
	}
	if p.Code != "invalid-path-parameter" {
		return false
	}
	param, _ := p.Context["parameter"].(string)
	return param == "site_id"
}

// do sends one REST request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.restURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	if body != nil {
		if method == http.MethodPatch {
			req.Header.Set("Content-Type", "application/json-patch+json")
		} else {
			req.Header.Set("Content-Type", "application/json")
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	slog.Debug("wikibase request", "method", method, "path", path, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

// entityPath maps an entity id to its REST collection.
func entityPath(id string) (string, error) {
	switch {
	case strings.HasPrefix(id, "Q"):
		return "/entities/items/" + id, nil
	case strings.HasPrefix(id, "P"):
		return "/entities/properties/" + id, nil
	}
	return "", engine.NewPermanentError(models.ErrCodeNotImplemented, 0, fmt.Sprintf("entity type of %q is not supported", id))
}

// Summary returns the edit comment with the batch tag prepended.
func (c *Client) Summary(batchID int64, summary string) string {
	if c.cfg.Tool == "" {
		return summary
	}
	tag := fmt.Sprintf("[[:toollabs:%s/batch/%d|batch #%d]]", c.cfg.Tool, batchID, batchID)
	if summary == "" {
		return tag
	}
	return tag + ": " + summary
}

// Apply performs one edit: a create, a patch of an existing entity, a
// statement removal by id, or a merge.
func (c *Client) Apply(ctx context.Context, edit engine.Edit) (engine.Result, error) {
	if len(edit.Ops) == 0 {
		return engine.Result{}, engine.NewPermanentError(models.ErrCodeInternal, 0, "empty edit")
	}
	comment := c.Summary(edit.BatchID, edit.Summary)

	switch op := edit.Ops[0].(type) {
	case models.CreateEntity:
		return c.create(ctx, op, edit.Ops[1:], comment)
	case models.RemoveStatementByID:
		return c.removeStatementByID(ctx, op, comment)
	case models.MergeEntities:
		return c.merge(ctx, op, comment)
	}
	return c.patch(ctx, string(edit.Subject), edit.Ops, comment)
}

type writeRequest struct {
	Item     *entityDoc `json:"item,omitempty"`
	Property *entityDoc `json:"property,omitempty"`
	Patch    []patchOp  `json:"patch,omitempty"`
	Bot      bool       `json:"bot"`
	Comment  string     `json:"comment,omitempty"`
}

func (c *Client) create(ctx context.Context, op models.CreateEntity, rest []models.Operation, comment string) (engine.Result, error) {
	doc := newEntityDoc(op.EntityType)
	req := writeRequest{Comment: comment}
	var path string
	switch op.EntityType {
	case models.EntityItem:
		path, req.Item = "/entities/items", doc
	case models.EntityProperty:
		doc.DataType = op.Datatype
		path, req.Property = "/entities/properties", doc
	default:
		return engine.Result{}, engine.NewPermanentError(models.ErrCodeNotImplemented, 0, fmt.Sprintf("cannot create %q entities", op.EntityType))
	}

	ed := &editor{doc: doc, conv: c.conv}
	errs, err := c.applyAll(ctx, ed, rest, 1)
	if err != nil {
		return engine.Result{}, err
	}

	var created entityDoc
	if err := c.do(ctx, http.MethodPost, path, req, &created); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{EntityID: created.ID, ElementErrors: errs}, nil
}

func (c *Client) patch(ctx context.Context, subject string, ops []models.Operation, comment string) (engine.Result, error) {
	path, err := entityPath(subject)
	if err != nil {
		return engine.Result{}, err
	}

	var doc entityDoc
	if err := c.do(ctx, http.MethodGet, path, nil, &doc); err != nil {
		return engine.Result{}, err
	}
	if doc.ID == "" {
		doc.ID = subject
	}
	doc.init()

	ed := &editor{doc: &doc, conv: c.conv}
	errs, err := c.applyAll(ctx, ed, ops, 0)
	if err != nil {
		return engine.Result{}, err
	}
	if len(errs) == len(ops) {
		// Nothing applicable; report the first failure for the whole edit.
		return engine.Result{}, errs[0]
	}

	res := engine.Result{EntityID: subject, ElementErrors: errs}
	if len(ed.patch) == 0 {
		return res, nil
	}
	if err := c.do(ctx, http.MethodPatch, path, writeRequest{Patch: ed.patch, Comment: comment}, nil); err != nil {
		return engine.Result{}, err
	}
	return res, nil
}

// applyAll runs ops through the editor. offset shifts element error keys
// so they index the edit's full op list.
func (c *Client) applyAll(ctx context.Context, ed *editor, ops []models.Operation, offset int) (map[int]*engine.APIError, error) {
	var errs map[int]*engine.APIError
	fail := func(i int, e *engine.APIError) {
		if errs == nil {
			errs = map[int]*engine.APIError{}
		}
		errs[i+offset] = e
	}

	for i, op := range ops {
		if c.cfg.VerifyValueTypes {
			if st, ok := statementOf(op); ok {
				bad, err := c.verify(ctx, st)
				if err != nil {
					return nil, err
				}
				if bad != nil {
					fail(i, bad)
					continue
				}
			}
		}
		if e := ed.apply(op); e != nil {
			fail(i, e)
		}
	}
	return errs, nil
}

func statementOf(op models.Operation) (models.Statement, bool) {
	switch o := op.(type) {
	case models.AddStatement:
		return o.Statement, true
	case models.RemoveStatement:
		return o.Statement, true
	}
	return models.Statement{}, false
}

func (c *Client) removeStatementByID(ctx context.Context, op models.RemoveStatementByID, comment string) (engine.Result, error) {
	path := "/statements/" + url.PathEscape(op.StatementID)
	if err := c.do(ctx, http.MethodDelete, path, writeRequest{Comment: comment}, nil); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{EntityID: string(models.SubjectOf(op))}, nil
}

// valueTypeOf maps a parsed value to the API's value type name. Somevalue
// and novalue fit every property.
func valueTypeOf(v models.Value) string {
	switch v.Kind() {
	case models.KindEntity:
		return "wikibase-entityid"
	case models.KindString:
		return "string"
	case models.KindMonolingual:
		return "monolingualtext"
	case models.KindTime:
		return "time"
	case models.KindCoordinate:
		return "globecoordinate"
	case models.KindQuantity:
		return "quantity"
	}
	return ""
}

// verify checks the main value, qualifiers and reference parts of st
// against their properties' data types.
func (c *Client) verify(ctx context.Context, st models.Statement) (*engine.APIError, error) {
	snaks := []models.Snak{{Property: st.Property, Value: st.Value}}
	snaks = append(snaks, st.Qualifiers...)
	for _, r := range st.References {
		snaks = append(snaks, r.Snaks...)
	}

	for _, s := range snaks {
		have := valueTypeOf(s.Value)
		if have == "" {
			continue
		}
		want, err := c.valueType(ctx, s.Property)
		if err != nil {
			var apiErr *engine.APIError
			if errors.As(err, &apiErr) && apiErr.Kind == engine.Permanent {
				return engine.NewPermanentError(models.ErrCodeInvalidValueType, apiErr.StatusCode,
					fmt.Sprintf("property %s does not exist or has no data type", s.Property)), nil
			}
			return nil, err
		}
		if want != have {
			return engine.NewPermanentError(models.ErrCodeInvalidValueType, 0,
				fmt.Sprintf("property %s expects %s values, got %s", s.Property, want, have)), nil
		}
	}
	return nil, nil
}

// valueType resolves the value type a property accepts. Lookups are cached
// and concurrent misses for the same key share one request.
func (c *Client) valueType(ctx context.Context, property string) (string, error) {
	dataType, err := c.dataType(ctx, property)
	if err != nil {
		return "", err
	}

	c.mu.RLock()
	types := c.valueTypes
	c.mu.RUnlock()
	if types == nil {
		v, err, _ := c.lookups.Do("property-data-types", func() (any, error) {
			var raw map[string]json.RawMessage
			if err := c.do(ctx, http.MethodGet, "/property-data-types", nil, &raw); err != nil {
				return nil, err
			}
			m := make(map[string]string, len(raw))
			for dt, body := range raw {
				m[dt] = decodeValueType(body)
			}
			c.mu.Lock()
			c.valueTypes = m
			c.mu.Unlock()
			return m, nil
		})
		if err != nil {
			return "", err
		}
		types = v.(map[string]string)
	}

	vt, ok := types[dataType]
	if !ok {
		return "", fmt.Errorf("unknown data type %q", dataType)
	}
	return vt, nil
}

// decodeValueType accepts both "string" and {"value_type": "string"}.
func decodeValueType(body json.RawMessage) string {
	var s string
	if json.Unmarshal(body, &s) == nil {
		return s
	}
	var obj struct {
		ValueType string `json:"value_type"`
	}
	_ = json.Unmarshal(body, &obj)
	return obj.ValueType
}

func (c *Client) dataType(ctx context.Context, property string) (string, error) {
	c.mu.RLock()
	dt, ok := c.dataTypes[property]
	c.mu.RUnlock()
	if ok {
		return dt, nil
	}

	v, err, _ := c.lookups.Do("property:"+property, func() (any, error) {
		var doc entityDoc
		if err := c.do(ctx, http.MethodGet, "/entities/properties/"+property, nil, &doc); err != nil {
			return "", err
		}
		if doc.DataType == "" {
			return "", engine.NewPermanentError(models.ErrCodeInvalidValueType, 0, "no data type for "+property)
		}
		c.mu.Lock()
		c.dataTypes[property] = doc.DataType
		c.mu.Unlock()
		return doc.DataType, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
