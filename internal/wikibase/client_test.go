package wikibase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWikibase serves a tiny slice of the REST and action APIs.
type fakeWikibase struct {
	t         *testing.T
	mux       *http.ServeMux
	patches   [][]patchOp
	lastBody  map[string]any
	propHits  atomic.Int32
	lastAgent string
	lastAuth  string
}

func newFakeWikibase(t *testing.T) (*fakeWikibase, *Client) {
	t.Helper()
	f := &fakeWikibase{t: t, mux: http.NewServeMux()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.lastAgent = r.Header.Get("User-Agent")
		f.lastAuth = r.Header.Get("Authorization")
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{URL: srv.URL, Token: "secret", UserAgent: "wikibatch-test", Tool: "wikibatch"})
	return f, c
}

func (f *fakeWikibase) handle(pattern string, h http.HandlerFunc) {
	f.mux.HandleFunc(pattern, h)
}

func (f *fakeWikibase) decode(r *http.Request) map[string]any {
	var body map[string]any
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
	f.lastBody = body
	return body
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func (f *fakeWikibase) serveUniverse() {
	f.handle("GET "+restPath+"/entities/items/Q1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, universeJSON)
	})
	f.handle("PATCH "+restPath+"/entities/items/Q1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "application/json-patch+json", r.Header.Get("Content-Type"))
		var body writeRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		f.patches = append(f.patches, body.Patch)
		f.lastBody = map[string]any{"comment": body.Comment}
		writeJSON(w, http.StatusOK, universeJSON)
	})
}

func TestClientCreate(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.handle("POST "+restPath+"/entities/items", func(w http.ResponseWriter, r *http.Request) {
		body := f.decode(r)
		item := body["item"].(map[string]any)
		assert.Equal(t, map[string]any{"en": "Douglas Adams"}, item["labels"])
		assert.Contains(t, item["statements"], "P31")
		writeJSON(w, http.StatusCreated, `{"id":"Q42","type":"item"}`)
	})

	res, err := c.Apply(context.Background(), engine.Edit{
		BatchID: 7,
		Ops: []models.Operation{
			models.CreateEntity{EntityType: models.EntityItem},
			models.SetLabel{Subject: models.Last, Language: "en", Text: "Douglas Adams"},
			models.AddStatement{Subject: models.Last, Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q5"}}},
		},
		Summary: "import",
	})
	require.NoError(t, err)
	assert.Equal(t, "Q42", res.EntityID)
	assert.Empty(t, res.ElementErrors)
	assert.Equal(t, "[[:toollabs:wikibatch/batch/7|batch #7]]: import", f.lastBody["comment"])
	assert.Equal(t, false, f.lastBody["bot"])
	assert.Equal(t, "wikibatch-test", f.lastAgent)
	assert.Equal(t, "Bearer secret", f.lastAuth)
}

func TestClientCreateProperty(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.handle("POST "+restPath+"/entities/properties", func(w http.ResponseWriter, r *http.Request) {
		body := f.decode(r)
		prop := body["property"].(map[string]any)
		assert.Equal(t, "string", prop["data_type"])
		assert.NotContains(t, prop, "sitelinks")
		writeJSON(w, http.StatusCreated, `{"id":"P100","type":"property"}`)
	})

	res, err := c.Apply(context.Background(), engine.Edit{Ops: []models.Operation{
		models.CreateEntity{EntityType: models.EntityProperty, Datatype: "string"},
	}})
	require.NoError(t, err)
	assert.Equal(t, "P100", res.EntityID)
}

func TestClientPatch(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.serveUniverse()

	res, err := c.Apply(context.Background(), engine.Edit{
		BatchID: 3,
		Subject: "Q1",
		Ops: []models.Operation{
			models.SetLabel{Subject: "Q1", Language: "de", Text: "Weltall"},
			models.AddStatement{Subject: "Q1", Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q1", res.EntityID)
	require.Len(t, f.patches, 1)
	assert.Equal(t, []string{"add /labels/de", "add /statements/P31/-"}, paths(f.patches[0]))
	assert.Equal(t, "[[:toollabs:wikibatch/batch/3|batch #3]]", f.lastBody["comment"])
}

func TestClientPartialFailure(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.serveUniverse()

	res, err := c.Apply(context.Background(), engine.Edit{
		Subject: "Q1",
		Ops: []models.Operation{
			models.SetLabel{Subject: "Q1", Language: "de", Text: "Weltall"},
			models.RemoveStatement{Subject: "Q1", Statement: models.Statement{Property: "P999", Value: models.NoValue{}}},
		},
	})
	require.NoError(t, err)
	require.Contains(t, res.ElementErrors, 1)
	assert.Equal(t, models.ErrCodeNoStatementsProp, res.ElementErrors[1].Code)
	require.Len(t, f.patches, 1)
	assert.Equal(t, []string{"add /labels/de"}, paths(f.patches[0]))
}

func TestClientNothingApplicable(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.serveUniverse()

	_, err := c.Apply(context.Background(), engine.Edit{
		Subject: "Q1",
		Ops: []models.Operation{
			models.RemoveStatement{Subject: "Q1", Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}},
		},
	})
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, engine.Permanent, apiErr.Kind)
	assert.Equal(t, models.ErrCodeNoStatementsValue, apiErr.Code)
	assert.Empty(t, f.patches)
}

func TestClientUnsupportedEntity(t *testing.T) {
	_, c := newFakeWikibase(t)

	_, err := c.Apply(context.Background(), engine.Edit{
		Subject: "L1",
		Ops:     []models.Operation{models.SetLabel{Subject: "L1", Language: "en", Text: "x"}},
	})
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, models.ErrCodeNotImplemented, apiErr.Code)
}

func TestClientRemoveStatementByID(t *testing.T) {
	f, c := newFakeWikibase(t)
	var deleted string
	f.handle("DELETE "+restPath+"/statements/{id}", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.PathValue("id")
		f.decode(r)
		writeJSON(w, http.StatusOK, `"Statement deleted"`)
	})

	res, err := c.Apply(context.Background(), engine.Edit{
		BatchID: 1,
		Ops:     []models.Operation{models.RemoveStatementByID{StatementID: "Q1$abc"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Q1$abc", deleted)
	assert.Equal(t, "Q1", res.EntityID)
	assert.Equal(t, "[[:toollabs:wikibatch/batch/1|batch #1]]", f.lastBody["comment"])
}

func TestClientMerge(t *testing.T) {
	f, c := newFakeWikibase(t)
	var form url.Values
	f.handle("GET /w/api.php", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tokens", r.URL.Query().Get("meta"))
		writeJSON(w, http.StatusOK, `{"query":{"tokens":{"csrftoken":"tok+\\"}}}`)
	})
	f.handle("POST /w/api.php", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		writeJSON(w, http.StatusOK, `{"success":1}`)
	})

	res, err := c.Apply(context.Background(), engine.Edit{Ops: []models.Operation{models.MergeEntities{From: "Q2", To: "Q1"}}})
	require.NoError(t, err)
	assert.Equal(t, "Q1", res.EntityID)
	assert.Equal(t, "wbmergeitems", form.Get("action"))
	assert.Equal(t, "Q2", form.Get("fromid"))
	assert.Equal(t, "Q1", form.Get("toid"))
	assert.Equal(t, `tok+\`, form.Get("token"))
}

func TestClientMergeError(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.handle("GET /w/api.php", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"query":{"tokens":{"csrftoken":"tok"}}}`)
	})
	f.handle("POST /w/api.php", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"error":{"code":"failed-save","info":"conflicting sitelinks"}}`)
	})

	_, err := c.Apply(context.Background(), engine.Edit{Ops: []models.Operation{models.MergeEntities{From: "Q2", To: "Q1"}}})
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, engine.Permanent, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "conflicting sitelinks")
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   engine.ErrorKind
		code   models.ErrorCode
		msg    string
	}{
		{"server error", 503, "upstream down", engine.Transient, models.ErrCodeAPIServerError, "upstream down"},
		{"rate limited", 429, `{"code":"rate-limit","message":"slow down"}`, engine.Transient, models.ErrCodeAPIServerError, "slow down"},
		{"unauthorized", 401, `{"code":"unauthorized","message":"bad token"}`, engine.Permanent, models.ErrCodeUnauthorized, "bad token"},
		{"forbidden", 403, `{"code":"permission-denied","message":"blocked"}`, engine.Permanent, models.ErrCodeUnauthorized, "blocked"},
		{"sitelink", 400, `{"code":"invalid-path-parameter","message":"Invalid path parameter: 'site_id'"}`, engine.Permanent, models.ErrCodeSitelinkInvalid, "Invalid path parameter: 'site_id'"},
		{"sitelink context", 400, `{"code":"invalid-path-parameter","message":"bad","context":{"parameter":"site_id"}}`, engine.Permanent, models.ErrCodeSitelinkInvalid, "bad"},
		{"user error", 422, `{"code":"data-policy-violation","message":"label conflict"}`, engine.Permanent, models.ErrCodeAPIUserError, "label conflict"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := statusError(tt.status, []byte(tt.body))
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.msg, err.Message)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}
}

func TestClientServerErrorIsTransient(t *testing.T) {
	f, c := newFakeWikibase(t)
	f.handle("GET "+restPath+"/entities/items/Q1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadGateway, `{"code":"x","message":"bad gateway"}`)
	})

	_, err := c.Apply(context.Background(), engine.Edit{
		Subject: "Q1",
		Ops:     []models.Operation{models.SetLabel{Subject: "Q1", Language: "en", Text: "x"}},
	})
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, engine.Transient, apiErr.Kind)
}

func TestClientVerifyValueTypes(t *testing.T) {
	f, c := newFakeWikibase(t)
	c.cfg.VerifyValueTypes = true
	f.serveUniverse()
	f.handle("GET "+restPath+"/entities/properties/P31", func(w http.ResponseWriter, r *http.Request) {
		f.propHits.Add(1)
		writeJSON(w, http.StatusOK, `{"id":"P31","type":"property","data_type":"wikibase-item"}`)
	})
	f.handle("GET "+restPath+"/property-data-types", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"wikibase-item":{"value_type":"wikibase-entityid"},"string":{"value_type":"string"}}`)
	})

	edit := func(v models.Value) engine.Edit {
		return engine.Edit{Subject: "Q1", Ops: []models.Operation{
			models.AddStatement{Subject: "Q1", Statement: models.Statement{Property: "P31", Value: v}},
		}}
	}

	_, err := c.Apply(context.Background(), edit(models.StringValue{Text: "oops"}))
	var apiErr *engine.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, models.ErrCodeInvalidValueType, apiErr.Code)

	_, err = c.Apply(context.Background(), edit(models.EntityValue{ID: "Q6"}))
	require.NoError(t, err)
	_, err = c.Apply(context.Background(), edit(models.SomeValue{}))
	require.NoError(t, err)

	assert.Equal(t, int32(1), f.propHits.Load(), "property data type is cached")
}

func TestClientSummaryWithoutTool(t *testing.T) {
	c := New(Config{URL: "https://example.org"})
	assert.Equal(t, "fix", c.Summary(4, "fix"))
	assert.Equal(t, "https://example.org"+restPath, c.restURL)
	assert.Equal(t, "http://example.org/entity/Q11573", c.conv.unit("Q11573"))
}

func TestPool(t *testing.T) {
	p := NewPool("wikidata", map[string]Config{
		"wikidata": {URL: "https://www.wikidata.org"},
		"test":     {URL: "https://test.wikidata.org"},
	})

	assert.True(t, p.Has(""))
	assert.False(t, p.Has("commons"))
	assert.Equal(t, []string{"test", "wikidata"}, p.IDs())

	_, err := p.Adapter(&models.Batch{Wikibase: "commons"})
	assert.ErrorIs(t, err, ErrUnknownWikibase)

	a, err := p.Adapter(&models.Batch{Wikibase: "test"})
	require.NoError(t, err)
	assert.Equal(t, "https://test.wikidata.org"+restPath, a.(*Client).restURL)
}
