package wikibase

import (
	"encoding/json"
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const universeJSON = `{
  "id": "Q1", "type": "item",
  "labels": {"en": "Universe"},
  "descriptions": {},
  "aliases": {"en": ["cosmos", "everything"]},
  "statements": {
    "P31": [{
      "id": "Q1$a", "rank": "normal",
      "property": {"id": "P31", "data_type": "wikibase-item"},
      "value": {"type": "value", "content": "Q5"},
      "qualifiers": [{
        "property": {"id": "P580", "data_type": "time"},
        "value": {"type": "value", "content": {"time": "+2001-01-01T00:00:00Z", "precision": 11, "calendarmodel": "http://www.wikidata.org/entity/Q1985727"}}
      }],
      "references": [{"hash": "abc", "parts": [
        {"property": {"id": "P854", "data_type": "url"}, "value": {"type": "value", "content": "https://example.org"}}
      ]}]
    }]
  },
  "sitelinks": {"enwiki": {"title": "Universe", "badges": []}}
}`

func universe(t *testing.T) *entityDoc {
	t.Helper()
	var doc entityDoc
	require.NoError(t, json.Unmarshal([]byte(universeJSON), &doc))
	doc.init()
	return &doc
}

var testConv = converter{conceptBase: "http://www.wikidata.org/entity/"}

var startTime = models.TimeValue{Time: "+2001-01-01T00:00:00Z", Precision: 11, Calendar: "http://www.wikidata.org/entity/Q1985727"}

func paths(ops []patchOp) []string {
	out := make([]string, len(ops))
	for i, op := range ops {
		out[i] = op.Op + " " + op.Path
	}
	return out
}

func TestEditorPatches(t *testing.T) {
	q5 := models.EntityValue{ID: "Q5"}
	tests := []struct {
		name string
		ops  []models.Operation
		want []string
	}{
		{
			name: "new property",
			ops:  []models.Operation{models.AddStatement{Statement: models.Statement{Property: "P18", Value: models.StringValue{Text: "a.jpg"}}}},
			want: []string{"add /statements/P18"},
		},
		{
			name: "appends to existing property",
			ops:  []models.Operation{models.AddStatement{Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}}},
			want: []string{"add /statements/P31/-"},
		},
		{
			name: "extends statement with same value",
			ops: []models.Operation{models.AddStatement{Statement: models.Statement{
				Property:   "P31",
				Value:      q5,
				Qualifiers: []models.Snak{{Property: "P580", Value: startTime}, {Property: "P582", Value: startTime}},
				References: []models.Reference{{Snaks: []models.Snak{{Property: "P248", Value: models.EntityValue{ID: "Q7"}}}}},
				Rank:       models.RankPreferred,
			}}},
			want: []string{
				"add /statements/P31/0/qualifiers/-",
				"add /statements/P31/0/references/-",
				"replace /statements/P31/0/rank",
			},
		},
		{
			name: "remove statement",
			ops:  []models.Operation{models.RemoveStatement{Statement: models.Statement{Property: "P31", Value: q5}}},
			want: []string{"remove /statements/P31/0"},
		},
		{
			name: "remove qualifier only",
			ops: []models.Operation{models.RemoveStatement{Statement: models.Statement{
				Property: "P31", Value: q5, Qualifiers: []models.Snak{{Property: "P580", Value: startTime}},
			}}},
			want: []string{"remove /statements/P31/0/qualifiers/0"},
		},
		{
			name: "remove reference part",
			ops: []models.Operation{models.RemoveStatement{Statement: models.Statement{
				Property: "P31", Value: q5,
				References: []models.Reference{{Snaks: []models.Snak{{Property: "P854", Value: models.StringValue{Text: "https://example.org"}}}}},
			}}},
			want: []string{"remove /statements/P31/0/references/0/parts/0"},
		},
		{
			name: "terms",
			ops: []models.Operation{
				models.SetLabel{Language: "de", Text: "Weltall"},
				models.SetDescription{Language: "en", Text: "everything"},
				models.RemoveLabel{Language: "en"},
				models.RemoveLabel{Language: "fr"},
				models.RemoveDescription{Language: "fr"},
			},
			want: []string{"add /labels/de", "add /descriptions/en", "remove /labels/en"},
		},
		{
			name: "aliases",
			ops: []models.Operation{
				models.AddAlias{Language: "en", Aliases: []string{"cosmos", "all", "all"}},
				models.AddAlias{Language: "de", Aliases: []string{"Kosmos"}},
				models.RemoveAlias{Language: "en", Aliases: []string{"everything"}},
				models.RemoveAlias{Language: "de", Aliases: []string{"Kosmos"}},
			},
			want: []string{"add /aliases/en/-", "add /aliases/de", "replace /aliases/en", "remove /aliases/de"},
		},
		{
			name: "sitelinks",
			ops: []models.Operation{
				models.SetSitelink{Site: "enwiki", Title: "The Universe"},
				models.SetSitelink{Site: "dewiki", Title: "Universum"},
				models.RemoveSitelink{Site: "frwiki"},
				models.RemoveSitelink{Site: "dewiki"},
			},
			want: []string{"replace /sitelinks/enwiki/title", "add /sitelinks/dewiki", "remove /sitelinks/dewiki"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed := &editor{doc: universe(t), conv: testConv}
			for _, op := range tt.ops {
				require.Nil(t, ed.apply(op))
			}
			assert.Equal(t, tt.want, paths(ed.patch))
		})
	}
}

func TestEditorRemovalFailures(t *testing.T) {
	tests := []struct {
		name string
		st   models.Statement
		code models.ErrorCode
	}{
		{"no property", models.Statement{Property: "P999", Value: models.NoValue{}}, models.ErrCodeNoStatementsProp},
		{"no value", models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}, models.ErrCodeNoStatementsValue},
		{"no qualifier", models.Statement{
			Property: "P31", Value: models.EntityValue{ID: "Q5"},
			Qualifiers: []models.Snak{{Property: "P582", Value: startTime}},
		}, models.ErrCodeNoQualifiers},
		{"no reference part", models.Statement{
			Property: "P31", Value: models.EntityValue{ID: "Q5"},
			References: []models.Reference{{Snaks: []models.Snak{{Property: "P854", Value: models.StringValue{Text: "https://other.org"}}}}},
		}, models.ErrCodeNoReferenceParts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed := &editor{doc: universe(t), conv: testConv}
			err := ed.apply(models.RemoveStatement{Statement: tt.st})
			require.NotNil(t, err)
			assert.Equal(t, tt.code, err.Code)
			assert.Empty(t, ed.patch)
		})
	}
}

func TestEditorSequentialPaths(t *testing.T) {
	ed := &editor{doc: universe(t), conv: testConv}

	// The second removal sees the array after the first one.
	require.Nil(t, ed.apply(models.AddStatement{Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}}))
	require.Nil(t, ed.apply(models.RemoveStatement{Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q5"}}}))
	require.Nil(t, ed.apply(models.RemoveStatement{Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q6"}}}))

	assert.Equal(t, []string{"add /statements/P31/-", "remove /statements/P31/0", "remove /statements/P31/0"}, paths(ed.patch))
	assert.Empty(t, ed.doc.Statements["P31"])
}

func TestConverterValues(t *testing.T) {
	tests := []struct {
		name  string
		value models.Value
		want  string
	}{
		{"item", models.EntityValue{ID: "Q5"}, `{"type":"value","content":"Q5"}`},
		{"somevalue", models.SomeValue{}, `{"type":"somevalue"}`},
		{"novalue", models.NoValue{}, `{"type":"novalue"}`},
		{"monolingual", models.MonolingualValue{Language: "en", Text: "hi"}, `{"type":"value","content":{"language":"en","text":"hi"}}`},
		{"unitless quantity", models.QuantityValue{Amount: "+10", Unit: "1"}, `{"type":"value","content":{"amount":"+10","unit":"1"}}`},
		{"quantity with unit", models.QuantityValue{Amount: "+10", Unit: "Q11573"}, `{"type":"value","content":{"amount":"+10","unit":"http://www.wikidata.org/entity/Q11573"}}`},
		{"quantity bounds", models.QuantityValue{Amount: "+10", LowerBound: "+9", UpperBound: "+11", Unit: "1"}, `{"type":"value","content":{"amount":"+10","lowerBound":"+9","unit":"1","upperBound":"+11"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(testConv.value(tt.value))
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestPointerEscaping(t *testing.T) {
	assert.Equal(t, "/sitelinks/a~1b~0c", pointer("sitelinks", "a/b~c"))
}

func TestNewEntityDoc(t *testing.T) {
	item := newEntityDoc(models.EntityItem)
	assert.NotNil(t, item.Sitelinks)

	prop := newEntityDoc(models.EntityProperty)
	assert.Nil(t, prop.Sitelinks)
	ed := &editor{doc: prop, conv: testConv}
	err := ed.apply(models.SetSitelink{Site: "enwiki", Title: "x"})
	require.NotNil(t, err)
	assert.Equal(t, models.ErrCodeNotImplemented, err.Code)
}
