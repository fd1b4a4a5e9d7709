package engine

import (
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolverUnbound(t *testing.T) {
	r := NewResolver()

	_, err := r.Resolve(models.SetLabel{Subject: models.Last, Language: "en", Text: "x"})
	assert.ErrorIs(t, err, ErrUnresolvedLast)

	// Concrete references need no binding.
	op := models.AddStatement{Subject: "Q1", Statement: models.Statement{Property: "P31", Value: models.EntityValue{ID: "Q5"}}}
	got, err := r.Resolve(op)
	require.NoError(t, err)
	assert.Equal(t, op, got)

	r.Register("")
	assert.Equal(t, models.EntityRef(""), r.Last())
}

func TestResolverSubstitutesEverywhere(t *testing.T) {
	r := NewResolver()
	r.Register("Q7")
	r.Register("Q8")

	lastItem := models.EntityValue{ID: models.Last}
	op := models.AddStatement{Subject: models.Last, Statement: models.Statement{
		Property:   "P361",
		Value:      lastItem,
		Qualifiers: []models.Snak{{Property: "P642", Value: lastItem}},
		References: []models.Reference{{Snaks: []models.Snak{
			{Property: "P248", Value: lastItem},
			{Property: "P854", Value: models.StringValue{Text: "LAST"}},
		}}},
	}}

	got, err := r.Resolve(op)
	require.NoError(t, err)

	q8 := models.EntityValue{ID: "Q8"}
	assert.Equal(t, models.AddStatement{Subject: "Q8", Statement: models.Statement{
		Property:   "P361",
		Value:      q8,
		Qualifiers: []models.Snak{{Property: "P642", Value: q8}},
		References: []models.Reference{{Snaks: []models.Snak{
			{Property: "P248", Value: q8},
			{Property: "P854", Value: models.StringValue{Text: "LAST"}},
		}}},
	}}, got)

	// The input is left untouched.
	assert.Equal(t, lastItem, op.Statement.Qualifiers[0].Value)
}

func TestResolverOperations(t *testing.T) {
	r := NewResolver()
	r.Register("Q9")

	tests := []struct {
		name string
		op   models.Operation
		want models.Operation
	}{
		{"merge", models.MergeEntities{From: models.Last, To: "Q1"}, models.MergeEntities{From: "Q9", To: "Q1"}},
		{"sitelink", models.SetSitelink{Subject: models.Last, Site: "enwiki", Title: "X"}, models.SetSitelink{Subject: "Q9", Site: "enwiki", Title: "X"}},
		{"remove alias", models.RemoveAlias{Subject: models.Last, Language: "en", Aliases: []string{"a"}}, models.RemoveAlias{Subject: "Q9", Language: "en", Aliases: []string{"a"}}},
		{"create", models.CreateEntity{EntityType: models.EntityItem}, models.CreateEntity{EntityType: models.EntityItem}},
		{"by id", models.RemoveStatementByID{StatementID: "Q1$abc"}, models.RemoveStatementByID{StatementID: "Q1$abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.op)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
