package parser

import (
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV(t *testing.T) {
	script := `qid,Len,P31,qal580,S854,s813,-P279,#
Q1,Foo,Q5,+2001-01-01T00:00:00Z/11,"""https://a.org""",+2020-01-01T00:00:00Z/11,,import
,Bar,Q5,,,,,
Q3,,,,,,Q6,
`
	cmds, err := Parse(script, models.SyntaxCSV)
	require.NoError(t, err)
	require.Len(t, cmds, 6)

	assert.Equal(t, models.SetLabel{Subject: "Q1", Language: "en", Text: "Foo"}, cmds[0].Op)
	assert.Equal(t, "import", cmds[0].Summary)

	assert.Equal(t, models.AddStatement{Subject: "Q1", Statement: models.Statement{
		Property:   "P31",
		Value:      models.EntityValue{ID: "Q5"},
		Qualifiers: []models.Snak{{Property: "P580", Value: models.TimeValue{Time: "+2001-01-01T00:00:00Z", Precision: 11, Calendar: CalendarGreg}}},
		References: []models.Reference{{Snaks: []models.Snak{
			{Property: "P854", Value: models.StringValue{Text: "https://a.org"}},
			{Property: "P813", Value: models.TimeValue{Time: "+2020-01-01T00:00:00Z", Precision: 11, Calendar: CalendarGreg}},
		}}},
	}}, cmds[1].Op)
	assert.Equal(t, "import", cmds[1].Summary)

	assert.Equal(t, models.CreateEntity{EntityType: models.EntityItem}, cmds[2].Op)
	assert.Equal(t, models.SetLabel{Subject: models.Last, Language: "en", Text: "Bar"}, cmds[3].Op)
	assert.Equal(t, models.Last, models.SubjectOf(cmds[4].Op))

	assert.Equal(t, models.RemoveStatement{Subject: "Q3", Statement: models.Statement{
		Property: "P279", Value: models.EntityValue{ID: "Q6"},
	}}, cmds[5].Op)

	for i, c := range cmds {
		assert.Equal(t, i, c.Index)
		assert.NotEmpty(t, c.Raw)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name   string
		script string
		line   int
	}{
		{"missing qid column", "id,P31\nQ1,Q5\n", 1},
		{"unknown column", "qid,X31\nQ1,Q5\n", 1},
		{"qualifier first", "qid,qal580,P31\nQ1,Q5,Q6\n", 1},
		{"bad value", "qid,P31\nQ1,Q5\nQ2,12abc\n", 3},
		{"bad subject", "qid,P31\nfoo,Q5\n", 2},
		{"qualifier without statement", "qid,P31,qal580\nQ1,,Q5\n", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := Parse(tt.script, models.SyntaxCSV)
			assert.Nil(t, cmds)
			var list ErrorList
			require.ErrorAs(t, err, &list)
			require.Len(t, list, 1)
			assert.Equal(t, tt.line, list[0].Line)
		})
	}
}
