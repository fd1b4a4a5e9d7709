package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandJSONKeepsOperation(t *testing.T) {
	cmd := Command{
		BatchID: 7,
		Index:   2,
		Raw:     "Q1\tP31\tQ5\tP580\t+2001-01-01T00:00:00Z/11\tS854\t\"\"\"https://example.org\"\"\"",
		Status:  CommandInitial,
		Op: AddStatement{
			Subject: "Q1",
			Statement: Statement{
				Property: "P31",
				Value:    EntityValue{ID: "Q5"},
				Qualifiers: []Snak{
					{Property: "P580", Value: TimeValue{Time: "+2001-01-01T00:00:00Z", Precision: 11, Calendar: "http://www.wikidata.org/entity/Q1985727"}},
				},
				References: []Reference{
					{Snaks: []Snak{{Property: "P854", Value: StringValue{Text: "https://example.org"}}}},
				},
				Rank: RankPreferred,
			},
		},
	}

	b, err := json.Marshal(cmd)
	require.NoError(t, err)

	var got Command
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, cmd, got)
	assert.Equal(t, OpAddStatement, got.Kind())
}

func TestUnmarshalOperationUnknownKind(t *testing.T) {
	_, err := UnmarshalOperation([]byte(`{"kind":"teleport","data":{}}`))
	assert.Error(t, err)

	_, err = UnmarshalValue([]byte(`{"kind":"color","data":{}}`))
	assert.Error(t, err)
}

func TestSubjectOf(t *testing.T) {
	assert.Equal(t, EntityRef("Q5"), SubjectOf(RemoveStatementByID{StatementID: "q5$3F2A-11"}))
	assert.Equal(t, Last, SubjectOf(SetLabel{Subject: Last, Language: "en", Text: "x"}))
	assert.Equal(t, EntityRef("Q1"), SubjectOf(MergeEntities{From: "Q1", To: "Q2"}))
	assert.Equal(t, EntityRef(""), SubjectOf(CreateEntity{EntityType: EntityItem}))
}

func TestIsAdditive(t *testing.T) {
	assert.True(t, IsAdditive(AddStatement{}))
	assert.True(t, IsAdditive(SetSitelink{}))
	assert.False(t, IsAdditive(RemoveStatement{}))
	assert.False(t, IsAdditive(CreateEntity{}))
	assert.False(t, IsAdditive(MergeEntities{}))
}
