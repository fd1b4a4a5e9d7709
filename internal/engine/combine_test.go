package engine

import (
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/raphaelgruber/wikibatch/internal/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unitIndices(units []Unit) [][]int {
	out := make([][]int, len(units))
	for i, u := range units {
		for _, c := range u.Commands {
			out[i] = append(out[i], c.Index)
		}
	}
	return out
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		combine bool
		want    [][]int
	}{
		{"off", "Q1|Len|\"a\"\nQ1|Den|\"b\"", false, [][]int{{0}, {1}}},
		{"same subject", "Q1|Len|\"a\"\nQ1|Den|\"b\"\nQ1|Aen|\"c\"\nQ1|Senwiki|\"d\"\nQ1|P31|Q5", true, [][]int{{0, 1, 2, 3, 4}}},
		{"subject change", "Q1|Len|\"a\"\nQ2|Len|\"b\"\nQ2|P31|Q5", true, [][]int{{0}, {1, 2}}},
		{"removal splits", "Q1|Len|\"a\"\n-Q1|P31|Q5\nQ1|Den|\"b\"", true, [][]int{{0}, {1}, {2}}},
		{"removals never combine", "-Q1|P31|Q5\n-Q1|P31|Q6", true, [][]int{{0}, {1}}},
		{"create heads unit", "Q1|Len|\"a\"\nCREATE\nLAST|Len|\"b\"\nLAST|P31|Q5\nCREATE\nLAST|Len|\"c\"", true, [][]int{{0}, {1, 2, 3}, {4, 5}}},
		{"self reference splits", "CREATE\nLAST|Len|\"b\"\nLAST|P361|LAST", true, [][]int{{0, 1}, {2}}},
		{"merge splits", "Q1|Len|\"a\"\nMERGE|Q1|Q2\nQ1|Den|\"b\"", true, [][]int{{0}, {1}, {2}}},
		{"last without create", "LAST|Len|\"a\"\nLAST|Den|\"b\"", true, [][]int{{0, 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds, err := parser.Parse(tt.script, models.SyntaxV1)
			require.NoError(t, err)

			units := Plan(cmds, tt.combine)
			assert.Equal(t, tt.want, unitIndices(units))

			calls := 0
			for _, u := range units {
				calls += len(u.Commands)
			}
			assert.Equal(t, len(cmds), calls)
			if !tt.combine {
				assert.Len(t, units, len(cmds))
			}
		})
	}
}

func TestPlanSkipsTerminalCommands(t *testing.T) {
	cmds, err := parser.Parse("Q1|Len|\"a\"\nQ1|Den|\"b\"\nQ1|Aen|\"c\"", models.SyntaxV1)
	require.NoError(t, err)
	cmds[1].Status = models.CommandDone

	// A finished command in the middle is never regrouped around.
	units := Plan(cmds, true)
	assert.Equal(t, [][]int{{0}, {2}}, unitIndices(units))
}

func TestUnitSummary(t *testing.T) {
	u := Unit{Commands: []models.Command{{Summary: "first"}, {}, {Summary: "second"}}}
	assert.Equal(t, "first | second", u.Summary())
	assert.False(t, Unit{}.Creates())
}
