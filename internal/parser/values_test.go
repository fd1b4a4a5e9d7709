package parser

import (
	"testing"

	"github.com/raphaelgruber/wikibatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want models.Value
	}{
		{"somevalue", "somevalue", models.SomeValue{}},
		{"novalue", "novalue", models.NoValue{}},
		{"item", "Q42", models.EntityValue{ID: "Q42"}},
		{"last", "LAST", models.EntityValue{ID: models.Last}},
		{"form", "L1-F2", models.EntityValue{ID: "L1-F2"}},
		{"url", `"""https://example.org/a"""`, models.StringValue{Text: "https://example.org/a"}},
		{"media", `"""Photo 1.jpg"""`, models.StringValue{Text: "Photo 1.jpg"}},
		{"external id", `"""X123"""`, models.StringValue{Text: "X123"}},
		{"monolingual", `en:"Hello world"`, models.MonolingualValue{Language: "en", Text: "Hello world"}},
		{"string trimmed", `"  spaced  "`, models.StringValue{Text: "spaced"}},
		{"curly quotes", "“curly”", models.StringValue{Text: "curly"}},
		{"time", "+1967-01-17T00:00:00Z/11", models.TimeValue{Time: "+1967-01-17T00:00:00Z", Precision: 11, Calendar: CalendarGreg}},
		{"time default precision", "1967-01-17T00:00:00Z", models.TimeValue{Time: "+1967-01-17T00:00:00Z", Precision: 9, Calendar: CalendarGreg}},
		{"time julian", "+1967-01-17T00:00:00Z/11/J", models.TimeValue{Time: "+1967-01-17T00:00:00Z", Precision: 11, Calendar: CalendarJulian}},
		{"time custom calendar", "+2968-09-22T00:00:00Z/11/C999999", models.TimeValue{Time: "+2968-09-22T00:00:00Z", Precision: 11, Calendar: "http://www.wikidata.org/entity/Q999999"}},
		{"coordinate", "@43.26193/10.92708", models.CoordinateValue{Latitude: 43.26193, Longitude: 10.92708, Precision: 0.000001, Globe: GlobeEarth}},
		{"coordinate globe and precision", "@43.26193/10.92708/G123456/-5", models.CoordinateValue{Latitude: 43.26193, Longitude: 10.92708, Precision: 0.00001, PrecisionToken: "-5", Globe: "http://www.wikidata.org/entity/Q123456"}},
		{"coordinate arcmin", "@-1.5/2/arcmin", models.CoordinateValue{Latitude: -1.5, Longitude: 2, Precision: 0.016666666666667, PrecisionToken: "arcmin", Globe: GlobeEarth}},
		{"quantity", "10", models.QuantityValue{Amount: "+10", Unit: "1"}},
		{"quantity unit", "10U11573", models.QuantityValue{Amount: "+10", Unit: "Q11573"}},
		{"quantity negative", "-0.5", models.QuantityValue{Amount: "-0.5", Unit: "1"}},
		{"quantity bounds", "5[4,6]U11573", models.QuantityValue{Amount: "+5", LowerBound: "+4", UpperBound: "+6", Unit: "Q11573"}},
		{"quantity tolerance", "1.2~0.3", models.QuantityValue{Amount: "+1.2", LowerBound: "+0.9", UpperBound: "+1.5", Tolerance: "0.3", Unit: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseValueErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"empty", "   "},
		{"bare word", "hello"},
		{"date without time", "+1967-13-01"},
		{"precision too high", "+1967-01-17T00:00:00Z/15"},
		{"latitude out of range", "@91/10"},
		{"malformed coordinate", "@abc"},
		{"bounds exclude amount", "5[6,7]"},
		{"trailing garbage", "12abc"},
		{"lowercase item", "q42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseValue(tt.in)
			assert.Error(t, err)
			assert.Nil(t, v)
		})
	}
}
