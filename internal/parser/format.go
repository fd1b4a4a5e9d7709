package parser

import (
	"strconv"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// Format renders op as a canonical v1 line with TAB separators.
func Format(op models.Operation) string {
	return strings.Join(formatTokens(op), "\t")
}

// FormatCommand renders a command including its edit summary.
func FormatCommand(cmd models.Command) string {
	line := Format(cmd.Op)
	if cmd.Summary != "" {
		line += " /* " + cmd.Summary + " */"
	}
	return line
}

func formatTokens(op models.Operation) []string {
	switch o := op.(type) {
	case models.CreateEntity:
		if o.EntityType == models.EntityProperty {
			return []string{"CREATE_PROPERTY", o.Datatype}
		}
		return []string{"CREATE"}
	case models.AddStatement:
		return append([]string{string(o.Subject)}, formatStatement(o.Statement)...)
	case models.RemoveStatement:
		return append([]string{"-" + string(o.Subject)}, formatStatement(o.Statement)...)
	case models.RemoveStatementByID:
		return []string{"-STATEMENT", o.StatementID}
	case models.SetLabel:
		return []string{string(o.Subject), "L" + o.Language, quote(o.Text)}
	case models.SetDescription:
		return []string{string(o.Subject), "D" + o.Language, quote(o.Text)}
	case models.AddAlias:
		return []string{string(o.Subject), "A" + o.Language, quote(strings.Join(o.Aliases, "|"))}
	case models.RemoveLabel:
		return []string{"-" + string(o.Subject), "L" + o.Language, `""`}
	case models.RemoveDescription:
		return []string{"-" + string(o.Subject), "D" + o.Language, `""`}
	case models.RemoveAlias:
		return []string{"-" + string(o.Subject), "A" + o.Language, quote(strings.Join(o.Aliases, "|"))}
	case models.SetSitelink:
		return []string{string(o.Subject), "S" + o.Site, quote(o.Title)}
	case models.RemoveSitelink:
		return []string{"-" + string(o.Subject), "S" + o.Site, `""`}
	case models.MergeEntities:
		return []string{"MERGE", string(o.From), string(o.To)}
	}
	return nil
}

func formatStatement(st models.Statement) []string {
	toks := []string{st.Property, FormatValue(st.Value)}
	for _, q := range st.Qualifiers {
		toks = append(toks, q.Property, FormatValue(q.Value))
	}
	for i, ref := range st.References {
		for j, snak := range ref.Snaks {
			key := "S" + strings.TrimPrefix(snak.Property, "P")
			if i > 0 && j == 0 {
				key = "!" + key
			}
			toks = append(toks, key, FormatValue(snak.Value))
		}
	}
	if st.Rank != models.RankDefault {
		toks = append(toks, "R"+string(st.Rank))
	}
	return toks
}

// FormatValue renders a value as a v1 literal.
func FormatValue(v models.Value) string {
	switch val := v.(type) {
	case models.EntityValue:
		return string(val.ID)
	case models.StringValue:
		return quote(val.Text)
	case models.MonolingualValue:
		return val.Language + ":" + quote(val.Text)
	case models.TimeValue:
		s := val.Time + "/" + strconv.Itoa(val.Precision)
		switch {
		case val.Calendar == CalendarJulian:
			s += "/J"
		case val.Calendar != CalendarGreg && strings.HasPrefix(val.Calendar, conceptBase+"Q"):
			s += "/C" + strings.TrimPrefix(val.Calendar, conceptBase+"Q")
		}
		return s
	case models.CoordinateValue:
		s := "@" + strconv.FormatFloat(val.Latitude, 'f', -1, 64) + "/" + strconv.FormatFloat(val.Longitude, 'f', -1, 64)
		if val.Globe != GlobeEarth && strings.HasPrefix(val.Globe, conceptBase+"Q") {
			s += "/G" + strings.TrimPrefix(val.Globe, conceptBase+"Q")
		}
		if val.PrecisionToken != "" {
			s += "/" + val.PrecisionToken
		}
		return s
	case models.QuantityValue:
		s := val.Amount
		switch {
		case val.Tolerance != "":
			s += "~" + val.Tolerance
		case val.LowerBound != "" || val.UpperBound != "":
			s += "[" + val.LowerBound + "," + val.UpperBound + "]"
		}
		if val.Unit != "" && val.Unit != "1" {
			s += "U" + strings.TrimPrefix(val.Unit, "Q")
		}
		return s
	case models.SomeValue:
		return "somevalue"
	case models.NoValue:
		return "novalue"
	}
	return ""
}

func quote(s string) string { return `"` + s + `"` }
