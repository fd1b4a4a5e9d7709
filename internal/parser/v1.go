package parser

import (
	"regexp"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

var reSummary = regexp.MustCompile(`^(.*?)\s*/\*\s*(.*?)\s*\*/\s*$`)

// SplitV1 splits a v1 script into lines. Both newlines and "||" separate
// commands.
func SplitV1(script string) []string {
	script = strings.ReplaceAll(script, "\r\n", "\n")
	script = strings.ReplaceAll(script, "||", "\n")
	return strings.Split(script, "\n")
}

// splitSummary separates a trailing /* comment */ from the line.
func splitSummary(line string) (string, string) {
	if m := reSummary.FindStringSubmatch(line); m != nil {
		return m[1], m[2]
	}
	return line, ""
}

func tokenize(line string) []string {
	toks := strings.FieldsFunc(line, func(r rune) bool { return r == '\t' || r == '|' })
	out := toks[:0]
	for _, t := range toks {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// ParseV1Line parses one v1 line. It returns (nil, nil) for blank lines.
func ParseV1Line(line string) (*models.Command, error) {
	body, summary := splitSummary(strings.TrimSpace(line))
	toks := tokenize(body)
	if len(toks) == 0 {
		if summary != "" {
			return nil, errorf("comment without a command")
		}
		return nil, nil
	}

	op, err := parseV1Tokens(toks)
	if err != nil {
		return nil, err
	}
	return &models.Command{
		Op:      op,
		Raw:     strings.TrimSpace(line),
		Summary: summary,
		Status:  models.CommandInitial,
	}, nil
}

func parseV1Tokens(toks []string) (models.Operation, error) {
	head := toks[0]
	switch strings.ToUpper(head) {
	case "CREATE":
		if len(toks) != 1 {
			return nil, errorf("CREATE takes no arguments")
		}
		return models.CreateEntity{EntityType: models.EntityItem}, nil
	case "CREATE_PROPERTY":
		if len(toks) != 2 || !reDatatype.MatchString(toks[1]) {
			return nil, errorf("CREATE_PROPERTY needs exactly one datatype")
		}
		return models.CreateEntity{EntityType: models.EntityProperty, Datatype: toks[1]}, nil
	case "MERGE":
		return parseMerge(toks)
	case "-STATEMENT":
		if len(toks) != 2 || !reStatement.MatchString(toks[1]) {
			return nil, errorf("-STATEMENT needs exactly one statement id")
		}
		return models.RemoveStatementByID{StatementID: toks[1]}, nil
	}

	remove := strings.HasPrefix(head, "-")
	subject, err := parseSubject(strings.TrimPrefix(head, "-"))
	if err != nil {
		return nil, err
	}
	if len(toks) < 3 {
		return nil, errorf("expected subject, property and value")
	}

	key, val := toks[1], toks[2]
	if IsPropertyID(key) {
		st, err := parseStatement(key, val, toks[3:], remove)
		if err != nil {
			return nil, err
		}
		if remove {
			return models.RemoveStatement{Subject: subject, Statement: st}, nil
		}
		return models.AddStatement{Subject: subject, Statement: st}, nil
	}

	if len(toks) != 3 {
		return nil, errorf("unexpected tokens after %s value", key)
	}
	return parseTerm(subject, key, val, remove)
}

func parseMerge(toks []string) (models.Operation, error) {
	if len(toks) != 3 {
		return nil, errorf("MERGE needs two items")
	}
	for _, t := range toks[1:] {
		if !reItemID.MatchString(t) && t != string(models.Last) {
			return nil, errorf("MERGE needs item ids, got %q", t)
		}
	}
	if toks[1] == toks[2] {
		return nil, errorf("cannot merge %s into itself", toks[1])
	}
	return models.MergeEntities{From: models.EntityRef(toks[1]), To: models.EntityRef(toks[2])}, nil
}

// parseStatement decodes the main snak and the trailing qualifier,
// reference and rank tokens.
func parseStatement(prop, val string, rest []string, remove bool) (models.Statement, error) {
	value, err := ParseValue(val)
	if err != nil {
		return models.Statement{}, err
	}
	st := models.Statement{Property: prop, Value: value}

	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if rank, ok := parseRank(tok); ok {
			if remove {
				return models.Statement{}, errorf("rank is not allowed when removing a statement")
			}
			if st.Rank != models.RankDefault {
				return models.Statement{}, errorf("rank given twice")
			}
			st.Rank = rank
			continue
		}
		if i+1 >= len(rest) {
			return models.Statement{}, errorf("%s has no value", tok)
		}
		v, err := ParseValue(rest[i+1])
		if err != nil {
			return models.Statement{}, err
		}
		i++

		switch {
		case IsPropertyID(tok):
			st.Qualifiers = append(st.Qualifiers, models.Snak{Property: tok, Value: v})
		case reSourceID.MatchString(tok):
			snak := models.Snak{Property: "P" + reSourceID.FindStringSubmatch(tok)[1], Value: v}
			if strings.HasPrefix(tok, "!") || len(st.References) == 0 {
				st.References = append(st.References, models.Reference{})
			}
			last := &st.References[len(st.References)-1]
			last.Snaks = append(last.Snaks, snak)
		default:
			return models.Statement{}, errorf("expected qualifier, source or rank, got %q", tok)
		}
	}
	return st, nil
}

func parseTerm(subject models.EntityRef, key, val string, remove bool) (models.Operation, error) {
	text, err := parseQuoted(val)
	if err != nil {
		return nil, err
	}
	if !remove && text == "" {
		return nil, errorf("%s needs a non-empty value", key)
	}

	switch {
	case reLabel.MatchString(key):
		lang := reLabel.FindStringSubmatch(key)[1]
		if remove {
			return models.RemoveLabel{Subject: subject, Language: lang}, nil
		}
		return models.SetLabel{Subject: subject, Language: lang, Text: text}, nil
	case reDesc.MatchString(key):
		lang := reDesc.FindStringSubmatch(key)[1]
		if remove {
			return models.RemoveDescription{Subject: subject, Language: lang}, nil
		}
		return models.SetDescription{Subject: subject, Language: lang, Text: text}, nil
	case reAlias.MatchString(key):
		lang := reAlias.FindStringSubmatch(key)[1]
		if text == "" {
			return nil, errorf("%s needs a non-empty value", key)
		}
		if remove {
			return models.RemoveAlias{Subject: subject, Language: lang, Aliases: []string{text}}, nil
		}
		return models.AddAlias{Subject: subject, Language: lang, Aliases: []string{text}}, nil
	case reSitelink.MatchString(key):
		site := reSitelink.FindStringSubmatch(key)[1]
		if remove {
			return models.RemoveSitelink{Subject: subject, Site: site}, nil
		}
		return models.SetSitelink{Subject: subject, Site: site, Title: text}, nil
	}
	return nil, errorf("unknown operation %q", key)
}
