package parser

import (
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

var (
	reCSVQualifier = regexp.MustCompile(`^qal(\d+)$`)
	reCSVSource    = regexp.MustCompile(`^([Ss])(\d+)$`)
	reCSVProperty  = regexp.MustCompile(`^(-?)P(\d+)$`)
	reCSVTerm      = regexp.MustCompile(`^-?[LDA][a-z-]{2,}$|^-?S[a-z]{2,}$`)
)

type columnKind int

const (
	colSubject columnKind = iota
	colStatement
	colQualifier
	colSource    // S<n>: starts a new reference block
	colSourceAdd // s<n>: extends the current reference block
	colTerm
	colComment
)

type column struct {
	kind   columnKind
	header string
	prop   string // property for statement, qualifier and source columns
	remove bool
	owner  int // statement column a qualifier or source belongs to
}

// ParseCSV parses a tabular script. The first row is a header naming the
// columns; every later row expands into one command per filled operation
// cell. An empty qid cell creates a new item and targets LAST.
func ParseCSV(script string) ([]models.Command, error) {
	r := csv.NewReader(strings.NewReader(script))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, ErrorList{{Line: 1, Raw: firstLine(script), Reason: err.Error()}}
	}
	cols, err := parseHeader(header)
	if err != nil {
		return nil, ErrorList{{Line: 1, Raw: strings.Join(header, ","), Reason: err.Error()}}
	}

	var cmds []models.Command
	var errs ErrorList
	for row := 2; ; row++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		raw := strings.Join(rec, ",")
		if err != nil {
			errs = append(errs, &ParseError{Line: row, Raw: raw, Reason: err.Error()})
			continue
		}
		if blankRecord(rec) {
			continue
		}
		rowCmds, err := parseCSVRow(cols, rec)
		if err != nil {
			errs = append(errs, &ParseError{Line: row, Raw: raw, Reason: err.Error()})
			continue
		}
		cmds = append(cmds, rowCmds...)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return cmds, nil
}

func parseHeader(header []string) ([]column, error) {
	if len(header) == 0 || strings.TrimSpace(header[0]) != "qid" {
		return nil, errorf("first column must be qid")
	}
	cols := []column{{kind: colSubject, header: "qid"}}
	lastStatement := -1
	for i, h := range header[1:] {
		idx := i + 1
		h = strings.TrimSpace(h)
		switch {
		case h == "#":
			cols = append(cols, column{kind: colComment, header: h})
		case reCSVProperty.MatchString(h):
			m := reCSVProperty.FindStringSubmatch(h)
			cols = append(cols, column{kind: colStatement, header: h, prop: "P" + m[2], remove: m[1] == "-"})
			lastStatement = idx
		case reCSVQualifier.MatchString(h):
			if lastStatement < 0 {
				return nil, errorf("qualifier column %s has no statement column before it", h)
			}
			m := reCSVQualifier.FindStringSubmatch(h)
			cols = append(cols, column{kind: colQualifier, header: h, prop: "P" + m[1], owner: lastStatement})
		case reCSVSource.MatchString(h):
			if lastStatement < 0 {
				return nil, errorf("source column %s has no statement column before it", h)
			}
			m := reCSVSource.FindStringSubmatch(h)
			kind := colSource
			if m[1] == "s" {
				kind = colSourceAdd
			}
			cols = append(cols, column{kind: kind, header: h, prop: "P" + m[2], owner: lastStatement})
		case reCSVTerm.MatchString(h):
			cols = append(cols, column{kind: colTerm, header: h, remove: strings.HasPrefix(h, "-")})
			lastStatement = -1
		default:
			return nil, errorf("unknown column %q", h)
		}
	}
	return cols, nil
}

// rowItem is one command of a row in column order. Statement commands are
// completed after all qualifier and source cells have been read.
type rowItem struct {
	op  models.Operation
	col int
}

func parseCSVRow(cols []column, rec []string) ([]models.Command, error) {
	cell := func(i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var items []rowItem
	subject := models.EntityRef(cell(0))
	if subject == "" {
		items = append(items, rowItem{op: models.CreateEntity{EntityType: models.EntityItem}})
		subject = models.Last
	} else if _, err := parseSubject(string(subject)); err != nil {
		return nil, err
	}

	var summary string
	statements := map[int]*models.Statement{}
	for i, col := range cols {
		v := cell(i)
		if i == 0 || v == "" {
			continue
		}
		switch col.kind {
		case colComment:
			summary = v
		case colStatement:
			value, err := ParseValue(v)
			if err != nil {
				return nil, err
			}
			statements[i] = &models.Statement{Property: col.prop, Value: value}
			items = append(items, rowItem{col: i})
		case colQualifier, colSource, colSourceAdd:
			st, ok := statements[col.owner]
			if !ok {
				return nil, errorf("column %s is set but its statement cell is empty", col.header)
			}
			value, err := ParseValue(v)
			if err != nil {
				return nil, err
			}
			snak := models.Snak{Property: col.prop, Value: value}
			if col.kind == colQualifier {
				st.Qualifiers = append(st.Qualifiers, snak)
				continue
			}
			if col.kind == colSource || len(st.References) == 0 {
				st.References = append(st.References, models.Reference{})
			}
			ref := &st.References[len(st.References)-1]
			ref.Snaks = append(ref.Snaks, snak)
		case colTerm:
			key := strings.TrimPrefix(col.header, "-")
			op, err := parseTerm(subject, key, `"`+v+`"`, col.remove)
			if err != nil {
				return nil, err
			}
			items = append(items, rowItem{op: op})
		}
	}

	cmds := make([]models.Command, 0, len(items))
	for _, it := range items {
		op := it.op
		if op == nil {
			st := *statements[it.col]
			if cols[it.col].remove {
				op = models.RemoveStatement{Subject: subject, Statement: st}
			} else {
				op = models.AddStatement{Subject: subject, Statement: st}
			}
		}
		cmds = append(cmds, models.Command{
			Op:      op,
			Raw:     Format(op),
			Summary: summary,
			Status:  models.CommandInitial,
		})
	}
	return cmds, nil
}

func blankRecord(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
