package wikibase

import (
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/engine"
	"github.com/raphaelgruber/wikibatch/internal/models"
)

// entityDoc is the REST API's entity document, reduced to what edits touch.
type entityDoc struct {
	ID           string                 `json:"id,omitempty"`
	Type         string                 `json:"type,omitempty"`
	DataType     string                 `json:"data_type,omitempty"`
	Labels       map[string]string      `json:"labels"`
	Descriptions map[string]string      `json:"descriptions"`
	Aliases      map[string][]string    `json:"aliases"`
	Statements   map[string][]statement `json:"statements"`
	Sitelinks    map[string]sitelink    `json:"sitelinks,omitempty"`
}

func newEntityDoc(entityType string) *entityDoc {
	d := &entityDoc{Type: entityType}
	d.init()
	return d
}

func (d *entityDoc) init() {
	if d.Labels == nil {
		d.Labels = map[string]string{}
	}
	if d.Descriptions == nil {
		d.Descriptions = map[string]string{}
	}
	if d.Aliases == nil {
		d.Aliases = map[string][]string{}
	}
	if d.Statements == nil {
		d.Statements = map[string][]statement{}
	}
	if d.Sitelinks == nil && d.Type != models.EntityProperty {
		d.Sitelinks = map[string]sitelink{}
	}
}

type sitelink struct {
	Title  string   `json:"title"`
	Badges []string `json:"badges,omitempty"`
}

type propertyRef struct {
	ID       string `json:"id"`
	DataType string `json:"data_type,omitempty"`
}

type apiValue struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

type snak struct {
	Property propertyRef `json:"property"`
	Value    apiValue    `json:"value"`
}

type reference struct {
	Hash  string `json:"hash,omitempty"`
	Parts []snak `json:"parts"`
}

type statement struct {
	ID         string      `json:"id,omitempty"`
	Rank       string      `json:"rank,omitempty"`
	Property   propertyRef `json:"property"`
	Value      apiValue    `json:"value"`
	Qualifiers []snak      `json:"qualifiers,omitempty"`
	References []reference `json:"references,omitempty"`
}

// patchOp is one RFC 6902 operation.
type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// pointer builds a JSON pointer from raw path segments.
func pointer(segments ...string) string {
	var b strings.Builder
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(pointerEscaper.Replace(s))
	}
	return b.String()
}

// opError is a failure of one op that does not abort the rest of the edit.
func opError(code models.ErrorCode, format string, args ...any) *engine.APIError {
	return engine.NewPermanentError(code, 0, fmt.Sprintf(format, args...))
}

// converter turns parsed values into REST API values.
type converter struct {
	// conceptBase prefixes bare unit ids, e.g. "http://www.wikidata.org/entity/".
	conceptBase string
}

func (c converter) value(v models.Value) apiValue {
	switch val := v.(type) {
	case models.SomeValue:
		return apiValue{Type: "somevalue"}
	case models.NoValue:
		return apiValue{Type: "novalue"}
	case models.EntityValue:
		return apiValue{Type: "value", Content: string(val.ID)}
	case models.StringValue:
		return apiValue{Type: "value", Content: val.Text}
	case models.MonolingualValue:
		return apiValue{Type: "value", Content: map[string]any{"language": val.Language, "text": val.Text}}
	case models.TimeValue:
		return apiValue{Type: "value", Content: map[string]any{
			"time":          val.Time,
			"precision":     float64(val.Precision),
			"calendarmodel": val.Calendar,
		}}
	case models.CoordinateValue:
		return apiValue{Type: "value", Content: map[string]any{
			"latitude":  val.Latitude,
			"longitude": val.Longitude,
			"precision": val.Precision,
			"globe":     val.Globe,
		}}
	case models.QuantityValue:
		content := map[string]any{"amount": val.Amount, "unit": c.unit(val.Unit)}
		if val.LowerBound != "" {
			content["lowerBound"] = val.LowerBound
			content["upperBound"] = val.UpperBound
		}
		return apiValue{Type: "value", Content: content}
	}
	return apiValue{Type: "novalue"}
}

func (c converter) unit(u string) string {
	switch {
	case u == "":
		return "1"
	case u == "1", strings.Contains(u, "://"):
		return u
	}
	return c.conceptBase + u
}

func (c converter) snaks(in []models.Snak) []snak {
	out := make([]snak, len(in))
	for i, s := range in {
		out[i] = snak{Property: propertyRef{ID: s.Property}, Value: c.value(s.Value)}
	}
	return out
}

func (c converter) references(in []models.Reference) []reference {
	out := make([]reference, len(in))
	for i, r := range in {
		out[i] = reference{Parts: c.snaks(r.Snaks)}
	}
	return out
}

// matches reports whether got (from the server) carries want (built here).
// Keys absent from want are ignored so server-side extras do not matter.
func matches(got, want any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return false
		}
		for k, wv := range w {
			if !matches(g[k], wv) {
				return false
			}
		}
		return true
	case float64:
		switch g := got.(type) {
		case float64:
			return g == w
		case json.Number:
			f, err := g.Float64()
			return err == nil && f == w
		}
		return false
	}
	return reflect.DeepEqual(got, want)
}

func valueMatches(got, want apiValue) bool {
	return got.Type == want.Type && matches(got.Content, want.Content)
}

func snakMatches(got, want snak) bool {
	return got.Property.ID == want.Property.ID && valueMatches(got.Value, want.Value)
}

// editor applies operations to an entity document and records the
// equivalent JSON Patch, computed against the document as it evolves.
type editor struct {
	doc   *entityDoc
	conv  converter
	patch []patchOp
}

func (e *editor) emit(op, path string, value any) {
	e.patch = append(e.patch, patchOp{Op: op, Path: path, Value: value})
}

// apply edits the document for op. A returned error affects only op.
func (e *editor) apply(op models.Operation) *engine.APIError {
	d := e.doc
	switch o := op.(type) {
	case models.AddStatement:
		return e.addStatement(o.Statement)
	case models.RemoveStatement:
		return e.removeStatement(o.Statement)
	case models.SetLabel:
		d.Labels[o.Language] = o.Text
		e.emit("add", pointer("labels", o.Language), o.Text)
	case models.SetDescription:
		d.Descriptions[o.Language] = o.Text
		e.emit("add", pointer("descriptions", o.Language), o.Text)
	case models.RemoveLabel:
		if _, ok := d.Labels[o.Language]; ok {
			delete(d.Labels, o.Language)
			e.emit("remove", pointer("labels", o.Language), nil)
		}
	case models.RemoveDescription:
		if _, ok := d.Descriptions[o.Language]; ok {
			delete(d.Descriptions, o.Language)
			e.emit("remove", pointer("descriptions", o.Language), nil)
		}
	case models.AddAlias:
		current, exists := d.Aliases[o.Language]
		var added []string
		for _, a := range o.Aliases {
			if !slices.Contains(current, a) && !slices.Contains(added, a) {
				added = append(added, a)
			}
		}
		if len(added) == 0 {
			return nil
		}
		d.Aliases[o.Language] = append(current, added...)
		if !exists {
			e.emit("add", pointer("aliases", o.Language), added)
			return nil
		}
		for _, a := range added {
			e.emit("add", pointer("aliases", o.Language, "-"), a)
		}
	case models.RemoveAlias:
		current, exists := d.Aliases[o.Language]
		if !exists {
			return nil
		}
		kept := slices.DeleteFunc(slices.Clone(current), func(a string) bool { return slices.Contains(o.Aliases, a) })
		switch {
		case len(kept) == len(current):
		case len(kept) == 0:
			// A language cannot be left with zero aliases.
			delete(d.Aliases, o.Language)
			e.emit("remove", pointer("aliases", o.Language), nil)
		default:
			d.Aliases[o.Language] = kept
			e.emit("replace", pointer("aliases", o.Language), kept)
		}
	case models.SetSitelink:
		if d.Sitelinks == nil {
			return opError(models.ErrCodeNotImplemented, "%s entities have no sitelinks", d.Type)
		}
		if cur, ok := d.Sitelinks[o.Site]; ok {
			cur.Title = o.Title
			d.Sitelinks[o.Site] = cur
			e.emit("replace", pointer("sitelinks", o.Site, "title"), o.Title)
			return nil
		}
		d.Sitelinks[o.Site] = sitelink{Title: o.Title}
		e.emit("add", pointer("sitelinks", o.Site), sitelink{Title: o.Title})
	case models.RemoveSitelink:
		if _, ok := d.Sitelinks[o.Site]; ok {
			delete(d.Sitelinks, o.Site)
			e.emit("remove", pointer("sitelinks", o.Site), nil)
		}
	default:
		return opError(models.ErrCodeNotImplemented, "%s cannot be applied to an entity document", op.Kind())
	}
	return nil
}

// addStatement extends an existing statement with the same value, or adds
// a new one.
func (e *editor) addStatement(in models.Statement) *engine.APIError {
	prop := in.Property
	want := e.conv.value(in.Value)
	quals := e.conv.snaks(in.Qualifiers)
	refs := e.conv.references(in.References)

	statements, exists := e.doc.Statements[prop]
	for i := range statements {
		st := &statements[i]
		if !valueMatches(st.Value, want) {
			continue
		}
		idx := strconv.Itoa(i)
		for _, q := range quals {
			if slices.ContainsFunc(st.Qualifiers, func(have snak) bool { return snakMatches(have, q) }) {
				continue
			}
			if st.Qualifiers == nil {
				st.Qualifiers = []snak{q}
				e.emit("add", pointer("statements", prop, idx, "qualifiers"), []snak{q})
				continue
			}
			st.Qualifiers = append(st.Qualifiers, q)
			e.emit("add", pointer("statements", prop, idx, "qualifiers", "-"), q)
		}
		for _, r := range refs {
			if st.References == nil {
				st.References = []reference{r}
				e.emit("add", pointer("statements", prop, idx, "references"), []reference{r})
				continue
			}
			st.References = append(st.References, r)
			e.emit("add", pointer("statements", prop, idx, "references", "-"), r)
		}
		if in.Rank != models.RankDefault && st.Rank != string(in.Rank) {
			st.Rank = string(in.Rank)
			e.emit("replace", pointer("statements", prop, idx, "rank"), st.Rank)
		}
		return nil
	}

	st := statement{
		Rank:       string(in.Rank),
		Property:   propertyRef{ID: prop},
		Value:      want,
		Qualifiers: quals,
		References: refs,
	}
	if len(quals) == 0 {
		st.Qualifiers = nil
	}
	if len(refs) == 0 {
		st.References = nil
	}
	e.doc.Statements[prop] = append(statements, st)
	if exists {
		e.emit("add", pointer("statements", prop, "-"), st)
	} else {
		e.emit("add", pointer("statements", prop), []statement{st})
	}
	return nil
}

// removeStatement removes the statement with the given value, or only the
// listed qualifiers and reference parts when any are given.
func (e *editor) removeStatement(in models.Statement) *engine.APIError {
	prop := in.Property
	subject := e.doc.ID
	statements := e.doc.Statements[prop]
	if len(statements) == 0 {
		return opError(models.ErrCodeNoStatementsProp, "%s has no statements for property %s", subject, prop)
	}

	want := e.conv.value(in.Value)
	i := slices.IndexFunc(statements, func(st statement) bool { return valueMatches(st.Value, want) })
	if i < 0 {
		return opError(models.ErrCodeNoStatementsValue, "%s has no %s statement with value %v", subject, prop, want.Content)
	}
	idx := strconv.Itoa(i)
	st := &statements[i]

	if len(in.Qualifiers) == 0 && len(in.References) == 0 {
		e.doc.Statements[prop] = slices.Delete(statements, i, i+1)
		e.emit("remove", pointer("statements", prop, idx), nil)
		return nil
	}

	// Remove one matching qualifier and one matching reference part,
	// each only when the command lists any.
	if quals := e.conv.snaks(in.Qualifiers); len(quals) > 0 {
		q := slices.IndexFunc(st.Qualifiers, func(have snak) bool {
			return slices.ContainsFunc(quals, func(w snak) bool { return snakMatches(have, w) })
		})
		if q < 0 {
			return opError(models.ErrCodeNoQualifiers, "no matching qualifiers on %s %s statement", subject, prop)
		}
		st.Qualifiers = slices.Delete(st.Qualifiers, q, q+1)
		e.emit("remove", pointer("statements", prop, idx, "qualifiers", strconv.Itoa(q)), nil)
	}
	if len(in.References) > 0 {
		var parts []snak
		for _, r := range e.conv.references(in.References) {
			parts = append(parts, r.Parts...)
		}
		for r := range st.References {
			p := slices.IndexFunc(st.References[r].Parts, func(have snak) bool {
				return slices.ContainsFunc(parts, func(w snak) bool { return snakMatches(have, w) })
			})
			if p < 0 {
				continue
			}
			st.References[r].Parts = slices.Delete(st.References[r].Parts, p, p+1)
			e.emit("remove", pointer("statements", prop, idx, "references", strconv.Itoa(r), "parts", strconv.Itoa(p)), nil)
			return nil
		}
		return opError(models.ErrCodeNoReferenceParts, "no matching reference parts on %s %s statement", subject, prop)
	}
	return nil
}
