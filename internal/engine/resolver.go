package engine

import (
	"errors"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// ErrUnresolvedLast is returned when LAST is used before anything was
// created in the current pass.
var ErrUnresolvedLast = errors.New("LAST could not be evaluated: no entity created yet in this pass")

// Resolver maps LAST to the entity most recently created in one execution
// pass. A new Resolver is created for every pass.
type Resolver struct {
	last models.EntityRef
}

// NewResolver returns a resolver with nothing created yet.
func NewResolver() *Resolver { return &Resolver{} }

// Register records id as the most recently created entity.
func (r *Resolver) Register(id string) {
	if id != "" {
		r.last = models.EntityRef(id)
	}
}

// Last returns the current LAST binding, or "" when unbound.
func (r *Resolver) Last() models.EntityRef { return r.last }

// Resolve returns a copy of op with every LAST reference replaced.
func (r *Resolver) Resolve(op models.Operation) (models.Operation, error) {
	var err error
	ref := func(e models.EntityRef) models.EntityRef {
		if !e.IsLast() {
			return e
		}
		if r.last == "" {
			err = ErrUnresolvedLast
			return e
		}
		return r.last
	}

	var out models.Operation
	switch o := op.(type) {
	case models.CreateEntity, models.RemoveStatementByID:
		out = o
	case models.AddStatement:
		o.Subject = ref(o.Subject)
		o.Statement = resolveStatement(o.Statement, ref)
		out = o
	case models.RemoveStatement:
		o.Subject = ref(o.Subject)
		o.Statement = resolveStatement(o.Statement, ref)
		out = o
	case models.SetLabel:
		o.Subject = ref(o.Subject)
		out = o
	case models.SetDescription:
		o.Subject = ref(o.Subject)
		out = o
	case models.AddAlias:
		o.Subject = ref(o.Subject)
		out = o
	case models.RemoveLabel:
		o.Subject = ref(o.Subject)
		out = o
	case models.RemoveDescription:
		o.Subject = ref(o.Subject)
		out = o
	case models.RemoveAlias:
		o.Subject = ref(o.Subject)
		out = o
	case models.SetSitelink:
		o.Subject = ref(o.Subject)
		out = o
	case models.RemoveSitelink:
		o.Subject = ref(o.Subject)
		out = o
	case models.MergeEntities:
		o.From = ref(o.From)
		o.To = ref(o.To)
		out = o
	default:
		return nil, errors.New("unknown operation")
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func resolveStatement(st models.Statement, ref func(models.EntityRef) models.EntityRef) models.Statement {
	st.Value = resolveValue(st.Value, ref)
	if len(st.Qualifiers) > 0 {
		quals := make([]models.Snak, len(st.Qualifiers))
		for i, q := range st.Qualifiers {
			quals[i] = models.Snak{Property: q.Property, Value: resolveValue(q.Value, ref)}
		}
		st.Qualifiers = quals
	}
	if len(st.References) > 0 {
		refs := make([]models.Reference, len(st.References))
		for i, block := range st.References {
			snaks := make([]models.Snak, len(block.Snaks))
			for j, s := range block.Snaks {
				snaks[j] = models.Snak{Property: s.Property, Value: resolveValue(s.Value, ref)}
			}
			refs[i] = models.Reference{Snaks: snaks}
		}
		st.References = refs
	}
	return st
}

func resolveValue(v models.Value, ref func(models.EntityRef) models.EntityRef) models.Value {
	if ev, ok := v.(models.EntityValue); ok {
		return models.EntityValue{ID: ref(ev.ID)}
	}
	return v
}
