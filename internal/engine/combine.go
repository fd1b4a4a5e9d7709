package engine

import (
	"strings"

	"github.com/raphaelgruber/wikibatch/internal/models"
)

// Unit is a run of commands sent to the adapter as one API call.
type Unit struct {
	Commands []models.Command
}

// Creates reports whether the unit starts with an entity creation.
func (u Unit) Creates() bool {
	if len(u.Commands) == 0 {
		return false
	}
	_, ok := u.Commands[0].Op.(models.CreateEntity)
	return ok
}

// Summary joins the non-empty command summaries with " | ".
func (u Unit) Summary() string {
	parts := make([]string, 0, len(u.Commands))
	for _, c := range u.Commands {
		if c.Summary != "" {
			parts = append(parts, c.Summary)
		}
	}
	return strings.Join(parts, " | ")
}

// Plan groups the non-terminal commands of a batch into execution units,
// preserving index order. With combine off every command is its own unit.
func Plan(cmds []models.Command, combine bool) []Unit {
	var units []Unit
	for _, c := range cmds {
		if c.Status.IsTerminal() {
			continue
		}
		if combine && len(units) > 0 && joins(units[len(units)-1], c) {
			last := &units[len(units)-1]
			last.Commands = append(last.Commands, c)
			continue
		}
		units = append(units, Unit{Commands: []models.Command{c}})
	}
	return units
}

// joins reports whether c may be appended to u.
func joins(u Unit, c models.Command) bool {
	tail := u.Commands[len(u.Commands)-1]
	if c.Index != tail.Index+1 || !models.IsAdditive(c.Op) {
		return false
	}

	subject := models.SubjectOf(c.Op)
	if u.Creates() {
		// Followers become part of the new entity, so they cannot refer
		// to it by value: its id is unknown until the call returns.
		return subject.IsLast() && !referencesLast(c.Op)
	}
	head := u.Commands[0]
	return models.IsAdditive(head.Op) && subject != "" && subject == models.SubjectOf(head.Op)
}

func referencesLast(op models.Operation) bool {
	st, ok := op.(models.AddStatement)
	if !ok {
		return false
	}
	isLast := func(v models.Value) bool {
		ev, ok := v.(models.EntityValue)
		return ok && ev.ID.IsLast()
	}
	if isLast(st.Statement.Value) {
		return true
	}
	for _, q := range st.Statement.Qualifiers {
		if isLast(q.Value) {
			return true
		}
	}
	for _, r := range st.Statement.References {
		for _, s := range r.Snaks {
			if isLast(s.Value) {
				return true
			}
		}
	}
	return false
}
