package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OpKind discriminates the Operation variants.
type OpKind string

const (
	OpCreateEntity        OpKind = "create_entity"
	OpAddStatement        OpKind = "add_statement"
	OpRemoveStatement     OpKind = "remove_statement"
	OpRemoveStatementByID OpKind = "remove_statement_by_id"
	OpSetLabel            OpKind = "set_label"
	OpSetDescription      OpKind = "set_description"
	OpAddAlias            OpKind = "add_alias"
	OpRemoveLabel         OpKind = "remove_label"
	OpRemoveDescription   OpKind = "remove_description"
	OpRemoveAlias         OpKind = "remove_alias"
	OpSetSitelink         OpKind = "set_sitelink"
	OpRemoveSitelink      OpKind = "remove_sitelink"
	OpMergeEntities       OpKind = "merge_entities"
)

// Operation is one structured edit. The set of implementations is closed;
// consumers switch over the concrete types exhaustively.
type Operation interface {
	Kind() OpKind
	isOperation()
}

// Entity types accepted by CreateEntity.
const (
	EntityItem     = "item"
	EntityProperty = "property"
)

// CreateEntity creates a new, empty entity. Datatype is only set for
// properties.
type CreateEntity struct {
	EntityType string `json:"entity_type"`
	Datatype   string `json:"datatype,omitempty"`
}

// AddStatement adds a statement, or extends an existing statement with the
// same value with the given qualifiers and references.
type AddStatement struct {
	Subject   EntityRef `json:"subject"`
	Statement Statement `json:"statement"`
}

// RemoveStatement removes the statement matching property and value. When
// qualifiers or references are given, only those parts are removed.
type RemoveStatement struct {
	Subject   EntityRef `json:"subject"`
	Statement Statement `json:"statement"`
}

// RemoveStatementByID removes a statement by its GUID.
type RemoveStatementByID struct {
	StatementID string `json:"statement_id"`
}

type SetLabel struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
}

type SetDescription struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
	Text     string    `json:"text"`
}

type AddAlias struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
	Aliases  []string  `json:"aliases"`
}

type RemoveLabel struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
}

type RemoveDescription struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
}

type RemoveAlias struct {
	Subject  EntityRef `json:"subject"`
	Language string    `json:"language"`
	Aliases  []string  `json:"aliases"`
}

type SetSitelink struct {
	Subject EntityRef `json:"subject"`
	Site    string    `json:"site"`
	Title   string    `json:"title"`
}

type RemoveSitelink struct {
	Subject EntityRef `json:"subject"`
	Site    string    `json:"site"`
}

// MergeEntities merges From into To.
type MergeEntities struct {
	From EntityRef `json:"from"`
	To   EntityRef `json:"to"`
}

func (CreateEntity) Kind() OpKind        { return OpCreateEntity }
func (AddStatement) Kind() OpKind        { return OpAddStatement }
func (RemoveStatement) Kind() OpKind     { return OpRemoveStatement }
func (RemoveStatementByID) Kind() OpKind { return OpRemoveStatementByID }
func (SetLabel) Kind() OpKind            { return OpSetLabel }
func (SetDescription) Kind() OpKind      { return OpSetDescription }
func (AddAlias) Kind() OpKind            { return OpAddAlias }
func (RemoveLabel) Kind() OpKind         { return OpRemoveLabel }
func (RemoveDescription) Kind() OpKind   { return OpRemoveDescription }
func (RemoveAlias) Kind() OpKind         { return OpRemoveAlias }
func (SetSitelink) Kind() OpKind         { return OpSetSitelink }
func (RemoveSitelink) Kind() OpKind      { return OpRemoveSitelink }
func (MergeEntities) Kind() OpKind       { return OpMergeEntities }

func (CreateEntity) isOperation()        {}
func (AddStatement) isOperation()        {}
func (RemoveStatement) isOperation()     {}
func (RemoveStatementByID) isOperation() {}
func (SetLabel) isOperation()            {}
func (SetDescription) isOperation()      {}
func (AddAlias) isOperation()            {}
func (RemoveLabel) isOperation()         {}
func (RemoveDescription) isOperation()   {}
func (RemoveAlias) isOperation()         {}
func (SetSitelink) isOperation()         {}
func (RemoveSitelink) isOperation()      {}
func (MergeEntities) isOperation()       {}

// SubjectOf returns the entity an operation edits. CreateEntity has no
// subject and returns "".
func SubjectOf(op Operation) EntityRef {
	switch o := op.(type) {
	case CreateEntity:
		return ""
	case AddStatement:
		return o.Subject
	case RemoveStatement:
		return o.Subject
	case RemoveStatementByID:
		id, _, _ := strings.Cut(o.StatementID, "$")
		return EntityRef(strings.ToUpper(id))
	case SetLabel:
		return o.Subject
	case SetDescription:
		return o.Subject
	case AddAlias:
		return o.Subject
	case RemoveLabel:
		return o.Subject
	case RemoveDescription:
		return o.Subject
	case RemoveAlias:
		return o.Subject
	case SetSitelink:
		return o.Subject
	case RemoveSitelink:
		return o.Subject
	case MergeEntities:
		return o.From
	}
	return ""
}

// IsAdditive reports whether op only adds or overwrites data on its
// subject. Only additive operations are combined into one edit.
func IsAdditive(op Operation) bool {
	switch op.(type) {
	case AddStatement, SetLabel, SetDescription, AddAlias, SetSitelink:
		return true
	}
	return false
}

// MarshalOperation encodes op with a kind discriminator.
func MarshalOperation(op Operation) ([]byte, error) {
	data, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", op.Kind(), err)
	}
	return json.Marshal(envelope{Kind: string(op.Kind()), Data: data})
}

// UnmarshalOperation decodes an operation written by MarshalOperation.
func UnmarshalOperation(b []byte) (Operation, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal operation: %w", err)
	}
	var op Operation
	var err error
	switch OpKind(env.Kind) {
	case OpCreateEntity:
		op, err = decodeData[CreateEntity](env.Data)
	case OpAddStatement:
		op, err = decodeData[AddStatement](env.Data)
	case OpRemoveStatement:
		op, err = decodeData[RemoveStatement](env.Data)
	case OpRemoveStatementByID:
		op, err = decodeData[RemoveStatementByID](env.Data)
	case OpSetLabel:
		op, err = decodeData[SetLabel](env.Data)
	case OpSetDescription:
		op, err = decodeData[SetDescription](env.Data)
	case OpAddAlias:
		op, err = decodeData[AddAlias](env.Data)
	case OpRemoveLabel:
		op, err = decodeData[RemoveLabel](env.Data)
	case OpRemoveDescription:
		op, err = decodeData[RemoveDescription](env.Data)
	case OpRemoveAlias:
		op, err = decodeData[RemoveAlias](env.Data)
	case OpSetSitelink:
		op, err = decodeData[SetSitelink](env.Data)
	case OpRemoveSitelink:
		op, err = decodeData[RemoveSitelink](env.Data)
	case OpMergeEntities:
		op, err = decodeData[MergeEntities](env.Data)
	default:
		return nil, fmt.Errorf("unknown operation kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Kind, err)
	}
	return op, nil
}
