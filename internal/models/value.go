package models

import (
	"encoding/json"
	"fmt"
)

// Last is the placeholder for the entity most recently created in a pass.
const Last EntityRef = "LAST"

// EntityRef names an entity: a concrete id such as Q42, or Last.
type EntityRef string

// IsLast reports whether r is the LAST placeholder.
func (r EntityRef) IsLast() bool { return r == Last }

// ValueKind discriminates the Value variants.
type ValueKind string

const (
	KindEntity      ValueKind = "entity"
	KindString      ValueKind = "string"
	KindMonolingual ValueKind = "monolingualtext"
	KindTime        ValueKind = "time"
	KindCoordinate  ValueKind = "globecoordinate"
	KindQuantity    ValueKind = "quantity"
	KindSomeValue   ValueKind = "somevalue"
	KindNoValue     ValueKind = "novalue"
)

// Value is a typed statement value. The set of implementations is closed.
type Value interface {
	Kind() ValueKind
	isValue()
}

// EntityValue references another entity (or LAST).
type EntityValue struct {
	ID EntityRef `json:"id"`
}

// StringValue is a plain string, also used for urls, media files and
// external identifiers.
type StringValue struct {
	Text string `json:"text"`
}

// MonolingualValue is text tagged with a language code.
type MonolingualValue struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// TimeValue is a point in time with precision and calendar model.
type TimeValue struct {
	Time      string `json:"time"`
	Precision int    `json:"precision"`
	Calendar  string `json:"calendarmodel"`
}

// CoordinateValue is a point on a globe.
type CoordinateValue struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Precision float64 `json:"precision"`
	// PrecisionToken is the script token the precision was parsed from, kept
	// for formatting back.
	PrecisionToken string `json:"precision_token,omitempty"`
	Globe          string `json:"globe"`
}

// QuantityValue is a decimal amount with optional bounds and unit. Amounts
// are signed decimal strings ("+10", "-0.5"); Unit is "1" for unitless or
// an item id.
type QuantityValue struct {
	Amount     string `json:"amount"`
	LowerBound string `json:"lower_bound,omitempty"`
	UpperBound string `json:"upper_bound,omitempty"`
	// Tolerance is set when the bounds came from the amount~error form.
	Tolerance string `json:"tolerance,omitempty"`
	Unit      string `json:"unit"`
}

// SomeValue is the "unknown value" snak.
type SomeValue struct{}

// NoValue is the "no value" snak.
type NoValue struct{}

func (EntityValue) Kind() ValueKind      { return KindEntity }
func (StringValue) Kind() ValueKind      { return KindString }
func (MonolingualValue) Kind() ValueKind { return KindMonolingual }
func (TimeValue) Kind() ValueKind        { return KindTime }
func (CoordinateValue) Kind() ValueKind  { return KindCoordinate }
func (QuantityValue) Kind() ValueKind    { return KindQuantity }
func (SomeValue) Kind() ValueKind        { return KindSomeValue }
func (NoValue) Kind() ValueKind          { return KindNoValue }

func (EntityValue) isValue()      {}
func (StringValue) isValue()      {}
func (MonolingualValue) isValue() {}
func (TimeValue) isValue()        {}
func (CoordinateValue) isValue()  {}
func (QuantityValue) isValue()    {}
func (SomeValue) isValue()        {}
func (NoValue) isValue()          {}

type envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalValue encodes v with a kind discriminator.
func MarshalValue(v Value) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %s value: %w", v.Kind(), err)
	}
	return json.Marshal(envelope{Kind: string(v.Kind()), Data: data})
}

// UnmarshalValue decodes a value written by MarshalValue.
func UnmarshalValue(b []byte) (Value, error) {
	if string(b) == "null" {
		return nil, nil
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	var v Value
	var err error
	switch ValueKind(env.Kind) {
	case KindEntity:
		v, err = decodeData[EntityValue](env.Data)
	case KindString:
		v, err = decodeData[StringValue](env.Data)
	case KindMonolingual:
		v, err = decodeData[MonolingualValue](env.Data)
	case KindTime:
		v, err = decodeData[TimeValue](env.Data)
	case KindCoordinate:
		v, err = decodeData[CoordinateValue](env.Data)
	case KindQuantity:
		v, err = decodeData[QuantityValue](env.Data)
	case KindSomeValue:
		v = SomeValue{}
	case KindNoValue:
		v = NoValue{}
	default:
		return nil, fmt.Errorf("unknown value kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s value: %w", env.Kind, err)
	}
	return v, nil
}

func decodeData[T any](data json.RawMessage) (T, error) {
	var out T
	if len(data) == 0 {
		return out, nil
	}
	err := json.Unmarshal(data, &out)
	return out, err
}

// jsonValue adapts a Value field for encoding/json.
type jsonValue struct{ V Value }

func (j jsonValue) MarshalJSON() ([]byte, error) { return MarshalValue(j.V) }

func (j *jsonValue) UnmarshalJSON(b []byte) error {
	v, err := UnmarshalValue(b)
	if err != nil {
		return err
	}
	j.V = v
	return nil
}

// Snak is a (property, value) pair used for qualifiers and reference parts.
type Snak struct {
	Property string
	Value    Value
}

type snakJSON struct {
	Property string    `json:"property"`
	Value    jsonValue `json:"value"`
}

func (s Snak) MarshalJSON() ([]byte, error) {
	return json.Marshal(snakJSON{Property: s.Property, Value: jsonValue{s.Value}})
}

func (s *Snak) UnmarshalJSON(b []byte) error {
	var raw snakJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Snak{Property: raw.Property, Value: raw.Value.V}
	return nil
}

// Reference is one ordered block of reference snaks.
type Reference struct {
	Snaks []Snak `json:"snaks"`
}

// Rank is a statement rank; empty means the API default.
type Rank string

const (
	RankDefault    Rank = ""
	RankDeprecated Rank = "deprecated"
	RankNormal     Rank = "normal"
	RankPreferred  Rank = "preferred"
)

// Statement is a main snak with qualifiers, references and rank.
type Statement struct {
	Property   string
	Value      Value
	Qualifiers []Snak
	References []Reference
	Rank       Rank
}

type statementJSON struct {
	Property   string      `json:"property"`
	Value      jsonValue   `json:"value"`
	Qualifiers []Snak      `json:"qualifiers,omitempty"`
	References []Reference `json:"references,omitempty"`
	Rank       Rank        `json:"rank,omitempty"`
}

func (s Statement) MarshalJSON() ([]byte, error) {
	return json.Marshal(statementJSON{
		Property:   s.Property,
		Value:      jsonValue{s.Value},
		Qualifiers: s.Qualifiers,
		References: s.References,
		Rank:       s.Rank,
	})
}

func (s *Statement) UnmarshalJSON(b []byte) error {
	var raw statementJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*s = Statement{
		Property:   raw.Property,
		Value:      raw.Value.V,
		Qualifiers: raw.Qualifiers,
		References: raw.References,
		Rank:       raw.Rank,
	}
	return nil
}
