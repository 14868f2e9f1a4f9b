// Package rules defines the access-rule AST consumed by the logic evaluator.
// Rules arrive as a JSON discriminated union on a "type" field; the wire
// shape is fixed by externally authored rule bundles and must round-trip
// unchanged.
package rules

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the rule union.
type Kind string

// All rule kinds understood by the evaluator.
const (
	KindConstant    Kind = "constant"
	KindItemCheck   Kind = "item_check"
	KindCountCheck  Kind = "count_check"
	KindGroupCheck  Kind = "group_check"
	KindHelper      Kind = "helper"
	KindStateMethod Kind = "state_method"
	KindAnd         Kind = "and"
	KindOr          Kind = "or"
)

// Rule is a single node of the access-rule AST. Which fields are meaningful
// depends on Type; Validate rejects nodes whose populated fields do not
// match their kind.
type Rule struct {
	// Type discriminates the union.
	Type Kind
	// Value is the literal result of a constant rule.
	Value bool
	// Item is the item name for item_check and count_check rules.
	Item string
	// Count is the inclusive threshold for count_check rules.
	Count int
	// Group is the item-group name for group_check rules.
	Group string
	// Name is the registered helper-function name for helper rules.
	Name string
	// Method is the built-in query name for state_method rules.
	Method string
	// Args are the extra arguments passed to a helper or state method.
	Args []any
	// Conditions are the operands of an and/or rule, evaluated in order.
	Conditions []*Rule
}

// ruleJSON is the wire form of a Rule. Fields are pointers or omitempty so
// that marshalling emits exactly the keys the bundle format defines for each
// kind and nothing else.
type ruleJSON struct {
	Type       Kind    `json:"type"`
	Value      *bool   `json:"value,omitempty"`
	Item       string  `json:"item,omitempty"`
	Count      *int    `json:"count,omitempty"`
	Group      string  `json:"group,omitempty"`
	Name       string  `json:"name,omitempty"`
	Method     string  `json:"method,omitempty"`
	Args       []any   `json:"args,omitempty"`
	Conditions *[]*Rule `json:"conditions,omitempty"`
}

// UnmarshalJSON decodes a rule node and validates that its fields match its
// declared kind.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("rules: decoding rule node: %w", err)
	}
	r.Type = raw.Type
	if raw.Value != nil {
		r.Value = *raw.Value
	}
	r.Item = raw.Item
	if raw.Count != nil {
		r.Count = *raw.Count
	}
	r.Group = raw.Group
	r.Name = raw.Name
	r.Method = raw.Method
	r.Args = raw.Args
	if raw.Conditions != nil {
		r.Conditions = *raw.Conditions
	}
	return r.Validate()
}

// MarshalJSON encodes the rule in its wire form, emitting only the keys
// defined for the node's kind.
func (r *Rule) MarshalJSON() ([]byte, error) {
	raw := ruleJSON{Type: r.Type}
	switch r.Type {
	case KindConstant:
		v := r.Value
		raw.Value = &v
	case KindItemCheck:
		raw.Item = r.Item
	case KindCountCheck:
		raw.Item = r.Item
		c := r.Count
		raw.Count = &c
	case KindGroupCheck:
		raw.Group = r.Group
	case KindHelper:
		raw.Name = r.Name
		raw.Args = r.Args
	case KindStateMethod:
		raw.Method = r.Method
		raw.Args = r.Args
	case KindAnd, KindOr:
		conds := r.Conditions
		if conds == nil {
			conds = []*Rule{}
		}
		raw.Conditions = &conds
	default:
		return nil, fmt.Errorf("rules: cannot marshal rule of unknown kind %q", r.Type)
	}
	return json.Marshal(raw)
}

// Validate checks that the node's populated fields match its kind.
//
// Postcondition: Returns nil if the node is well formed, or an error naming
// the first violation. Child conditions are not validated recursively here;
// they validate themselves during unmarshalling.
func (r *Rule) Validate() error {
	switch r.Type {
	case KindConstant:
		return nil
	case KindItemCheck:
		if r.Item == "" {
			return fmt.Errorf("rules: item_check requires a non-empty item")
		}
	case KindCountCheck:
		if r.Item == "" {
			return fmt.Errorf("rules: count_check requires a non-empty item")
		}
		if r.Count < 0 {
			return fmt.Errorf("rules: count_check count must be >= 0, got %d", r.Count)
		}
	case KindGroupCheck:
		if r.Group == "" {
			return fmt.Errorf("rules: group_check requires a non-empty group")
		}
	case KindHelper:
		if r.Name == "" {
			return fmt.Errorf("rules: helper requires a non-empty name")
		}
	case KindStateMethod:
		if r.Method == "" {
			return fmt.Errorf("rules: state_method requires a non-empty method")
		}
	case KindAnd, KindOr:
		for i, c := range r.Conditions {
			if c == nil {
				return fmt.Errorf("rules: %s condition %d is null", r.Type, i)
			}
		}
	default:
		return fmt.Errorf("rules: unknown rule kind %q", r.Type)
	}
	return nil
}

// Constant returns a constant rule with the given value.
func Constant(v bool) *Rule { return &Rule{Type: KindConstant, Value: v} }

// ItemCheck returns an item_check rule for the named item.
func ItemCheck(item string) *Rule { return &Rule{Type: KindItemCheck, Item: item} }

// CountCheck returns a count_check rule requiring count of the named item.
func CountCheck(item string, count int) *Rule {
	return &Rule{Type: KindCountCheck, Item: item, Count: count}
}

// GroupCheck returns a group_check rule for the named item group.
func GroupCheck(group string) *Rule { return &Rule{Type: KindGroupCheck, Group: group} }

// Helper returns a helper rule invoking the named registered function.
func Helper(name string, args ...any) *Rule {
	return &Rule{Type: KindHelper, Name: name, Args: args}
}

// StateMethod returns a state_method rule invoking the named built-in query.
func StateMethod(method string, args ...any) *Rule {
	return &Rule{Type: KindStateMethod, Method: method, Args: args}
}

// And returns a conjunction of the given conditions.
func And(conds ...*Rule) *Rule { return &Rule{Type: KindAnd, Conditions: conds} }

// Or returns a disjunction of the given conditions.
func Or(conds ...*Rule) *Rule { return &Rule{Type: KindOr, Conditions: conds} }
