// Package logic implements the access-rule evaluator, the per-game helper
// registry, and the per-revision memo cache. Evaluation is pure: a rule
// evaluated twice against the same state view always yields the same value.
package logic

// Value is the result of evaluating a rule: a boolean or a number. Numeric
// results come only from count_check thresholds, helpers, and state methods;
// when a numeric value is embedded as a boolean leaf it coerces with "> 0"
// semantics.
type Value struct {
	num   float64
	b     bool
	isNum bool
}

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{b: b} }

// Number returns a numeric Value.
func Number(n float64) Value { return Value{num: n, isNum: true} }

// IsNumber reports whether the value is numeric.
func (v Value) IsNumber() bool { return v.isNum }

// Number returns the numeric value; booleans report 1 for true and 0 for
// false so numeric consumers can sum truth values.
func (v Value) Number() float64 {
	if v.isNum {
		return v.num
	}
	if v.b {
		return 1
	}
	return 0
}

// Truthy coerces the value to a boolean: numbers are true when > 0.
func (v Value) Truthy() bool {
	if v.isNum {
		return v.num > 0
	}
	return v.b
}
