package logic

import (
	"encoding/json"
	"fmt"

	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// registerBuiltins installs the game-agnostic helpers every bundle may use.
func registerBuiltins(r *Registry) {
	r.Register(builtinGame, "total_item_count", totalItemCount)
	r.Register(builtinGame, "checked_percent", checkedPercent)
	r.Register(builtinGame, "count_true", countTrue)
	r.Register(builtinGame, "at_least", atLeast)
}

// totalItemCount returns the sum of all directly held item counts.
func totalItemCount(view StateView, sd *world.StaticData, _ []any) (Value, error) {
	total := 0
	for _, it := range sd.Catalog().Items() {
		total += view.ItemCount(it.Name)
	}
	return Number(float64(total)), nil
}

// checkedPercent returns the percentage of countable locations already
// checked, for numeric threshold rules.
func checkedPercent(view StateView, sd *world.StaticData, _ []any) (Value, error) {
	total, checked := 0, 0
	for _, region := range sd.Regions() {
		if !region.CountsForTotal {
			continue
		}
		for _, loc := range region.Locations {
			total++
			if view.LocationChecked(loc.Name) {
				checked++
			}
		}
	}
	if total == 0 {
		return Number(0), nil
	}
	return Number(float64(checked) / float64(total) * 100), nil
}

// countTrue evaluates each arg as an embedded rule and returns how many are
// true. Args are raw rule objects from the bundle JSON.
func countTrue(view StateView, _ *world.StaticData, args []any) (Value, error) {
	n := 0
	for i, arg := range args {
		r, err := decodeRuleArg(arg)
		if err != nil {
			return Value{}, fmt.Errorf("count_true: arg %d: %w", i, err)
		}
		if view.EvaluateRule(r).Truthy() {
			n++
		}
	}
	return Number(float64(n)), nil
}

// atLeast is true when at least args[0] of the remaining embedded rules hold.
func atLeast(view StateView, _ *world.StaticData, args []any) (Value, error) {
	if len(args) == 0 {
		return Value{}, fmt.Errorf("at_least: missing threshold arg")
	}
	threshold, ok := numericArg(args[0])
	if !ok {
		return Value{}, fmt.Errorf("at_least: threshold %v is not a number", args[0])
	}
	n := 0
	for i, arg := range args[1:] {
		r, err := decodeRuleArg(arg)
		if err != nil {
			return Value{}, fmt.Errorf("at_least: arg %d: %w", i+1, err)
		}
		if view.EvaluateRule(r).Truthy() {
			n++
			if float64(n) >= threshold {
				return Bool(true), nil
			}
		}
	}
	return Bool(float64(n) >= threshold), nil
}

// decodeRuleArg converts a raw JSON value (as decoded into any) back into a
// rule node so helpers can embed sub-rules in their args.
func decodeRuleArg(arg any) (*rules.Rule, error) {
	data, err := json.Marshal(arg)
	if err != nil {
		return nil, fmt.Errorf("encoding embedded rule: %w", err)
	}
	var r rules.Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func numericArg(arg any) (float64, bool) {
	switch n := arg.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
