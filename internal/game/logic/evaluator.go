package logic

import (
	"go.uber.org/zap"

	"github.com/cory-johannsen/multitracker/internal/game/world"
	"github.com/cory-johannsen/multitracker/internal/rules"
)

// Evaluator evaluates rule trees against a state view. Configuration errors
// (unknown helpers, methods, or rule kinds) are logged at Warn and evaluate
// to false so one bad rule never halts a full recomputation.
//
// An Evaluator with a Memo is single-threaded; share-nothing copies without a
// Memo are safe for concurrent use because evaluation is pure.
type Evaluator struct {
	registry *Registry
	logger   *zap.Logger
	memo     *Memo
}

// NewEvaluator creates an Evaluator. memo may be nil to disable memoization.
//
// Precondition: registry and logger must be non-nil.
func NewEvaluator(registry *Registry, logger *zap.Logger, memo *Memo) *Evaluator {
	return &Evaluator{registry: registry, logger: logger, memo: memo}
}

// Evaluate evaluates r against view and sd. A nil rule is unconditionally
// true, matching a nil access rule on an edge or location.
func (e *Evaluator) Evaluate(r *rules.Rule, view StateView, sd *world.StaticData) Value {
	if r == nil {
		return Bool(true)
	}
	if e.memo != nil {
		if v, ok := e.memo.get(r); ok {
			return v
		}
	}
	v := e.eval(r, view, sd)
	if e.memo != nil && e.memo.cacheable(r) {
		e.memo.put(r, v)
	}
	return v
}

func (e *Evaluator) eval(r *rules.Rule, view StateView, sd *world.StaticData) Value {
	switch r.Type {
	case rules.KindConstant:
		return Bool(r.Value)

	case rules.KindItemCheck:
		return Bool(Has(view, sd, r.Item))

	case rules.KindCountCheck:
		return Bool(sd.Catalog().Resolve(r.Item, view.ItemCount) >= r.Count)

	case rules.KindGroupCheck:
		return Bool(sd.Catalog().HoldsGroupMember(r.Group, view.ItemCount))

	case rules.KindHelper:
		fn, ok := e.registry.Lookup(sd.Game, r.Name)
		if !ok {
			e.logger.Warn("logic: unknown helper",
				zap.String("game", sd.Game),
				zap.String("helper", r.Name),
			)
			return Bool(false)
		}
		v, err := fn(view, sd, r.Args)
		if err != nil {
			e.logger.Warn("logic: helper failed",
				zap.String("game", sd.Game),
				zap.String("helper", r.Name),
				zap.Error(err),
			)
			return Bool(false)
		}
		return v

	case rules.KindStateMethod:
		return e.stateMethod(r, view, sd)

	case rules.KindAnd:
		// Empty conjunction is vacuously true.
		for _, c := range r.Conditions {
			if !e.Evaluate(c, view, sd).Truthy() {
				return Bool(false)
			}
		}
		return Bool(true)

	case rules.KindOr:
		// Empty disjunction is vacuously false.
		for _, c := range r.Conditions {
			if e.Evaluate(c, view, sd).Truthy() {
				return Bool(true)
			}
		}
		return Bool(false)

	default:
		e.logger.Warn("logic: unknown rule kind", zap.String("kind", string(r.Type)))
		return Bool(false)
	}
}

// stateMethod dispatches the fixed set of built-in snapshot queries.
func (e *Evaluator) stateMethod(r *rules.Rule, view StateView, sd *world.StaticData) Value {
	arg := func() (string, bool) {
		if len(r.Args) == 0 {
			return "", false
		}
		s, ok := r.Args[0].(string)
		return s, ok
	}

	switch r.Method {
	case rules.MethodCanReachLocation:
		name, ok := arg()
		if !ok {
			return e.badMethodArg(r)
		}
		loc, ok := sd.Location(name)
		if !ok {
			e.logger.Warn("logic: state_method references unknown location",
				zap.String("location", name))
			return Bool(false)
		}
		if !view.RegionReachable(loc.Region) {
			return Bool(false)
		}
		return Bool(e.Evaluate(loc.AccessRule, view, sd).Truthy())

	case rules.MethodCanReachRegion:
		name, ok := arg()
		if !ok {
			return e.badMethodArg(r)
		}
		return Bool(view.RegionReachable(name))

	case rules.MethodLocationChecked:
		name, ok := arg()
		if !ok {
			return e.badMethodArg(r)
		}
		return Bool(view.LocationChecked(name))

	case rules.MethodHasGroup:
		name, ok := arg()
		if !ok {
			return e.badMethodArg(r)
		}
		return Bool(sd.Catalog().HoldsGroupMember(name, view.ItemCount))

	case rules.MethodCountOf:
		name, ok := arg()
		if !ok {
			return e.badMethodArg(r)
		}
		return Number(float64(sd.Catalog().Resolve(name, view.ItemCount)))

	default:
		e.logger.Warn("logic: unknown state method", zap.String("method", r.Method))
		return Bool(false)
	}
}

func (e *Evaluator) badMethodArg(r *rules.Rule) Value {
	e.logger.Warn("logic: state_method missing string argument",
		zap.String("method", r.Method))
	return Bool(false)
}
