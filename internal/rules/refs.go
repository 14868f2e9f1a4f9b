package rules

// Built-in state_method names. The evaluator dispatches on these; the loader
// uses them to detect cyclic cross-location references before first
// evaluation.
const (
	MethodCanReachLocation = "can_reach_location"
	MethodCanReachRegion   = "can_reach_region"
	MethodLocationChecked  = "location_checked"
	MethodHasGroup         = "has_group"
	MethodCountOf          = "count_of"
)

// LocationRefs returns the names of all locations referenced by
// can_reach_location nodes anywhere in the rule tree. A nil rule has no
// references.
func LocationRefs(r *Rule) []string {
	var refs []string
	walk(r, func(n *Rule) {
		if n.Type == KindStateMethod && n.Method == MethodCanReachLocation {
			if name, ok := firstStringArg(n.Args); ok {
				refs = append(refs, name)
			}
		}
	})
	return refs
}

// RegionRefs returns the names of all regions referenced by can_reach_region
// nodes anywhere in the rule tree.
func RegionRefs(r *Rule) []string {
	var refs []string
	walk(r, func(n *Rule) {
		if n.Type == KindStateMethod && n.Method == MethodCanReachRegion {
			if name, ok := firstStringArg(n.Args); ok {
				refs = append(refs, name)
			}
		}
	})
	return refs
}

func walk(r *Rule, visit func(*Rule)) {
	if r == nil {
		return
	}
	visit(r)
	for _, c := range r.Conditions {
		walk(c, visit)
	}
}

func firstStringArg(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
