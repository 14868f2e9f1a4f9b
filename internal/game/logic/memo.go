package logic

import "github.com/cory-johannsen/multitracker/internal/rules"

// Memo caches rule-evaluation results for one snapshot revision. The key is
// node identity, not rule content: evaluation is pure over a revision, so two
// evaluations of the same node at the same revision must agree, and dropping
// everything on Reset is the only invalidation obligation.
//
// Rules containing helper or state_method nodes are never cached. Their
// results can shift between propagation passes within one revision (they read
// the in-progress reachability map), so caching them would freeze a partial
// fixpoint.
type Memo struct {
	revision uint64
	results  map[*rules.Rule]Value
	// volatility is a static property of each node and survives Reset.
	volatility map[*rules.Rule]bool
}

// NewMemo creates an empty Memo at revision 0.
func NewMemo() *Memo {
	return &Memo{
		results:    make(map[*rules.Rule]Value),
		volatility: make(map[*rules.Rule]bool),
	}
}

// Revision returns the revision the cached results belong to.
func (m *Memo) Revision() uint64 { return m.revision }

// Reset drops all memoized results and adopts the new revision. Called on
// every state-affecting mutation.
func (m *Memo) Reset(revision uint64) {
	m.revision = revision
	m.results = make(map[*rules.Rule]Value)
}

func (m *Memo) get(r *rules.Rule) (Value, bool) {
	v, ok := m.results[r]
	return v, ok
}

func (m *Memo) put(r *rules.Rule, v Value) {
	m.results[r] = v
}

// cacheable reports whether r's result is stable for a whole revision.
func (m *Memo) cacheable(r *rules.Rule) bool {
	return !m.isVolatile(r)
}

func (m *Memo) isVolatile(r *rules.Rule) bool {
	if r == nil {
		return false
	}
	if v, ok := m.volatility[r]; ok {
		return v
	}
	v := r.Type == rules.KindHelper || r.Type == rules.KindStateMethod
	if !v {
		for _, c := range r.Conditions {
			if m.isVolatile(c) {
				v = true
				break
			}
		}
	}
	m.volatility[r] = v
	return v
}
