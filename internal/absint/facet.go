package absint

import "github.com/cpyref/refscan/internal/cfg"

// Facet is a named bundle of extra per-state fields implementing one
// domain's ownership policy. A facet instance belongs to exactly one State;
// Copy is invoked whenever its State is copied.
type Facet interface {
	Name() string
	Copy(dst *State) Facet
}

// CallHandler models one API function. It must enumerate every semantically
// distinct outcome of the call as a separate Transition, and may return a
// TraceError for violated call preconditions.
type CallHandler func(s *State, call *cfg.CallStmt, args []Value) ([]Transition, error)

// FacetFactory creates facet instances and supplies the dispatch table from
// callee name to handler. The table is the sole seam between the engine and
// a domain policy: handlers are registered data, not engine code.
type FacetFactory interface {
	Name() string
	// Init attaches a fresh facet to the initial state and may refine
	// parameter values (e.g. mark object-typed parameters as borrowed,
	// non-NULL references).
	Init(s *State, fn *cfg.Function) (Facet, error)
	// HandlerFor returns the handler modeling the named callee, or nil when
	// the callee is not modeled.
	HandlerFor(callee string) CallHandler
}
