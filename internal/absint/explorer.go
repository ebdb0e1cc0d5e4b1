package absint

import (
	"fmt"

	"github.com/cpyref/refscan/internal/cfg"
)

// DefaultBudget is the default global transition budget per function.
const DefaultBudget = 1024

// Limits bounds one function's exploration. The transition counter is global
// across every path of the function: pathological branching anywhere aborts
// the whole analysis rather than silently truncating one branch.
type Limits struct {
	MaxTransitions int
	seen           int
}

// NewLimits returns limits with the given transition budget; zero or
// negative selects DefaultBudget.
func NewLimits(maxTransitions int) *Limits {
	if maxTransitions <= 0 {
		maxTransitions = DefaultBudget
	}
	return &Limits{MaxTransitions: maxTransitions}
}

// Seen returns how many transitions exploration has consumed.
func (l *Limits) Seen() int { return l.seen }

// IterTraces enumerates every statement-by-statement path through fn,
// depth-first in CFG-successor order. Each multi-outcome statement forks the
// state; trace-fatal errors end only their own trace. Exceeding the
// transition budget aborts the entire analysis with *TooComplicatedError:
// no partial result is ever returned.
func IterTraces(fn *cfg.Function, facets []FacetFactory, limits *Limits) ([]*Trace, error) {
	if limits == nil {
		limits = NewLimits(0)
	}
	arena := NewArena()
	initial, err := NewInitialState(fn, arena, facets)
	if err != nil {
		return nil, err
	}
	e := &explorer{fn: fn, facets: facets, limits: limits}
	if err := e.explore(initial, nil); err != nil {
		return nil, err
	}
	return e.traces, nil
}

type explorer struct {
	fn     *cfg.Function
	facets []FacetFactory
	limits *Limits
	traces []*Trace
}

func (e *explorer) explore(s *State, prefix []Transition) error {
	if s.Terminal() {
		e.traces = append(e.traces, &Trace{Transitions: copyTransitions(prefix)})
		return nil
	}

	transitions, err := e.nextTransitions(s)
	if err != nil {
		te, isTraceFatal := err.(TraceError)
		if !isTraceFatal {
			return err
		}
		e.traces = append(e.traces, &Trace{Transitions: copyTransitions(prefix), Err: te})
		return nil
	}

	for _, tr := range transitions {
		e.limits.seen++
		if e.limits.seen > e.limits.MaxTransitions {
			return &TooComplicatedError{Function: e.fn.Name, Limit: e.limits.MaxTransitions}
		}
		next := make([]Transition, len(prefix), len(prefix)+1)
		copy(next, prefix)
		next = append(next, tr)
		if err := e.explore(tr.Dest, next); err != nil {
			return err
		}
	}
	return nil
}

// nextTransitions produces the successor transitions of a single statement
// or terminator. A returned error is either a TraceError (ending this trace
// only) or an internal malformed-input error (ending the analysis).
func (e *explorer) nextTransitions(s *State) ([]Transition, error) {
	if s.StmtIndex < len(s.Block.Stmts) {
		switch stmt := s.Block.Stmts[s.StmtIndex].(type) {
		case *cfg.AssignStmt:
			return e.assignTransitions(s, stmt)
		case *cfg.CallStmt:
			return e.callTransitions(s, stmt)
		default:
			return nil, fmt.Errorf("unsupported statement %s", stmt)
		}
	}

	switch term := s.Block.Term.(type) {
	case *cfg.Jump:
		ns := s.Copy()
		ns.Block = term.Target
		ns.StmtIndex = 0
		return []Transition{{Src: s, Dest: ns}}, nil
	case *cfg.Branch:
		return e.branchTransitions(s, term)
	case *cfg.Return:
		ns := s.Copy()
		ns.Block = nil
		if term.Value != nil {
			v, err := s.EvalRvalue(term.Value, term.Loc())
			if err != nil {
				return nil, err
			}
			ns.ReturnValue = v
		}
		return []Transition{{Src: s, Dest: ns}}, nil
	default:
		return nil, fmt.Errorf("block %s has unsupported terminator", s.Block.Label)
	}
}

func (e *explorer) assignTransitions(s *State, stmt *cfg.AssignStmt) ([]Transition, error) {
	v, err := s.EvalRvalue(stmt.RHS, stmt.Loc())
	if err != nil {
		return nil, err
	}
	r, err := s.EvalLvalue(stmt.LHS, stmt.Loc())
	if err != nil {
		return nil, err
	}
	ns := s.CopyAdvanced()
	ns.SetStore(r, v)
	return []Transition{{Src: s, Dest: ns}}, nil
}

func (e *explorer) callTransitions(s *State, call *cfg.CallStmt) ([]Transition, error) {
	args := make([]Value, len(call.Args))
	for i, a := range call.Args {
		v, err := s.EvalRvalue(a, call.Loc())
		if err != nil {
			return nil, err
		}
		args[i] = v
	}

	for _, fac := range e.facets {
		if handler := fac.HandlerFor(call.Callee); handler != nil {
			return handler(s, call, args)
		}
	}

	// Unmodeled function: a single outcome with an unknown result. The
	// refcounting facet never sees it, so any object effects of the callee
	// are invisible; this is the documented precision limit.
	var result Value
	if call.LHS != nil {
		result = NewUnknown(s.typeOfExpr(call.LHS), call.Loc())
	}
	tr, err := s.MkTransAssignment(call.LHS, result, fmt.Sprintf("when %s() returns", call.Callee))
	if err != nil {
		return nil, err
	}
	return []Transition{tr}, nil
}

func (e *explorer) branchTransitions(s *State, term *cfg.Branch) ([]Transition, error) {
	cv, err := s.EvalRvalue(term.Cond, term.Loc())
	if err != nil {
		return nil, err
	}
	zero := NewConcrete(&cfg.IntType{Name: "int"}, term.Loc(), 0)
	nonZero := combined(cv.IsEqual(zero), zero.IsEqual(cv)).Not()

	mkEdge := func(target *cfg.Block, desc string) Transition {
		ns := s.Copy()
		ns.Block = target
		ns.StmtIndex = 0
		return Transition{Src: s, Dest: ns, Desc: desc}
	}

	switch nonZero {
	case True:
		return []Transition{mkEdge(term.Then, "taking True path")}, nil
	case False:
		return []Transition{mkEdge(term.Else, "taking False path")}, nil
	default:
		return []Transition{
			mkEdge(term.Then, "taking True path"),
			mkEdge(term.Else, "taking False path"),
		}, nil
	}
}

func copyTransitions(ts []Transition) []Transition {
	out := make([]Transition, len(ts))
	copy(out, ts)
	return out
}
