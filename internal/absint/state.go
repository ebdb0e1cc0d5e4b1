package absint

import (
	"fmt"
	"sort"

	"github.com/cpyref/refscan/internal/cfg"
)

// State is one snapshot of abstract execution: a CFG location, the
// name-to-region table, the region-to-value store, and any facet data. All
// states of an analysis share one Arena; the maps are exclusively owned by
// their State and copied on every fork.
type State struct {
	Fn    *cfg.Function
	Arena *Arena

	// Block and StmtIndex locate the next statement to execute. StmtIndex
	// equal to len(Block.Stmts) selects the terminator. A nil Block marks a
	// terminal state.
	Block     *cfg.Block
	StmtIndex int

	// ReturnValue is set on terminal states reached through a return.
	ReturnValue Value

	vars   map[string]*Region
	values map[int]Value
	facets map[string]Facet
	order  []string
}

// NewInitialState builds the entry state: parameters bound to fresh unknown
// values, then each facet's Init hook applied in order.
func NewInitialState(fn *cfg.Function, arena *Arena, facets []FacetFactory) (*State, error) {
	s := &State{
		Fn:     fn,
		Arena:  arena,
		Block:  fn.Entry,
		vars:   make(map[string]*Region),
		values: make(map[int]Value),
		facets: make(map[string]Facet),
	}
	for _, p := range fn.Params {
		r := arena.Local(p.Name)
		s.vars[p.Name] = r
		s.values[r.ID] = NewUnknown(p.Type, fn.Location)
	}
	for _, fac := range facets {
		f, err := fac.Init(s, fn)
		if err != nil {
			return nil, fmt.Errorf("initializing facet %s: %w", fac.Name(), err)
		}
		s.facets[fac.Name()] = f
		s.order = append(s.order, fac.Name())
	}
	return s, nil
}

// Terminal reports whether the state has left the function.
func (s *State) Terminal() bool { return s.Block == nil }

// Loc returns the source location of the statement the state is about to
// execute.
func (s *State) Loc() cfg.Location {
	if s.Block == nil {
		return s.Fn.Location
	}
	if s.StmtIndex < len(s.Block.Stmts) {
		return s.Block.Stmts[s.StmtIndex].Loc()
	}
	if s.Block.Term != nil {
		return s.Block.Term.Loc()
	}
	return s.Fn.Location
}

// Copy returns an independent State: same arena and location, fresh maps,
// facets duplicated through their Copy hooks.
func (s *State) Copy() *State {
	ns := &State{
		Fn:          s.Fn,
		Arena:       s.Arena,
		Block:       s.Block,
		StmtIndex:   s.StmtIndex,
		ReturnValue: s.ReturnValue,
		vars:        make(map[string]*Region, len(s.vars)),
		values:      make(map[int]Value, len(s.values)),
		facets:      make(map[string]Facet, len(s.facets)),
		order:       s.order,
	}
	for k, v := range s.vars {
		ns.vars[k] = v
	}
	for k, v := range s.values {
		ns.values[k] = v
	}
	for _, name := range s.order {
		ns.facets[name] = s.facets[name].Copy(ns)
	}
	return ns
}

// CopyAdvanced copies the state and steps past the current statement.
func (s *State) CopyAdvanced() *State {
	ns := s.Copy()
	ns.StmtIndex++
	return ns
}

// Facet returns the named facet instance, or nil.
func (s *State) Facet(name string) Facet { return s.facets[name] }

// EvalLvalue resolves an expression denoting storage to its region,
// constructing memoized field and element subregions as needed.
func (s *State) EvalLvalue(e cfg.Expr, loc cfg.Location) (*Region, error) {
	switch e := e.(type) {
	case *cfg.VarRef:
		if r, ok := s.vars[e.Name]; ok {
			return r, nil
		}
		var r *Region
		if s.Fn.Var(e.Name) != nil {
			r = s.Arena.Local(e.Name)
		} else {
			r = s.Arena.Global(e.Name)
		}
		s.vars[e.Name] = r
		return r, nil
	case *cfg.FieldRef:
		target, err := s.derefTarget(e.Target, e.String(), loc)
		if err != nil {
			return nil, err
		}
		return s.Arena.Field(target, e.Field), nil
	case *cfg.IndexRef:
		target, err := s.derefTarget(e.Target, e.String(), loc)
		if err != nil {
			return nil, err
		}
		idx, err := s.EvalRvalue(e.Index, loc)
		if err != nil {
			return nil, err
		}
		return s.Arena.Element(target, idx), nil
	default:
		return nil, fmt.Errorf("expression %s does not denote storage", e)
	}
}

// derefTarget evaluates a pointer expression and returns the region it
// points at, raising NullDereference when the pointer is provably or
// possibly NULL.
func (s *State) derefTarget(e cfg.Expr, access string, loc cfg.Location) (*Region, error) {
	v, err := s.EvalRvalue(e, loc)
	if err != nil {
		return nil, err
	}
	switch v := v.(type) {
	case *PointerToRegion:
		return v.Region, nil
	case *ConcreteValue:
		if v.Val == 0 {
			return nil, &NullDereference{Location: loc, Expr: access, Definite: true}
		}
		// A non-zero constant address cannot be NULL. Memoize by rendering
		// so repeated dereferences of the same constant alias one region.
		return s.Arena.Global(v.String()), nil
	default:
		return nil, &NullDereference{Location: loc, Expr: access, Definite: false}
	}
}

// EvalRvalue evaluates an expression to its abstract value.
func (s *State) EvalRvalue(e cfg.Expr, loc cfg.Location) (Value, error) {
	switch e := e.(type) {
	case *cfg.IntLit:
		return NewConcrete(e.Type, loc, e.Value), nil
	case *cfg.StrLit:
		return NewString(loc, e.Value), nil
	case *cfg.BinOp:
		x, err := s.EvalRvalue(e.X, loc)
		if err != nil {
			return nil, err
		}
		y, err := s.EvalRvalue(e.Y, loc)
		if err != nil {
			return nil, err
		}
		if e.Op.IsComparison() {
			return CompareValues(e.Op, x, y, loc), nil
		}
		return x.EvalBinOp(e.Op, y, x.Type(), loc), nil
	case *cfg.VarRef, *cfg.FieldRef, *cfg.IndexRef:
		r, err := s.EvalLvalue(e, loc)
		if err != nil {
			return nil, err
		}
		return s.GetStore(r, loc)
	default:
		return nil, fmt.Errorf("cannot evaluate expression %s", e)
	}
}

// GetStore reads the current value of a region. Regions with no assigned
// value fall back to their implicit initial value; storage with none
// (locals, raw allocations) fails with UninitializedRead. Reads within a
// deallocated parent region return the DeallocatedMemory marker so that the
// poison propagates.
func (s *State) GetStore(r *Region, loc cfg.Location) (Value, error) {
	if v, ok := s.values[r.ID]; ok {
		return v, nil
	}
	for anc := r.Parent; anc != nil; anc = anc.Parent {
		if v, ok := s.values[anc.ID]; ok {
			if d, isDealloc := v.(*DeallocatedMemory); isDealloc {
				return d, nil
			}
		}
	}
	root := r
	for root.Parent != nil {
		root = root.Parent
	}
	switch root.Kind {
	case RegionLocal:
		return nil, &UninitializedRead{Location: loc, Region: r}
	case RegionHeap:
		if root.Uninit {
			return nil, &UninitializedRead{Location: loc, Region: r}
		}
	}
	return NewUnknown(nil, loc), nil
}

// SetStore installs a new value for a region, replacing any previous one.
func (s *State) SetStore(r *Region, v Value) {
	s.values[r.ID] = v
}

// Assign returns a new State in which region r holds v; the receiver is
// unchanged.
func (s *State) Assign(r *Region, v Value) *State {
	ns := s.Copy()
	ns.SetStore(r, v)
	return ns
}

// AssignExpr stores v into the storage denoted by lhs, mutating s. Callers
// fork first.
func (s *State) AssignExpr(lhs cfg.Expr, v Value, loc cfg.Location) error {
	r, err := s.EvalLvalue(lhs, loc)
	if err != nil {
		return err
	}
	s.SetStore(r, v)
	return nil
}

// MarkDeallocated trashes a region: values of its materialized subregions
// are dropped and the region itself is marked DeallocatedMemory, which
// GetStore then reports for any access within it.
func (s *State) MarkDeallocated(r *Region, loc cfg.Location) {
	var drop func(*Region)
	drop = func(reg *Region) {
		for _, name := range reg.FieldNames() {
			sub := reg.fields[name]
			delete(s.values, sub.ID)
			drop(sub)
		}
		for _, sub := range reg.elements {
			delete(s.values, sub.ID)
		}
	}
	drop(r)
	s.values[r.ID] = NewDeallocated(loc)
}

// FieldValue returns the stored value of a materialized field subregion, or
// nil when the field was never touched.
func (s *State) FieldValue(r *Region, name string) Value {
	sub := r.FieldIfPresent(name)
	if sub == nil {
		return nil
	}
	return s.values[sub.ID]
}

// PersistentRefs returns the non-stack regions currently holding a pointer
// to target, in region-creation order. These locations count toward the
// target's expected reference count.
func (s *State) PersistentRefs(target *Region) []*Region {
	var refs []*Region
	ids := make([]int, 0, len(s.values))
	for id := range s.values {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		ptr, ok := s.values[id].(*PointerToRegion)
		if !ok || ptr.Region != target {
			continue
		}
		holder := s.Arena.regions[id-1]
		if holder.OnStack() {
			continue
		}
		refs = append(refs, holder)
	}
	return refs
}

// VarRegion returns the region bound to a variable name, if bound.
func (s *State) VarRegion(name string) *Region { return s.vars[name] }

// StoreIfPresent returns the value bound to r, or nil when nothing has been
// stored there. Unlike GetStore it never raises an uninitialized read.
func (s *State) StoreIfPresent(r *Region) Value { return s.values[r.ID] }

// typeOfExpr resolves the static type of simple expressions; used to type
// values synthesized by call models.
func (s *State) typeOfExpr(e cfg.Expr) cfg.Type {
	if ref, ok := e.(*cfg.VarRef); ok {
		if v := s.Fn.Var(ref.Name); v != nil {
			return v.Type
		}
	}
	return &cfg.IntType{Name: "int"}
}

// Transition is one edge of trace exploration: a source state, a destination
// state, and an optional diagnostic description.
type Transition struct {
	Src  *State
	Dest *State
	Desc string
}

// MkTransAssignment forks the state past the current statement, assigning v
// to lhs (which may be nil, for calls whose result is discarded).
func (s *State) MkTransAssignment(lhs cfg.Expr, v Value, desc string) (Transition, error) {
	ns := s.CopyAdvanced()
	if lhs != nil && v != nil {
		if err := ns.AssignExpr(lhs, v, s.Loc()); err != nil {
			return Transition{}, err
		}
	}
	return Transition{Src: s, Dest: ns, Desc: desc}, nil
}

// MkStateConcreteReturn forks the state past call, assigning the concrete
// integer result to the call's LHS.
func (s *State) MkStateConcreteReturn(call *cfg.CallStmt, result int64) (*State, error) {
	ns := s.CopyAdvanced()
	if call.LHS != nil {
		t := s.typeOfExpr(call.LHS)
		if err := ns.AssignExpr(call.LHS, NewConcrete(t, call.Loc(), result), call.Loc()); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

// TransitionsForCall pairs the standard success/failure outcome states of a
// modeled call into described transitions.
func (s *State) TransitionsForCall(callee string, success, failure *State) []Transition {
	return []Transition{
		{Src: s, Dest: success, Desc: fmt.Sprintf("when %s() succeeds", callee)},
		{Src: s, Dest: failure, Desc: fmt.Sprintf("when %s() fails", callee)},
	}
}
