package cpython

import (
	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
)

// FacetName is the registration name of the CPython policy facet.
const FacetName = "cpython"

// Facet carries the CPython-specific portion of an abstract state: the
// thread-local exception indicator. Reference counts live in the shared
// store, as RefcountValue bindings on ob_refcnt field regions.
type Facet struct {
	state *absint.State

	// Exception is the thread-local exception indicator. A concrete NULL
	// means no exception is set; a pointer to a PyExc_* global means one is.
	Exception absint.Value
}

func (f *Facet) Name() string { return FacetName }

func (f *Facet) Copy(dst *absint.State) absint.Facet {
	return &Facet{state: dst, Exception: f.Exception}
}

// FacetOf returns the CPython facet attached to s, or nil.
func FacetOf(s *absint.State) *Facet {
	f, _ := s.Facet(FacetName).(*Facet)
	return f
}

// Factory wires the CPython facet into the engine: it seeds initial states
// and owns the callee-name dispatch table.
type Factory struct {
	handlers map[string]absint.CallHandler
}

func NewFactory() *Factory {
	f := &Factory{}
	f.handlers = handlerTable()
	return f
}

func (*Factory) Name() string { return FacetName }

// Init attaches the facet with no exception set, and materializes an object
// region behind every PyObject*-typed parameter: callers pass borrowed,
// non-NULL references, so each parameter points at a distinct object whose
// ob_refcnt is at least one and whose ob_type is a valid type object.
func (fac *Factory) Init(s *absint.State, fn *cfg.Function) (absint.Facet, error) {
	f := &Facet{
		state:     s,
		Exception: absint.NewConcrete(PyObjectPtr(), fn.Location, 0),
	}
	for _, p := range fn.Params {
		if !IsPyObjectPtr(p.Type) {
			continue
		}
		obj := s.Arena.Object("*" + p.Name)
		s.SetStore(s.VarRegion(p.Name), absint.NewPointer(p.Type, fn.Location, obj))
		s.SetStore(s.Arena.Field(obj, "ob_refcnt"), BorrowedRef(fn.Location))
		typeObj := s.Arena.Object(p.Name + "->ob_type")
		s.SetStore(s.Arena.Field(obj, "ob_type"),
			absint.NewPointer(PyTypeObjectPtr(), fn.Location, typeObj))
	}
	return f, nil
}

func (fac *Factory) HandlerFor(callee string) absint.CallHandler {
	return fac.handlers[callee]
}

// SetException points the exception indicator at the named PyExc_* global.
func (f *Facet) SetException(excName string, loc cfg.Location) {
	f.Exception = absint.NewPointer(PyObjectPtr(), loc, f.state.Arena.Global(excName))
}

// ClearException resets the indicator to "no exception".
func (f *Facet) ClearException(loc cfg.Location) {
	f.Exception = absint.NewConcrete(PyObjectPtr(), loc, 0)
}

func (f *Facet) adjust(v absint.Value, fn func(*RefcountValue) *RefcountValue) {
	ptr, ok := v.(*absint.PointerToRegion)
	if !ok {
		return
	}
	rv, ok := f.state.FieldValue(ptr.Region, "ob_refcnt").(*RefcountValue)
	if !ok {
		return
	}
	f.state.SetStore(f.state.Arena.Field(ptr.Region, "ob_refcnt"), fn(rv))
}

// AddRef models Py_INCREF of the object v points at.
func (f *Facet) AddRef(v absint.Value, loc cfg.Location) {
	f.adjust(v, func(rv *RefcountValue) *RefcountValue {
		return NewRefcount(loc, rv.Rel+1, rv.MinExternal)
	})
}

// DecRef models Py_DECREF. Object destruction at zero is not modeled; the
// verifier flags counts that drop below the expected level instead.
func (f *Facet) DecRef(v absint.Value, loc cfg.Location) {
	f.adjust(v, func(rv *RefcountValue) *RefcountValue {
		return NewRefcount(loc, rv.Rel-1, rv.MinExternal)
	})
}

// AddExternalRef raises the external lower bound, for references now held by
// storage outside this function's view.
func (f *Facet) AddExternalRef(v absint.Value, loc cfg.Location) {
	f.adjust(v, func(rv *RefcountValue) *RefcountValue {
		return NewRefcount(loc, rv.Rel, rv.MinExternal+1)
	})
}

// StealRef transfers one locally owned reference to external storage, as
// reference-stealing APIs such as PyList_SetItem do.
func (f *Facet) StealRef(v absint.Value, loc cfg.Location) {
	f.adjust(v, func(rv *RefcountValue) *RefcountValue {
		return NewRefcount(loc, rv.Rel-1, rv.MinExternal+1)
	})
}

// NewObject materializes a well-formed object in a fresh heap region: an
// ob_refcnt holding rv and an ob_type pointing at a distinct type object.
func (f *Facet) NewObject(call *cfg.CallStmt, name string, rv *RefcountValue) *absint.Region {
	loc := call.Loc()
	obj := f.state.Arena.Heap(name, call)
	f.state.SetStore(f.state.Arena.Field(obj, "ob_refcnt"), rv)
	typeObj := f.state.Arena.Object("type of " + name)
	f.state.SetStore(f.state.Arena.Field(obj, "ob_type"),
		absint.NewPointer(PyTypeObjectPtr(), loc, typeObj))
	return obj
}

// stateNewRef forks past call into a state where it returned a new object
// owned by the caller.
func (f *Facet) stateNewRef(call *cfg.CallStmt, name string) (*absint.State, *absint.Region, error) {
	ns := f.state.CopyAdvanced()
	obj := FacetOf(ns).NewObject(call, name, NewRef(call.Loc()))
	if call.LHS != nil {
		ptr := absint.NewPointer(PyObjectPtr(), call.Loc(), obj)
		if err := ns.AssignExpr(call.LHS, ptr, call.Loc()); err != nil {
			return nil, nil, err
		}
	}
	return ns, obj, nil
}

// stateBorrowedRef is stateNewRef for APIs that do not transfer ownership.
func (f *Facet) stateBorrowedRef(call *cfg.CallStmt, name string) (*absint.State, *absint.Region, error) {
	ns := f.state.CopyAdvanced()
	obj := FacetOf(ns).NewObject(call, name, BorrowedRef(call.Loc()))
	if call.LHS != nil {
		ptr := absint.NewPointer(PyObjectPtr(), call.Loc(), obj)
		if err := ns.AssignExpr(call.LHS, ptr, call.Loc()); err != nil {
			return nil, nil, err
		}
	}
	return ns, obj, nil
}

// stateException forks past call into a failure state: NULL result, with
// the named exception set.
func (f *Facet) stateException(call *cfg.CallStmt, excName string) (*absint.State, error) {
	ns := f.state.CopyAdvanced()
	if call.LHS != nil {
		null := absint.NewConcrete(PyObjectPtr(), call.Loc(), 0)
		if err := ns.AssignExpr(call.LHS, null, call.Loc()); err != nil {
			return nil, err
		}
	}
	FacetOf(ns).SetException(excName, call.Loc())
	return ns, nil
}

// requireNonNull enforces a "must not be NULL" call precondition.
func requireNonNull(call *cfg.CallStmt, idx int, v absint.Value, why string) error {
	if c, ok := v.(*absint.ConcreteValue); ok && c.IsNullPtr() {
		return &absint.NullArgument{
			Location: call.Loc(),
			Callee:   call.Callee,
			ArgIndex: idx + 1,
			Why:      why,
		}
	}
	return nil
}
