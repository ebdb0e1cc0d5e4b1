package cpython

import (
	"fmt"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
)

// handlerTable maps callee names to their models. Adding API coverage means
// adding an entry here; the engine dispatches purely by name. Documents are
// user-authored, so handlers that inspect arguments are wrapped with an
// arity guard rather than trusting the call site.
func handlerTable() map[string]absint.CallHandler {
	t := map[string]absint.CallHandler{
		"Py_INCREF":  fixedArgs(1, handleIncref),
		"Py_IncRef":  fixedArgs(1, handleIncref),
		"Py_XINCREF": fixedArgs(1, handleXIncref),
		"Py_DECREF":  fixedArgs(1, handleDecref),
		"Py_DecRef":  fixedArgs(1, handleDecref),
		"Py_XDECREF": fixedArgs(1, handleXDecref),

		"PyList_Append":   fixedArgs(2, handleListAppend),
		"PyList_SetItem":  fixedArgs(3, handleStealingSetItem),
		"PyList_GetItem":  fixedArgs(2, handleBorrowedGetItem),
		"PyTuple_SetItem": fixedArgs(3, handleStealingSetItem),
		"PyTuple_GetItem": fixedArgs(2, handleBorrowedGetItem),
		"PyDict_SetItem":  fixedArgs(3, handleDictSetItem),
		"PyDict_GetItem":  fixedArgs(2, handleDictGetItem),

		"PyErr_SetString": fixedArgs(2, handleErrSetString),
		"PyErr_Format":    minArgs(1, handleErrFormat),
		"PyErr_NoMemory":  handleErrNoMemory,
		"PyErr_Occurred":  handleErrOccurred,
		"PyErr_Clear":     handleErrClear,

		"PyBool_FromLong": fixedArgs(1, handleInfallibleCtor),

		"PyMem_Malloc": fixedArgs(1, handleRawMalloc),
		"malloc":       fixedArgs(1, handleRawMalloc),
		"PyMem_Free":   fixedArgs(1, handleRawFree),
		"free":         fixedArgs(1, handleRawFree),
	}
	// Constructors that hand back a new reference or fail with MemoryError
	// all share one shape.
	for _, name := range []string{
		"PyList_New",
		"PyDict_New",
		"PyTuple_New",
		"PyLong_FromLong",
		"PyInt_FromLong",
		"PyFloat_FromDouble",
		"PyString_FromString",
		"PyUnicode_FromString",
		"PyImport_ImportModule",
		"PyObject_Repr",
		"PyObject_Str",
		"PySequence_GetItem",
	} {
		t[name] = handleNewRefCtor
	}
	return t
}

// fixedArgs rejects calls whose argument count does not match the modeled
// signature before the handler indexes into args. The resulting error aborts
// the analysis of the document, not just one trace.
func fixedArgs(n int, h absint.CallHandler) absint.CallHandler {
	return func(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
		if len(args) != n {
			return nil, fmt.Errorf("call to %s has %d arguments, want %d", call.Callee, len(args), n)
		}
		return h(s, call, args)
	}
}

// minArgs is fixedArgs for variadic callees such as PyErr_Format.
func minArgs(n int, h absint.CallHandler) absint.CallHandler {
	return func(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
		if len(args) < n {
			return nil, fmt.Errorf("call to %s has %d arguments, want at least %d", call.Callee, len(args), n)
		}
		return h(s, call, args)
	}
}

func valueDesc(v absint.Value) string {
	if p, ok := v.(*absint.PointerToRegion); ok {
		return "'" + p.Region.Name + "'"
	}
	return v.String()
}

// handleNewRefCtor models the common "new reference or NULL with
// MemoryError" constructor shape.
func handleNewRefCtor(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	f := FacetOf(s)
	success, _, err := f.stateNewRef(call, "new ref from call to "+call.Callee)
	if err != nil {
		return nil, err
	}
	failure, err := f.stateException(call, "PyExc_MemoryError")
	if err != nil {
		return nil, err
	}
	return s.TransitionsForCall(call.Callee, success, failure), nil
}

// handleInfallibleCtor models constructors that always return a new
// reference, such as PyBool_FromLong.
func handleInfallibleCtor(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns, _, err := FacetOf(s).stateNewRef(call, "new ref from call to "+call.Callee)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("when %s() returns", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleIncref(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "macro dereferences its argument"); err != nil {
		return nil, err
	}
	ns := s.CopyAdvanced()
	FacetOf(ns).AddRef(args[0], call.Loc())
	desc := fmt.Sprintf("%s() on %s", call.Callee, valueDesc(args[0]))
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleXIncref(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if c, ok := args[0].(*absint.ConcreteValue); ok && c.IsNullPtr() {
		ns := s.CopyAdvanced()
		desc := fmt.Sprintf("%s() is a no-op on NULL", call.Callee)
		return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
	}
	ns := s.CopyAdvanced()
	FacetOf(ns).AddRef(args[0], call.Loc())
	desc := fmt.Sprintf("%s() on %s", call.Callee, valueDesc(args[0]))
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleDecref(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "macro dereferences its argument"); err != nil {
		return nil, err
	}
	ns := s.CopyAdvanced()
	FacetOf(ns).DecRef(args[0], call.Loc())
	desc := fmt.Sprintf("%s() on %s", call.Callee, valueDesc(args[0]))
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleXDecref(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if c, ok := args[0].(*absint.ConcreteValue); ok && c.IsNullPtr() {
		ns := s.CopyAdvanced()
		desc := fmt.Sprintf("%s() is a no-op on NULL", call.Callee)
		return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
	}
	ns := s.CopyAdvanced()
	FacetOf(ns).DecRef(args[0], call.Loc())
	desc := fmt.Sprintf("%s() on %s", call.Callee, valueDesc(args[0]))
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

// handleListAppend models PyList_Append: on success the list holds a new
// reference of its own to the item, so the item's external bound rises.
func handleListAppend(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "list operand is dereferenced"); err != nil {
		return nil, err
	}
	if err := requireNonNull(call, 1, args[1], "item operand is dereferenced"); err != nil {
		return nil, err
	}
	success, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	FacetOf(success).AddExternalRef(args[1], call.Loc())
	failure, err := s.MkStateConcreteReturn(call, -1)
	if err != nil {
		return nil, err
	}
	FacetOf(failure).SetException("PyExc_MemoryError", call.Loc())
	return s.TransitionsForCall(call.Callee, success, failure), nil
}

// handleStealingSetItem models the stealing setters PyList_SetItem and
// PyTuple_SetItem: the container takes over the caller's reference to the
// item, turning one locally owned reference into an external one.
func handleStealingSetItem(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "container operand is dereferenced"); err != nil {
		return nil, err
	}
	success, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	FacetOf(success).StealRef(args[2], call.Loc())
	desc := fmt.Sprintf("when %s() succeeds", call.Callee)
	return []absint.Transition{{Src: s, Dest: success, Desc: desc}}, nil
}

// handleBorrowedGetItem models PyList_GetItem/PyTuple_GetItem, which return
// a borrowed reference without an out-of-range check here.
func handleBorrowedGetItem(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "container operand is dereferenced"); err != nil {
		return nil, err
	}
	ns, _, err := FacetOf(s).stateBorrowedRef(call, "borrowed ref from call to "+call.Callee)
	if err != nil {
		return nil, err
	}
	desc := fmt.Sprintf("when %s() returns", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleDictSetItem(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	for i, why := range []string{
		"dict operand is dereferenced",
		"key operand is dereferenced",
		"value operand is dereferenced",
	} {
		if err := requireNonNull(call, i, args[i], why); err != nil {
			return nil, err
		}
	}
	success, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	// The dict holds its own references to both key and value.
	FacetOf(success).AddExternalRef(args[1], call.Loc())
	FacetOf(success).AddExternalRef(args[2], call.Loc())
	failure, err := s.MkStateConcreteReturn(call, -1)
	if err != nil {
		return nil, err
	}
	FacetOf(failure).SetException("PyExc_MemoryError", call.Loc())
	return s.TransitionsForCall(call.Callee, success, failure), nil
}

// handleDictGetItem models PyDict_GetItem: a borrowed reference when the key
// is present, NULL without setting an exception when it is not.
func handleDictGetItem(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if err := requireNonNull(call, 0, args[0], "dict operand is dereferenced"); err != nil {
		return nil, err
	}
	found, _, err := FacetOf(s).stateBorrowedRef(call, "borrowed ref from call to "+call.Callee)
	if err != nil {
		return nil, err
	}
	missing, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	return []absint.Transition{
		{Src: s, Dest: found, Desc: fmt.Sprintf("when %s() finds the key", call.Callee)},
		{Src: s, Dest: missing, Desc: fmt.Sprintf("when %s() does not find the key", call.Callee)},
	}, nil
}

// setExceptionFromArg points the indicator at the PyExc_* global named by the
// first argument expression when it is one, falling back to the evaluated
// value.
func setExceptionFromArg(ns *absint.State, call *cfg.CallStmt, arg absint.Value) {
	f := FacetOf(ns)
	if vr, ok := call.Args[0].(*cfg.VarRef); ok && ns.Fn.Var(vr.Name) == nil {
		f.SetException(vr.Name, call.Loc())
		return
	}
	f.Exception = arg
}

func handleErrSetString(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns := s.CopyAdvanced()
	setExceptionFromArg(ns, call, args[0])
	desc := fmt.Sprintf("%s()", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleErrFormat(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	setExceptionFromArg(ns, call, args[0])
	desc := fmt.Sprintf("%s()", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleErrNoMemory(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	FacetOf(ns).SetException("PyExc_MemoryError", call.Loc())
	desc := fmt.Sprintf("%s()", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

// handleErrOccurred returns the current exception indicator itself, so a
// NULL-check on the result refines exactly when an exception is known set.
func handleErrOccurred(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns := s.CopyAdvanced()
	if call.LHS != nil {
		if err := ns.AssignExpr(call.LHS, FacetOf(s).Exception, call.Loc()); err != nil {
			return nil, err
		}
	}
	desc := fmt.Sprintf("when %s() returns", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

func handleErrClear(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	ns := s.CopyAdvanced()
	FacetOf(ns).ClearException(call.Loc())
	desc := fmt.Sprintf("%s()", call.Callee)
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}

// handleRawMalloc models PyMem_Malloc/malloc: a fresh uninitialized heap
// region on success, NULL on failure. No exception is set either way.
func handleRawMalloc(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	success := s.CopyAdvanced()
	mem := success.Arena.Heap(fmt.Sprintf("dynamically allocated memory from %s()", call.Callee), call)
	mem.Uninit = true
	if call.LHS != nil {
		ptr := absint.NewPointer(&cfg.PointerType{Elem: &cfg.VoidType{}}, call.Loc(), mem)
		if err := success.AssignExpr(call.LHS, ptr, call.Loc()); err != nil {
			return nil, err
		}
	}
	failure, err := s.MkStateConcreteReturn(call, 0)
	if err != nil {
		return nil, err
	}
	return s.TransitionsForCall(call.Callee, success, failure), nil
}

func handleRawFree(s *absint.State, call *cfg.CallStmt, args []absint.Value) ([]absint.Transition, error) {
	if c, ok := args[0].(*absint.ConcreteValue); ok && c.IsNullPtr() {
		ns := s.CopyAdvanced()
		desc := fmt.Sprintf("%s() is a no-op on NULL", call.Callee)
		return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
	}
	ns := s.CopyAdvanced()
	desc := fmt.Sprintf("%s() on %s", call.Callee, valueDesc(args[0]))
	if p, ok := args[0].(*absint.PointerToRegion); ok {
		ns.MarkDeallocated(p.Region, call.Loc())
	}
	return []absint.Transition{{Src: s, Dest: ns, Desc: desc}}, nil
}
