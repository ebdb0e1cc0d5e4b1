package cpython

import (
	"fmt"
	"strings"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/report"
)

// Check names reported by the trace verifier.
const (
	CheckRefcount             = "object-refcount"
	CheckDeallocatedReturn    = "returning-deallocated"
	CheckNullWithoutException = "null-without-exception"
)

// VerifyTrace audits the final state of one completed, error-free trace and
// reports ownership violations. For each tracked object the expected locally
// owned reference delta is:
//
//	(1 if the object is the return value and the function does not return a
//	borrowed reference)
//	+ one per non-stack location still holding a pointer to it
//	- one per stolen parameter bound to it
//
// and any ob_refcnt whose Rel differs from that is reported as too high or
// too low.
func VerifyTrace(rep *report.Reporter, fn *cfg.Function, trace *absint.Trace) {
	end := trace.FinalState()
	if end == nil {
		return
	}
	ret := trace.ReturnValue()
	var retRegion *absint.Region
	if p, ok := ret.(*absint.PointerToRegion); ok {
		retRegion = p.Region
	}

	stolen := stolenRegions(fn, trace)
	for _, obj := range end.Arena.Regions() {
		rv, ok := end.FieldValue(obj, "ob_refcnt").(*RefcountValue)
		if !ok {
			continue
		}
		verifyObject(rep, fn, trace, end, obj, rv, retRegion, stolen[obj])
	}

	if retRegion != nil {
		if d, ok := end.StoreIfPresent(retRegion).(*absint.DeallocatedMemory); ok {
			r := rep.MakeError(CheckDeallocatedReturn, fn.Name, trace.EndLoc(),
				"returning pointer to deallocated memory")
			r.AddNote(d.Loc(), "memory deallocated here")
			r.AddTrace(trace)
		}
	}

	verifyNullReturn(rep, fn, trace, end, ret)
}

// stolenRegions resolves the function's stolen-parameter annotations against
// the objects those parameters pointed at on entry.
func stolenRegions(fn *cfg.Function, trace *absint.Trace) map[*absint.Region]int {
	init := trace.InitialState()
	stolen := make(map[*absint.Region]int)
	if init == nil {
		return stolen
	}
	for _, idx := range fn.StealsRefs {
		if idx < 1 || idx > len(fn.Params) {
			continue
		}
		pr := init.VarRegion(fn.Params[idx-1].Name)
		if pr == nil {
			continue
		}
		if p, ok := init.StoreIfPresent(pr).(*absint.PointerToRegion); ok {
			stolen[p.Region]++
		}
	}
	return stolen
}

func verifyObject(rep *report.Reporter, fn *cfg.Function, trace *absint.Trace,
	end *absint.State, obj *absint.Region, rv *RefcountValue,
	retRegion *absint.Region, stolen int) {

	var expRefs []string
	if obj == retRegion && !fn.ReturnsBorrowed {
		expRefs = append(expRefs, "return value")
	}
	for _, holder := range end.PersistentRefs(obj) {
		expRefs = append(expRefs, holder.Name)
	}
	exp := int64(len(expRefs)) - int64(stolen)
	if rv.Rel == exp {
		return
	}

	desc := regionDesc(obj, retRegion)
	var msg string
	if rv.Rel > exp {
		msg = fmt.Sprintf("ob_refcnt of %s is %d too high", desc, rv.Rel-exp)
	} else {
		msg = fmt.Sprintf("ob_refcnt of %s is %d too low", desc, exp-rv.Rel)
	}
	r := rep.MakeError(CheckRefcount, fn.Name, trace.EndLoc(), msg)
	r.AddNote(trace.EndLoc(),
		fmt.Sprintf("was expecting final ob_refcnt to be N + %d (for some unknown N)", exp))
	if len(expRefs) > 0 {
		r.AddNote(trace.EndLoc(),
			fmt.Sprintf("due to object being referenced by: %s", strings.Join(expRefs, ", ")))
	}
	r.AddNote(trace.EndLoc(), fmt.Sprintf("but final ob_refcnt is N + %d", rv.Rel))
	if obj.AllocStmt != nil {
		r.AddNote(obj.AllocLoc(), fmt.Sprintf("%s allocated here", desc))
	}
	r.AddTrace(trace, &RefcountAnnotator{Object: obj, Desc: desc})
}

// verifyNullReturn flags returning (PyObject*)NULL while the exception
// indicator is provably unset. An unknown indicator is not reported.
func verifyNullReturn(rep *report.Reporter, fn *cfg.Function, trace *absint.Trace,
	end *absint.State, ret absint.Value) {

	cv, ok := ret.(*absint.ConcreteValue)
	if !ok || cv.Val != 0 || !IsPyObjectPtr(cv.Type()) {
		return
	}
	f := FacetOf(end)
	if f == nil {
		return
	}
	exc, ok := f.Exception.(*absint.ConcreteValue)
	if !ok || exc.Val != 0 {
		return
	}
	r := rep.MakeError(CheckNullWithoutException, fn.Name, trace.EndLoc(),
		"returning (PyObject*)NULL without setting an exception")
	r.AddTrace(trace, &ExceptionStateAnnotator{})
}

func regionDesc(obj, retRegion *absint.Region) string {
	if obj == retRegion {
		return "return value"
	}
	return "'" + obj.Name + "'"
}
