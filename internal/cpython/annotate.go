package cpython

import (
	"fmt"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/types"
)

// RefcountAnnotator narrates one object's ob_refcnt along a trace, adding a
// note at every transition that changed it.
type RefcountAnnotator struct {
	Object *absint.Region
	Desc   string
}

func (a *RefcountAnnotator) Notes(tr absint.Transition) []types.Note {
	before := tr.Src.FieldValue(a.Object, "ob_refcnt")
	after := tr.Dest.FieldValue(a.Object, "ob_refcnt")
	if after == nil || sameValueDesc(before, after) {
		return nil
	}
	return []types.Note{{
		Loc:     tr.Src.Loc(),
		Message: fmt.Sprintf("ob_refcnt of %s is now %s", a.Desc, after),
	}}
}

// ExceptionStateAnnotator narrates changes to the thread-local exception
// indicator.
type ExceptionStateAnnotator struct{}

func (a *ExceptionStateAnnotator) Notes(tr absint.Transition) []types.Note {
	src := FacetOf(tr.Src)
	dst := FacetOf(tr.Dest)
	if src == nil || dst == nil || sameValueDesc(src.Exception, dst.Exception) {
		return nil
	}
	return []types.Note{{
		Loc:     tr.Src.Loc(),
		Message: fmt.Sprintf("thread-local exception state now has value: %s", dst.Exception),
	}}
}

// sameValueDesc compares by rendered form: copies share value instances, so
// a changed binding always renders differently or is a new instance.
func sameValueDesc(a, b absint.Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}
