package cpython

import (
	"fmt"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
)

// RefcountValue is the abstract ob_refcnt of a tracked object. It splits the
// count into the references this function manipulates (Rel) and a lower bound
// on references held elsewhere (MinExternal); the actual count is at least
// Rel+MinExternal. A fresh allocation starts at (1, 0), a borrowed reference
// at (0, 1).
type RefcountValue struct {
	typ cfg.Type
	loc cfg.Location

	Rel         int64
	MinExternal int64
}

// NewRefcount returns the refcount (rel, minExternal) at the given location.
func NewRefcount(loc cfg.Location, rel, minExternal int64) *RefcountValue {
	return &RefcountValue{
		typ:         &cfg.IntType{Name: "Py_ssize_t"},
		loc:         loc,
		Rel:         rel,
		MinExternal: minExternal,
	}
}

// NewRef is the count of a freshly created object owned by this function.
func NewRef(loc cfg.Location) *RefcountValue { return NewRefcount(loc, 1, 0) }

// BorrowedRef is the count of an object this function does not own.
func BorrowedRef(loc cfg.Location) *RefcountValue { return NewRefcount(loc, 0, 1) }

func (v *RefcountValue) Type() cfg.Type    { return v.typ }
func (v *RefcountValue) Loc() cfg.Location { return v.loc }

func (v *RefcountValue) String() string {
	return fmt.Sprintf("refs: %d + N where N >= %d", v.Rel, v.MinExternal)
}

// MinValue is the lower bound on the concrete count.
func (v *RefcountValue) MinValue() int64 { return v.Rel + v.MinExternal }

// EvalBinOp tracks additions and subtractions of concrete deltas, so that
// open-coded "ob_refcnt += 1" manipulation stays precise.
func (v *RefcountValue) EvalBinOp(op cfg.Op, rhs absint.Value, typ cfg.Type, loc cfg.Location) absint.Value {
	if c, ok := rhs.(*absint.ConcreteValue); ok {
		switch op {
		case cfg.OpAdd:
			return NewRefcount(loc, v.Rel+c.Val, v.MinExternal)
		case cfg.OpSub:
			return NewRefcount(loc, v.Rel-c.Val, v.MinExternal)
		}
	}
	return absint.NewUnknown(typ, loc)
}

// IsEqual can refute equality against a constant below the lower bound, but
// never prove it: the external part is unbounded above.
func (v *RefcountValue) IsEqual(rhs absint.Value) absint.Truth {
	if c, ok := rhs.(*absint.ConcreteValue); ok {
		if v.MinValue() > c.Val {
			return absint.False
		}
	}
	return absint.Unknown
}

func (v *RefcountValue) IsLessThan(rhs absint.Value) absint.Truth {
	if c, ok := rhs.(*absint.ConcreteValue); ok {
		if v.MinValue() >= c.Val {
			return absint.False
		}
	}
	return absint.Unknown
}

func (v *RefcountValue) ConstantString() (string, bool) { return "", false }
