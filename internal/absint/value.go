// Package absint implements the path-sensitive abstract interpretation core:
// the symbolic value lattice, the region-based memory model, per-state
// symbolic stores, and the bounded trace explorer. Ownership policies (such
// as CPython reference counting) plug in through the Facet seam and are not
// part of this package.
package absint

import (
	"fmt"

	"github.com/cpyref/refscan/internal/cfg"
)

// Truth is a three-valued comparison result. The zero value is Unknown so
// that a forgotten assignment never silently reads as False.
type Truth int8

const (
	Unknown Truth = iota
	True
	False
)

func (t Truth) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// Not negates a tri-state value; Unknown stays Unknown.
func (t Truth) Not() Truth {
	switch t {
	case True:
		return False
	case False:
		return True
	default:
		return Unknown
	}
}

func truthFromBool(b bool) Truth {
	if b {
		return True
	}
	return False
}

// Value is a symbolic value stored in a region. Implementations outside this
// package (facet-specific refinements) must satisfy the same contract:
// comparisons answer with tri-state Truth, and EvalBinOp returns an
// UnknownValue of the result type whenever it cannot compute.
type Value interface {
	Type() cfg.Type
	Loc() cfg.Location
	String() string

	// EvalBinOp evaluates "v op rhs" for arithmetic operators. Comparison
	// operators go through IsEqual/IsLessThan instead.
	EvalBinOp(op cfg.Op, rhs Value, typ cfg.Type, loc cfg.Location) Value
	// IsEqual reports whether v provably equals rhs.
	IsEqual(rhs Value) Truth
	// IsLessThan reports whether v is provably less than rhs.
	IsLessThan(rhs Value) Truth
	// ConstantString extracts a string literal, for call models that
	// interpret string arguments.
	ConstantString() (string, bool)
}

// valueBase supplies the conservative defaults shared by all variants.
type valueBase struct {
	typ cfg.Type
	loc cfg.Location
}

func (b valueBase) Type() cfg.Type    { return b.typ }
func (b valueBase) Loc() cfg.Location { return b.loc }

func (b valueBase) EvalBinOp(op cfg.Op, rhs Value, typ cfg.Type, loc cfg.Location) Value {
	return NewUnknown(typ, loc)
}

func (b valueBase) IsEqual(Value) Truth            { return Unknown }
func (b valueBase) IsLessThan(Value) Truth         { return Unknown }
func (b valueBase) ConstantString() (string, bool) { return "", false }

// ConcreteValue is an exactly known integer or pointer constant. A zero
// value with pointer type is the NULL pointer.
type ConcreteValue struct {
	valueBase
	Val int64
}

// NewConcrete returns a concrete value of the given type.
func NewConcrete(t cfg.Type, loc cfg.Location, v int64) *ConcreteValue {
	return &ConcreteValue{valueBase: valueBase{typ: t, loc: loc}, Val: v}
}

// IsNullPtr reports whether the value is the NULL pointer constant.
func (v *ConcreteValue) IsNullPtr() bool {
	_, isPtr := v.typ.(*cfg.PointerType)
	return isPtr && v.Val == 0
}

func (v *ConcreteValue) String() string {
	if v.IsNullPtr() {
		return "NULL"
	}
	return fmt.Sprintf("(%s)%d", typeName(v.typ), v.Val)
}

func (v *ConcreteValue) EvalBinOp(op cfg.Op, rhs Value, typ cfg.Type, loc cfg.Location) Value {
	rc, ok := rhs.(*ConcreteValue)
	if !ok {
		return NewUnknown(typ, loc)
	}
	switch op {
	case cfg.OpAdd:
		return NewConcrete(typ, loc, v.Val+rc.Val)
	case cfg.OpSub:
		return NewConcrete(typ, loc, v.Val-rc.Val)
	}
	return NewUnknown(typ, loc)
}

func (v *ConcreteValue) IsEqual(rhs Value) Truth {
	switch r := rhs.(type) {
	case *ConcreteValue:
		return truthFromBool(v.Val == r.Val)
	case *PointerToRegion:
		// A region pointer is never NULL.
		if v.Val == 0 {
			return False
		}
	}
	return Unknown
}

func (v *ConcreteValue) IsLessThan(rhs Value) Truth {
	if r, ok := rhs.(*ConcreteValue); ok {
		return truthFromBool(v.Val < r.Val)
	}
	return Unknown
}

// UnknownValue is the top of the lattice for its type: no facts are known.
type UnknownValue struct {
	valueBase
}

// NewUnknown returns the unknown value of the given type.
func NewUnknown(t cfg.Type, loc cfg.Location) *UnknownValue {
	return &UnknownValue{valueBase: valueBase{typ: t, loc: loc}}
}

func (v *UnknownValue) String() string {
	return fmt.Sprintf("(%s)?", typeName(v.typ))
}

// StringValue is a known C string literal.
type StringValue struct {
	valueBase
	Val string
}

// NewString returns a concrete string value.
func NewString(loc cfg.Location, s string) *StringValue {
	t := &cfg.PointerType{Elem: &cfg.CharType{}}
	return &StringValue{valueBase: valueBase{typ: t, loc: loc}, Val: s}
}

func (v *StringValue) String() string                 { return fmt.Sprintf("%q", v.Val) }
func (v *StringValue) ConstantString() (string, bool) { return v.Val, true }

// PointerToRegion is a non-NULL pointer aliasing exactly one region.
type PointerToRegion struct {
	valueBase
	Region *Region
}

// NewPointer returns a pointer value aliasing region r.
func NewPointer(t cfg.Type, loc cfg.Location, r *Region) *PointerToRegion {
	return &PointerToRegion{valueBase: valueBase{typ: t, loc: loc}, Region: r}
}

func (v *PointerToRegion) String() string {
	return fmt.Sprintf("&%s", v.Region)
}

func (v *PointerToRegion) IsEqual(rhs Value) Truth {
	switch r := rhs.(type) {
	case *ConcreteValue:
		if r.Val == 0 {
			return False
		}
	case *PointerToRegion:
		// Regions alias iff they are the same region.
		return truthFromBool(v.Region == r.Region)
	}
	return Unknown
}

// DeallocatedMemory marks a region whose storage has been released. Reading
// or returning it is a defect.
type DeallocatedMemory struct {
	valueBase
}

// NewDeallocated marks storage freed at loc.
func NewDeallocated(loc cfg.Location) *DeallocatedMemory {
	return &DeallocatedMemory{valueBase: valueBase{loc: loc}}
}

func (v *DeallocatedMemory) String() string {
	return fmt.Sprintf("memory deallocated at %s", v.loc)
}

// CompareValues evaluates a comparison operator over two values using their
// tri-state capabilities, consulting both operands so that refinements on
// either side get a chance to answer.
func CompareValues(op cfg.Op, a, b Value, loc cfg.Location) Value {
	var t Truth
	switch op {
	case cfg.OpEq:
		t = combined(a.IsEqual(b), b.IsEqual(a))
	case cfg.OpNe:
		t = combined(a.IsEqual(b), b.IsEqual(a)).Not()
	case cfg.OpLt:
		t = a.IsLessThan(b)
	case cfg.OpGe:
		t = a.IsLessThan(b).Not()
	case cfg.OpGt:
		t = b.IsLessThan(a)
	case cfg.OpLe:
		t = b.IsLessThan(a).Not()
	default:
		t = Unknown
	}
	intType := &cfg.IntType{Name: "int"}
	switch t {
	case True:
		return NewConcrete(intType, loc, 1)
	case False:
		return NewConcrete(intType, loc, 0)
	default:
		return NewUnknown(intType, loc)
	}
}

// combined merges two tri-state answers to the same question.
func combined(a, b Truth) Truth {
	if a != Unknown {
		return a
	}
	return b
}

func typeName(t cfg.Type) string {
	if t == nil {
		return "?"
	}
	return t.String()
}
