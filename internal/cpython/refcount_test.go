package cpython

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
)

var testLoc = cfg.Location{File: "t.c", Line: 1}

func TestRefcountConstructors(t *testing.T) {
	fresh := NewRef(testLoc)
	assert.Equal(t, int64(1), fresh.Rel)
	assert.Equal(t, int64(0), fresh.MinExternal)
	assert.Equal(t, int64(1), fresh.MinValue())

	borrowed := BorrowedRef(testLoc)
	assert.Equal(t, int64(0), borrowed.Rel)
	assert.Equal(t, int64(1), borrowed.MinExternal)
	assert.Equal(t, int64(1), borrowed.MinValue())
}

func TestRefcountString(t *testing.T) {
	assert.Equal(t, "refs: 1 + N where N >= 0", NewRef(testLoc).String())
	assert.Equal(t, "refs: 0 + N where N >= 1", BorrowedRef(testLoc).String())
	assert.Equal(t, "refs: -1 + N where N >= 2", NewRefcount(testLoc, -1, 2).String())
}

func TestRefcountArithmetic(t *testing.T) {
	intType := &cfg.IntType{Name: "int"}
	one := absint.NewConcrete(intType, testLoc, 1)

	t.Run("AddConcrete", func(t *testing.T) {
		got, ok := NewRef(testLoc).EvalBinOp(cfg.OpAdd, one, intType, testLoc).(*RefcountValue)
		require.True(t, ok, "open-coded ob_refcnt += 1 stays tracked")
		assert.Equal(t, int64(2), got.Rel)
		assert.Equal(t, int64(0), got.MinExternal)
	})

	t.Run("SubConcrete", func(t *testing.T) {
		got, ok := BorrowedRef(testLoc).EvalBinOp(cfg.OpSub, one, intType, testLoc).(*RefcountValue)
		require.True(t, ok)
		assert.Equal(t, int64(-1), got.Rel)
		assert.Equal(t, int64(1), got.MinExternal)
	})

	t.Run("UnknownOperand", func(t *testing.T) {
		got := NewRef(testLoc).EvalBinOp(cfg.OpAdd, absint.NewUnknown(intType, testLoc), intType, testLoc)
		assert.IsType(t, &absint.UnknownValue{}, got)
	})
}

func TestRefcountComparisons(t *testing.T) {
	intType := &cfg.IntType{Name: "int"}
	mk := func(v int64) *absint.ConcreteValue { return absint.NewConcrete(intType, testLoc, v) }

	// A borrowed ref is at least 1: "== 0" is refutable, "== 2" is not,
	// since the external part is unbounded above.
	borrowed := BorrowedRef(testLoc)
	assert.Equal(t, absint.False, borrowed.IsEqual(mk(0)))
	assert.Equal(t, absint.Unknown, borrowed.IsEqual(mk(1)))
	assert.Equal(t, absint.Unknown, borrowed.IsEqual(mk(2)))

	assert.Equal(t, absint.False, borrowed.IsLessThan(mk(1)))
	assert.Equal(t, absint.False, borrowed.IsLessThan(mk(0)))
	assert.Equal(t, absint.Unknown, borrowed.IsLessThan(mk(2)))

	assert.Equal(t, absint.Unknown, borrowed.IsEqual(absint.NewUnknown(intType, testLoc)))
}

func TestIsPyObjectPtr(t *testing.T) {
	tests := []struct {
		name string
		typ  cfg.Type
		want bool
	}{
		{"PyObjectPtr", PyObjectPtr(), true},
		{"PyTypeObjectPtr", PyTypeObjectPtr(), false},
		{"Int", &cfg.IntType{Name: "int"}, false},
		{"CharPtr", &cfg.PointerType{Elem: &cfg.CharType{}}, false},
		{
			"HeaderLayoutSubclass",
			&cfg.PointerType{Elem: &cfg.StructType{Name: "FooObject", Fields: []cfg.StructField{
				{Name: "ob_refcnt", Type: &cfg.IntType{Name: "Py_ssize_t"}},
				{Name: "ob_type", Type: PyTypeObjectPtr()},
				{Name: "data", Type: &cfg.IntType{Name: "int"}},
			}}},
			true,
		},
		{
			"ObBaseSubclass",
			&cfg.PointerType{Elem: &cfg.StructType{Name: "BarObject", Fields: []cfg.StructField{
				{Name: "ob_base", Type: PyObjectPtr()},
			}}},
			true,
		},
		{
			"UnrelatedStruct",
			&cfg.PointerType{Elem: &cfg.StructType{Name: "FILE", Fields: []cfg.StructField{
				{Name: "fd", Type: &cfg.IntType{Name: "int"}},
			}}},
			false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsPyObjectPtr(tc.typ))
		})
	}
}

func TestTypesTable(t *testing.T) {
	types := Types()
	assert.Contains(t, types, "PyObject")
	assert.Contains(t, types, "PyTypeObject")
	assert.Contains(t, types, "int", "base types stay available")

	pt, err := cfg.ParseType("PyObject *", types)
	require.NoError(t, err)
	assert.True(t, IsPyObjectPtr(pt))
}
