package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderBasics(t *testing.T) {
	b := NewBuilder("add_one", &IntType{Name: "int"})
	x := b.Param("x", &IntType{Name: "int"})
	b.Local("y", &IntType{Name: "int"})

	entry := b.Block("entry")
	b.Assign(entry, &VarRef{Name: "y"}, &BinOp{Op: OpAdd, X: &VarRef{Name: "x"}, Y: &IntLit{Value: 1, Type: x.Type}})
	b.Return(entry, &VarRef{Name: "y"})

	fn, err := b.Finish()
	require.NoError(t, err)

	assert.Equal(t, "add_one", fn.Name)
	assert.Same(t, entry, fn.Entry)
	assert.Len(t, fn.Blocks, 1)
	assert.NotNil(t, fn.Var("x"))
	assert.NotNil(t, fn.Var("y"))
	assert.Nil(t, fn.Var("z"))
	assert.True(t, fn.IsParam("x"))
	assert.False(t, fn.IsParam("y"))
	assert.Equal(t, 1, fn.ParamIndex("x"))
}

func TestBuilderValidation(t *testing.T) {
	t.Run("NoBlocks", func(t *testing.T) {
		b := NewBuilder("empty", &VoidType{})
		_, err := b.Finish()
		assert.Error(t, err)
	})

	t.Run("MissingTerminator", func(t *testing.T) {
		b := NewBuilder("hanging", &VoidType{})
		blk := b.Block("entry")
		b.Assign(blk, &VarRef{Name: "x"}, &IntLit{Value: 1, Type: &IntType{Name: "int"}})
		_, err := b.Finish()
		assert.ErrorContains(t, err, "no terminator")
	})

	t.Run("DuplicateVariable", func(t *testing.T) {
		b := NewBuilder("dup", &VoidType{})
		b.Param("x", &IntType{Name: "int"})
		b.Local("x", &IntType{Name: "int"})
		b.Return(b.Block("entry"), nil)
		_, err := b.Finish()
		assert.ErrorContains(t, err, "duplicate variable")
	})
}

func TestBuilderLocationsAreStable(t *testing.T) {
	b := NewBuilder("locs", &VoidType{})
	blk := b.Block("entry")
	b.Assign(blk, &VarRef{Name: "a"}, &IntLit{Value: 1, Type: &IntType{Name: "int"}})
	call := b.Call(blk, nil, "do_thing")
	b.Return(blk, nil)
	fn := b.MustFinish()

	assert.Equal(t, "locs.c", fn.Location.File)
	assert.True(t, blk.Stmts[0].Loc().Line < call.Loc().Line)
	assert.True(t, call.Loc().Line < blk.Term.Loc().Line)
}

func TestExprStrings(t *testing.T) {
	pyObj := &PointerType{Elem: &StructType{Name: "PyObject"}}
	tests := []struct {
		expr Expr
		want string
	}{
		{&VarRef{Name: "self"}, "self"},
		{&FieldRef{Target: &VarRef{Name: "obj"}, Field: "ob_refcnt"}, "obj->ob_refcnt"},
		{&IndexRef{Target: &VarRef{Name: "items"}, Index: &IntLit{Value: 0, Type: &IntType{Name: "int"}}}, "items[0]"},
		{NullPtr(pyObj), "NULL"},
		{&IntLit{Value: 42, Type: &IntType{Name: "int"}}, "42"},
		{&BinOp{Op: OpEq, X: &VarRef{Name: "p"}, Y: NullPtr(pyObj)}, "p == NULL"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.expr.String())
	}
}
