package absint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpyref/refscan/internal/cfg"
)

func newTestState(t *testing.T, build func(b *cfg.Builder)) *State {
	t.Helper()
	b := cfg.NewBuilder("test_fn", intType)
	build(b)
	fn := b.MustFinish()
	s, err := NewInitialState(fn, NewArena(), nil)
	require.NoError(t, err)
	return s
}

func TestInitialStateParams(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Param("x", intType)
		b.Param("obj", pyObjType)
		b.Return(b.Block("entry"), nil)
	})

	loc := s.Fn.Location
	for _, name := range []string{"x", "obj"} {
		r := s.VarRegion(name)
		require.NotNil(t, r, name)
		v, err := s.GetStore(r, loc)
		require.NoError(t, err)
		assert.IsType(t, &UnknownValue{}, v, "parameters start unknown")
	}
	assert.Nil(t, s.VarRegion("missing"))
}

func TestAssignAndRead(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Local("n", intType)
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}

	require.NoError(t, s.AssignExpr(&cfg.VarRef{Name: "n"}, NewConcrete(intType, loc, 7), loc))
	v, err := s.EvalRvalue(&cfg.VarRef{Name: "n"}, loc)
	require.NoError(t, err)
	cv, ok := v.(*ConcreteValue)
	require.True(t, ok)
	assert.Equal(t, int64(7), cv.Val)
}

func TestUninitializedLocalRead(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Local("n", intType)
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}

	_, err := s.EvalRvalue(&cfg.VarRef{Name: "n"}, loc)
	var uninit *UninitializedRead
	require.ErrorAs(t, err, &uninit)
	assert.Equal(t, loc, uninit.TraceLoc())
}

func TestNullDereference(t *testing.T) {
	mk := func(t *testing.T) *State {
		return newTestState(t, func(b *cfg.Builder) {
			b.Param("obj", pyObjType)
			b.Return(b.Block("entry"), nil)
		})
	}
	field := &cfg.FieldRef{Target: &cfg.VarRef{Name: "obj"}, Field: "ob_refcnt"}
	loc := cfg.Location{File: "test_fn.c", Line: 2}

	t.Run("Definite", func(t *testing.T) {
		s := mk(t)
		s.SetStore(s.VarRegion("obj"), NewConcrete(pyObjType, loc, 0))
		_, err := s.EvalLvalue(field, loc)
		var nd *NullDereference
		require.ErrorAs(t, err, &nd)
		assert.True(t, nd.Definite)
		assert.Equal(t, "obj->ob_refcnt", nd.Expr)
	})

	t.Run("Possible", func(t *testing.T) {
		s := mk(t)
		_, err := s.EvalLvalue(field, loc)
		var nd *NullDereference
		require.ErrorAs(t, err, &nd)
		assert.False(t, nd.Definite, "an unknown pointer is only possibly NULL")
	})

	t.Run("KnownObject", func(t *testing.T) {
		s := mk(t)
		obj := s.Arena.Object("*obj")
		s.SetStore(s.VarRegion("obj"), NewPointer(pyObjType, loc, obj))
		r, err := s.EvalLvalue(field, loc)
		require.NoError(t, err)
		assert.Same(t, s.Arena.Field(obj, "ob_refcnt"), r)
	})

	t.Run("NonNullConstant", func(t *testing.T) {
		s := mk(t)
		s.SetStore(s.VarRegion("obj"), NewConcrete(pyObjType, loc, 4096))
		r, err := s.EvalLvalue(field, loc)
		require.NoError(t, err, "a non-zero constant address cannot be NULL")

		again, err := s.EvalLvalue(field, loc)
		require.NoError(t, err)
		assert.Same(t, r, again, "repeated dereferences alias the same region")
	})
}

func TestCopyIndependence(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Local("n", intType)
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}
	r := s.Arena.Local("n")
	s.SetStore(r, NewConcrete(intType, loc, 1))

	ns := s.Copy()
	ns.SetStore(r, NewConcrete(intType, loc, 2))

	orig, err := s.GetStore(r, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(1), orig.(*ConcreteValue).Val, "copies must not share stores")
	forked, err := ns.GetStore(r, loc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), forked.(*ConcreteValue).Val)
}

func TestMarkDeallocated(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}
	freeLoc := cfg.Location{File: "test_fn.c", Line: 3}

	obj := s.Arena.Heap("new object", nil)
	rc := s.Arena.Field(obj, "ob_refcnt")
	s.SetStore(rc, NewConcrete(intType, loc, 1))

	s.MarkDeallocated(obj, freeLoc)

	v, err := s.GetStore(obj, loc)
	require.NoError(t, err)
	assert.IsType(t, &DeallocatedMemory{}, v)

	// The poison covers subregions too, including ones never written.
	fieldVal, err := s.GetStore(rc, loc)
	require.NoError(t, err)
	d, ok := fieldVal.(*DeallocatedMemory)
	require.True(t, ok)
	assert.Equal(t, freeLoc, d.Loc())

	typeVal, err := s.GetStore(s.Arena.Field(obj, "ob_type"), loc)
	require.NoError(t, err)
	assert.IsType(t, &DeallocatedMemory{}, typeVal)
}

func TestPersistentRefs(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Local("tmp", pyObjType)
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}
	obj := s.Arena.Heap("new object", nil)
	ptr := NewPointer(pyObjType, loc, obj)

	s.SetStore(s.Arena.Local("tmp"), ptr)
	assert.Empty(t, s.PersistentRefs(obj), "stack slots do not hold refs")

	cache := s.Arena.Global("module_cache")
	s.SetStore(cache, ptr)
	slot := s.Arena.Field(s.Arena.Object("*owner"), "first")
	s.SetStore(slot, ptr)

	refs := s.PersistentRefs(obj)
	require.Len(t, refs, 2)
	assert.Same(t, cache, refs[0])
	assert.Same(t, slot, refs[1])
}

func TestFieldValue(t *testing.T) {
	s := newTestState(t, func(b *cfg.Builder) {
		b.Return(b.Block("entry"), nil)
	})
	loc := cfg.Location{File: "test_fn.c", Line: 2}
	obj := s.Arena.Object("*obj")

	assert.Nil(t, s.FieldValue(obj, "ob_refcnt"), "untouched field has no value")

	s.SetStore(s.Arena.Field(obj, "ob_refcnt"), NewConcrete(intType, loc, 1))
	v := s.FieldValue(obj, "ob_refcnt")
	require.NotNil(t, v)
	assert.Equal(t, int64(1), v.(*ConcreteValue).Val)
}
