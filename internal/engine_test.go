package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/cpython"
	tt "github.com/cpyref/refscan/internal/types"
)

func leakyFn(t *testing.T) *cfg.Function {
	t.Helper()
	b := cfg.NewBuilder("leaky", &cfg.VoidType{})
	b.Param("self", cpython.PyObjectPtr())
	entry := b.Block("entry")
	b.Call(entry, nil, "Py_INCREF", &cfg.VarRef{Name: "self"})
	b.Return(entry, nil)
	return b.MustFinish()
}

func spinnerFn(t *testing.T) *cfg.Function {
	t.Helper()
	b := cfg.NewBuilder("spinner", &cfg.VoidType{})
	b.Param("c", &cfg.IntType{Name: "int"})
	head := b.Block("head")
	body := b.Block("body")
	exit := b.Block("exit")
	b.Branch(head, &cfg.VarRef{Name: "c"}, body, exit)
	b.Jump(body, head)
	b.Return(exit, nil)
	return b.MustFinish()
}

func TestEngineReportsLeak(t *testing.T) {
	e, err := NewEngine(tt.Config{})
	require.NoError(t, err)

	res, err := e.Run(leakyFn(t))
	require.NoError(t, err)

	assert.False(t, res.Abandoned)
	assert.Equal(t, "leaky", res.Function)
	assert.Equal(t, "leaky.c", res.File)
	require.Len(t, res.Findings, 1)
	assert.Equal(t, cpython.CheckRefcount, res.Findings[0].Check)
	assert.Equal(t, tt.SeverityError, res.Findings[0].Severity)
}

func TestEngineAbandonsOnBudget(t *testing.T) {
	e, err := NewEngine(tt.Config{Budget: 8})
	require.NoError(t, err)

	res, err := e.Run(spinnerFn(t))
	require.NoError(t, err, "budget blowup is a result, not an error")
	assert.True(t, res.Abandoned)
	assert.Empty(t, res.Findings, "no partial findings from an abandoned function")
}

func TestEngineIgnoredCheck(t *testing.T) {
	e, err := NewEngine(tt.Config{})
	require.NoError(t, err)
	e.IgnoreCheck(cpython.CheckRefcount)

	res, err := e.Run(leakyFn(t))
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
}

func TestEngineSeverityOverrides(t *testing.T) {
	t.Run("Downgrade", func(t *testing.T) {
		e, err := NewEngine(tt.Config{Checks: map[string]tt.ConfigCheck{
			cpython.CheckRefcount: {Severity: tt.SeverityWarning},
		}})
		require.NoError(t, err)

		res, err := e.Run(leakyFn(t))
		require.NoError(t, err)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, tt.SeverityWarning, res.Findings[0].Severity)
	})

	t.Run("Off", func(t *testing.T) {
		e, err := NewEngine(tt.Config{Checks: map[string]tt.ConfigCheck{
			cpython.CheckRefcount: {Severity: tt.SeverityOff},
		}})
		require.NoError(t, err)

		res, err := e.Run(leakyFn(t))
		require.NoError(t, err)
		assert.Empty(t, res.Findings)
	})
}

func TestEngineTraceErrors(t *testing.T) {
	t.Run("NullArgument", func(t *testing.T) {
		b := cfg.NewBuilder("increfs_null", &cfg.VoidType{})
		entry := b.Block("entry")
		b.Call(entry, nil, "Py_INCREF", cfg.NullPtr(cpython.PyObjectPtr()))
		b.Return(entry, nil)

		e, err := NewEngine(tt.Config{})
		require.NoError(t, err)
		res, err := e.Run(b.MustFinish())
		require.NoError(t, err)
		require.Len(t, res.Findings, 1)
		f := res.Findings[0]
		assert.Equal(t, CheckNullArgument, f.Check)
		assert.Equal(t, "calling Py_INCREF with NULL as argument 1", f.Message)
		require.Len(t, f.Notes, 1)
		assert.Equal(t, "macro dereferences its argument", f.Notes[0].Message)
	})

	t.Run("UninitializedRead", func(t *testing.T) {
		b := cfg.NewBuilder("oops", &cfg.IntType{Name: "int"})
		b.Local("n", &cfg.IntType{Name: "int"})
		b.Return(b.Block("entry"), &cfg.VarRef{Name: "n"})

		e, err := NewEngine(tt.Config{})
		require.NoError(t, err)
		res, err := e.Run(b.MustFinish())
		require.NoError(t, err)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, CheckUninitializedRead, res.Findings[0].Check)
	})
}

func TestEnginePossibleNullDeref(t *testing.T) {
	// Dereferencing a plain unknown pointer parameter is only possibly
	// NULL: reported iff show_possible_null_derefs is on. A non-object
	// struct keeps the parameter out of the facet's non-NULL refinement.
	mkFn := func() *cfg.Function {
		b := cfg.NewBuilder("maybe_deref", &cfg.IntType{Name: "int"})
		b.Param("p", &cfg.PointerType{Elem: &cfg.StructType{Name: "box"}})
		b.Local("n", &cfg.IntType{Name: "int"})
		entry := b.Block("entry")
		b.Assign(entry, &cfg.VarRef{Name: "n"},
			&cfg.FieldRef{Target: &cfg.VarRef{Name: "p"}, Field: "value"})
		b.Return(entry, &cfg.VarRef{Name: "n"})
		return b.MustFinish()
	}

	t.Run("SuppressedByDefault", func(t *testing.T) {
		e, err := NewEngine(tt.Config{})
		require.NoError(t, err)
		res, err := e.Run(mkFn())
		require.NoError(t, err)
		assert.Empty(t, res.Findings)
	})

	t.Run("ReportedWhenEnabled", func(t *testing.T) {
		e, err := NewEngine(tt.Config{ShowPossibleNullDerefs: true})
		require.NoError(t, err)
		res, err := e.Run(mkFn())
		require.NoError(t, err)
		require.Len(t, res.Findings, 1)
		assert.Equal(t, CheckNullDereference, res.Findings[0].Check)
		assert.Contains(t, res.Findings[0].Message, "possibly dereferencing NULL")
	})
}

func TestEngineDeduplicatesAcrossTraces(t *testing.T) {
	// Both branch arms leak the same object the same way; one finding.
	b := cfg.NewBuilder("leak_twice", &cfg.VoidType{})
	b.Param("self", cpython.PyObjectPtr())
	b.Param("c", &cfg.IntType{Name: "int"})
	entry := b.Block("entry")
	left := b.Block("left")
	right := b.Block("right")
	done := b.Block("done")
	b.Call(entry, nil, "Py_INCREF", &cfg.VarRef{Name: "self"})
	b.Branch(entry, &cfg.VarRef{Name: "c"}, left, right)
	b.Jump(left, done)
	b.Jump(right, done)
	b.Return(done, nil)

	e, err := NewEngine(tt.Config{})
	require.NoError(t, err)
	res, err := e.Run(b.MustFinish())
	require.NoError(t, err)
	assert.Len(t, res.Findings, 1)
}
