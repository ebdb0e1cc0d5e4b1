package absint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpyref/refscan/internal/cfg"
)

// forkingFacet models a callee with a success and a failure outcome, the
// minimal shape needed to drive path fan-out from a test.
type forkingFacet struct{}

func (forkingFacet) Name() string        { return "forking" }
func (f forkingFacet) Copy(*State) Facet { return f }

type forkingFactory struct{}

func (forkingFactory) Name() string { return "forking" }

func (forkingFactory) Init(s *State, fn *cfg.Function) (Facet, error) {
	return forkingFacet{}, nil
}

func (forkingFactory) HandlerFor(callee string) CallHandler {
	if callee != "try_thing" {
		return nil
	}
	return func(s *State, call *cfg.CallStmt, args []Value) ([]Transition, error) {
		success, err := s.MkStateConcreteReturn(call, 0)
		if err != nil {
			return nil, err
		}
		failure, err := s.MkStateConcreteReturn(call, -1)
		if err != nil {
			return nil, err
		}
		return s.TransitionsForCall(call.Callee, success, failure), nil
	}
}

func TestStraightLineTrace(t *testing.T) {
	b := cfg.NewBuilder("straight", intType)
	b.Local("n", intType)
	entry := b.Block("entry")
	b.Assign(entry, &cfg.VarRef{Name: "n"}, &cfg.IntLit{Value: 5, Type: intType})
	b.Return(entry, &cfg.VarRef{Name: "n"})
	fn := b.MustFinish()

	traces, err := IterTraces(fn, nil, nil)
	require.NoError(t, err)
	require.Len(t, traces, 1)

	tr := traces[0]
	assert.Nil(t, tr.Err)
	require.NotNil(t, tr.FinalState())
	assert.True(t, tr.FinalState().Terminal())
	rv, ok := tr.ReturnValue().(*ConcreteValue)
	require.True(t, ok)
	assert.Equal(t, int64(5), rv.Val)
}

func TestCallFanOut(t *testing.T) {
	b := cfg.NewBuilder("fanout", intType)
	b.Local("rc", intType)
	entry := b.Block("entry")
	b.Call(entry, &cfg.VarRef{Name: "rc"}, "try_thing")
	b.Call(entry, &cfg.VarRef{Name: "rc"}, "try_thing")
	b.Return(entry, &cfg.VarRef{Name: "rc"})
	fn := b.MustFinish()

	traces, err := IterTraces(fn, []FacetFactory{forkingFactory{}}, nil)
	require.NoError(t, err)
	assert.Len(t, traces, 4, "two two-outcome calls fan out to four paths")

	descs := traces[0].Transitions
	require.NotEmpty(t, descs)
	assert.Equal(t, "when try_thing() succeeds", descs[0].Desc)
}

func TestBranchOnConcreteCondition(t *testing.T) {
	mkFn := func(condVal int64) *cfg.Function {
		b := cfg.NewBuilder("concrete_branch", intType)
		b.Local("c", intType)
		entry := b.Block("entry")
		then := b.Block("then")
		els := b.Block("else")
		b.Assign(entry, &cfg.VarRef{Name: "c"}, &cfg.IntLit{Value: condVal, Type: intType})
		b.Branch(entry, &cfg.VarRef{Name: "c"}, then, els)
		b.Return(then, &cfg.IntLit{Value: 1, Type: intType})
		b.Return(els, &cfg.IntLit{Value: 0, Type: intType})
		return b.MustFinish()
	}

	t.Run("TruePath", func(t *testing.T) {
		traces, err := IterTraces(mkFn(1), nil, nil)
		require.NoError(t, err)
		require.Len(t, traces, 1, "a decided condition explores one path")
		assert.Equal(t, int64(1), traces[0].ReturnValue().(*ConcreteValue).Val)
	})

	t.Run("FalsePath", func(t *testing.T) {
		traces, err := IterTraces(mkFn(0), nil, nil)
		require.NoError(t, err)
		require.Len(t, traces, 1)
		assert.Equal(t, int64(0), traces[0].ReturnValue().(*ConcreteValue).Val)
	})
}

func TestBranchOnUnknownCondition(t *testing.T) {
	b := cfg.NewBuilder("unknown_branch", intType)
	b.Param("c", intType)
	entry := b.Block("entry")
	then := b.Block("then")
	els := b.Block("else")
	b.Branch(entry, &cfg.VarRef{Name: "c"}, then, els)
	b.Return(then, &cfg.IntLit{Value: 1, Type: intType})
	b.Return(els, &cfg.IntLit{Value: 0, Type: intType})
	fn := b.MustFinish()

	traces, err := IterTraces(fn, nil, nil)
	require.NoError(t, err)
	require.Len(t, traces, 2)

	assert.Equal(t, "taking True path", traces[0].Transitions[0].Desc)
	assert.Equal(t, "taking False path", traces[1].Transitions[0].Desc)
}

func TestTraceFatalErrorEndsOnlyItsTrace(t *testing.T) {
	// One path reads an uninitialized local; the sibling path is clean.
	b := cfg.NewBuilder("partial", intType)
	b.Param("c", intType)
	b.Local("n", intType)
	entry := b.Block("entry")
	bad := b.Block("bad")
	good := b.Block("good")
	b.Branch(entry, &cfg.VarRef{Name: "c"}, bad, good)
	b.Return(bad, &cfg.VarRef{Name: "n"})
	b.Return(good, &cfg.IntLit{Value: 0, Type: intType})
	fn := b.MustFinish()

	traces, err := IterTraces(fn, nil, nil)
	require.NoError(t, err)
	require.Len(t, traces, 2)

	var failed, clean int
	for _, tr := range traces {
		if tr.Err != nil {
			failed++
			var uninit *UninitializedRead
			assert.ErrorAs(t, tr.Err, &uninit)
			assert.True(t, tr.EndLoc().IsValid())
		} else {
			clean++
			require.NotNil(t, tr.FinalState())
		}
	}
	assert.Equal(t, 1, failed)
	assert.Equal(t, 1, clean)
}

func TestTransitionBudget(t *testing.T) {
	// An unknown-condition loop explores forever without a budget.
	b := cfg.NewBuilder("spinner", intType)
	b.Param("c", intType)
	head := b.Block("head")
	body := b.Block("body")
	exit := b.Block("exit")
	b.Branch(head, &cfg.VarRef{Name: "c"}, body, exit)
	b.Jump(body, head)
	b.Return(exit, &cfg.IntLit{Value: 0, Type: intType})
	fn := b.MustFinish()

	limits := NewLimits(16)
	_, err := IterTraces(fn, nil, limits)

	var tooComplicated *TooComplicatedError
	require.ErrorAs(t, err, &tooComplicated)
	assert.Equal(t, "spinner", tooComplicated.Function)
	assert.Equal(t, 16, tooComplicated.Limit)
	assert.Greater(t, limits.Seen(), 16)
}

func TestLimitsDefaults(t *testing.T) {
	assert.Equal(t, DefaultBudget, NewLimits(0).MaxTransitions)
	assert.Equal(t, DefaultBudget, NewLimits(-5).MaxTransitions)
	assert.Equal(t, 7, NewLimits(7).MaxTransitions)
}
