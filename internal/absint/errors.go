package absint

import (
	"fmt"

	"github.com/cpyref/refscan/internal/cfg"
)

// TraceError is a trace-fatal condition: it terminates the trace that hit it
// and is recorded on that trace, while sibling paths continue unaffected.
type TraceError interface {
	error
	TraceLoc() cfg.Location
}

// NullDereference reports a read or write through a NULL pointer. Definite
// distinguishes a provably-NULL pointer from a possibly-NULL one; the latter
// is usually suppressed downstream since unknown caller invariants may rule
// it out.
type NullDereference struct {
	Location cfg.Location
	Expr     string
	Definite bool
}

func (e *NullDereference) Error() string {
	if e.Definite {
		return fmt.Sprintf("dereferencing NULL (%s)", e.Expr)
	}
	return fmt.Sprintf("possibly dereferencing NULL (%s)", e.Expr)
}

func (e *NullDereference) TraceLoc() cfg.Location { return e.Location }

// UninitializedRead reports a read from storage that was never assigned.
type UninitializedRead struct {
	Location cfg.Location
	Region   *Region
}

func (e *UninitializedRead) Error() string {
	return fmt.Sprintf("reading from uninitialized data (%s)", e.Region)
}

func (e *UninitializedRead) TraceLoc() cfg.Location { return e.Location }

// NullArgument reports a call precondition violation: passing NULL to an
// argument the callee unconditionally dereferences.
type NullArgument struct {
	Location cfg.Location
	Callee   string
	ArgIndex int // 1-based
	Why      string
}

func (e *NullArgument) Error() string {
	return fmt.Sprintf("calling %s with NULL as argument %d", e.Callee, e.ArgIndex)
}

func (e *NullArgument) TraceLoc() cfg.Location { return e.Location }

// TooComplicatedError is the analysis-fatal condition: the transition budget
// was exceeded, so the entire function's analysis is abandoned rather than
// reporting partial results.
type TooComplicatedError struct {
	Function string
	Limit    int
}

func (e *TooComplicatedError) Error() string {
	return fmt.Sprintf("function %s is too complicated to analyze (transition budget %d exceeded)",
		e.Function, e.Limit)
}
