package absint

import "github.com/cpyref/refscan/internal/cfg"

// Trace is one complete path through a function: an ordered transition list
// from the entry state to either a terminal state or a trace-fatal error.
// The final state is authoritative for verification.
type Trace struct {
	Transitions []Transition
	// Err is the trace-fatal error that ended the trace, or nil for traces
	// that reached a return.
	Err TraceError
}

// FinalState returns the last state of the trace.
func (t *Trace) FinalState() *State {
	if len(t.Transitions) == 0 {
		return nil
	}
	return t.Transitions[len(t.Transitions)-1].Dest
}

// InitialState returns the entry state of the trace.
func (t *Trace) InitialState() *State {
	if len(t.Transitions) == 0 {
		return nil
	}
	return t.Transitions[0].Src
}

// ReturnValue returns the value returned by the trace, or nil.
func (t *Trace) ReturnValue() Value {
	fs := t.FinalState()
	if fs == nil {
		return nil
	}
	return fs.ReturnValue
}

// ErrLoc returns the location of the trace-fatal error, if any.
func (t *Trace) ErrLoc() cfg.Location {
	if t.Err == nil {
		return cfg.Location{}
	}
	return t.Err.TraceLoc()
}

// EndLoc returns the location where the trace ended: the error location for
// failed traces, otherwise the last executed statement.
func (t *Trace) EndLoc() cfg.Location {
	if t.Err != nil {
		return t.Err.TraceLoc()
	}
	for i := len(t.Transitions) - 1; i >= 0; i-- {
		if loc := t.Transitions[i].Src.Loc(); loc.IsValid() {
			return loc
		}
	}
	return cfg.Location{}
}
