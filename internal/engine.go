package internal

import (
	"errors"
	"fmt"

	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/cpython"
	"github.com/cpyref/refscan/internal/report"
	tt "github.com/cpyref/refscan/internal/types"
)

// Check names for trace-fatal errors reported by the engine itself. Facet
// verifiers contribute their own names on top of these.
const (
	CheckNullDereference   = "null-dereference"
	CheckUninitializedRead = "uninitialized-read"
	CheckNullArgument      = "null-argument"
)

// Engine drives the analysis of one or more functions: it explores every
// feasible trace, hands completed traces to the registered facet verifiers,
// and post-processes the findings per configuration.
type Engine struct {
	ignoredChecks map[string]bool
	severities    map[string]tt.Severity
	facets        []absint.FacetFactory
	verifiers     []traceVerifier
	budget        int
	showPossible  bool
}

// facetConstructor builds one registered facet factory.
type facetConstructor func() absint.FacetFactory

// traceVerifier audits the final state of one completed, error-free trace.
type traceVerifier func(*report.Reporter, *cfg.Function, *absint.Trace)

// Map facet names to their constructors and verifiers. Registering a new
// ownership policy means adding entries here.
var allFacetConstructors = map[string]facetConstructor{
	cpython.FacetName: func() absint.FacetFactory { return cpython.NewFactory() },
}

var allTraceVerifiers = map[string]traceVerifier{
	cpython.FacetName: cpython.VerifyTrace,
}

// NewEngine creates an analysis engine with every registered facet enabled.
func NewEngine(config tt.Config) (*Engine, error) {
	e := &Engine{
		ignoredChecks: make(map[string]bool),
		severities:    make(map[string]tt.Severity),
		budget:        config.Budget,
		showPossible:  config.ShowPossibleNullDerefs,
	}
	if e.budget <= 0 {
		e.budget = absint.DefaultBudget
	}
	for name, check := range config.Checks {
		if check.Severity == tt.SeverityOff {
			e.IgnoreCheck(name)
			continue
		}
		e.severities[name] = check.Severity
	}
	for name, ctor := range allFacetConstructors {
		e.facets = append(e.facets, ctor())
		if v, ok := allTraceVerifiers[name]; ok {
			e.verifiers = append(e.verifiers, v)
		}
	}
	return e, nil
}

// IgnoreCheck suppresses findings of the named check.
func (e *Engine) IgnoreCheck(name string) {
	e.ignoredChecks[name] = true
}

// Run analyzes a single function and returns its findings. A transition
// budget blowup abandons the whole function: Abandoned is set and no partial
// findings are returned.
func (e *Engine) Run(fn *cfg.Function) (tt.FunctionResult, error) {
	res := tt.FunctionResult{Function: fn.Name, File: fn.Location.File}

	traces, err := e.Traces(fn)
	if err != nil {
		var tc *absint.TooComplicatedError
		if errors.As(err, &tc) {
			res.Abandoned = true
			return res, nil
		}
		return res, fmt.Errorf("analyzing %s: %w", fn.Name, err)
	}

	rep := report.New()
	for _, tr := range traces {
		if tr.Err != nil {
			e.reportTraceError(rep, fn, tr)
			continue
		}
		for _, verify := range e.verifiers {
			verify(rep, fn, tr)
		}
	}
	rep.RemoveDuplicates()

	for _, f := range rep.Findings() {
		if e.ignoredChecks[f.Check] {
			continue
		}
		if sev, ok := e.severities[f.Check]; ok {
			f.Severity = sev
		}
		res.Findings = append(res.Findings, f)
	}
	return res, nil
}

// Traces explores fn and returns every feasible trace without verifying
// them. Exposed for trace dumping.
func (e *Engine) Traces(fn *cfg.Function) ([]*absint.Trace, error) {
	return absint.IterTraces(fn, e.facets, absint.NewLimits(e.budget))
}

func (e *Engine) reportTraceError(rep *report.Reporter, fn *cfg.Function, tr *absint.Trace) {
	switch err := tr.Err.(type) {
	case *absint.NullDereference:
		if !err.Definite && !e.showPossible {
			return
		}
		r := rep.MakeError(CheckNullDereference, fn.Name, err.Location, err.Error())
		r.AddTrace(tr)
	case *absint.UninitializedRead:
		r := rep.MakeError(CheckUninitializedRead, fn.Name, err.Location, err.Error())
		r.AddTrace(tr)
	case *absint.NullArgument:
		r := rep.MakeError(CheckNullArgument, fn.Name, err.Location, err.Error())
		if err.Why != "" {
			r.AddNote(err.Location, err.Why)
		}
		r.AddTrace(tr)
	default:
		r := rep.MakeError("trace-error", fn.Name, tr.ErrLoc(), tr.Err.Error())
		r.AddTrace(tr)
	}
}
