// Package internal provides the core functionality for a path-sensitive
// checker of CPython extension code.
//
// This package implements an analysis engine that explores every feasible
// execution path of a function's control flow graph under an abstract
// memory model, and verifies object-ownership rules along each path. It is
// designed to be extendable with additional ownership policies while
// shipping the CPython reference-counting policy out of the box.
//
// Key components:
//
// Engine: The main analysis engine that coordinates the process. It explores
// traces with a transition budget, dispatches call models through the
// registered facets, and hands completed traces to their verifiers.
//
// FacetFactory: The extension seam for ownership policies. A facet attaches
// domain-specific state (such as the exception indicator) to each abstract
// state and supplies a table of call handlers; the engine itself knows
// nothing about any particular API.
//
// Cache: Persists per-document results keyed by content hash, so unchanged
// documents are not re-analyzed across runs.
//
// Supporting packages under internal/ hold the layers the engine is built
// from: cfg (the input control-flow-graph form and its YAML loader), absint
// (abstract values, regions, states and the trace explorer), cpython (the
// reference-counting policy, call models and verifier), report (finding
// collection, trace annotation and de-duplication), and types (the shared
// result and configuration types).
//
// Usage:
//
//	engine, err := internal.NewEngine(config)
//	if err != nil {
//	    // handle error
//	}
//
//	result, err := engine.Run(fn)
//	if err != nil {
//	    // handle error
//	}
//
//	// Process the findings
//	for _, f := range result.Findings {
//	    fmt.Printf("%s: %s\n", f.Check, f.Message)
//	}
//
// This package is intended for internal use within the checker and should
// not be imported by external packages.
package internal
