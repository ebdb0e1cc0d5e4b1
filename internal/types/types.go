package types

import (
	"github.com/cpyref/refscan/internal/cfg"
)

// Severity is the priority of a finding.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityOff
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "off"
	}
}

// Note is an explanatory remark attached to a finding.
type Note struct {
	Loc     cfg.Location
	Message string
}

// TraceStep is one step of the representative trace attached to a finding:
// a source location plus an optional annotator-produced note.
type TraceStep struct {
	Loc  cfg.Location
	Note string
}

// Finding is one reported defect in an analyzed function.
type Finding struct {
	Check    string
	Function string
	Message  string
	Severity Severity
	Loc      cfg.Location
	Notes    []Note
	Trace    []TraceStep
}

// FunctionResult is the outcome of analyzing one function. Abandoned is set
// when the transition budget was exceeded; it is distinct from a clean result
// with zero findings.
type FunctionResult struct {
	Function  string
	File      string
	Abandoned bool
	Findings  []Finding
}

// ConfigCheck is the per-check configuration entry.
type ConfigCheck struct {
	Severity Severity `yaml:"severity"`
}

// Config is the engine configuration loaded from .refscan.yaml.
type Config struct {
	Name   string                 `yaml:"name"`
	Budget int                    `yaml:"budget"`
	Checks map[string]ConfigCheck `yaml:"checks"`
	// ShowPossibleNullDerefs reports NULL dereferences that are possible but
	// not provable. Off by default: unknown caller invariants often rule
	// them out.
	ShowPossibleNullDerefs bool `yaml:"show_possible_null_derefs"`
}
