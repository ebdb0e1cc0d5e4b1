// Package report collects verification findings, attaches annotated
// representative traces, and de-duplicates structurally equivalent reports
// before they are rendered. This is presentation plumbing: nothing here may
// suppress a finding before de-duplication groups it.
package report

import (
	"github.com/cpyref/refscan/internal/absint"
	"github.com/cpyref/refscan/internal/cfg"
	"github.com/cpyref/refscan/internal/types"
)

// Annotator produces human-readable notes for one transition of a trace.
// Note text must be deterministic for a given transition.
type Annotator interface {
	Notes(tr absint.Transition) []types.Note
}

// Report is one finding under construction.
type Report struct {
	Check    string
	Function string
	Severity types.Severity
	Loc      cfg.Location
	Message  string

	notes      []types.Note
	trace      *absint.Trace
	annotators []Annotator
}

// AddNote attaches an explanatory note.
func (r *Report) AddNote(loc cfg.Location, msg string) {
	r.notes = append(r.notes, types.Note{Loc: loc, Message: msg})
}

// AddTrace attaches the representative trace, annotated by the given
// annotators in order.
func (r *Report) AddTrace(t *absint.Trace, annotators ...Annotator) {
	r.trace = t
	r.annotators = annotators
}

// Reporter accumulates the reports of one function analysis.
type Reporter struct {
	reports []*Report
}

// New returns an empty Reporter.
func New() *Reporter {
	return &Reporter{}
}

// MakeError records a new error-severity report and returns it so the
// caller can attach notes and a trace.
func (rep *Reporter) MakeError(check, function string, loc cfg.Location, msg string) *Report {
	return rep.make(check, function, types.SeverityError, loc, msg)
}

// MakeWarning records a new warning-severity report.
func (rep *Reporter) MakeWarning(check, function string, loc cfg.Location, msg string) *Report {
	return rep.make(check, function, types.SeverityWarning, loc, msg)
}

func (rep *Reporter) make(check, function string, sev types.Severity, loc cfg.Location, msg string) *Report {
	r := &Report{Check: check, Function: function, Severity: sev, Loc: loc, Message: msg}
	rep.reports = append(rep.reports, r)
	return r
}

// Len returns the number of reports currently held.
func (rep *Reporter) Len() int { return len(rep.reports) }

// RemoveDuplicates groups reports that share check, function, and message,
// keeping the first of each group as the representative. Different traces
// frequently rediscover the same defect; one representative trace is enough.
func (rep *Reporter) RemoveDuplicates() {
	seen := make(map[string]bool, len(rep.reports))
	kept := rep.reports[:0]
	for _, r := range rep.reports {
		key := r.Check + "\x00" + r.Function + "\x00" + r.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		kept = append(kept, r)
	}
	rep.reports = kept
}

// Findings renders the surviving reports, in the order they were recorded,
// with each attached trace walked through its annotators.
func (rep *Reporter) Findings() []types.Finding {
	findings := make([]types.Finding, 0, len(rep.reports))
	for _, r := range rep.reports {
		f := types.Finding{
			Check:    r.Check,
			Function: r.Function,
			Message:  r.Message,
			Severity: r.Severity,
			Loc:      r.Loc,
			Notes:    r.notes,
		}
		if r.trace != nil {
			f.Trace = renderTrace(r.trace, r.annotators)
		}
		findings = append(findings, f)
	}
	return findings
}

// renderTrace flattens a trace into (location, note) steps: one step per
// described transition plus one per annotator note. Undescribed,
// unannotated transitions are omitted.
func renderTrace(t *absint.Trace, annotators []Annotator) []types.TraceStep {
	var steps []types.TraceStep
	for _, tr := range t.Transitions {
		if tr.Desc != "" {
			steps = append(steps, types.TraceStep{Loc: tr.Src.Loc(), Note: tr.Desc})
		}
		for _, a := range annotators {
			for _, note := range a.Notes(tr) {
				steps = append(steps, types.TraceStep{Loc: note.Loc, Note: note.Message})
			}
		}
	}
	return steps
}
