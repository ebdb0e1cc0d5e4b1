package formatter

import (
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpyref/refscan/internal/cfg"
	tt "github.com/cpyref/refscan/internal/types"
)

func init() {
	color.NoColor = true
}

func leakFinding() tt.Finding {
	return tt.Finding{
		Check:    Refcount,
		Function: "incref_leak",
		Message:  "ob_refcnt of '*self' is 1 too high",
		Severity: tt.SeverityError,
		Loc:      cfg.Location{File: "useless.c", Line: 3, Column: 1},
		Notes: []tt.Note{
			{Message: "was expecting final ob_refcnt to be N + 0 (for some unknown N)"},
			{Message: "but final ob_refcnt is N + 1"},
		},
		Trace: []tt.TraceStep{
			{Loc: cfg.Location{File: "useless.c", Line: 2}, Note: "Py_INCREF() on '*self'"},
		},
	}
}

func TestGenerateFormattedFindings(t *testing.T) {
	results := []tt.FunctionResult{{
		Function: "incref_leak",
		File:     "useless.c",
		Findings: []tt.Finding{leakFinding()},
	}}

	out := GenerateFormattedFindings(results)

	assert.Contains(t, out, "error: object-refcount")
	assert.Contains(t, out, "--> useless.c:3:1 (in incref_leak)")
	assert.Contains(t, out, "= ob_refcnt of '*self' is 1 too high")
	assert.Contains(t, out, "note: was expecting final ob_refcnt to be N + 0 (for some unknown N)")
	assert.Contains(t, out, "trace:")
	assert.Contains(t, out, "useless.c:2: Py_INCREF() on '*self'")
}

func TestRefcountTraceComesBeforeNotes(t *testing.T) {
	out := buildFinding(leakFinding(), &RefcountFormatter{})

	traceIdx := indexOf(t, out, "trace:")
	noteIdx := indexOf(t, out, "note:")
	assert.Less(t, traceIdx, noteIdx)
}

func TestGeneralFormatterNotesBeforeTrace(t *testing.T) {
	f := leakFinding()
	f.Check = MissingException
	out := buildFinding(f, &GeneralFindingFormatter{})

	noteIdx := indexOf(t, out, "note:")
	traceIdx := indexOf(t, out, "trace:")
	assert.Less(t, noteIdx, traceIdx)
}

func TestAbandonedFunction(t *testing.T) {
	results := []tt.FunctionResult{{
		Function:  "spinner",
		File:      "spinner.c",
		Abandoned: true,
	}}

	out := GenerateFormattedFindings(results)
	assert.Contains(t, out, "warning: ")
	assert.Contains(t, out, "function spinner is too complicated to analyze")
}

func TestWarningSeverityHeader(t *testing.T) {
	f := leakFinding()
	f.Severity = tt.SeverityWarning
	out := buildFinding(f, getFindingFormatter(f.Check))
	assert.Contains(t, out, "warning: object-refcount")
}

func TestHeaderWithoutFilename(t *testing.T) {
	f := leakFinding()
	f.Loc = cfg.Location{}
	out := buildFinding(f, &GeneralFindingFormatter{})
	assert.Contains(t, out, "--> incref_leak")
}

func TestGetFindingFormatter(t *testing.T) {
	assert.IsType(t, &RefcountFormatter{}, getFindingFormatter(Refcount))
	assert.IsType(t, &GeneralFindingFormatter{}, getFindingFormatter(NullDereference))
	assert.IsType(t, &GeneralFindingFormatter{}, getFindingFormatter("unknown-check"))
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	idx := strings.Index(haystack, needle)
	require.GreaterOrEqual(t, idx, 0, "expected %q in output", needle)
	return idx
}
