package formatter

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/fatih/color"
	tt "github.com/cpyref/refscan/internal/types"
)

// check set
const (
	Refcount          = "object-refcount"
	NullDereference   = "null-dereference"
	DeallocatedReturn = "returning-deallocated"
	MissingException  = "null-without-exception"
	UninitializedRead = "uninitialized-read"
)

var (
	errorStyle   = color.New(color.FgRed, color.Bold)
	warningStyle = color.New(color.FgHiYellow, color.Bold)
	checkStyle   = color.New(color.FgYellow, color.Bold)
	fileStyle    = color.New(color.FgCyan, color.Bold)
	lineStyle    = color.New(color.FgHiBlue, color.Bold)
	messageStyle = color.New(color.FgRed, color.Bold)
	noteStyle    = color.New(color.FgGreen, color.Bold)
	traceStyle   = color.New(color.FgWhite)
)

// findingFormatter is the interface that wraps the findingTemplate method.
// Implementations of this interface are responsible for formatting specific
// kinds of findings.
type findingFormatter interface {
	FindingTemplate() string
}

// getFindingFormatter is a factory function that returns the appropriate
// findingFormatter based on the given check.
// If no specific formatter is found for the given check, it returns a
// GeneralFindingFormatter.
func getFindingFormatter(check string) findingFormatter {
	switch check {
	case Refcount:
		return &RefcountFormatter{}
	default:
		return &GeneralFindingFormatter{}
	}
}

// GenerateFormattedFindings formats per-function analysis results into a
// human-readable string. It uses the appropriate formatter for each finding
// based on its check.
func GenerateFormattedFindings(results []tt.FunctionResult) string {
	var builder strings.Builder
	for _, res := range results {
		if res.Abandoned {
			builder.WriteString(warningStyle.Sprintf("warning: "))
			builder.WriteString(fmt.Sprintf("function %s is too complicated to analyze\n\n", res.Function))
			continue
		}
		for _, finding := range res.Findings {
			formatter := getFindingFormatter(finding.Check)
			builder.WriteString(buildFinding(finding, formatter))
		}
	}
	return builder.String()
}

/***** Finding Formatter Builder *****/

type FindingData struct {
	Severity string
	Check    string
	Function string
	Filename string
	Line     int
	Column   int
	Message  string
	Notes    []tt.Note
	Trace    []tt.TraceStep
}

func buildFinding(finding tt.Finding, formatter findingFormatter) string {
	data := FindingData{
		Severity: finding.Severity.String(),
		Check:    finding.Check,
		Function: finding.Function,
		Filename: finding.Loc.File,
		Line:     finding.Loc.Line,
		Column:   finding.Loc.Column,
		Message:  finding.Message,
		Notes:    finding.Notes,
		Trace:    finding.Trace,
	}

	funcMap := template.FuncMap{
		"header":  header,
		"message": message,
		"notes":   notes,
		"trace":   trace,
	}

	findingTemplate := formatter.FindingTemplate()
	tmpl := template.Must(template.New("finding").Funcs(funcMap).Parse(findingTemplate))

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Sprintf("Error formatting finding: %v", err)
	}
	return buf.String()
}

// utils functions used in the text templates

func header(check string, severity string, function string, filename string, line int, column int) string {
	var endString string
	switch severity {
	case "error":
		endString = errorStyle.Sprintf("error: ")
	case "warning":
		endString = warningStyle.Sprintf("warning: ")
	case "info":
		endString = messageStyle.Sprintf("info: ")
	}

	endString += checkStyle.Sprintf("%s\n", check)

	endString += lineStyle.Sprintf("  --> ")
	if filename == "" {
		endString += fileStyle.Sprintf("%s", function)
	} else {
		endString += fileStyle.Sprintf("%s:%d:%d", filename, line, column)
		endString += lineStyle.Sprintf(" (in %s)", function)
	}
	endString += "\n"

	return endString
}

func message(msg string) string {
	var endString string
	endString = lineStyle.Sprintf("   = ")
	endString += messageStyle.Sprintf("%s\n", msg)
	return endString
}

func notes(ns []tt.Note) string {
	var endString string
	for _, n := range ns {
		endString += noteStyle.Sprint("  note: ")
		endString += n.Message
		if n.Loc.IsValid() {
			endString += traceStyle.Sprintf(" [%s]", n.Loc)
		}
		endString += "\n"
	}
	return endString
}

func trace(steps []tt.TraceStep) string {
	if len(steps) == 0 {
		return ""
	}
	var endString string
	endString = lineStyle.Sprintf("  trace:\n")
	for _, step := range steps {
		endString += traceStyle.Sprintf("    %s: %s\n", step.Loc, step.Note)
	}
	return endString
}
