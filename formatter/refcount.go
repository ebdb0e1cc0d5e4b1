package formatter

// RefcountFormatter renders reference-count findings with the step-by-step
// trace first: the expectation notes only make sense once the reader has
// seen how the count evolved.
type RefcountFormatter struct{}

func (f *RefcountFormatter) FindingTemplate() string {
	return `{{header .Check .Severity .Function .Filename .Line .Column -}}
{{message .Message -}}
{{trace .Trace -}}
{{notes .Notes}}
`
}
