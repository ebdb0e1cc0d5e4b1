package formatter

type GeneralFindingFormatter struct{}

func (f *GeneralFindingFormatter) FindingTemplate() string {
	return `{{header .Check .Severity .Function .Filename .Line .Column -}}
{{message .Message -}}
{{notes .Notes -}}
{{trace .Trace}}
`
}
