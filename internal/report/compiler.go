// Package report renders named report artifacts from structured records.
package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/spherical-ai/finsight/internal/domain"
)

// Registry maps document types to compilers. Types without an entry get no
// reports.
type Registry struct {
	compilers map[domain.DocumentType]domain.ReportCompiler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{compilers: make(map[domain.DocumentType]domain.ReportCompiler)}
}

// NewDefaultRegistry registers a SummaryCompiler for every known type.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range domain.KnownTypes() {
		r.Register(t, NewSummaryCompiler(t))
	}
	return r
}

// Register adds c for t.
func (r *Registry) Register(t domain.DocumentType, c domain.ReportCompiler) *Registry {
	r.compilers[t] = c
	return r
}

// Lookup returns the compiler for t.
func (r *Registry) Lookup(t domain.DocumentType) (domain.ReportCompiler, bool) {
	c, ok := r.compilers[t]
	return c, ok
}

// Report names produced by SummaryCompiler.
const (
	SummaryReport = "summary"
	DataReport    = "data_sheet"
)

var summaryTmpl = template.Must(template.New("summary").Funcs(template.FuncMap{
	"title": titleCase,
}).Parse(`# {{ title .Type }} summary

| Field | Value |
|-------|-------|
{{- range .Scalars }}
| {{ .Key }} | {{ .Value }} |
{{- end }}
{{ if .Collections }}
## Sections
{{ range .Collections }}
- {{ .Key }}: {{ .Value }}
{{- end }}
{{ end }}
Source text: {{ .Chars }} characters, {{ .Lines }} lines.
`))

type row struct {
	Key   string
	Value string
}

type summaryView struct {
	Type        domain.DocumentType
	Scalars     []row
	Collections []row
	Chars       int
	Lines       int
}

// SummaryCompiler renders a Markdown summary and a YAML data sheet.
type SummaryCompiler struct {
	docType domain.DocumentType
}

// NewSummaryCompiler creates a compiler for docType.
func NewSummaryCompiler(docType domain.DocumentType) *SummaryCompiler {
	return &SummaryCompiler{docType: docType}
}

func (c *SummaryCompiler) Compile(ctx context.Context, record domain.StructuredRecord, text string) (domain.Reports, error) {
	view := summaryView{
		Type:  c.docType,
		Chars: len(text),
		Lines: strings.Count(text, "\n") + 1,
	}
	if text == "" {
		view.Lines = 0
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := record[k].(type) {
		case nil:
			continue
		case []any:
			view.Collections = append(view.Collections, row{k, fmt.Sprintf("%d entries", len(v))})
		case map[string]any:
			view.Collections = append(view.Collections, row{k, fmt.Sprintf("%d fields", len(v))})
		default:
			view.Scalars = append(view.Scalars, row{k, escapeCell(fmt.Sprint(v))})
		}
	}

	var md bytes.Buffer
	if err := summaryTmpl.Execute(&md, view); err != nil {
		return nil, domain.ReportCompilationError("render summary", err)
	}

	data, err := yaml.Marshal(map[string]any{
		"document_type": string(c.docType),
		"data":          map[string]any(record),
	})
	if err != nil {
		return nil, domain.ReportCompilationError("render data sheet", err)
	}

	return domain.Reports{
		SummaryReport: {Format: "markdown", Content: md.String()},
		DataReport:    {Format: "yaml", Content: string(data)},
	}, nil
}

func titleCase(t domain.DocumentType) string {
	words := strings.Split(string(t), "_")
	for i, w := range words {
		switch w {
		case "gst":
			words[i] = "GST"
		case "":
		default:
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
