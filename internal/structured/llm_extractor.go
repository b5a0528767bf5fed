package structured

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/llm"
)

// DefaultMaxChars bounds the document text sent for extraction.
const DefaultMaxChars = 60000

// LLMExtractor fills a type's schema from document text through a model.
type LLMExtractor struct {
	docType  domain.DocumentType
	schema   Schema
	llm      llm.Completer
	maxChars int
}

// NewLLMExtractor creates an extractor for docType. It fails when the type
// has no schema.
func NewLLMExtractor(docType domain.DocumentType, completer llm.Completer, maxChars int) (*LLMExtractor, error) {
	schema, ok := Schemas[docType]
	if !ok {
		return nil, fmt.Errorf("no schema for %s", docType)
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &LLMExtractor{docType: docType, schema: schema, llm: completer, maxChars: maxChars}, nil
}

// NewLLMRegistry registers an LLMExtractor for every known type.
func NewLLMRegistry(completer llm.Completer, maxChars int) *Registry {
	r := NewRegistry()
	for _, t := range domain.KnownTypes() {
		e, err := NewLLMExtractor(t, completer, maxChars)
		if err != nil {
			continue
		}
		r.Register(t, e)
	}
	return r
}

// ExtractStructured returns a record holding every schema field. Fields the
// model leaves out are present with a nil value.
func (e *LLMExtractor) ExtractStructured(ctx context.Context, text string) (domain.StructuredRecord, error) {
	if len(text) > e.maxChars {
		text = text[:e.maxChars]
	}

	record := domain.StructuredRecord{}
	if err := llm.DecodeJSON(ctx, e.llm, llm.Prompt{
		System: e.systemPrompt(),
		User:   text,
		JSON:   true,
	}, &record); err != nil {
		return nil, err
	}

	for _, f := range e.schema.Fields {
		if _, ok := record[f.Name]; !ok {
			record[f.Name] = nil
		}
	}
	return record, nil
}

func (e *LLMExtractor) systemPrompt() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the data of this %s into a single JSON object with these keys:\n", e.schema.Title)
	for _, f := range e.schema.Fields {
		fmt.Fprintf(&sb, "- %s: %s\n", f.Name, f.Description)
	}
	sb.WriteString("Use null for anything not present in the document. Amounts are plain numbers without currency symbols or thousands separators. Output only the JSON object.")
	return sb.String()
}
