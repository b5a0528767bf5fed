// Package structured selects and runs the per-type structured extractors.
package structured

import (
	"errors"
	"strings"

	"github.com/spherical-ai/finsight/internal/domain"
)

// ErrNoExtractor is returned when neither the type nor the fallback has an
// extractor registered.
var ErrNoExtractor = errors.New("no structured extractor registered")

// Registry maps document types to extractors.
type Registry struct {
	extractors map[domain.DocumentType]domain.StructuredExtractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[domain.DocumentType]domain.StructuredExtractor)}
}

// Register adds e for t, replacing any previous entry.
func (r *Registry) Register(t domain.DocumentType, e domain.StructuredExtractor) *Registry {
	r.extractors[t] = e
	return r
}

// Lookup returns the extractor for t.
func (r *Registry) Lookup(t domain.DocumentType) (domain.StructuredExtractor, bool) {
	e, ok := r.extractors[t]
	return e, ok
}

// KeywordRule routes an unknown document by a substring test on its
// lower-cased text.
type KeywordRule struct {
	Name  string
	Type  domain.DocumentType
	Match func(lowerText string) bool
}

func contains(words ...string) func(string) bool {
	return func(text string) bool {
		for _, w := range words {
			if !strings.Contains(text, w) {
				return false
			}
		}
		return true
	}
}

// DefaultRules returns the keyword rules in priority order.
func DefaultRules() []KeywordRule {
	return []KeywordRule{
		{Name: "bank", Type: domain.TypeBankStatement, Match: contains("bank")},
		{Name: "gst", Type: domain.TypeGSTReturn, Match: contains("gst")},
		{Name: "profit+loss", Type: domain.TypeProfitLoss, Match: contains("profit", "loss")},
		{Name: "salary", Type: domain.TypeSalarySlip, Match: contains("salary")},
	}
}

// How a selection was made.
const (
	ByType     = "type"
	ByKeyword  = "keyword"
	ByFallback = "fallback"
)

// Selection is the extractor chosen for a run. Type is the document type
// the run reports afterwards.
type Selection struct {
	Type      domain.DocumentType
	Extractor domain.StructuredExtractor
	Via       string
	Rule      string
}

// Selector applies the two-tier rule: an exact type match first, then for
// unknown documents the keyword rules, then the fallback extractor.
type Selector struct {
	registry *Registry
	rules    []KeywordRule
	fallback domain.DocumentType
}

// NewSelector creates a selector. A nil rules slice selects DefaultRules
// and an empty fallback selects bank_statement.
func NewSelector(registry *Registry, rules []KeywordRule, fallback domain.DocumentType) *Selector {
	if rules == nil {
		rules = DefaultRules()
	}
	if fallback == "" {
		fallback = domain.TypeBankStatement
	}
	return &Selector{registry: registry, rules: rules, fallback: fallback}
}

// Select picks the extractor for a document of type resolved with body text.
// A keyword match re-types an unknown document; the fallback leaves the type
// as it was.
func (s *Selector) Select(resolved domain.DocumentType, text string) (Selection, error) {
	if resolved == "" {
		resolved = domain.TypeUnknown
	}

	if e, ok := s.registry.Lookup(resolved); ok && resolved != domain.TypeUnknown {
		return Selection{Type: resolved, Extractor: e, Via: ByType}, nil
	}

	if resolved == domain.TypeUnknown {
		lower := strings.ToLower(text)
		for _, rule := range s.rules {
			e, ok := s.registry.Lookup(rule.Type)
			if !ok || !rule.Match(lower) {
				continue
			}
			return Selection{Type: rule.Type, Extractor: e, Via: ByKeyword, Rule: rule.Name}, nil
		}
	}

	if e, ok := s.registry.Lookup(s.fallback); ok {
		return Selection{Type: resolved, Extractor: e, Via: ByFallback}, nil
	}
	return Selection{Type: resolved}, domain.StructuredExtractionError(resolved, ErrNoExtractor)
}
