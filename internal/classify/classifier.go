// Package classify guesses the document type of extracted text.
package classify

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spherical-ai/finsight/internal/domain"
	"github.com/spherical-ai/finsight/internal/llm"
)

// DefaultMaxChars is how much of the document the model sees.
const DefaultMaxChars = 4000

// LLMClassifier asks a model to pick one of the known document types.
type LLMClassifier struct {
	llm      llm.Completer
	maxChars int
}

// NewLLMClassifier creates a classifier. maxChars <= 0 selects DefaultMaxChars.
func NewLLMClassifier(completer llm.Completer, maxChars int) *LLMClassifier {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &LLMClassifier{llm: completer, maxChars: maxChars}
}

type answer struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Classify returns the model's pick. The type is passed through as given;
// callers resolve it against the enumeration.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (domain.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Classification{}, domain.ClassificationError("no text to classify", nil)
	}

	var a answer
	err := llm.DecodeJSON(ctx, c.llm, llm.Prompt{
		System: systemPrompt(),
		User:   truncate(text, c.maxChars),
		JSON:   true,
	}, &a)
	if err != nil {
		return domain.Classification{}, domain.ClassificationError("classifier call failed", err)
	}
	if strings.TrimSpace(a.Type) == "" {
		return domain.Classification{}, domain.ClassificationError("classifier returned no type", nil)
	}

	return domain.Classification{Type: a.Type, Confidence: a.Confidence}, nil
}

func systemPrompt() string {
	names := make([]string, 0, len(domain.KnownTypes()))
	for _, t := range domain.KnownTypes() {
		names = append(names, string(t))
	}
	return fmt.Sprintf(`You classify Indian business and financial documents.
Answer with a JSON object {"type": <type>, "confidence": <0..1>} where <type> is exactly one of:
%s, unknown.
Use "unknown" when none fits.`, strings.Join(names, ", "))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Unavailable is used when no model is configured. Every call fails with a
// ClassificationError so the run continues with an unknown type.
type Unavailable struct{}

func (Unavailable) Classify(context.Context, string) (domain.Classification, error) {
	return domain.Classification{}, domain.ClassificationError("no classifier configured", nil)
}
